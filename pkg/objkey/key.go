// Package objkey implements the 16-byte opaque object identifiers used to
// index every entry in the agent's object store.
package objkey

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Size is the fixed length of a Key in bytes.
const Size = 16

// Key is a 16-byte opaque identifier. Equality and hashing are bytewise.
type Key [Size]byte

// Zero is the all-zeroes key, used as a sentinel for "no key" / "all GPUs"
// depending on call site (see GpuReset in pkg/rpcfront).
var Zero Key

// String renders the canonical 8-4-4-4-12 lowercase hex grouping.
func (k Key) String() string {
	var b [36]byte
	hex.Encode(b[0:8], k[0:4])
	b[8] = '-'
	hex.Encode(b[9:13], k[4:6])
	b[13] = '-'
	hex.Encode(b[14:18], k[6:8])
	b[18] = '-'
	hex.Encode(b[19:23], k[8:10])
	b[23] = '-'
	hex.Encode(b[24:36], k[10:16])
	return string(b[:])
}

// IsZero reports whether k is the all-zeroes sentinel.
func (k Key) IsZero() bool {
	return k == Zero
}

// ParseString parses the canonical 8-4-4-4-12 grouping back into a Key.
func ParseString(s string) (Key, error) {
	var k Key
	clean := make([]byte, 0, 32)
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			continue
		}
		clean = append(clean, s[i])
	}
	if len(clean) != 32 {
		return k, fmt.Errorf("objkey: invalid key string %q", s)
	}
	if _, err := hex.Decode(k[:], clean); err != nil {
		return k, fmt.Errorf("objkey: invalid key string %q: %w", s, err)
	}
	return k, nil
}

// FromBytes copies exactly Size bytes from b into a Key.
func FromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != Size {
		return k, fmt.Errorf("objkey: expected %d bytes, got %d", Size, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// FromUUID builds a Key directly from a random identifier, used for
// objects that (unlike a GPU) have no natural deterministic derivation —
// e.g. a watch group's own key.
func FromUUID(u uuid.UUID) Key {
	var k Key
	copy(k[:], u[:])
	return k
}

// NewRandom generates a fresh random Key.
func NewRandom() Key {
	return FromUUID(uuid.New())
}

// DeriveGPUKey builds the deterministic GPU key described in spec §3.1:
// hostID(4) || 0x42 || gpuIndex(1) || 0x4242 || gpuUniqueID(8).
func DeriveGPUKey(hostID uint32, gpuIndex uint8, gpuUniqueID uint64) Key {
	var k Key
	binary.BigEndian.PutUint32(k[0:4], hostID)
	k[4] = 0x42
	k[5] = gpuIndex
	k[6] = 0x42
	k[7] = 0x42
	binary.BigEndian.PutUint64(k[8:16], gpuUniqueID)
	return k
}
