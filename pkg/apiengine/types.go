// Package apiengine implements the API engine (C6): the single serialized
// writer every mutation to GPU or watch state passes through. It runs as
// one evloop.Worker behind a serialized bus endpoint, so GpuUpdate,
// GpuReset, WatchCreate, WatchDelete, and WatchRef are processed strictly
// one at a time — the property pkg/store's in-use latch exists to make
// observable to readers, and invariant 4 in SPEC_FULL §8 depends on.
package apiengine

import (
	"time"

	"github.com/rocm/gpuagent/pkg/objkey"
	"github.com/rocm/gpuagent/pkg/smi"
)

// GPU is the stored record for one device: its static identity, its
// configurable Spec, its read-only Status, its most recent Stats sample,
// and when that sample was taken (§3.1 GpuEntry).
type GPU struct {
	Key         objkey.Key
	Info        smi.GPUInfo
	Spec        smi.Spec
	Status      smi.Status
	Stats       smi.Stats
	LastUpdated time.Time
}

// Watch is a standing subscription to periodic attribute sampling across
// an ordered set of GPUs (C9, §3.1 "ordered set of GPU keys to watch").
// Subscribers is a reference count: multiple RPC clients can watch the
// same GPU set/attribute set/interval and share one sampling timer, per
// DESIGN.md's resolution of the watch-refcount Open Question.
type Watch struct {
	Key         objkey.Key
	GPUKeys     []objkey.Key
	Attributes  []string
	IntervalMS  uint32
	Subscribers int
}

// EndpointID is the bus endpoint name the engine registers under.
const EndpointID = "apiengine"

// Bus message kinds the engine handles.
const (
	MsgGpuUpdate   = "gpu_update"
	MsgGpuReset    = "gpu_reset"
	MsgWatchCreate = "watch_create"
	MsgWatchDelete = "watch_delete"
	MsgWatchRef    = "watch_ref"
	MsgTopologyGet = "topology_get"
)

// GpuUpdateRequest asks the engine to apply the Spec fields selected by
// Mask to Key's device and republish the resulting record (§3.1 Spec,
// §4.5 update).
type GpuUpdateRequest struct {
	Key  objkey.Key
	Spec smi.Spec
	Mask smi.SpecMask
}

// GpuUpdateReply carries the refreshed record, or Err if Key was unknown,
// the update was rejected, or the backend write failed.
type GpuUpdateReply struct {
	GPU GPU
	Err error
}

// GpuResetRequest asks the engine to reset one GPU, or every GPU when Key
// is objkey.Zero.
type GpuResetRequest struct {
	Key objkey.Key
}

// GpuResetReply carries the backend's reset outcome.
type GpuResetReply struct {
	Result smi.ResetResult
	Err    error
}

// WatchCreateRequest asks the engine to create (or, if an equivalent
// watch already exists, reuse) a watch on GPUKeys sampling Attributes.
// IntervalMS is stored on the watch and used to match equivalent watches;
// pkg/watchmon samples every watch on its own single tick, not per
// IntervalMS.
type WatchCreateRequest struct {
	GPUKeys    []objkey.Key
	Attributes []string
	IntervalMS uint32
}

// WatchCreateReply carries the new (or reused) watch's key.
type WatchCreateReply struct {
	WatchKey objkey.Key
	Err      error
}

// WatchDeleteRequest asks the engine to drop a watch, provided its
// subscriber count is zero (§3.2 invariant 4, §8 invariant 4): a watch
// with live subscribers returns IN_USE and remains in the store.
type WatchDeleteRequest struct {
	WatchKey objkey.Key
}

// WatchDeleteReply reports whether the delete succeeded.
type WatchDeleteReply struct {
	Err error
}

// WatchRefRequest adjusts a watch's subscriber count by Delta (+1 on a
// new RPC subscription, -1 when a streaming client disconnects).
type WatchRefRequest struct {
	WatchKey objkey.Key
	Delta    int
}

// WatchRefReply carries the watch's subscriber count after the
// adjustment.
type WatchRefReply struct {
	Refs int
	Err  error
}

// TopologyGetRequest has no fields; topology is node-wide (§4.5
// fill_topology).
type TopologyGetRequest struct{}

// TopologyGetReply carries the node's full interconnect map.
type TopologyGetReply struct {
	Topology smi.Topology
	Err      error
}

// sameGPUKeySet reports whether a and b contain the same keys, ignoring
// order (GPUKeys is an ordered set for sampling purposes, but two watch
// requests naming the same members in a different order are still
// equivalent for reuse, §3.1).
func sameGPUKeySet(a, b []objkey.Key) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[objkey.Key]int, len(a))
	for _, k := range a {
		seen[k]++
	}
	for _, k := range b {
		seen[k]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func sameAttributes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
