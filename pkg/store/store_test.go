package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocm/gpuagent/pkg/objkey"
)

type gpuRecord struct {
	Index int
	Clock uint32
}

func TestInsertLocateGet(t *testing.T) {
	s := New[gpuRecord]()
	k := objkey.DeriveGPUKey(1, 0, 1)
	require.NoError(t, s.Insert(k, gpuRecord{Index: 0, Clock: 1200}))

	e, ok := s.Locate(k)
	require.True(t, ok)
	assert.Equal(t, gpuRecord{Index: 0, Clock: 1200}, e.Get())
}

func TestInsertDuplicateFails(t *testing.T) {
	s := New[gpuRecord]()
	k := objkey.DeriveGPUKey(1, 0, 1)
	require.NoError(t, s.Insert(k, gpuRecord{}))
	assert.Error(t, s.Insert(k, gpuRecord{}))
}

func TestDeleteUnknownFails(t *testing.T) {
	s := New[gpuRecord]()
	assert.Error(t, s.Delete(objkey.DeriveGPUKey(9, 9, 9)))
}

func TestDeleteWhileLatchedFails(t *testing.T) {
	s := New[gpuRecord]()
	k := objkey.DeriveGPUKey(1, 0, 1)
	require.NoError(t, s.Insert(k, gpuRecord{}))

	e, _ := s.Locate(k)
	require.True(t, e.Latch())
	assert.Error(t, s.Delete(k))

	e.Unlatch(gpuRecord{Clock: 500})
	require.NoError(t, s.Delete(k))
}

func TestLatchExclusion(t *testing.T) {
	s := New[gpuRecord]()
	k := objkey.DeriveGPUKey(1, 0, 1)
	require.NoError(t, s.Insert(k, gpuRecord{}))

	e, _ := s.Locate(k)
	assert.True(t, e.Latch())
	assert.False(t, e.Latch(), "second latch must fail while first holds it")
	assert.True(t, e.InUse())

	e.Unlatch(gpuRecord{Clock: 42})
	assert.False(t, e.InUse())
	assert.Equal(t, uint32(42), e.Get().Clock)
}

func TestReleaseWithoutPublishing(t *testing.T) {
	s := New[gpuRecord]()
	k := objkey.DeriveGPUKey(1, 0, 1)
	require.NoError(t, s.Insert(k, gpuRecord{Clock: 1}))

	e, _ := s.Locate(k)
	require.True(t, e.Latch())
	e.Release()
	assert.False(t, e.InUse())
	assert.Equal(t, uint32(1), e.Get().Clock, "Release must not change the published value")
}

func TestKeysAndValuesSnapshot(t *testing.T) {
	s := New[gpuRecord]()
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Insert(objkey.DeriveGPUKey(1, uint8(i), uint64(i)), gpuRecord{Index: i}))
	}
	assert.Equal(t, 4, s.Len())
	assert.Len(t, s.Keys(), 4)
	assert.Len(t, s.Values(), 4)
}
