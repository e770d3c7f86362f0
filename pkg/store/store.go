// Package store implements the generic, objkey.Key-indexed object store
// (C5) every domain table in the agent is built on: the GPU table, the
// watch table. Reads are lock-free safe-publication loads; the single
// writer the API engine serializes through (pkg/apiengine) uses Latch to
// mark an entry busy for the duration of a mutation so a concurrent read
// can tell an update is in flight, then Unlatch to publish the result.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rocm/gpuagent/pkg/objkey"
)

// Entry holds one stored value behind a lock-free read path and an
// in-use latch for the writer side.
type Entry[T any] struct {
	key   objkey.Key
	value atomic.Pointer[T]
	inUse atomic.Bool
}

// Key returns the entry's object key.
func (e *Entry[T]) Key() objkey.Key { return e.key }

// Get returns the current value. Safe to call without holding the latch;
// it always observes either the value as of the last Unlatch/Set or a
// newer one, never a partial write.
func (e *Entry[T]) Get() T {
	return *e.value.Load()
}

// InUse reports whether a writer currently holds this entry's latch.
func (e *Entry[T]) InUse() bool {
	return e.inUse.Load()
}

// Latch marks the entry busy for the calling goroutine's mutation. It
// returns false if another writer already holds the latch — callers
// (pkg/apiengine) are expected to never contend here in practice, since
// mutations are themselves serialized through a single bus endpoint, but
// the latch still lets a read path (pkg/rpcfront) query InUse and lets a
// second mutation path fail fast rather than corrupt state.
func (e *Entry[T]) Latch() bool {
	return e.inUse.CompareAndSwap(false, true)
}

// Unlatch publishes value as the entry's new state and releases the
// latch acquired by Latch.
func (e *Entry[T]) Unlatch(value T) {
	e.value.Store(&value)
	e.inUse.Store(false)
}

// Release drops the latch without changing the stored value (used when a
// mutation fails validation after Latch but before Apply).
func (e *Entry[T]) Release() {
	e.inUse.Store(false)
}

// Store is a keyed table of Entry[T], safe for concurrent use.
type Store[T any] struct {
	mu    sync.RWMutex
	items map[objkey.Key]*Entry[T]
}

// New creates an empty Store.
func New[T any]() *Store[T] {
	return &Store[T]{items: make(map[objkey.Key]*Entry[T])}
}

// Insert adds a new entry under key. Returns an error if key already
// exists.
func (s *Store[T]) Insert(key objkey.Key, value T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; exists {
		return fmt.Errorf("store: key %s already exists", key)
	}
	e := &Entry[T]{key: key}
	e.value.Store(&value)
	s.items[key] = e
	return nil
}

// Delete removes key. Returns an error if it does not exist or is
// currently latched by an in-flight mutation.
func (s *Store[T]) Delete(key objkey.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[key]
	if !ok {
		return fmt.Errorf("store: key %s not found", key)
	}
	if e.InUse() {
		return fmt.Errorf("store: key %s is in use", key)
	}
	delete(s.items, key)
	return nil
}

// Locate returns the Entry for key, if present.
func (s *Store[T]) Locate(key objkey.Key) (*Entry[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	return e, ok
}

// Keys returns a snapshot of all keys currently in the store. Order is
// unspecified.
func (s *Store[T]) Keys() []objkey.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]objkey.Key, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys
}

// Values returns a snapshot of all current values. Order is unspecified.
func (s *Store[T]) Values() []T {
	s.mu.RLock()
	entries := make([]*Entry[T], 0, len(s.items))
	for _, e := range s.items {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	values := make([]T, len(entries))
	for i, e := range entries {
		values[i] = e.Get()
	}
	return values
}

// Len reports the number of entries currently stored.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
