// Package watchmon implements the watch monitor (C9): a periodic-tick
// worker that, for every live Watch entry in the API engine's watch
// store, samples the requested attributes off every GPU in that watch's
// set and fans the sample out to that watch's subscribers — dropping any
// subscriber whose write callback reports the client gone, the same
// dead-listener discipline pkg/eventmon uses.
package watchmon

import (
	"context"
	"sync"
	"time"

	"github.com/rocm/gpuagent/pkg/apiengine"
	"github.com/rocm/gpuagent/pkg/bus"
	"github.com/rocm/gpuagent/pkg/evloop"
	"github.com/rocm/gpuagent/pkg/objkey"
	"github.com/rocm/gpuagent/pkg/smi"
	"github.com/rocm/gpuagent/pkg/store"
)

// EndpointID is the bus endpoint the monitor registers under.
const EndpointID bus.EndpointID = "watchmon"

// AttrSample is one (GPU, attribute) tuple sampled on a tick (§4.7: the
// per-tick Stats message enumerates every (GPU, attribute, value, units)
// tuple).
type AttrSample struct {
	GPUKey objkey.Key
	Attr   string
	Value  smi.AttrValue
}

// Sample is one tick's worth of sampled attributes across every GPU in a
// watch's set.
type Sample struct {
	WatchKey objkey.Key
	Attrs    []AttrSample
	Time     time.Time
}

type listener struct {
	watchKey objkey.Key
	notify   func(Sample) error
}

// Monitor is the watch-monitor worker.
type Monitor struct {
	worker  *evloop.Worker
	b       *bus.Bus
	backend smi.Backend
	gpus    *store.Store[apiengine.GPU]
	watches *store.Store[apiengine.Watch]

	listenersMu sync.Mutex
	listeners   map[uint64]listener
	nextID      uint64
}

// New creates a Monitor sampling every watch in watches at pollInterval
// (GPUAGENT_WATCH_POLL_INTERVAL) by calling backend.AttrRead for every
// (GPU, attribute) pair.
func New(b *bus.Bus, backend smi.Backend, gpus *store.Store[apiengine.GPU], watches *store.Store[apiengine.Watch], pollInterval time.Duration) *Monitor {
	m := &Monitor{
		b:         b,
		backend:   backend,
		gpus:      gpus,
		watches:   watches,
		listeners: make(map[uint64]listener),
	}
	m.worker = evloop.New(b, EndpointID, m.handleBusMessage, false)
	m.worker.AddTimer(pollInterval, m.tick)
	return m
}

// Worker returns the monitor's evloop.Worker.
func (m *Monitor) Worker() *evloop.Worker { return m.worker }

func (m *Monitor) tick() {
	ctx := context.Background()
	for _, watchKey := range m.watches.Keys() {
		wEntry, ok := m.watches.Locate(watchKey)
		if !ok {
			continue
		}
		w := wEntry.Get()

		var attrs []AttrSample
		for _, gpuKey := range w.GPUKeys {
			gEntry, ok := m.gpus.Locate(gpuKey)
			if !ok {
				continue
			}
			index := gEntry.Get().Info.Index
			for _, name := range w.Attributes {
				v, err := m.backend.AttrRead(ctx, index, name)
				if err != nil {
					continue
				}
				attrs = append(attrs, AttrSample{GPUKey: gpuKey, Attr: name, Value: v})
			}
		}

		m.fanOut(watchKey, Sample{WatchKey: watchKey, Attrs: attrs, Time: time.Now()})
	}
}

func (m *Monitor) fanOut(watchKey objkey.Key, s Sample) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for id, l := range m.listeners {
		if l.watchKey != watchKey {
			continue
		}
		if err := l.notify(s); err != nil {
			delete(m.listeners, id)
		}
	}
}

// AddListener registers a subscriber to one watch's samples.
func (m *Monitor) AddListener(watchKey objkey.Key, notify func(Sample) error) uint64 {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners[id] = listener{watchKey: watchKey, notify: notify}
	return id
}

// RemoveListener unregisters a subscriber added by AddListener.
func (m *Monitor) RemoveListener(id uint64) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	delete(m.listeners, id)
}

// ListenerCount reports how many live subscribers are watching watchKey.
func (m *Monitor) ListenerCount(watchKey objkey.Key) int {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	n := 0
	for _, l := range m.listeners {
		if l.watchKey == watchKey {
			n++
		}
	}
	return n
}

func (m *Monitor) handleBusMessage(e *bus.Envelope) {
	// no request/reply messages are routed to this endpoint yet
}
