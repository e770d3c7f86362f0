// Package eventmon implements the event monitor (C8): a periodic-tick
// worker that also reacts promptly to asynchronous hardware faults
// (pkg/smi's event source), resolves them to the GPU object they belong
// to, keeps one EventRecord per (GPU, event-id) pair, and fans each
// occurrence out only to the subscribers that asked for that GPU and
// that event id — sweeping out any subscriber whose delivery callback
// reports the client is gone.
package eventmon

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
	"github.com/rocm/gpuagent/pkg/trace"
)

// EndpointID is the bus endpoint the monitor registers under.
const EndpointID bus.EndpointID = "eventmon"

// GPUEvent is one hardware fault resolved to the GPU object it occurred
// on and delivered to subscribers (§3.1 EventRecord, §6.1 streamed event
// fields).
type GPUEvent struct {
	GPUKey   objkey.Key
	Index    int
	Kind     smi.EventKind
	Severity smi.Severity
	Category string
	Detail   string
	Time     time.Time
}

// eventRecord is one (GPU, event-id) pair's last-seen state and
// subscriber set (§3.1 EventRecord: lastSeen timestamp, last description
// text, subscriber set of client contexts).
type eventRecord struct {
	lastSeen time.Time
	message  string
	subs     map[uint64]struct{}
}

// Filter selects which (GPU, event-id) combinations a listener receives.
// A nil/empty GPUKeys or EventKinds set means "no restriction on that
// axis" (subscribe to every GPU, or every event id, respectively).
type Filter struct {
	GPUKeys    map[objkey.Key]struct{}
	EventKinds map[smi.EventKind]struct{}
}

func (f Filter) matches(gpuKey objkey.Key, kind smi.EventKind) bool {
	if len(f.GPUKeys) > 0 {
		if _, ok := f.GPUKeys[gpuKey]; !ok {
			return false
		}
	}
	if len(f.EventKinds) > 0 {
		if _, ok := f.EventKinds[kind]; !ok {
			return false
		}
	}
	return true
}

type listener struct {
	filter Filter
	notify func(GPUEvent) error
}

// gpuEvents is one GPU's event-id -> eventRecord table, guarded by its
// own lock so a burst on one GPU never blocks delivery for another
// (§4.6).
type gpuEvents struct {
	mu      sync.Mutex
	records map[smi.EventKind]*eventRecord
}

// Monitor is the event-monitor worker.
type Monitor struct {
	worker  *evloop.Worker
	b       *bus.Bus
	backend smi.Backend
	gpus    *store.Store[apiengine.GPU]

	eventsMu sync.Mutex
	events   map[objkey.Key]*gpuEvents

	listenersMu    sync.Mutex
	listeners      map[uint64]listener
	nextListenerID uint64
}

// New creates a Monitor polling backend every pollInterval once
// startupDelay has elapsed (matching GPUAGENT_EVENT_POLL_INTERVAL /
// GPUAGENT_EVENT_STARTUP_DELAY), and reacting immediately when backend
// implements smi.EventNotifier.
func New(b *bus.Bus, backend smi.Backend, gpus *store.Store[apiengine.GPU], pollInterval, startupDelay time.Duration) *Monitor {
	m := &Monitor{
		b:         b,
		backend:   backend,
		gpus:      gpus,
		events:    make(map[objkey.Key]*gpuEvents),
		listeners: make(map[uint64]listener),
	}
	m.worker = evloop.New(b, EndpointID, m.handleBusMessage, false)

	started := time.Now().Add(startupDelay)
	m.worker.AddTimer(pollInterval, func() {
		if time.Now().Before(started) {
			return
		}
		m.poll()
	})

	src := smi.NewEventSource(backend)
	m.worker.SetSource(src, m.poll)

	return m
}

// Worker returns the monitor's evloop.Worker.
func (m *Monitor) Worker() *evloop.Worker { return m.worker }

// poll calls the backend's pull-based event_poll once and fans out every
// event in the returned batch (§4.5 event_poll, §4.6 algorithm).
func (m *Monitor) poll() {
	batch, err := m.backend.EventPoll(context.Background())
	if err != nil {
		trace.WithComponent(string(EndpointID)).Warn().Err(err).Msg("event poll failed")
		return
	}
	var dead []uint64
	for _, raw := range batch {
		dead = append(dead, m.dispatch(raw)...)
	}
	if len(dead) > 0 {
		m.sweep(dead)
	}
}

func (m *Monitor) dispatch(raw smi.Event) []uint64 {
	key, ok := m.resolveKey(raw.GPUIndex)
	if !ok {
		trace.WithComponent(string(EndpointID)).Warn().Int("gpu_index", raw.GPUIndex).Msg("event for unknown GPU index")
		return nil
	}

	ge := m.eventsFor(key)
	ge.mu.Lock()
	rec, ok := ge.records[raw.Kind]
	if !ok {
		rec = &eventRecord{subs: make(map[uint64]struct{})}
		ge.records[raw.Kind] = rec
	}
	rec.lastSeen = time.Now()
	rec.message = raw.Detail
	subs := make([]uint64, 0, len(rec.subs))
	for id := range rec.subs {
		subs = append(subs, id)
	}
	ge.mu.Unlock()

	ev := GPUEvent{
		GPUKey:   key,
		Index:    raw.GPUIndex,
		Kind:     raw.Kind,
		Severity: raw.Severity,
		Detail:   raw.Detail,
		Time:     rec.lastSeen,
	}
	return m.fanOut(ev, subs)
}

func (m *Monitor) eventsFor(key objkey.Key) *gpuEvents {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	ge, ok := m.events[key]
	if !ok {
		ge = &gpuEvents{records: make(map[smi.EventKind]*eventRecord)}
		m.events[key] = ge
	}
	return ge
}

func (m *Monitor) resolveKey(index int) (objkey.Key, bool) {
	for _, key := range m.gpus.Keys() {
		entry, ok := m.gpus.Locate(key)
		if !ok {
			continue
		}
		if entry.Get().Info.Index == index {
			return key, true
		}
	}
	return objkey.Key{}, false
}

// fanOut notifies every listener subscribed to this event's record
// (tracked in rec.subs at dispatch time) plus every listener whose filter
// matches but hadn't yet been attached to this specific record — listeners
// attach to records lazily here, the first time a matching event reaches
// them, so in steady state subs is authoritative. Returns the ids of
// listeners whose notify reported them gone.
func (m *Monitor) fanOut(ev GPUEvent, subs []uint64) []uint64 {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	var dead []uint64
	seen := make(map[uint64]struct{}, len(subs))
	for _, id := range subs {
		seen[id] = struct{}{}
		l, ok := m.listeners[id]
		if !ok {
			continue
		}
		if err := l.notify(ev); err != nil {
			dead = append(dead, id)
		}
	}
	// Listeners registered after this record was created but whose filter
	// matches this event still need delivery; subscribeLocked attaches them
	// to the record the first time they match.
	for id, l := range m.listeners {
		if _, already := seen[id]; already {
			continue
		}
		if !l.filter.matches(ev.GPUKey, ev.Kind) {
			continue
		}
		m.subscribeLocked(id, ev.GPUKey, ev.Kind)
		if err := l.notify(ev); err != nil {
			dead = append(dead, id)
		}
	}
	return dead
}

func (m *Monitor) subscribeLocked(id uint64, gpuKey objkey.Key, kind smi.EventKind) {
	ge := m.eventsFor(gpuKey)
	ge.mu.Lock()
	rec, ok := ge.records[kind]
	if !ok {
		rec = &eventRecord{subs: make(map[uint64]struct{})}
		ge.records[kind] = rec
	}
	rec.subs[id] = struct{}{}
	ge.mu.Unlock()
}

// sweep removes dead listener ids from every GPU's event records in one
// pass (§4.6: dead-listener sweep runs once per tick across all records,
// not per-record).
func (m *Monitor) sweep(dead []uint64) {
	m.listenersMu.Lock()
	for _, id := range dead {
		delete(m.listeners, id)
	}
	m.listenersMu.Unlock()

	m.eventsMu.Lock()
	tables := make([]*gpuEvents, 0, len(m.events))
	for _, ge := range m.events {
		tables = append(tables, ge)
	}
	m.eventsMu.Unlock()

	for _, ge := range tables {
		ge.mu.Lock()
		for _, rec := range ge.records {
			for _, id := range dead {
				delete(rec.subs, id)
			}
		}
		ge.mu.Unlock()
	}
}

// AddListener registers a new subscriber filtered by filter and returns
// its id for RemoveListener. An empty filter subscribes to every (GPU,
// event-id) pair.
func (m *Monitor) AddListener(filter Filter, notify func(GPUEvent) error) uint64 {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.nextListenerID++
	id := m.nextListenerID
	m.listeners[id] = listener{filter: filter, notify: notify}
	return id
}

// RemoveListener unregisters a subscriber added by AddListener.
func (m *Monitor) RemoveListener(id uint64) {
	m.listenersMu.Lock()
	delete(m.listeners, id)
	m.listenersMu.Unlock()

	m.eventsMu.Lock()
	tables := make([]*gpuEvents, 0, len(m.events))
	for _, ge := range m.events {
		tables = append(tables, ge)
	}
	m.eventsMu.Unlock()
	for _, ge := range tables {
		ge.mu.Lock()
		for _, rec := range ge.records {
			delete(rec.subs, id)
		}
		ge.mu.Unlock()
	}
}

// ListenerCount reports the current live subscriber count.
func (m *Monitor) ListenerCount() int {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	return len(m.listeners)
}

// Snapshot returns every currently-known EventRecord matching filter, for
// the EventGet RPC (§4.8).
func (m *Monitor) Snapshot(filter Filter) []GPUEvent {
	m.eventsMu.Lock()
	type keyed struct {
		key objkey.Key
		ge  *gpuEvents
	}
	tables := make([]keyed, 0, len(m.events))
	for key, ge := range m.events {
		tables = append(tables, keyed{key, ge})
	}
	m.eventsMu.Unlock()

	var out []GPUEvent
	for _, kt := range tables {
		kt.ge.mu.Lock()
		for kind, rec := range kt.ge.records {
			if !filter.matches(kt.key, kind) {
				continue
			}
			out = append(out, GPUEvent{
				GPUKey: kt.key,
				Kind:   kind,
				Detail: rec.message,
				Time:   rec.lastSeen,
			})
		}
		kt.ge.mu.Unlock()
	}
	return out
}

// Generate synthesizes one event as if the backend had raised it,
// backing the EventGen RPC's test-injection hook (§4.6).
func (m *Monitor) Generate(ev smi.Event) {
	dead := m.dispatch(ev)
	if len(dead) > 0 {
		m.sweep(dead)
	}
}

func (m *Monitor) handleBusMessage(e *bus.Envelope) {
	// no request/reply messages are routed to this endpoint yet
	m.b.Done(e)
}
