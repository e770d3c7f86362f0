// Package evloop implements the cooperative, single-goroutine worker loop
// every C4-style component (pkg/apiengine, pkg/eventmon, pkg/watchmon)
// runs on. A Worker owns exactly one bus endpoint, any number of repeating
// timers, and at most one extra wakeup Source (standing in for the
// reference agent's fd-watch — here, a mock SMI backend's event channel).
// The only suspension points are a handler returning and a blocking bus
// call; everything else runs to completion on the worker's own goroutine,
// so no two deliveries to the same endpoint ever race each other.
package evloop

import (
	"sort"
	"time"

	"github.com/rocm/gpuagent/pkg/bus"
)

// TimerFunc is invoked on the worker's own goroutine when a timer fires.
type TimerFunc func()

// Source is an additional event channel a Worker can wait on alongside its
// inbox and timers. The mock SMI backend (pkg/smi) exposes one so
// pkg/eventmon can react to an injected fault promptly instead of only on
// its next poll tick.
type Source interface {
	// C returns the channel that is sent to (or closed) when the source
	// has something ready.
	C() <-chan struct{}
}

type timerEntry struct {
	interval time.Duration
	next     time.Time
	fn       TimerFunc
}

// Worker is a cooperative single-threaded event loop bound to one bus
// endpoint.
type Worker struct {
	id      bus.EndpointID
	b       *bus.Bus
	handler bus.Handler

	serialized bool
	inbox      <-chan *bus.Envelope

	timers   []*timerEntry
	source   Source
	sourceFn func()

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a Worker and registers handler on the bus under id.
// serialized is forwarded to bus.Register (true for the API engine; false
// for the monitor workers, which have no overlapping writes to protect).
func New(b *bus.Bus, id bus.EndpointID, handler bus.Handler, serialized bool) *Worker {
	w := &Worker{
		id:         id,
		b:          b,
		handler:    handler,
		serialized: serialized,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	w.inbox = b.Register(id, handler, serialized)
	return w
}

// AddTimer schedules fn to run every interval, starting one interval from
// now. Must be called before Run.
func (w *Worker) AddTimer(interval time.Duration, fn TimerFunc) {
	w.timers = append(w.timers, &timerEntry{interval: interval, next: time.Now().Add(interval), fn: fn})
}

// SetSource installs the worker's single extra wakeup source: fn runs on
// the worker's own goroutine whenever src signals readiness. Must be
// called before Run.
func (w *Worker) SetSource(src Source, fn func()) {
	w.source = src
	w.sourceFn = fn
}

// Run drains the inbox, fires due timers, and services the optional
// Source until Stop is called. Intended to be run on its own goroutine:
// go w.Run().
func (w *Worker) Run() {
	defer close(w.doneCh)
	for {
		var timerC <-chan time.Time
		var due *timerEntry
		if t, d := w.nextTimer(); t != nil {
			timerC = time.After(d)
			due = t
		}

		var srcC <-chan struct{}
		if w.source != nil {
			srcC = w.source.C()
		}

		select {
		case e := <-w.inbox:
			w.handler(e)
			w.b.Await(w.id)
		case <-timerC:
			due.next = time.Now().Add(due.interval)
			due.fn()
		case <-srcC:
			// Source delivery has no bus envelope to await completion on;
			// the callback it drives (eventmon's fault handler) runs to
			// completion synchronously here, same as a timer.
			if w.sourceFn != nil {
				w.sourceFn()
			}
		case <-w.stopCh:
			return
		}
	}
}

// Stop requests the loop exit and blocks until it has.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.b.Unregister(w.id)
}

// nextTimer returns the soonest-due timer and the duration until it
// fires, or (nil, 0) if there are no timers.
func (w *Worker) nextTimer() (*timerEntry, time.Duration) {
	if len(w.timers) == 0 {
		return nil, 0
	}
	sort.Slice(w.timers, func(i, j int) bool { return w.timers[i].next.Before(w.timers[j].next) })
	soonest := w.timers[0]
	d := time.Until(soonest.next)
	if d < 0 {
		d = 0
	}
	return soonest, d
}
