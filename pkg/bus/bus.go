// Package bus implements the in-process typed message bus every worker in
// the agent talks over: per-endpoint inboxes delivered in FIFO order,
// point-to-point request/response (synchronous and asynchronous), topic
// broadcast with an explicit subscriber table, and the serialized-delivery
// mode the API engine (pkg/apiengine) relies on to keep reads from ever
// observing a half-applied write.
//
// The bus is logically in-process: endpoints are Go channels, not sockets.
// Posting to an endpoint never blocks the poster on that endpoint's
// processing.
package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EndpointID names a registered worker's inbox (e.g. "apiengine",
// "eventmon", "watchmon").
type EndpointID string

// MsgID names a message kind routed to a specific endpoint handler, or a
// broadcast topic.
type MsgID string

// Envelope is what flows on the bus: a message-id, a typed payload, and
// (for request/reply traffic) the bookkeeping needed to route a response
// back to its originator exactly once.
type Envelope struct {
	MsgID   MsgID
	From    EndpointID
	To      EndpointID
	Payload any

	reqID       uint64 // 0 for fire-and-forget / broadcast envelopes
	deliveredTo *endpoint
}

// Handler processes one envelope delivered to an endpoint's inbox.
type Handler func(e *Envelope)

// ReplyFunc is invoked when a Request completes, either with the
// responder's data or (on timeout) with data == nil.
type ReplyFunc func(data any, cookie any)

// inboxCapacity is sized generously for this domain's cardinalities (§3.1
// caps a node at a handful of GPUs and watch groups). Posting beyond it
// falls back to a spawned goroutine so the poster itself never blocks;
// FIFO order for that rare overflowed message is then best-effort, same
// trade-off the event broadcaster already accepts on its buffers.
const inboxCapacity = 1024

type endpoint struct {
	id         EndpointID
	handler    Handler
	serialized bool
	inbox      chan *Envelope
	// completion is signalled by Respond/Done for serialized endpoints.
	// Buffered to size 1: the handler calls Respond/Done synchronously,
	// before evloop's consumer loop reaches Await on the same goroutine,
	// so the signal must land in the buffer rather than rendezvous with a
	// receiver that isn't parked yet.
	completion chan struct{}
}

type pendingRequest struct {
	replyCb ReplyFunc
	cookie  any
	timer   *time.Timer
	done    bool
}

type subscription struct {
	id      uint64
	handler Handler
	ep      *endpoint
}

// Bus is the process-wide message bus. The zero value is not usable; use
// New.
type Bus struct {
	mu        sync.RWMutex
	endpoints map[EndpointID]*endpoint

	subMu sync.RWMutex
	subs  map[MsgID][]*subscription
	subID uint64

	pendMu  sync.Mutex
	pending map[uint64]*pendingRequest
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		endpoints: make(map[EndpointID]*endpoint),
		subs:      make(map[MsgID][]*subscription),
		pending:   make(map[uint64]*pendingRequest),
	}
}

// Register binds handler to endpoint_id. serialized enables the "at most
// one in-flight message" discipline §4.1 requires of the API engine: the
// endpoint's consumer loop (pkg/evloop) will not dispatch the next queued
// envelope until the current one's handler calls Respond or Done — even
// if that handler returned having only kicked off asynchronous work.
// Register returns the inbox channel the owning worker drains.
func (b *Bus) Register(id EndpointID, handler Handler, serialized bool) <-chan *Envelope {
	ep := &endpoint{
		id:         id,
		handler:    handler,
		serialized: serialized,
		inbox:      make(chan *Envelope, inboxCapacity),
		completion: make(chan struct{}, 1),
	}
	b.mu.Lock()
	b.endpoints[id] = ep
	b.mu.Unlock()
	return ep.inbox
}

// Unregister removes an endpoint.
func (b *Bus) Unregister(id EndpointID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.endpoints, id)
}

func (b *Bus) endpointOf(id EndpointID) (*endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ep, ok := b.endpoints[id]
	return ep, ok
}

// Await blocks until the envelope most recently delivered to id has
// completed (serialized endpoints only); pkg/evloop's consumer loop calls
// this between dispatches. For non-serialized endpoints it returns
// immediately.
func (b *Bus) Await(id EndpointID) {
	ep, ok := b.endpointOf(id)
	if !ok || !ep.serialized {
		return
	}
	<-ep.completion
}

func (b *Bus) send(ep *endpoint, e *Envelope) {
	e.deliveredTo = ep
	select {
	case ep.inbox <- e:
	default:
		go func() { ep.inbox <- e }()
	}
}

// Post delivers payload to `to`'s handler with no reply expected
// (fire-and-forget). Delivery to a single endpoint is FIFO.
func (b *Bus) Post(from, to EndpointID, msgID MsgID, payload any) error {
	ep, ok := b.endpointOf(to)
	if !ok {
		return fmt.Errorf("bus: unknown endpoint %q", to)
	}
	b.send(ep, &Envelope{MsgID: msgID, From: from, To: to, Payload: payload})
	return nil
}

// Request delivers payload to `to` and arranges for replyCb(data, cookie)
// to run exactly once: either after the handler calls Respond, or once
// after `timeout` elapses with data == nil. timeout == 0 means no
// timeout. The completion table is keyed by request-id and the entry is
// removed atomically by whichever of {Respond, timeout} fires first, so
// the two outcomes are mutually exclusive by construction — there is no
// caller-owned cookie lifetime to outlive the completion (see DESIGN.md
// Open Question 1).
func (b *Bus) Request(from, to EndpointID, msgID MsgID, payload any, replyCb ReplyFunc, cookie any, timeout time.Duration) error {
	ep, ok := b.endpointOf(to)
	if !ok {
		return fmt.Errorf("bus: unknown endpoint %q", to)
	}

	reqID := newRequestID()
	pr := &pendingRequest{replyCb: replyCb, cookie: cookie}

	b.pendMu.Lock()
	b.pending[reqID] = pr
	b.pendMu.Unlock()

	if timeout > 0 {
		pr.timer = time.AfterFunc(timeout, func() {
			b.completeRequest(reqID, nil)
		})
	}

	b.send(ep, &Envelope{MsgID: msgID, From: from, To: to, Payload: payload, reqID: reqID})
	return nil
}

// BlockingRequest is the synchronous convenience wrapper non-worker
// callers (an RPC-server goroutine handling one unary call) use: it parks
// the calling goroutine until Request completes or times out, returning
// the reply payload (nil on timeout).
func (b *Bus) BlockingRequest(from, to EndpointID, msgID MsgID, payload any, timeout time.Duration) (any, error) {
	done := make(chan any, 1)
	err := b.Request(from, to, msgID, payload, func(data, _ any) {
		done <- data
	}, nil, timeout)
	if err != nil {
		return nil, err
	}
	return <-done, nil
}

// Respond releases the reply `data` to this envelope's originator and, if
// it was delivered to a serialized endpoint, signals that endpoint free
// to receive its next message. It is a no-op for the completion-table
// side if the envelope already completed (a timeout raced it) — exactly
// one of {Respond, timeout} ever reaches the originator's ReplyFunc.
func (b *Bus) Respond(e *Envelope, data any) {
	b.completeRequest(e.reqID, data)
	b.signalDone(e.deliveredTo)
}

// Done signals completion of a non-request (broadcast-style) delivery to
// a serialized-delivery endpoint. Request-style envelopes release
// automatically via Respond; this is the "broadcast_handled" hook §4.1
// describes for everything else.
func (b *Bus) Done(e *Envelope) {
	b.signalDone(e.deliveredTo)
}

func (b *Bus) signalDone(ep *endpoint) {
	if ep == nil || !ep.serialized {
		return
	}
	select {
	case ep.completion <- struct{}{}:
	default:
	}
}

func (b *Bus) completeRequest(reqID uint64, data any) {
	if reqID == 0 {
		return
	}
	b.pendMu.Lock()
	pr, ok := b.pending[reqID]
	if ok {
		delete(b.pending, reqID)
	}
	b.pendMu.Unlock()
	if !ok || pr.done {
		return
	}
	pr.done = true
	if pr.timer != nil {
		pr.timer.Stop()
	}
	if pr.replyCb != nil {
		pr.replyCb(data, pr.cookie)
	}
}

func newRequestID() uint64 {
	u := uuid.New()
	var id uint64
	for i := 0; i < 8; i++ {
		id = id<<8 | uint64(u[i])
	}
	if id == 0 {
		id = 1
	}
	return id
}

// Subscribe registers handler as a listener for broadcast topic msgID. If
// endpointID is non-empty and registered, broadcast deliveries to it
// respect that endpoint's serialized-delivery mode (the envelope is
// queued on the endpoint's own inbox and dispatched through its own
// handler, which is expected to switch on MsgID); otherwise handler runs
// directly on a fresh goroutine per delivery.
func (b *Bus) Subscribe(msgID MsgID, endpointID EndpointID, handler Handler) uint64 {
	var ep *endpoint
	if endpointID != "" {
		ep, _ = b.endpointOf(endpointID)
	}
	b.subMu.Lock()
	b.subID++
	id := b.subID
	b.subs[msgID] = append(b.subs[msgID], &subscription{id: id, handler: handler, ep: ep})
	b.subMu.Unlock()
	return id
}

// Unsubscribe removes a subscription returned by Subscribe.
func (b *Bus) Unsubscribe(msgID MsgID, id uint64) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	list := b.subs[msgID]
	for i, s := range list {
		if s.id == id {
			b.subs[msgID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Broadcast delivers payload to every current subscriber of msgID, one
// copy each. No ordering is promised across subscribers (§5).
func (b *Bus) Broadcast(from EndpointID, msgID MsgID, payload any) {
	b.subMu.RLock()
	list := make([]*subscription, len(b.subs[msgID]))
	copy(list, b.subs[msgID])
	b.subMu.RUnlock()

	for _, sub := range list {
		e := &Envelope{MsgID: msgID, From: from, Payload: payload}
		if sub.ep != nil {
			e.To = sub.ep.id
			b.send(sub.ep, e)
			continue
		}
		h := sub.handler
		go h(e)
	}
}

// SubscriberCount reports how many subscribers a topic currently has.
func (b *Bus) SubscriberCount(msgID MsgID) int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subs[msgID])
}
