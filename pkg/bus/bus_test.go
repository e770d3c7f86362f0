package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain starts a goroutine that consumes inbox and calls handler for each
// envelope, respecting serialized-endpoint completion gating the way
// pkg/evloop's consumer loop does. Returns a stop func.
func drain(b *Bus, id EndpointID, inbox <-chan *Envelope, handler Handler, serialized bool) func() {
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case e := <-inbox:
				handler(e)
				if serialized {
					b.Await(id)
				}
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

func TestPostFIFOOrder(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var got []int

	inbox := b.Register("worker", nil, false)
	stop := drain(b, "worker", inbox, func(e *Envelope) {
		mu.Lock()
		got = append(got, e.Payload.(int))
		mu.Unlock()
	}, false)
	defer stop()

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Post("caller", "worker", "tick", i))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 20
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 20; i++ {
		assert.Equal(t, i, got[i])
	}
}

func TestPostUnknownEndpoint(t *testing.T) {
	b := New()
	err := b.Post("caller", "nobody", "tick", 1)
	assert.Error(t, err)
}

func TestRequestRespondRoundTrip(t *testing.T) {
	b := New()
	inbox := b.Register("apiengine", nil, true)
	stop := drain(b, "apiengine", inbox, func(e *Envelope) {
		b.Respond(e, e.Payload.(int)*2)
	}, true)
	defer stop()

	result, err := b.BlockingRequest("caller", "apiengine", "gpu_update", 21, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRequestTimeoutWithoutRespond(t *testing.T) {
	b := New()
	// Register an endpoint whose handler never responds.
	inbox := b.Register("apiengine", nil, true)
	stop := drain(b, "apiengine", inbox, func(e *Envelope) {
		// swallow the message, never call Respond
	}, false) // not gating on Await so the test doesn't hang
	defer stop()

	result, err := b.BlockingRequest("caller", "apiengine", "gpu_update", 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, result, "timeout must deliver nil data when the handler never responds")
}

func TestRequestRespondNeverFiresTwice(t *testing.T) {
	b := New()
	var calls int
	var mu sync.Mutex

	var reqEnvelope *Envelope
	release := make(chan struct{})

	inbox := b.Register("apiengine", nil, false)
	go func() {
		e := <-inbox
		reqEnvelope = e
		<-release
		b.Respond(e, "late")
	}()

	var gotData any
	done := make(chan struct{})
	err := b.Request("caller", "apiengine", "gpu_update", 1, func(data, _ any) {
		mu.Lock()
		calls++
		gotData = data
		mu.Unlock()
		close(done)
	}, nil, 10*time.Millisecond)
	require.NoError(t, err)

	<-done // timeout fires first
	close(release) // now let the late Respond race in

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "replyCb must fire exactly once even if Respond races a timeout")
	assert.Nil(t, gotData)
	_ = reqEnvelope
}

func TestSerializedEndpointHoldsSecondMessage(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var order []string
	unblock := make(chan struct{})

	inbox := b.Register("apiengine", nil, true)
	stop := drain(b, "apiengine", inbox, func(e *Envelope) {
		name := e.Payload.(string)
		mu.Lock()
		order = append(order, "start:"+name)
		mu.Unlock()
		if name == "first" {
			<-unblock
		}
		mu.Lock()
		order = append(order, "end:"+name)
		mu.Unlock()
		b.Done(e)
	}, true)
	defer stop()

	require.NoError(t, b.Post("caller", "apiengine", "m", "first"))
	time.Sleep(20 * time.Millisecond) // let "first" start and block

	require.NoError(t, b.Post("caller", "apiengine", "m", "second"))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	snapshot := append([]string(nil), order...)
	mu.Unlock()
	assert.Equal(t, []string{"start:first"}, snapshot, "second message must not start until first completes")

	close(unblock)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 4
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"start:first", "end:first", "start:second", "end:second"}, order)
}

func TestSubscribeBroadcastFanOut(t *testing.T) {
	b := New()
	var mu sync.Mutex
	count := map[string]int{}

	var wg sync.WaitGroup
	wg.Add(3)
	for _, name := range []string{"a", "b", "c"} {
		n := name
		b.Subscribe("gpu_event", "", func(e *Envelope) {
			mu.Lock()
			count[n]++
			mu.Unlock()
			wg.Done()
		})
	}

	assert.Equal(t, 3, b.SubscriberCount("gpu_event"))
	b.Broadcast("eventmon", "gpu_event", "ecc_error")
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, count, 3)
	for _, n := range count {
		assert.Equal(t, 1, n)
	}
}

func TestSubscribeToEndpointRespectsSerialization(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var got []string

	inbox := b.Register("watchmon", nil, true)
	stop := drain(b, "watchmon", inbox, func(e *Envelope) {
		mu.Lock()
		got = append(got, e.Payload.(string))
		mu.Unlock()
		b.Done(e)
	}, true)
	defer stop()

	b.Subscribe("watch_tick", "watchmon", nil)
	b.Broadcast("watchmon-owner", "watch_tick", "sample-1")
	b.Broadcast("watchmon-owner", "watch_tick", "sample-2")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"sample-1", "sample-2"}, got)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var calls int
	var mu sync.Mutex

	id := b.Subscribe("topic", "", func(e *Envelope) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	b.Unsubscribe("topic", id)
	b.Broadcast("x", "topic", nil)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, b.SubscriberCount("topic"))
}

func TestUnregisterRemovesEndpoint(t *testing.T) {
	b := New()
	b.Register("worker", nil, false)
	b.Unregister("worker")
	err := b.Post("caller", "worker", "tick", 1)
	assert.Error(t, err)
}
