package evloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocm/gpuagent/pkg/bus"
)

func TestWorkerDispatchesInboxMessages(t *testing.T) {
	b := bus.New()
	var mu sync.Mutex
	var got []string

	w := New(b, "apiengine", func(e *bus.Envelope) {
		mu.Lock()
		got = append(got, e.Payload.(string))
		mu.Unlock()
		b.Done(e)
	}, true)
	go w.Run()
	defer w.Stop()

	require.NoError(t, b.Post("caller", "apiengine", "m", "one"))
	require.NoError(t, b.Post("caller", "apiengine", "m", "two"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestWorkerFiresTimers(t *testing.T) {
	b := bus.New()
	var count int32
	w := New(b, "eventmon", func(e *bus.Envelope) {}, false)
	w.AddTimer(10*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})
	go w.Run()
	defer w.Stop()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) >= 3
	}, time.Second, time.Millisecond)
}

type fakeSource struct {
	ch chan struct{}
}

func (f *fakeSource) C() <-chan struct{} { return f.ch }

func TestWorkerServicesSource(t *testing.T) {
	b := bus.New()
	var count int32
	w := New(b, "eventmon", func(e *bus.Envelope) {}, false)

	src := &fakeSource{ch: make(chan struct{}, 1)}
	w.SetSource(src, func() {
		atomic.AddInt32(&count, 1)
	})
	go w.Run()
	defer w.Stop()

	src.ch <- struct{}{}
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&count) == 1
	}, time.Second, time.Millisecond)
}

func TestStopUnregistersEndpoint(t *testing.T) {
	b := bus.New()
	w := New(b, "watchmon", func(e *bus.Envelope) {}, false)
	go w.Run()
	w.Stop()

	err := b.Post("caller", "watchmon", "m", 1)
	assert.Error(t, err, "endpoint must be unregistered after Stop")
}
