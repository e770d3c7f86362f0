package eventmon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocm/gpuagent/pkg/apiengine"
	"github.com/rocm/gpuagent/pkg/bus"
	"github.com/rocm/gpuagent/pkg/objkey"
	"github.com/rocm/gpuagent/pkg/smi"
)

func setup(t *testing.T, n int) (*Monitor, *apiengine.Engine, *smi.MockBackend) {
	t.Helper()
	b := bus.New()
	backend := smi.NewMockBackend(n)

	eng := apiengine.New(b, backend, 1)
	require.NoError(t, eng.Start(context.Background()))
	go eng.Worker().Run()
	t.Cleanup(eng.Worker().Stop)

	m := New(b, backend, eng.GPUs(), 50*time.Millisecond, 0)
	go m.Worker().Run()
	t.Cleanup(m.Worker().Stop)

	return m, eng, backend
}

func TestFanOutDeliversToAllListeners(t *testing.T) {
	m, _, backend := setup(t, 2)

	var mu sync.Mutex
	var gotA, gotB []GPUEvent
	m.AddListener(Filter{}, func(ev GPUEvent) error {
		mu.Lock()
		gotA = append(gotA, ev)
		mu.Unlock()
		return nil
	})
	m.AddListener(Filter{}, func(ev GPUEvent) error {
		mu.Lock()
		gotB = append(gotB, ev)
		mu.Unlock()
		return nil
	})

	backend.InjectThermalThrottle(0)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotA) == 1 && len(gotB) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, smi.EventThermalThrottle, gotA[0].Kind)
	assert.Equal(t, 0, gotA[0].Index)
}

func TestDeadListenerIsRemoved(t *testing.T) {
	m, _, backend := setup(t, 1)

	id := m.AddListener(Filter{}, func(ev GPUEvent) error {
		return assertGone{}
	})
	assert.Equal(t, 1, m.ListenerCount())

	backend.InjectRingHang(0, "gfx")

	require.Eventually(t, func() bool {
		return m.ListenerCount() == 0
	}, time.Second, time.Millisecond)

	m.RemoveListener(id) // no-op, already gone
	assert.Equal(t, 0, m.ListenerCount())
}

func TestRemoveListenerStopsDelivery(t *testing.T) {
	m, _, backend := setup(t, 1)

	var count int
	var mu sync.Mutex
	id := m.AddListener(Filter{}, func(ev GPUEvent) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	m.RemoveListener(id)

	backend.InjectVMPageFault(0, 0xbeef)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestFilterExcludesNonMatchingGPUAndEventKind(t *testing.T) {
	m, eng, backend := setup(t, 2)

	keys := eng.GPUs().Keys()
	require.Len(t, keys, 2)

	var mu sync.Mutex
	var got []GPUEvent
	m.AddListener(Filter{
		GPUKeys:    map[objkey.Key]struct{}{keys[0]: {}},
		EventKinds: map[smi.EventKind]struct{}{smi.EventThermalThrottle: {}},
	}, func(ev GPUEvent) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	})

	backend.InjectVMPageFault(1, 0xcafe)   // wrong GPU and wrong kind
	backend.InjectThermalThrottle(1)       // wrong GPU
	backend.InjectThermalThrottle(0)       // matches

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, keys[0], got[0].GPUKey)
	assert.Equal(t, smi.EventThermalThrottle, got[0].Kind)
}

type assertGone struct{}

func (assertGone) Error() string { return "client gone" }
