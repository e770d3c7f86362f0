package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocm/gpuagent/pkg/apiengine"
	"github.com/rocm/gpuagent/pkg/bus"
	"github.com/rocm/gpuagent/pkg/eventmon"
	"github.com/rocm/gpuagent/pkg/smi"
)

func TestCollectorSamplesGaugeValues(t *testing.T) {
	b := bus.New()
	backend := smi.NewMockBackend(3)
	eng := apiengine.New(b, backend, 1)
	require.NoError(t, eng.Start(context.Background()))
	go eng.Worker().Run()
	t.Cleanup(eng.Worker().Stop)

	em := eventmon.New(b, backend, eng.GPUs(), 50*time.Millisecond, 0)
	go em.Worker().Run()
	t.Cleanup(em.Worker().Stop)

	c := NewCollector(eng.GPUs(), eng.Watches(), em, 10*time.Millisecond)
	go c.Run()
	defer c.Stop()

	require.Eventually(t, func() bool {
		v := testGaugeValue(GPUCount)
		return v == 3
	}, time.Second, time.Millisecond)

	assert.Equal(t, float64(0), testGaugeValue(WatchCount))
}
