package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocm/gpuagent/pkg/trace"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, trace.Info, cfg.TraceLevel)
	assert.Equal(t, 50051, cfg.RPCPort)
	assert.Equal(t, 8, cfg.MockGPUCount)
	assert.Equal(t, 3*time.Second, cfg.EventPollInterval)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("GPUAGENT_RPC_PORT", "9999")
	t.Setenv("GPUAGENT_TRACE_LEVEL", "debug")
	t.Setenv("GPUAGENT_MOCK_GPU_COUNT", "4")
	t.Setenv("GPUAGENT_WATCH_POLL_INTERVAL", "500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.RPCPort)
	assert.Equal(t, trace.Debug, cfg.TraceLevel)
	assert.Equal(t, 4, cfg.MockGPUCount)
	assert.Equal(t, 500*time.Millisecond, cfg.WatchPollInterval)
}

func TestLoadRejectsBadTraceLevel(t *testing.T) {
	t.Setenv("GPUAGENT_TRACE_LEVEL", "verbose")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadInt(t *testing.T) {
	t.Setenv("GPUAGENT_RPC_PORT", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadWatchSeedsEmptyPath(t *testing.T) {
	seeds, err := LoadWatchSeeds("")
	require.NoError(t, err)
	assert.Nil(t, seeds)
}

func TestLoadWatchSeedsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.yaml")
	content := `
watches:
  - gpu_indexes: [0]
    attributes: [gfx, edge]
    interval_ms: 1000
  - gpu_indexes: [1]
    attributes: [vram_used]
    interval_ms: 500
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	seeds, err := LoadWatchSeeds(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, []int{0}, seeds[0].GPUIndexes)
	assert.Equal(t, []string{"gfx", "edge"}, seeds[0].Attributes)
	assert.Equal(t, uint32(500), seeds[1].IntervalMS)
}

func TestLoadWatchSeedsMissingFile(t *testing.T) {
	_, err := LoadWatchSeeds("/nonexistent/seeds.yaml")
	assert.Error(t, err)
}
