// Package config loads the agent's runtime configuration from
// environment variables (the env-var table in SPEC_FULL.md §6.3) and,
// optionally, a non-persistent YAML file seeding initial watches.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rocm/gpuagent/pkg/trace"
)

// Config is the agent's fully-resolved runtime configuration.
type Config struct {
	LogDir        string
	LogMaxSizeMB  int
	LogMaxBackups int
	TraceLevel    trace.Level

	RPCPort      int
	MetricsAddr  string
	MockGPUCount int

	EventPollInterval time.Duration
	EventStartupDelay time.Duration
	WatchPollInterval time.Duration
	WatchSeedFile     string

	RPCRequestTimeout time.Duration
}

// Load reads every GPUAGENT_* environment variable, applying the
// defaults below for anything unset.
func Load() (Config, error) {
	cfg := Config{
		LogDir:            getEnv("GPUAGENT_LOG_DIR", ""),
		LogMaxSizeMB:      100,
		LogMaxBackups:     5,
		TraceLevel:        trace.Level(getEnv("GPUAGENT_TRACE_LEVEL", string(trace.Info))),
		RPCPort:           50051,
		MetricsAddr:       getEnv("GPUAGENT_METRICS_ADDR", ":9400"),
		MockGPUCount:      8,
		EventPollInterval: 3 * time.Second,
		EventStartupDelay: 10 * time.Second,
		WatchPollInterval: time.Second,
		WatchSeedFile:     getEnv("GPUAGENT_WATCH_SEED_FILE", ""),
		RPCRequestTimeout: 5 * time.Second,
	}

	var err error
	if cfg.LogMaxSizeMB, err = getEnvInt("GPUAGENT_LOG_MAX_SIZE_MB", cfg.LogMaxSizeMB); err != nil {
		return cfg, err
	}
	if cfg.LogMaxBackups, err = getEnvInt("GPUAGENT_LOG_MAX_BACKUPS", cfg.LogMaxBackups); err != nil {
		return cfg, err
	}
	if cfg.RPCPort, err = getEnvInt("GPUAGENT_RPC_PORT", cfg.RPCPort); err != nil {
		return cfg, err
	}
	if cfg.MockGPUCount, err = getEnvInt("GPUAGENT_MOCK_GPU_COUNT", cfg.MockGPUCount); err != nil {
		return cfg, err
	}
	if cfg.EventPollInterval, err = getEnvDuration("GPUAGENT_EVENT_POLL_INTERVAL", cfg.EventPollInterval); err != nil {
		return cfg, err
	}
	if cfg.EventStartupDelay, err = getEnvDuration("GPUAGENT_EVENT_STARTUP_DELAY", cfg.EventStartupDelay); err != nil {
		return cfg, err
	}
	if cfg.WatchPollInterval, err = getEnvDuration("GPUAGENT_WATCH_POLL_INTERVAL", cfg.WatchPollInterval); err != nil {
		return cfg, err
	}

	switch cfg.TraceLevel {
	case trace.Debug, trace.Info, trace.Warn, trace.Error:
	default:
		return cfg, fmt.Errorf("config: invalid GPUAGENT_TRACE_LEVEL %q", cfg.TraceLevel)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return d, nil
}
