// Command gpuagentd is the host-resident GPU telemetry and control agent:
// it discovers the local GPU fleet through a vendor SMI backend, serves
// reads and mutations over an in-process message bus, and exposes both a
// gRPC frontend and a Prometheus metrics endpoint.
package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/rocm/gpuagent/api/proto"
	"github.com/rocm/gpuagent/pkg/apiengine"
	"github.com/rocm/gpuagent/pkg/bus"
	"github.com/rocm/gpuagent/pkg/config"
	"github.com/rocm/gpuagent/pkg/eventmon"
	"github.com/rocm/gpuagent/pkg/metrics"
	"github.com/rocm/gpuagent/pkg/objkey"
	"github.com/rocm/gpuagent/pkg/rpcfront"
	"github.com/rocm/gpuagent/pkg/smi"
	"github.com/rocm/gpuagent/pkg/trace"
	"github.com/rocm/gpuagent/pkg/watchmon"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "gpuagentd",
	Short:   "Host-resident GPU telemetry and control agent",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("gpuagentd version %s (%s)\n", Version, Commit))
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	trace.Init(trace.Config{Level: cfg.TraceLevel})
	log := trace.WithComponent("gpuagentd")

	backend := smi.NewMockBackend(cfg.MockGPUCount)
	b := bus.New()

	hostID := localHostID()

	eng := apiengine.New(b, backend, hostID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("apiengine: start: %w", err)
	}
	log.Info().Int("gpus", len(eng.GPUs().Keys())).Msg("fleet discovered")

	em := eventmon.New(b, backend, eng.GPUs(), cfg.EventPollInterval, cfg.EventStartupDelay)
	wm := watchmon.New(b, backend, eng.GPUs(), eng.Watches(), cfg.WatchPollInterval)

	go eng.Worker().Run()
	go em.Worker().Run()
	go wm.Worker().Run()

	if err := seedWatches(b, eng, cfg.WatchSeedFile); err != nil {
		return fmt.Errorf("watch seeds: %w", err)
	}

	srv := rpcfront.New(b, eng.GPUs(), eng.Watches(), em, wm, cfg.RPCRequestTimeout)

	grpcServer := grpc.NewServer()
	proto.RegisterGpuAgentServer(grpcServer, srv)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.RPCPort))
	if err != nil {
		return fmt.Errorf("rpc: listen: %w", err)
	}
	grpcErrCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			grpcErrCh <- err
		}
	}()
	log.Info().Int("port", cfg.RPCPort).Msg("gRPC server listening")

	collector := metrics.NewCollector(eng.GPUs(), eng.Watches(), em, cfg.EventPollInterval)
	go collector.Run()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	metricsErrCh := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			metricsErrCh <- err
		}
	}()
	log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("shutting down")
	case err := <-grpcErrCh:
		log.Error().Err(err).Msg("gRPC server error")
	case err := <-metricsErrCh:
		log.Error().Err(err).Msg("metrics server error")
	}

	grpcServer.GracefulStop()
	_ = metricsServer.Close()
	collector.Stop()
	wm.Worker().Stop()
	em.Worker().Stop()
	eng.Worker().Stop()

	log.Info().Msg("shutdown complete")
	return nil
}

// seedWatches applies a watch-seed file, if configured, resolving each
// seed's GPU index to its object key and issuing an ordinary
// WatchCreateRequest through the bus. A GPU index that was not discovered
// is dropped from its seed with a logged warning rather than failing
// startup; a seed left with no GPUs is skipped.
func seedWatches(b *bus.Bus, eng *apiengine.Engine, path string) error {
	seeds, err := config.LoadWatchSeeds(path)
	if err != nil {
		return err
	}
	log := trace.WithComponent("gpuagentd")
	const seederID bus.EndpointID = "watchseed"
	for _, seed := range seeds {
		keys := make([]objkey.Key, 0, len(seed.GPUIndexes))
		for _, index := range seed.GPUIndexes {
			key, ok := eng.KeyForIndex(index)
			if !ok {
				log.Warn().Int("gpu_index", index).Msg("watch seed references undiscovered GPU, skipping")
				continue
			}
			keys = append(keys, key)
		}
		if len(keys) == 0 {
			continue
		}
		reply, err := b.BlockingRequest(seederID, apiengine.EndpointID, apiengine.MsgWatchCreate,
			apiengine.WatchCreateRequest{GPUKeys: keys, Attributes: seed.Attributes, IntervalMS: seed.IntervalMS}, 0)
		if err != nil {
			return err
		}
		if r, ok := reply.(apiengine.WatchCreateReply); ok && r.Err != nil {
			return r.Err
		}
	}
	return nil
}

func localHostID() uint32 {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}
