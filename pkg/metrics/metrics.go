// Package metrics exposes the agent's own internal health metrics over
// Prometheus — GPU, watch and listener counts, plus request counter and
// latency vectors. This is
// distinct from the GPU telemetry counters the RPC frontend serves
// (pkg/rpcfront): those are domain data answering "how is the hardware
// doing"; these answer "how is the agent itself doing".
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rocm/gpuagent/pkg/apiengine"
	"github.com/rocm/gpuagent/pkg/eventmon"
	"github.com/rocm/gpuagent/pkg/store"
)

var (
	// RPCRequestsTotal counts unary RPC calls by method and outcome. No
	// code in the agent increments it.
	RPCRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gpuagent",
		Name:      "rpc_requests_total",
		Help:      "Total unary RPC requests handled, by method and result.",
	}, []string{"method", "result"})

	// ApiEngineRequestDuration measures how long the API engine takes to
	// process one bus request, by message kind. No code in the agent
	// observes into it.
	ApiEngineRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gpuagent",
		Name:      "apiengine_request_duration_seconds",
		Help:      "API engine request handling latency, by message kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"msg_id"})

	// GPUCount reports how many GPUs are currently in the object store.
	GPUCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpuagent",
		Name:      "gpu_count",
		Help:      "Number of GPUs currently tracked by the agent.",
	})

	// WatchCount reports how many live watches exist.
	WatchCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpuagent",
		Name:      "watch_count",
		Help:      "Number of live watches.",
	})

	// EventListenerCount reports how many streaming event clients are
	// currently connected.
	EventListenerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gpuagent",
		Name:      "event_listener_count",
		Help:      "Number of connected EventStream RPC clients.",
	})
)

// Collector periodically samples gauges that reflect live object-store
// and listener-registry state, rather than being updated inline at every
// mutation site.
type Collector struct {
	gpus     *store.Store[apiengine.GPU]
	watches  *store.Store[apiengine.Watch]
	eventmon *eventmon.Monitor
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a Collector sampling every interval.
func NewCollector(gpus *store.Store[apiengine.GPU], watches *store.Store[apiengine.Watch], em *eventmon.Monitor, interval time.Duration) *Collector {
	return &Collector{gpus: gpus, watches: watches, eventmon: em, interval: interval, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// Run samples gauges every interval until Stop is called. Intended to be
// run on its own goroutine.
func (c *Collector) Run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sample()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Collector) sample() {
	GPUCount.Set(float64(c.gpus.Len()))
	WatchCount.Set(float64(c.watches.Len()))
	EventListenerCount.Set(float64(c.eventmon.ListenerCount()))
}

// Stop halts the collector and blocks until it has.
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

// Handler returns the HTTP handler to serve on GPUAGENT_METRICS_ADDR.
func Handler() http.Handler {
	return promhttp.Handler()
}
