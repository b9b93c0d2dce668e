// Package metrics defines CacheBolt's Prometheus instrumentation
// (spec.md §6), modeled on cuemby-warren's prometheus/client_golang
// registration style.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// latencyMsBuckets covers CacheBolt's expected request-latency range in
// milliseconds; spec.md's histograms are explicitly in ms, not seconds.
var latencyMsBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Registry holds every metric CacheBolt exposes on the admin listener's
// /metrics endpoint, named per spec.md §6's exact catalog.
type Registry struct {
	reg *prometheus.Registry

	ProxyRequestsTotal          *prometheus.CounterVec
	DownstreamFailuresTotal     *prometheus.CounterVec
	RejectedDueToConcurrency    *prometheus.CounterVec
	FailoverTotal               *prometheus.CounterVec
	MemoryHitsTotal             *prometheus.CounterVec
	MemoryStoreTotal            *prometheus.CounterVec
	MemoryFallbackHitsTotal     prometheus.Counter
	ProxyRequestLatencyMs       *prometheus.HistogramVec
	LatencyExceededMs           *prometheus.HistogramVec
	LatencyExceededTotal        *prometheus.CounterVec
	PersistAttemptsTotal        *prometheus.CounterVec
	PersistErrorsTotal          *prometheus.CounterVec
	PersistentFallbackHitsTotal prometheus.Counter
	FallbackMissTotal           prometheus.Counter

	// WriterQueueDepth, WriterDroppedTotal and PurgeRequestsTotal are not
	// named in spec.md §6's catalog but are kept as internal operational
	// metrics — they
	// carry no domain semantics spec.md defines, so they're additive,
	// not conflicting.
	WriterQueueDepth   prometheus.Gauge
	WriterDroppedTotal prometheus.Counter
	PurgeRequestsTotal *prometheus.CounterVec
}

// New constructs and registers every metric against a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,

		ProxyRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachebolt_proxy_requests_total",
			Help: "Total number of requests received by the proxy, by URI.",
		}, []string{"uri"}),

		DownstreamFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachebolt_downstream_failures_total",
			Help: "Total downstream requests that failed outright (connection error or 5xx), by URI.",
		}, []string{"uri"}),

		RejectedDueToConcurrency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachebolt_rejected_due_to_concurrency_total",
			Help: "Total requests rejected by the admission semaphore, by URI.",
		}, []string{"uri"}),

		FailoverTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachebolt_failover_total",
			Help: "Total requests served via URI failover, by URI.",
		}, []string{"uri"}),

		MemoryHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachebolt_memory_hits_total",
			Help: "Total requests served from the in-memory tier, by URI.",
		}, []string{"uri"}),

		MemoryStoreTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachebolt_memory_store_total",
			Help: "Total responses written into the in-memory tier, by URI.",
		}, []string{"uri"}),

		MemoryFallbackHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachebolt_memory_fallback_hits_total",
			Help: "Total requests served from memory as a fallback after a downstream failure.",
		}),

		ProxyRequestLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cachebolt_proxy_request_latency_ms",
			Help:    "End-to-end downstream request latency in milliseconds, by URI.",
			Buckets: latencyMsBuckets,
		}, []string{"uri"}),

		LatencyExceededMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cachebolt_latency_exceeded_ms",
			Help:    "Downstream latency in milliseconds for requests that breached the configured threshold, by URI.",
			Buckets: latencyMsBuckets,
		}, []string{"uri"}),

		LatencyExceededTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachebolt_latency_exceeded_total",
			Help: "Total requests whose downstream latency breached the configured threshold, by URI.",
		}, []string{"uri"}),

		PersistAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachebolt_persist_attempts_total",
			Help: "Total successful persists to the object store, by backend.",
		}, []string{"backend"}),

		PersistErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachebolt_persist_errors_total",
			Help: "Total failed persist attempts, by backend.",
		}, []string{"backend"}),

		PersistentFallbackHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachebolt_persistent_fallback_hits_total",
			Help: "Total requests served from the object-store tier as a fallback.",
		}),

		FallbackMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachebolt_fallback_miss_total",
			Help: "Total fallback lookups (failover or downstream-failure) that missed every cache tier.",
		}),

		WriterQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cachebolt_writer_queue_depth",
			Help: "Current number of pending writes queued for the async cache writer.",
		}),

		WriterDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cachebolt_writer_dropped_total",
			Help: "Total writes dropped because the writer queue was full.",
		}),

		PurgeRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachebolt_purge_requests_total",
			Help: "Total admin purge requests, by whether they included the backend.",
		}, []string{"backend"}),
	}

	reg.MustRegister(
		r.ProxyRequestsTotal,
		r.DownstreamFailuresTotal,
		r.RejectedDueToConcurrency,
		r.FailoverTotal,
		r.MemoryHitsTotal,
		r.MemoryStoreTotal,
		r.MemoryFallbackHitsTotal,
		r.ProxyRequestLatencyMs,
		r.LatencyExceededMs,
		r.LatencyExceededTotal,
		r.PersistAttemptsTotal,
		r.PersistErrorsTotal,
		r.PersistentFallbackHitsTotal,
		r.FallbackMissTotal,
		r.WriterQueueDepth,
		r.WriterDroppedTotal,
		r.PurgeRequestsTotal,
	)

	return r
}

// Handler returns the HTTP handler serving this registry's metrics in
// the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
