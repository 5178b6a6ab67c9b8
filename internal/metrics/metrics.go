// Package metrics holds the Prometheus collectors shared by the batch client,
// the worker pool, the session and the result cache.
//
// Collectors are registered on the default registerer through promauto, so the
// CLI exposes them with Handler without extra wiring.
//
//	# Chunk failure rate
//	sum(rate(electrumbatch_chunks_total{outcome="failed"}[5m])) / sum(rate(electrumbatch_chunks_total[5m]))
//
//	# P95 round trip per chunk
//	histogram_quantile(0.95, rate(electrumbatch_chunk_duration_seconds_bucket[5m]))
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "electrumbatch"

// Registry is the registerer all collectors are attached to
var Registry = prometheus.DefaultRegisterer

// Batch client
var (
	ChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunks_total",
		Help:      "Chunks submitted to the session by outcome (ok, failed)",
	}, []string{"outcome"})

	ChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chunk_duration_seconds",
		Help:      "Wall time of one chunk round trip including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	RequestsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_completed_total",
		Help:      "Requests whose response was written to a results table",
	})

	DuplicateResults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_results_total",
		Help:      "Writes refused because the request id already had a result",
	})

	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chunk_retries_total",
		Help:      "Chunk resubmissions made by the retry policy",
	})
)

// Worker pool and loop
var (
	PoolTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_tasks_total",
		Help:      "Worker pool tasks by status (ok, error, panic)",
	}, []string{"status"})

	LoopUnitsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "loop_units_in_flight",
		Help:      "Units currently running on the session loop",
	})
)

// Session
var (
	SessionRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_requests_total",
		Help:      "JSON-RPC requests written to the server",
	})

	SessionFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_frames_total",
		Help:      "Frames written to the server by kind (single, batch)",
	}, []string{"kind"})

	SessionReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_reconnects_total",
		Help:      "Successful reconnections after a lost connection",
	})

	CircuitRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_circuit_rejections_total",
		Help:      "Batches rejected while the circuit breaker was open",
	})
)

// Result cache
var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Result cache hits by backend",
	}, []string{"backend"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Result cache misses by backend",
	}, []string{"backend"})

	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_errors_total",
		Help:      "Result cache backend errors by operation",
	}, []string{"operation"})
)

// Handler serves the default gatherer in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
