// Package metrics provides Prometheus metrics for the pulse diagnostic service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache tiers reported on cache hit metrics.
const (
	TierScope  = "scope"
	TierShared = "shared"
)

// Manager owns every Prometheus collector used by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Cache Metrics - multi-tier lookup behaviour
	cacheHits            *prometheus.CounterVec
	cacheMisses          prometheus.Counter
	cacheErrors          *prometheus.CounterVec
	cacheSlowComputes    prometheus.Counter
	cacheComputeLatency  prometheus.Histogram
	cacheInvalidations   *prometheus.CounterVec
	cacheLockWaits       *prometheus.CounterVec
	cacheScopeEntries    prometheus.Gauge
	storeOperationErrors *prometheus.CounterVec

	// Admission Metrics - sliding window limiter
	rateLimitDecisions *prometheus.CounterVec
	rateLimitFailOpen  *prometheus.CounterVec

	// Algorithm Metrics - runner observability
	algorithmLatency  *prometheus.HistogramVec
	algorithmErrors   *prometheus.CounterVec
	algorithmTimeouts prometheus.Counter
	batchItems        *prometheus.CounterVec

	// Diagnostic Metrics - orchestrator outcomes
	diagnosticLatency *prometheus.HistogramVec
	diagnosticScore   prometheus.Histogram

	// Job Metrics - async state machine
	jobTransitions *prometheus.CounterVec
	jobsCoalesced  prometheus.Counter
	queueDepth     *prometheus.GaugeVec
	queueRejected  *prometheus.CounterVec
	workerCount    prometheus.Gauge
	workerLatency  prometheus.Histogram

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pulse",
		subsystem:        "diagnostic",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		})
	}
	histogram := func(name, help string) prometheus.Histogram {
		return auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
			Buckets:   m.histogramBuckets,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return auto.NewGauge(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m.cacheHits = counterVec("cache_hits_total", "Cache hits by tier (scope or shared)", "tier")
	m.cacheMisses = counter("cache_misses_total", "Cache misses that fell through to compute")
	m.cacheErrors = counterVec("cache_errors_total", "Shared store errors treated as cache misses", "operation")
	m.cacheSlowComputes = counter("cache_slow_computations_total", "Computations slower than the slow threshold")
	m.cacheComputeLatency = histogram("cache_compute_latency_milliseconds", "Compute latency on cache miss")
	m.cacheInvalidations = counterVec("cache_invalidations_total", "Cache invalidations by mode", "mode")
	m.cacheLockWaits = counterVec("cache_lock_waits_total", "Stampede lock outcomes", "outcome")
	m.cacheScopeEntries = gauge("cache_scope_entries", "Entries held by the most recently cleared request scope")
	m.storeOperationErrors = counterVec("store_errors_total", "Shared store operation failures", "backend", "operation")

	m.rateLimitDecisions = counterVec("rate_limit_decisions_total", "Rate limiter decisions", "class", "outcome")
	m.rateLimitFailOpen = counterVec("rate_limit_fail_open_total", "Rate limiter backend failures that allowed traffic", "class")

	m.algorithmLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "algorithm_latency_milliseconds",
		Help:      "Latency of individual scoring algorithms",
		Buckets:   m.histogramBuckets,
	}, []string{"algorithm"})
	m.algorithmErrors = counterVec("algorithm_errors_total", "Algorithm failures replaced by fallbacks", "algorithm")
	m.algorithmTimeouts = counter("algorithm_timeouts_total", "Bounded computations that hit their deadline")
	m.batchItems = counterVec("batch_items_total", "Items processed by batch runs", "outcome")

	m.diagnosticLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "diagnostic_latency_milliseconds",
		Help:      "End to end diagnostic latency by provenance",
		Buckets:   m.histogramBuckets,
	}, []string{"source"})
	m.diagnosticScore = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "diagnostic_overall_score",
		Help:      "Distribution of computed overall scores",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})

	m.jobTransitions = counterVec("job_transitions_total", "Async job status transitions", "status")
	m.jobsCoalesced = counter("jobs_coalesced_total", "Async submissions answered with an in-flight job id")
	m.queueDepth = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_depth",
		Help:      "Pending messages per priority queue",
	}, []string{"priority"})
	m.queueRejected = counterVec("queue_rejected_total", "Enqueue attempts rejected", "reason")
	m.workerCount = gauge("worker_count", "Number of running queue workers")
	m.workerLatency = histogram("worker_processing_latency_milliseconds", "Time a worker spends on one job")

	m.httpRequests = counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_milliseconds",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
}

// RecordCacheHit increments the hit counter for tier.
func RecordCacheHit(tier string) {
	globalManager.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss increments the miss counter.
func RecordCacheMiss() {
	globalManager.cacheMisses.Inc()
}

// RecordCacheError counts a failed shared store operation (get, set, tag, delete).
func RecordCacheError(operation string) {
	globalManager.cacheErrors.WithLabelValues(operation).Inc()
}

// RecordCacheCompute observes compute latency and flags slow computations.
func RecordCacheCompute(latencyMs float64, slow bool) {
	globalManager.cacheComputeLatency.Observe(latencyMs)
	if slow {
		globalManager.cacheSlowComputes.Inc()
	}
}

// RecordCacheInvalidation counts invalidations by mode (tag, registry, key, scope).
func RecordCacheInvalidation(mode string) {
	globalManager.cacheInvalidations.WithLabelValues(mode).Inc()
}

// RecordLockOutcome counts stampede lock outcomes (acquired, waited, timeout, shared).
func RecordLockOutcome(outcome string) {
	globalManager.cacheLockWaits.WithLabelValues(outcome).Inc()
}

// UpdateScopeEntries sets the size of the last cleared request scope.
func UpdateScopeEntries(n int) {
	globalManager.cacheScopeEntries.Set(float64(n))
}

// RecordStoreError counts a backend store failure.
func RecordStoreError(backend, operation string) {
	globalManager.storeOperationErrors.WithLabelValues(backend, operation).Inc()
}

// RecordRateLimitDecision counts an allow or reject for class.
func RecordRateLimitDecision(class string, allowed bool) {
	outcome := "rejected"
	if allowed {
		outcome = "allowed"
	}
	globalManager.rateLimitDecisions.WithLabelValues(class, outcome).Inc()
}

// RecordRateLimitFailOpen counts a limiter backend failure that admitted traffic.
func RecordRateLimitFailOpen(class string) {
	globalManager.rateLimitFailOpen.WithLabelValues(class).Inc()
}

// RecordAlgorithmLatency observes one algorithm execution.
func RecordAlgorithmLatency(name string, latencyMs float64) {
	globalManager.algorithmLatency.WithLabelValues(name).Observe(latencyMs)
}

// RecordAlgorithmError counts an algorithm failure.
func RecordAlgorithmError(name string) {
	globalManager.algorithmErrors.WithLabelValues(name).Inc()
}

// RecordAlgorithmTimeout counts a bounded computation timeout.
func RecordAlgorithmTimeout() {
	globalManager.algorithmTimeouts.Inc()
}

// RecordBatchItem counts a processed batch item.
func RecordBatchItem(ok bool) {
	outcome := "failed"
	if ok {
		outcome = "succeeded"
	}
	globalManager.batchItems.WithLabelValues(outcome).Inc()
}

// RecordDiagnostic observes a diagnostic response.
func RecordDiagnostic(fromCache bool, latencyMs float64, score int) {
	source := "computed"
	if fromCache {
		source = "cache"
	} else {
		globalManager.diagnosticScore.Observe(float64(score))
	}
	globalManager.diagnosticLatency.WithLabelValues(source).Observe(latencyMs)
}

// RecordJobTransition counts a job entering status.
func RecordJobTransition(status string) {
	globalManager.jobTransitions.WithLabelValues(status).Inc()
}

// RecordJobCoalesced counts a submission answered with an existing job.
func RecordJobCoalesced() {
	globalManager.jobsCoalesced.Inc()
}

// UpdateQueueDepth sets the depth of a priority queue.
func UpdateQueueDepth(priority string, depth int) {
	globalManager.queueDepth.WithLabelValues(priority).Set(float64(depth))
}

// RecordQueueRejected counts an enqueue rejection.
func RecordQueueRejected(reason string) {
	globalManager.queueRejected.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency observes one job's processing time.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the registry all collectors are registered on.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
