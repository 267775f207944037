package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the controller, adapted from
// the teacher's dedicated-registry pattern and re-scoped from sandbox
// execution to session/dispatch/cache/runtime-client concerns.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsCreatedTotal    *prometheus.CounterVec
	SessionsExpiredTotal    prometheus.Counter
	ExecutionsTotal         *prometheus.CounterVec
	ExecutionDuration       *prometheus.HistogramVec
	ExecutionErrors         *prometheus.CounterVec
	CacheLookupsTotal       *prometheus.CounterVec
	CacheBuildDuration      *prometheus.HistogramVec
	BreakerStateTransitions *prometheus.CounterVec
	RuntimeClientLatency    *prometheus.HistogramVec
	RequestsInFlight        prometheus.Gauge
	ScriptSizeBytes         prometheus.Histogram
	ResultSizeBytes         prometheus.Histogram
	ExecutionLogDropped     prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		SessionsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "functionctl",
				Name:      "sessions_created_total",
				Help:      "Total number of sessions created by language.",
			},
			[]string{"language"},
		),

		SessionsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "functionctl",
				Name:      "sessions_expired_total",
				Help:      "Total number of sessions reclaimed by the expiry sweep.",
			},
		),

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "functionctl",
				Name:      "executions_total",
				Help:      "Total number of function executions by language and status.",
			},
			[]string{"language", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "functionctl",
				Name:      "execution_duration_seconds",
				Help:      "Duration of function executions in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"language"},
		),

		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "functionctl",
				Name:      "execution_errors_total",
				Help:      "Total execution errors by taxonomy code.",
			},
			[]string{"code"},
		),

		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "functionctl",
				Name:      "cache_lookups_total",
				Help:      "Artifact cache lookups by outcome (hit, miss, build_error).",
			},
			[]string{"outcome"},
		),

		CacheBuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "functionctl",
				Name:      "cache_build_duration_seconds",
				Help:      "Duration of artifact cache build calls (compile/bundle) in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"language"},
		),

		BreakerStateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "functionctl",
				Name:      "breaker_state_transitions_total",
				Help:      "Circuit breaker state transitions by runtime family and target state.",
			},
			[]string{"family", "state"},
		),

		RuntimeClientLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "functionctl",
				Name:      "runtime_client_duration_seconds",
				Help:      "Duration of runtime worker HTTP calls in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"family", "outcome"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "functionctl",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		ScriptSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "functionctl",
				Name:      "script_size_bytes",
				Help:      "Size of submitted script bodies in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		ResultSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "functionctl",
				Name:      "result_size_bytes",
				Help:      "Size of execution result payloads in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),

		ExecutionLogDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "functionctl",
				Name:      "execution_log_dropped_total",
				Help:      "Total execution records dropped because the log queue was full.",
			},
		),
	}

	reg.MustRegister(
		m.SessionsCreatedTotal,
		m.SessionsExpiredTotal,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionErrors,
		m.CacheLookupsTotal,
		m.CacheBuildDuration,
		m.BreakerStateTransitions,
		m.RuntimeClientLatency,
		m.RequestsInFlight,
		m.ScriptSizeBytes,
		m.ResultSizeBytes,
		m.ExecutionLogDropped,
	)

	return m
}

// RecordExecution records metrics for a completed execution.
func (m *Metrics) RecordExecution(language, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(language, status).Inc()
	m.ExecutionDuration.WithLabelValues(language).Observe(durationSec)
}

// RecordError records an execution error by taxonomy code.
func (m *Metrics) RecordError(code string) {
	m.ExecutionErrors.WithLabelValues(code).Inc()
}

// RecordCacheLookup records an artifact cache outcome (hit, miss, build_error).
func (m *Metrics) RecordCacheLookup(outcome string) {
	m.CacheLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordBreakerTransition records a circuit breaker state change for a runtime family.
func (m *Metrics) RecordBreakerTransition(family, state string) {
	m.BreakerStateTransitions.WithLabelValues(family, state).Inc()
}
