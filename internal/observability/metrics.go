package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for taskgate.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Translation metrics.
	TranslationsTotal   *prometheus.CounterVec
	TranslationDuration prometheus.Histogram

	// Command execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram

	// Sandbox metrics.
	SandboxViolationsTotal prometheus.Counter

	// Tool metrics.
	ToolOperationsTotal *prometheus.CounterVec

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		TranslationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgate",
			Subsystem: "translation",
			Name:      "requests_total",
			Help:      "Total task translation requests.",
		}, []string{"cache", "status"}),

		TranslationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskgate",
			Subsystem: "translation",
			Name:      "duration_seconds",
			Help:      "Task translation duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgate",
			Subsystem: "execution",
			Name:      "commands_total",
			Help:      "Total command executions.",
		}, []string{"status"}),

		ExecutionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskgate",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Command execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),

		SandboxViolationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskgate",
			Subsystem: "sandbox",
			Name:      "violations_total",
			Help:      "Total rejected path access attempts.",
		}),

		ToolOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgate",
			Subsystem: "tool",
			Name:      "operations_total",
			Help:      "Total resource tool operations.",
		}, []string{"tool", "status"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskgate",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	reg.MustRegister(
		m.TranslationsTotal,
		m.TranslationDuration,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.SandboxViolationsTotal,
		m.ToolOperationsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordTranslation implements the translator's metrics hook. Nil-safe.
func (m *MetricsCollector) RecordTranslation(cacheHit bool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	m.TranslationsTotal.WithLabelValues(cache, status).Inc()
	if !cacheHit {
		m.TranslationDuration.Observe(duration.Seconds())
	}
}

// RecordExecution implements the executor's metrics hook. Nil-safe.
func (m *MetricsCollector) RecordExecution(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		m.ExecutionDuration.Observe(duration.Seconds())
	}
}

// RecordSandboxViolation counts a rejected path access. Nil-safe.
func (m *MetricsCollector) RecordSandboxViolation() {
	if m == nil {
		return
	}
	m.SandboxViolationsTotal.Inc()
}

// RecordToolOperation counts a resource tool call. Nil-safe.
func (m *MetricsCollector) RecordToolOperation(tool, status string) {
	if m == nil {
		return
	}
	m.ToolOperationsTotal.WithLabelValues(tool, status).Inc()
}
