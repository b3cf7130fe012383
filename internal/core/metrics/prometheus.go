package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig contains configuration for the engine's Prometheus instruments
type MetricsConfig struct {
	// Enabled controls whether the exposition endpoint is served
	Enabled bool
	Prefix  string
}

// EngineMetrics are the self-observability instruments of the monitoring engine.
// Each instance owns its registry so several engines can coexist in one process.
type EngineMetrics struct {
	registry *prometheus.Registry

	// Collection
	SamplesStored     *prometheus.CounterVec
	CollectorFailures *prometheus.CounterVec
	CollectorDuration *prometheus.HistogramVec
	CyclesSkipped     prometheus.Counter

	// Alerting
	AlertsByState   *prometheus.GaugeVec
	AlertsTotal     *prometheus.CounterVec
	ActionsFailed   *prometheus.CounterVec
	EvaluatorErrors *prometheus.CounterVec
	Escalations     *prometheus.CounterVec

	// Aggregation
	RollupWrites   *prometheus.CounterVec
	RollupFailures prometheus.Counter

	// HTTP API
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewEngineMetrics creates and registers the engine instruments
func NewEngineMetrics(config *MetricsConfig) *EngineMetrics {
	if config == nil {
		config = &MetricsConfig{
			Enabled: true,
			Prefix:  "botpanel",
		}
	}
	prefix := config.Prefix
	if prefix == "" {
		prefix = "botpanel"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &EngineMetrics{
		registry: reg,

		SamplesStored: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_samples_stored_total",
				Help: "Total number of metric samples stored",
			},
			[]string{"metric"},
		),
		CollectorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_collector_failures_total",
				Help: "Total number of failed collector calls",
			},
			[]string{"collector"},
		),
		CollectorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_collector_duration_seconds",
				Help:    "Collector call duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"collector"},
		),
		CyclesSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_collection_cycles_skipped_total",
				Help: "Collection cycles skipped because the previous cycle was still running",
			},
		),

		AlertsByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: prefix + "_alerts",
				Help: "Number of tracked alerts by state",
			},
			[]string{"state"},
		),
		AlertsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_alerts_total",
				Help: "Total number of alert transitions",
			},
			[]string{"severity", "transition"},
		),
		ActionsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_alert_actions_failed_total",
				Help: "Total number of alert actions that failed",
			},
			[]string{"action"},
		),
		EvaluatorErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_evaluator_errors_total",
				Help: "Total number of condition evaluations that failed",
			},
			[]string{"rule"},
		),
		Escalations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_escalations_total",
				Help: "Total number of escalation levels executed",
			},
			[]string{"severity"},
		),

		RollupWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_rollup_writes_total",
				Help: "Total number of aggregation records persisted",
			},
			[]string{"window"},
		),
		RollupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: prefix + "_rollup_failures_total",
				Help: "Total number of aggregation records that failed to persist",
			},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordHTTPRequest records one served API request
func (m *EngineMetrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Registry exposes the underlying Prometheus registry
func (m *EngineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format for this engine
func (m *EngineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
