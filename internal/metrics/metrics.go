// Package metrics holds the Prometheus instrumentation for riskbot.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskbot"

var (
	// EventsTotal counts pipeline invocations by terminal outcome.
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Processed events by outcome (acknowledged, deserialization_failed, prediction_failed, storage_failed).",
		},
		[]string{"outcome"},
	)

	// PipelineDuration observes end-to-end invocation latency.
	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Pipeline invocation duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"outcome"},
	)

	// PredictionAttempts counts individual calls to the prediction service.
	PredictionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_attempts_total",
			Help:      "Prediction service attempts by result (success, retryable, malformed).",
		},
		[]string{"result"},
	)

	// StoreWrites counts metrics store writes by target key shape.
	StoreWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Metrics store writes by target (point, history) and result.",
		},
		[]string{"target", "result"},
	)

	// ArchiveRows counts history entries copied into the archive database.
	ArchiveRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_rows_total",
			Help:      "History entries seen by the archiver, by result (inserted, duplicate).",
		},
		[]string{"result"},
	)

	// HTTPRequests counts webhook and operational HTTP requests.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status class.",
		},
		[]string{"method", "route", "status"},
	)

	// AlertsTotal counts risk alert deliveries.
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Risk alerts by result (sent, failed, suppressed).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		EventsTotal,
		PipelineDuration,
		PredictionAttempts,
		StoreWrites,
		ArchiveRows,
		AlertsTotal,
		HTTPRequests,
	)
}

// StatusClass groups an HTTP status code into 1xx..5xx.
func StatusClass(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
