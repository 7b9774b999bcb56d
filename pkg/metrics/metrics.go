// Package metrics defines the Prometheus metric collectors used across the
// pipeline services and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
	ReportRequestsTotal    *prometheus.CounterVec
	EventsPublishedTotal   *prometheus.CounterVec
	EventsConsumedTotal    *prometheus.CounterVec
	EventExecutionDuration *prometheus.HistogramVec
	DuplicateEventsTotal   *prometheus.CounterVec
	DeadLetteredTotal      *prometheus.CounterVec
	DocumentFetchesTotal   *prometheus.CounterVec
	DocumentBytesSaved     prometheus.Counter
	OutboxPending          prometheus.Gauge
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates all Prometheus metrics and registers them with reg. Services
// pass prometheus.DefaultRegisterer; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		ReportRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_requests_total",
				Help: "Report requests received at ingress by resulting status.",
			},
			[]string{"status"},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_events_published_total",
				Help: "Events handed to the queue by kind and outcome (ok, error).",
			},
			[]string{"kind", "outcome"},
		),
		EventsConsumedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_events_consumed_total",
				Help: "Events executed by kind and resulting status code.",
			},
			[]string{"kind", "status"},
		),
		EventExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_event_execution_seconds",
				Help:    "Executer latency including retries, by kind.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		DuplicateEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_duplicate_events_total",
				Help: "Redelivered events skipped by the idempotency guard.",
			},
			[]string{"kind"},
		),
		DeadLetteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_dead_lettered_total",
				Help: "Events that exhausted their attempts and were dead-lettered.",
			},
			[]string{"kind"},
		),
		DocumentFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_document_fetches_total",
				Help: "Upstream document fetches by outcome (ok, staged, not_found, error).",
			},
			[]string{"outcome"},
		),
		DocumentBytesSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_document_bytes_saved_total",
				Help: "Bytes of report documents persisted by the writer.",
			},
		),
		OutboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pipeline_outbox_pending",
				Help: "Unpublished outbox records seen by the last relay pass.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ReportRequestsTotal,
		m.EventsPublishedTotal,
		m.EventsConsumedTotal,
		m.EventExecutionDuration,
		m.DuplicateEventsTotal,
		m.DeadLetteredTotal,
		m.DocumentFetchesTotal,
		m.DocumentBytesSaved,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
