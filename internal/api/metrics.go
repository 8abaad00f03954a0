package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects request-level and evaluation-level Prometheus metrics
// for the API server.
type Metrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	evaluationsTotal    *prometheus.CounterVec
	evaluationDuration  prometheus.Histogram
}

// NewMetrics creates and registers the API's Prometheus collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartunderwrite_http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smartunderwrite_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartunderwrite_evaluations_total",
				Help: "Total number of rule evaluations performed, by outcome",
			},
			[]string{"outcome"},
		),
		evaluationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "smartunderwrite_evaluation_duration_seconds",
				Help:    "Time spent evaluating an application against the active rule set",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),
	}

	prometheus.MustRegister(m.httpRequestsTotal, m.httpRequestDuration, m.evaluationsTotal, m.evaluationDuration)
	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, http.StatusText(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEvaluation records one completed rule evaluation.
func (m *Metrics) RecordEvaluation(outcome string, duration time.Duration) {
	m.evaluationsTotal.WithLabelValues(outcome).Inc()
	m.evaluationDuration.Observe(duration.Seconds())
}

// Handler returns the Prometheus scrape handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
