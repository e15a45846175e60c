package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for sessionize runs. It implements
// session.Observer and is safe for concurrent use by several trackers.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  prometheus.Counter
	closedTotal    *prometheus.CounterVec // label: reason
	skippedTotal   *prometheus.CounterVec // label: reason
	filteredTotal  prometheus.Counter
	discarded      prometheus.Counter
	filesTotal     *prometheus.CounterVec // label: status
	openSessions   prometheus.Gauge
	sessionSeconds prometheus.Histogram
	sessionSize    prometheus.Histogram
}

// NewMetrics creates a Metrics collector on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionize_requests_total",
			Help: "Requests folded into sessions.",
		}),
		closedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionize_sessions_closed_total",
			Help: "Sessions closed, by reason.",
		}, []string{"reason"}),
		skippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionize_lines_skipped_total",
			Help: "Malformed log lines skipped, by reason.",
		}, []string{"reason"}),
		filteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionize_requests_filtered_total",
			Help: "Requests dropped by the filter expression.",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionize_sessions_discarded_total",
			Help: "Open sessions dropped when a run aborted.",
		}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionize_files_total",
			Help: "Log files processed, by status.",
		}, []string{"status"}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessionize_open_sessions",
			Help: "Sessions currently open.",
		}),
		sessionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sessionize_session_duration_seconds",
			Help:    "Duration of closed sessions.",
			Buckets: []float64{0, 1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),
		sessionSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sessionize_session_requests",
			Help:    "Requests per closed session.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal,
		m.closedTotal,
		m.skippedTotal,
		m.filteredTotal,
		m.discarded,
		m.filesTotal,
		m.openSessions,
		m.sessionSeconds,
		m.sessionSize,
	)
	return m
}

// RecordRequest counts a request handed to a tracker.
func (m *Metrics) RecordRequest() {
	m.requestsTotal.Inc()
}

// RecordSkipped counts a malformed line.
func (m *Metrics) RecordSkipped(reason string) {
	m.skippedTotal.WithLabelValues(reason).Inc()
}

// RecordFiltered counts a request dropped by the filter.
func (m *Metrics) RecordFiltered() {
	m.filteredTotal.Inc()
}

// RecordFile counts a processed file.
func (m *Metrics) RecordFile(status string) {
	m.filesTotal.WithLabelValues(status).Inc()
}

// SessionOpened implements session.Observer.
func (m *Metrics) SessionOpened(string) {
	m.openSessions.Inc()
}

// SessionClosed implements session.Observer.
func (m *Metrics) SessionClosed(reason string, duration time.Duration, requests int) {
	m.openSessions.Dec()
	m.closedTotal.WithLabelValues(reason).Inc()
	m.sessionSeconds.Observe(duration.Seconds())
	m.sessionSize.Observe(float64(requests))
}

// SessionsDiscarded implements session.Observer.
func (m *Metrics) SessionsDiscarded(n int) {
	m.openSessions.Sub(float64(n))
	m.discarded.Add(float64(n))
}

// WriteTextfile writes all metrics to path in the Prometheus text format,
// suitable for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler returns an HTTP handler that serves Prometheus-format metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
