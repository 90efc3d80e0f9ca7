// Package observability wires the process logger and the Prometheus metrics
// describing sync runs and rate limiting.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the tripsync collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	syncRuns     *prometheus.CounterVec
	ingestErrors *prometheus.CounterVec
	syncDuration prometheus.Histogram
	eventsSynced prometheus.Gauge
	spotsSynced  prometheus.Gauge
	rateLimited  *prometheus.CounterVec
}

// NewMetrics registers the collectors plus the Go and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.syncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripsync",
		Name:      "sync_runs_total",
		Help:      "Completed sync runs by final state",
	}, []string{"state"})
	m.ingestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripsync",
		Name:      "ingestion_errors_total",
		Help:      "Ingestion errors by stage",
	}, []string{"stage"})
	m.syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tripsync",
		Name:      "sync_duration_seconds",
		Help:      "Wall time of a full sync run",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
	m.eventsSynced = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripsync",
		Name:      "events_synced",
		Help:      "Events in the dataset after the last sync",
	})
	m.spotsSynced = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tripsync",
		Name:      "spots_synced",
		Help:      "Spots in the dataset after the last sync",
	})
	m.rateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tripsync",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter by rule",
	}, []string{"rule"})

	m.registry.MustRegister(
		m.syncRuns, m.ingestErrors, m.syncDuration,
		m.eventsSynced, m.spotsSynced, m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSync records one finished run.
func (m *Metrics) ObserveSync(state string, d time.Duration, events, spots int) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(state).Inc()
	m.syncDuration.Observe(d.Seconds())
	m.eventsSynced.Set(float64(events))
	m.spotsSynced.Set(float64(spots))
}

// IngestionError counts one stage error.
func (m *Metrics) IngestionError(stage string) {
	if m == nil {
		return
	}
	m.ingestErrors.WithLabelValues(stage).Inc()
}

// RateLimited counts one rejected request. Its signature matches the
// shield.RateLimit onReject hook.
func (m *Metrics) RateLimited(rule string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(rule).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
