// Package metrics holds the Prometheus collectors for access decisions and
// request handling.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	GuardDecisions      *prometheus.CounterVec
	AccessLookup        prometheus.Histogram
	UnknownCapabilities *prometheus.CounterVec
	ScoreFailures       prometheus.Counter
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New creates and registers every collector on registry. A nil registry gets
// a fresh one with the Go and process collectors.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		registry: registry,
		GuardDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dayboard_guard_decisions_total",
				Help: "Route guard decisions by surface and outcome",
			},
			[]string{"surface", "outcome"},
		),
		AccessLookup: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dayboard_access_lookup_duration_seconds",
				Help:    "Time spent reading role, household and overrides for a request",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 3},
			},
		),
		UnknownCapabilities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dayboard_unknown_capability_total",
				Help: "Lookups of capability keys missing from the catalog",
			},
			[]string{"capability"},
		),
		ScoreFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dayboard_profile_score_failures_total",
				Help: "Completion scoring failures that kept the previous percentage",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dayboard_http_requests_total",
				Help: "HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dayboard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}

	registry.MustRegister(
		m.GuardDecisions,
		m.AccessLookup,
		m.UnknownCapabilities,
		m.ScoreFailures,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Guard counts one guard decision.
func (m *Metrics) Guard(surface, outcome string) {
	m.GuardDecisions.WithLabelValues(surface, outcome).Inc()
}

// ObserveLookup records how long one access lookup took, failed or not.
func (m *Metrics) ObserveLookup(d time.Duration) {
	m.AccessLookup.Observe(d.Seconds())
}

// UnknownCapability counts a lookup of a key the catalog does not define.
func (m *Metrics) UnknownCapability(key string) {
	m.UnknownCapabilities.WithLabelValues(key).Inc()
}

// ObserveRequest records a finished HTTP request. Paths are left out to keep
// label cardinality bounded.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
