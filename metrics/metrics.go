// Package metrics exposes Prometheus collectors for provider calls and cache
// lookups.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "propscout"

// Collectors implements provider.Observer and cache.LookupObserver.
type Collectors struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	lookups  *prometheus.CounterVec
	entries  prometheus.Gauge
	reports  *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Collectors {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collectors{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider HTTP attempts by outcome.",
		}, []string{"provider", "endpoint", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_seconds",
			Help:      "Provider HTTP attempt latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8},
		}, []string{"provider", "endpoint"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by type and result.",
		}, []string{"type", "result"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries in the cache at the last stats read.",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Assembled property reports by completeness.",
		}, []string{"status"}),
		gatherer: reg,
	}
	reg.MustRegister(c.requests, c.latency, c.lookups, c.entries, c.reports)
	return c
}

// ObserveRequest records one provider attempt.
func (c *Collectors) ObserveRequest(provider, endpoint, outcome string, elapsed time.Duration) {
	c.requests.WithLabelValues(provider, endpoint, outcome).Inc()
	c.latency.WithLabelValues(provider, endpoint).Observe(elapsed.Seconds())
}

// ObserveLookup records one cache lookup.
func (c *Collectors) ObserveLookup(cacheType, result string) {
	c.lookups.WithLabelValues(cacheType, result).Inc()
}

// ObserveEntries sets the cache size gauge.
func (c *Collectors) ObserveEntries(n int) {
	c.entries.Set(float64(n))
}

// ObserveReport counts an assembled report. status is "complete",
// "degraded" or "failed".
func (c *Collectors) ObserveReport(status string) {
	c.reports.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
