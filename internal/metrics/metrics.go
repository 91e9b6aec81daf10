package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups    *prometheus.CounterVec
	catalogRequests *prometheus.CounterVec
	builds          *prometheus.CounterVec
	buildDuration   prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epcal",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier (calendar, subject) and result (hit, miss, corrupt).",
		}, []string{"tier", "result"}),
		catalogRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epcal",
			Name:      "catalog_requests_total",
			Help:      "Bangumi API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "epcal",
			Name:      "calendar_builds_total",
			Help:      "Calendar requests by outcome.",
		}, []string{"outcome"}),
		buildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "epcal",
			Name:      "calendar_build_duration_seconds",
			Help:      "Time spent producing a calendar document, cache hits included.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 3, 9),
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheLookup(tier, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(tier, result).Inc()
}

func (m *Metrics) CatalogRequest(operation, outcome string) {
	if m == nil {
		return
	}
	m.catalogRequests.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) BuildFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome).Inc()
	m.buildDuration.Observe(elapsed.Seconds())
}
