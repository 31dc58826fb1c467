// Package metrics defines the Prometheus collectors for the symbol search
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lookup kinds and results used as label values.
const (
	KindPrefix = "prefix"
	KindExact  = "exact"

	ResultHit        = "hit"
	ResultZeroResult = "zero_result"
	ResultNotFound   = "not_found"
	ResultError      = "error"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	LookupsTotal         *prometheus.CounterVec
	LookupLatency        *prometheus.HistogramVec
	LookupResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IndexReloadsTotal    *prometheus.CounterVec
	IndexRecords         prometheus.Gauge
	IndexEntries         prometheus.Gauge
	IndexGeneration      prometheus.Gauge
	IndexLastReload      prometheus.Gauge
	CircuitBreakerState  *prometheus.GaugeVec
	AnalyticsEventsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
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
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		LookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "symbol_lookups_total",
				Help: "Symbol lookups by kind (prefix, exact) and result (hit, zero_result, not_found, error).",
			},
			[]string{"kind", "result"},
		),
		LookupLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "symbol_lookup_latency_seconds",
				Help:    "Symbol lookup latency in seconds.",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"kind", "cache_status"},
		),
		LookupResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "symbol_query_results_count",
				Help:    "Number of records matching a prefix query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_hits_total",
				Help: "Total number of query cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "query_cache_misses_total",
				Help: "Total number of query cache misses.",
			},
		),
		IndexReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_reloads_total",
				Help: "Index reloads by status (success, failure).",
			},
			[]string{"status"},
		),
		IndexRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_records",
				Help: "Number of records in the serving index.",
			},
		),
		IndexEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_entries",
				Help: "Number of entries in the serving index.",
			},
		),
		IndexGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_generation",
				Help: "Generation of the serving index.",
			},
		),
		IndexLastReload: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "index_last_reload_timestamp_seconds",
				Help: "Unix time of the last successful index swap.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		AnalyticsEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "analytics_events_total",
				Help: "Lookup analytics events by outcome (published, dropped, failed).",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.LookupsTotal,
		m.LookupLatency,
		m.LookupResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IndexReloadsTotal,
		m.IndexRecords,
		m.IndexEntries,
		m.IndexGeneration,
		m.IndexLastReload,
		m.CircuitBreakerState,
		m.AnalyticsEventsTotal,
	)
	return m
}

// ObserveLookup records one lookup. cacheStatus is "hit", "miss" or "none".
func (m *Metrics) ObserveLookup(kind, result, cacheStatus string, d time.Duration) {
	m.LookupsTotal.WithLabelValues(kind, result).Inc()
	m.LookupLatency.WithLabelValues(kind, cacheStatus).Observe(d.Seconds())
}

// ObserveIndex publishes the shape of a freshly swapped index.
func (m *Metrics) ObserveIndex(records, entries int, generation uint64, at time.Time) {
	m.IndexReloadsTotal.WithLabelValues("success").Inc()
	m.IndexRecords.Set(float64(records))
	m.IndexEntries.Set(float64(entries))
	m.IndexGeneration.Set(float64(generation))
	m.IndexLastReload.Set(float64(at.Unix()))
}

// Handler returns the Prometheus scrape HTTP handler for the default
// gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}
