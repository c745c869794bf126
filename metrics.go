package serviceconcurrency

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for executor and cache
// activity. A single collector may be shared by any number of executors;
// series are partitioned by the executor name from [Config]. All methods are
// safe for concurrent use and no-ops on a nil collector.
type MetricsCollector struct {
	fetchesTotal    *prometheus.CounterVec
	fetchFailures   *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	fetchesInFlight *prometheus.GaugeVec

	joinsTotal *prometheus.CounterVec

	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	cacheEntries *prometheus.GaugeVec
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		fetchesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "serviceconcurrency_fetches_total",
				Help: "Total number of fetch invocations",
			},
			[]string{"name"},
		),
		fetchFailures: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "serviceconcurrency_fetch_failures_total",
				Help: "Total number of fetch invocations that returned an error",
			},
			[]string{"name"},
		),
		fetchDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "serviceconcurrency_fetch_duration_seconds",
				Help:    "Duration of fetch invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"name"},
		),
		fetchesInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "serviceconcurrency_fetches_in_flight",
				Help: "Number of fetch invocations currently in flight",
			},
			[]string{"name"},
		),
		joinsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "serviceconcurrency_joined_calls_total",
				Help: "Total number of callers that joined an in-flight fetch instead of starting their own",
			},
			[]string{"name"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "serviceconcurrency_cache_hits_total",
				Help: "Total number of keys served from cache",
			},
			[]string{"name"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "serviceconcurrency_cache_misses_total",
				Help: "Total number of keys not found in cache",
			},
			[]string{"name"},
		),
		cacheEntries: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "serviceconcurrency_cache_entries",
				Help: "Number of entries currently tracked by the cache",
			},
			[]string{"name"},
		),
	}
}

// RecordFetch records one completed fetch invocation.
func (mc *MetricsCollector) RecordFetch(name string, duration time.Duration, err error) {
	if mc == nil {
		return
	}

	mc.fetchesTotal.WithLabelValues(name).Inc()
	mc.fetchDuration.WithLabelValues(name).Observe(duration.Seconds())
	if err != nil {
		mc.fetchFailures.WithLabelValues(name).Inc()
	}
}

// RecordFetchStart increments the in-flight fetch gauge.
func (mc *MetricsCollector) RecordFetchStart(name string) {
	if mc == nil {
		return
	}

	mc.fetchesInFlight.WithLabelValues(name).Inc()
}

// RecordFetchEnd decrements the in-flight fetch gauge.
func (mc *MetricsCollector) RecordFetchEnd(name string) {
	if mc == nil {
		return
	}

	mc.fetchesInFlight.WithLabelValues(name).Dec()
}

// RecordJoins adds n callers that joined in-flight fetches.
func (mc *MetricsCollector) RecordJoins(name string, n int) {
	if mc == nil || n == 0 {
		return
	}

	mc.joinsTotal.WithLabelValues(name).Add(float64(n))
}

// RecordCacheHits adds n keys served from cache.
func (mc *MetricsCollector) RecordCacheHits(name string, n int) {
	if mc == nil || n == 0 {
		return
	}

	mc.cacheHits.WithLabelValues(name).Add(float64(n))
}

// RecordCacheMisses adds n keys not found in cache.
func (mc *MetricsCollector) RecordCacheMisses(name string, n int) {
	if mc == nil || n == 0 {
		return
	}

	mc.cacheMisses.WithLabelValues(name).Add(float64(n))
}

// RecordCacheEntries sets the tracked cache entry gauge.
func (mc *MetricsCollector) RecordCacheEntries(name string, n int) {
	if mc == nil {
		return
	}

	mc.cacheEntries.WithLabelValues(name).Set(float64(n))
}
