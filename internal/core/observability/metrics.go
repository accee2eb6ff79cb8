package observability

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metricSet struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	cacheLookups   *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	layerLoad      *prometheus.HistogramVec
	reloads        *prometheus.CounterVec
	reloadSeconds  prometheus.Histogram
	catalogLayers  prometheus.Gauge

	sharedOps     *prometheus.CounterVec
	sharedLatency *prometheus.HistogramVec
}

var current atomic.Pointer[metricSet]

func init() {
	current.Store(newMetricSet(prometheus.DefaultRegisterer))
}

// Init rebinds every metric to reg. Call it once at startup, before traffic.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	current.Store(newMetricSet(reg))
}

func newMetricSet(reg prometheus.Registerer) *metricSet {
	f := promauto.With(reg)
	return &metricSet{
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "route", "status"},
		),
		httpRequestDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"method", "route", "status"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vector_cache_lookups_total",
				Help: "Layer cache lookups by tier and result.",
			},
			[]string{"tier", "result"},
		),
		cacheEvictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vector_cache_evictions_total",
				Help: "Entries evicted for capacity, by tier.",
			},
			[]string{"tier"},
		),
		layerLoad: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vector_layer_load_seconds",
				Help:    "Time spent reading and normalizing one layer from disk.",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"format", "outcome"},
		),
		reloads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vector_catalog_reloads_total",
				Help: "Full catalog reloads by result.",
			},
			[]string{"result"},
		),
		reloadSeconds: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vector_catalog_reload_seconds",
				Help:    "Duration of full catalog reloads.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		catalogLayers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "vector_catalog_layers",
				Help: "Layers in the current catalog.",
			},
		),
		sharedOps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shared_store_ops_total",
				Help: "Shared response store operations by result.",
			},
			[]string{"op", "result"},
		),
		sharedLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shared_store_op_seconds",
				Help:    "Latency of shared response store operations.",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
			},
			[]string{"op"},
		),
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	m := current.Load()
	st := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// ObserveLookup counts one lookup; tier is "a" or "b", result "hit" or "miss".
func ObserveLookup(tier, result string) {
	current.Load().cacheLookups.WithLabelValues(tier, result).Inc()
}

func AddEvictions(tier string, n int) {
	if n <= 0 {
		return
	}
	current.Load().cacheEvictions.WithLabelValues(tier).Add(float64(n))
}

func ObserveLayerLoad(format string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	current.Load().layerLoad.WithLabelValues(format, outcome).Observe(d.Seconds())
}

func ObserveReload(d time.Duration, layers int, err error) {
	m := current.Load()
	if err != nil {
		m.reloads.WithLabelValues("error").Inc()
		return
	}
	m.reloads.WithLabelValues("ok").Inc()
	m.reloadSeconds.Observe(d.Seconds())
	m.catalogLayers.Set(float64(layers))
}

// ObserveSharedOp records one shared store call; result is "hit", "miss",
// "ok" or "error".
func ObserveSharedOp(op, result string, d time.Duration) {
	m := current.Load()
	m.sharedOps.WithLabelValues(op, result).Inc()
	m.sharedLatency.WithLabelValues(op).Observe(d.Seconds())
}
