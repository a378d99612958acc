package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache lookup and write outcomes used as label values.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"

	CacheStored  = "stored"
	CacheSkipped = "skipped"
)

// Metrics holds the Prometheus collectors of the proxy. A nil *Metrics is
// valid and records nothing, so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Edge cache metrics
	CacheLookups *prometheus.CounterVec
	CacheWrites  *prometheus.CounterVec

	// Upstream metrics
	UpstreamRequests *prometheus.CounterVec
	UpstreamDuration prometheus.Histogram
	BreakerState     *prometheus.GaugeVec

	// Deferred work still running after responses went out
	BackgroundTasks prometheus.Gauge
}

// NewMetrics creates collectors registered on a private registry
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edge_cache_lookups_total",
				Help:      "Edge cache lookups by result",
			},
			[]string{"result"},
		),
		CacheWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edge_cache_writes_total",
				Help:      "Edge cache writes by result",
			},
			[]string{"result"},
		),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_requests_total",
				Help:      "Upstream fetches by status code",
			},
			[]string{"code"},
		),
		UpstreamDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_request_duration_seconds",
				Help:      "Upstream fetch latency until response headers",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		BackgroundTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "background_tasks_in_flight",
				Help:      "Deferred tasks (cache writes) still running",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequests,
		m.HTTPDuration,
		m.CacheLookups,
		m.CacheWrites,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.BreakerState,
		m.BackgroundTasks,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the Prometheus registry for this instance
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTP records one served request
func (m *Metrics) RecordHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordCacheLookup counts a cache lookup outcome
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheWrite counts a cache write outcome
func (m *Metrics) RecordCacheWrite(result string) {
	if m == nil {
		return
	}
	m.CacheWrites.WithLabelValues(result).Inc()
}

// RecordUpstream records an upstream fetch. code is 0 for transport errors.
func (m *Metrics) RecordUpstream(code int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.UpstreamRequests.WithLabelValues(label).Inc()
	m.UpstreamDuration.Observe(d.Seconds())
}

// SetBreakerState publishes the state of a named circuit breaker
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// TaskStarted marks a deferred task as running
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.BackgroundTasks.Inc()
}

// TaskFinished marks a deferred task as done
func (m *Metrics) TaskFinished() {
	if m == nil {
		return
	}
	m.BackgroundTasks.Dec()
}
