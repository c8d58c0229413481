// Package metrics exposes gateway counters and histograms to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autorouter"

// Collector owns the gateway metrics and the registry they are exported from.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	tokens         *prometheus.CounterVec
	authFailures   *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	inflight       prometheus.Gauge
}

// NewCollector registers the gateway metrics on a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Proxied requests by upstream and response status.",
		}, []string{"upstream", "status"}),
		// LLM latencies span from sub-second to minutes for long streams.
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_request_duration_seconds",
			Help:      "Time from request receipt to response resolution.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"upstream"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_tokens_total",
			Help:      "Tokens reported by upstreams.",
		}, []string{"upstream", "type"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected proxy authentications by kind.",
		}, []string{"kind"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_upstream_errors_total",
			Help:      "Failed upstream calls by kind.",
		}, []string{"upstream", "kind"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_inflight_requests",
			Help:      "Proxied requests currently being served.",
		}),
	}
	registry.MustRegister(c.requests, c.duration, c.tokens, c.authFailures, c.upstreamErrors, c.inflight)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveRequest records one completed proxy request.
func (c *Collector) ObserveRequest(upstream string, status int, duration time.Duration, prompt, completion int64) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(upstream, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(upstream).Observe(duration.Seconds())
	if prompt > 0 {
		c.tokens.WithLabelValues(upstream, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		c.tokens.WithLabelValues(upstream, "completion").Add(float64(completion))
	}
}

// ObserveAuthFailure records a rejected authentication.
func (c *Collector) ObserveAuthFailure(kind string) {
	if c == nil {
		return
	}
	c.authFailures.WithLabelValues(kind).Inc()
}

// ObserveUpstreamError records a failed upstream call.
func (c *Collector) ObserveUpstreamError(upstream, kind string) {
	if c == nil {
		return
	}
	c.upstreamErrors.WithLabelValues(upstream, kind).Inc()
}

// TrackInflight increments the in-flight gauge and returns the matching decrement.
func (c *Collector) TrackInflight() func() {
	if c == nil {
		return func() {}
	}
	c.inflight.Inc()
	return c.inflight.Dec
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
