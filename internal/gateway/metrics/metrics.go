// Package metrics exposes the gateway's prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/printdesk/pkg/slogx"
)

// Collector holds the gateway metrics on its own registry. A nil *Collector
// is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	proxyOutcomesTotal *prometheus.CounterVec

	upstreamRequestsTotal   *prometheus.CounterVec
	upstreamRequestDuration *prometheus.HistogramVec

	refreshTotal *prometheus.CounterVec
}

// New creates a collector with Go runtime and process metrics registered.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of inbound HTTP requests",
			},
			[]string{"method", "status_code"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "Inbound HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		proxyOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_proxy_outcomes_total",
				Help: "Proxied requests by route and final outcome",
			},
			[]string{"route", "outcome"},
		),

		upstreamRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_requests_total",
				Help: "Calls made to the backend by operation and status class",
			},
			[]string{"operation", "class"},
		),
		upstreamRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_request_duration_seconds",
				Help:    "Backend call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		refreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_refresh_total",
				Help: "Credential refresh attempts by result",
			},
			[]string{"result"},
		),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware counts inbound requests.
func (c *Collector) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw, ok := w.(*slogx.ResponseWriter)
			if !ok {
				rw = slogx.NewResponseWriter(w)
			}

			next.ServeHTTP(rw, r)

			c.httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.Status())).Inc()
			c.httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

// ProxyOutcome records how a proxied request ended.
func (c *Collector) ProxyOutcome(route, outcome string) {
	if c == nil {
		return
	}
	c.proxyOutcomesTotal.WithLabelValues(route, outcome).Inc()
}

// ObserveUpstream records one backend call. Status zero means the call
// failed before a response arrived.
func (c *Collector) ObserveUpstream(operation string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.upstreamRequestsTotal.WithLabelValues(operation, statusClass(status)).Inc()
	c.upstreamRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RefreshResult records the result of one refresh attempt.
func (c *Collector) RefreshResult(result string) {
	if c == nil {
		return
	}
	c.refreshTotal.WithLabelValues(result).Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "network"
	}
	return strconv.Itoa(status/100) + "xx"
}
