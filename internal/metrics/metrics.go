// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the gateway records into.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	GateDecisions    *prometheus.CounterVec
	PaymentsVerified *prometheus.CounterVec
	ActiveWatches    prometheus.Gauge
	ChainPollErrors  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grant",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "grant",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grant",
			Name:      "gate_decisions_total",
			Help:      "Dashboard gating decisions by outcome.",
		}, []string{"decision"}),
		PaymentsVerified: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grant",
			Name:      "payments_verified_total",
			Help:      "Verified fee payments by fee type and detection path.",
		}, []string{"fee_type", "path"}),
		ActiveWatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "grant",
			Name:      "observer_active_watches",
			Help:      "Payment watches currently registered.",
		}),
		ChainPollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "grant",
			Name:      "chain_poll_errors_total",
			Help:      "Balance poll attempts that failed.",
		}),
	}
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
