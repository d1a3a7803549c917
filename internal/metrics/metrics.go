package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	latencyMs      *prometheus.HistogramVec
	ttftMs         *prometheus.HistogramVec
	eventsTotal    *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	droppedParams  *prometheus.CounterVec
}

func New() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_bridge_requests_total",
			Help: "Total number of requests processed by the bridge.",
		}, []string{"facade", "provider", "status"}),
		latencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claude_bridge_request_latency_ms",
			Help:    "Request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"facade", "provider", "status"}),
		ttftMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "claude_bridge_time_to_first_token_ms",
			Help:    "Time from dispatch to the first upstream byte, in milliseconds.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		}, []string{"provider"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_bridge_stream_events_total",
			Help: "Translated stream events emitted, by event type.",
		}, []string{"type"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_bridge_upstream_errors_total",
			Help: "Upstream failures by error kind.",
		}, []string{"kind"}),
		droppedParams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claude_bridge_dropped_params_total",
			Help: "Request parameters dropped during translation.",
		}, []string{"param"}),
	}
	r.MustRegister(m.requestsTotal, m.latencyMs, m.ttftMs, m.eventsTotal, m.upstreamErrors, m.droppedParams)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(facade, provider string, status int, dur time.Duration) {
	s := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(facade, provider, s).Inc()
	m.latencyMs.WithLabelValues(facade, provider, s).Observe(float64(dur.Milliseconds()))
}

func (m *Metrics) ObserveTTFT(provider string, dur time.Duration) {
	m.ttftMs.WithLabelValues(provider).Observe(float64(dur.Milliseconds()))
}

func (m *Metrics) CountEvent(eventType string) {
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) CountUpstreamError(kind string) {
	m.upstreamErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) CountDroppedParam(param string) {
	m.droppedParams.WithLabelValues(param).Inc()
}
