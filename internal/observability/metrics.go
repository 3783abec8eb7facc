package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes for realtime fan-out.
const (
	DeliveryDelivered = "delivered"
	DeliveryDropped   = "dropped"
)

// Routing outcomes for worker items.
const (
	RoutingReplied      = "replied"
	RoutingAcknowledged = "acknowledged"
	RoutingFallback     = "fallback"
	RoutingDropped      = "dropped"
	RoutingRejected     = "rejected"
)

// Metrics holds the service collectors on a private registry. A nil *Metrics is a no-op.
type Metrics struct {
	registry        *prometheus.Registry
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorCount      *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	routing         *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	connections     prometheus.Gauge
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "support_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errorCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_http_errors_total",
			Help: "HTTP errors by route, method and error code.",
		}, []string{"path", "method", "code"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_realtime_deliveries_total",
			Help: "Realtime event deliveries by outcome.",
		}, []string{"outcome"}),
		routing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "support_routing_items_total",
			Help: "Routing worker items by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_routing_queue_depth",
			Help: "Items waiting in the routing queue.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "support_realtime_connections",
			Help: "Open realtime connections.",
		}),
	}
	m.registry.MustRegister(
		m.requestCount,
		m.requestDuration,
		m.errorCount,
		m.deliveries,
		m.routing,
		m.queueDepth,
		m.connections,
		collectors.NewGoCollector(),
	)
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errorCount.WithLabelValues(path, method, code).Inc()
}

// RecordDelivery counts one realtime delivery attempt.
func (m *Metrics) RecordDelivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

// RecordRouting counts one routing worker outcome.
func (m *Metrics) RecordRouting(outcome string) {
	if m == nil {
		return
	}
	m.routing.WithLabelValues(outcome).Inc()
}

// SetQueueDepth reports the routing queue length.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// SetConnections reports the number of open realtime connections.
func (m *Metrics) SetConnections(count int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(count))
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
