package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the Prometheus metrics for the service
type Metrics struct {
	registry *prometheus.Registry

	// HTTP Request Metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket Metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
	websocketErrorsTotal   *prometheus.CounterVec

	// Message Metrics
	messagesSentTotal     *prometheus.CounterVec
	messagesReadTotal     prometheus.Counter
	messagesDeletedTotal  prometheus.Counter
	deliveryPushTotal     *prometheus.CounterVec
	deliveryMissTotal     prometheus.Counter

	// Cross-context bus metrics
	busEventsPublishedTotal *prometheus.CounterVec
	busEventsDispatched     *prometheus.CounterVec
	busDecodeErrorsTotal    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := func(name, help string, labels ...string) *prometheus.CounterVec {
		cv := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": serviceName},
		}, labels)
		registry.MustRegister(cv)
		return cv
	}

	m := &Metrics{registry: registry}

	m.httpRequestsTotal = factory("http_requests_total",
		"Total number of HTTP requests", "method", "endpoint", "status")

	m.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "http_request_duration_seconds",
		Help:        "HTTP request latency in seconds",
		ConstLabels: prometheus.Labels{"service": serviceName},
		Buckets:     prometheus.DefBuckets,
	}, []string{"method", "endpoint"})
	registry.MustRegister(m.httpRequestDuration)

	m.httpRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "http_requests_in_flight",
		Help:        "Number of HTTP requests currently being processed",
		ConstLabels: prometheus.Labels{"service": serviceName},
	})
	registry.MustRegister(m.httpRequestsInFlight)

	m.websocketConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "websocket_connections",
		Help:        "Current number of active WebSocket connections",
		ConstLabels: prometheus.Labels{"service": serviceName},
	})
	registry.MustRegister(m.websocketConnections)

	m.websocketMessagesTotal = factory("websocket_messages_total",
		"Total number of WebSocket messages", "direction")
	m.websocketErrorsTotal = factory("websocket_errors_total",
		"Total number of WebSocket errors", "error_type")

	m.messagesSentTotal = factory("messages_sent_total",
		"Total number of messages stored", "message_type")

	m.messagesReadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "messages_read_total",
		Help:        "Total number of messages transitioned to read",
		ConstLabels: prometheus.Labels{"service": serviceName},
	})
	registry.MustRegister(m.messagesReadTotal)

	m.messagesDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "messages_deleted_total",
		Help:        "Total number of messages soft-deleted",
		ConstLabels: prometheus.Labels{"service": serviceName},
	})
	registry.MustRegister(m.messagesDeletedTotal)

	m.deliveryPushTotal = factory("delivery_push_total",
		"Total number of real-time pushes attempted", "event")

	m.deliveryMissTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "delivery_miss_total",
		Help:        "Pushes skipped because the recipient was offline (normal condition)",
		ConstLabels: prometheus.Labels{"service": serviceName},
	})
	registry.MustRegister(m.deliveryMissTotal)

	m.busEventsPublishedTotal = factory("bus_events_published_total",
		"Total cross-context events published", "event")
	m.busEventsDispatched = factory("bus_events_dispatched_total",
		"Total cross-context events dispatched to local subscribers", "event", "path")

	m.busDecodeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "bus_decode_errors_total",
		Help:        "Malformed cross-context records skipped by the dispatch loop",
		ConstLabels: prometheus.Labels{"service": serviceName},
	})
	registry.MustRegister(m.busDecodeErrorsTotal)

	return m
}

// GetRegistry returns the private registry for the /metrics endpoint
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request with its duration
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// SetWebSocketConnections sets the current connection count
func (m *Metrics) SetWebSocketConnections(count int) {
	m.websocketConnections.Set(float64(count))
}

// RecordWebSocketMessage records a WebSocket message ("in" or "out")
func (m *Metrics) RecordWebSocketMessage(direction string) {
	m.websocketMessagesTotal.WithLabelValues(direction).Inc()
}

// RecordWebSocketError records a WebSocket error by type
func (m *Metrics) RecordWebSocketError(errType string) {
	m.websocketErrorsTotal.WithLabelValues(errType).Inc()
}

// RecordMessageSent records a stored message by type
func (m *Metrics) RecordMessageSent(msgType string) {
	m.messagesSentTotal.WithLabelValues(msgType).Inc()
}

// RecordMessagesRead records n messages transitioned to read
func (m *Metrics) RecordMessagesRead(n int) {
	m.messagesReadTotal.Add(float64(n))
}

// RecordMessageDeleted records a soft delete
func (m *Metrics) RecordMessageDeleted() {
	m.messagesDeletedTotal.Inc()
}

// RecordDeliveryPush records a push attempt for an event type
func (m *Metrics) RecordDeliveryPush(event string) {
	m.deliveryPushTotal.WithLabelValues(event).Inc()
}

// RecordDeliveryMiss records a push skipped for an offline recipient
func (m *Metrics) RecordDeliveryMiss() {
	m.deliveryMissTotal.Inc()
}

// RecordBusPublish records a cross-context event publication
func (m *Metrics) RecordBusPublish(event string) {
	m.busEventsPublishedTotal.WithLabelValues(event).Inc()
}

// RecordBusDispatch records a cross-context dispatch ("push" or "poll" path)
func (m *Metrics) RecordBusDispatch(event, path string) {
	m.busEventsDispatched.WithLabelValues(event, path).Inc()
}

// RecordBusDecodeError records a malformed record skipped by the bus
func (m *Metrics) RecordBusDecodeError() {
	m.busDecodeErrorsTotal.Inc()
}
