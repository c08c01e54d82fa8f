package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the call service
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

	// Session Metrics
	sessionsTotal    *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	sessionsDuration *prometheus.HistogramVec

	// Relay Metrics
	eventsBroadcastTotal *prometheus.CounterVec

	// Presence Metrics
	usersOnline prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": serviceName}

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests",
				ConstLabels: labels,
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP request latency in seconds",
				ConstLabels: labels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "http_requests_in_flight",
				Help:        "Number of HTTP requests currently being processed",
				ConstLabels: labels,
			},
		),
		websocketConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "websocket_connections",
				Help:        "Number of active WebSocket connections",
				ConstLabels: labels,
			},
		),
		websocketMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_messages_total",
				Help:        "Total number of WebSocket messages",
				ConstLabels: labels,
			},
			[]string{"type", "direction"},
		),
		websocketErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "websocket_errors_total",
				Help:        "Total number of WebSocket errors",
				ConstLabels: labels,
			},
			[]string{"error"},
		),
		sessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "call_sessions_total",
				Help:        "Total number of call sessions created",
				ConstLabels: labels,
			},
			[]string{"kind", "mode"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "call_sessions_active",
				Help:        "Number of currently active call sessions",
				ConstLabels: labels,
			},
		),
		sessionsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "call_session_duration_seconds",
				Help:        "Call session duration in seconds",
				ConstLabels: labels,
				Buckets:     []float64{30, 60, 300, 600, 1800, 3600, 14400},
			},
			[]string{"kind"},
		),
		eventsBroadcastTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "relay_events_broadcast_total",
				Help:        "Total number of events broadcast to session subscribers",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		usersOnline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "presence_users_online",
				Help:        "Number of users with at least one live connection",
				ConstLabels: labels,
			},
		),
	}

	registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.websocketConnections,
		m.websocketMessagesTotal,
		m.websocketErrorsTotal,
		m.sessionsTotal,
		m.sessionsActive,
		m.sessionsDuration,
		m.eventsBroadcastTotal,
		m.usersOnline,
	)

	return m
}

// GetRegistry returns the private registry for the metrics endpoint
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements the in-flight gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	m.httpRequestsInFlight.Dec()
}

// IncrementWebSocketConnections tracks a new WebSocket connection
func (m *Metrics) IncrementWebSocketConnections() {
	m.websocketConnections.Inc()
}

// DecrementWebSocketConnections tracks a closed WebSocket connection
func (m *Metrics) DecrementWebSocketConnections() {
	m.websocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket message by type and direction
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.websocketMessagesTotal.WithLabelValues(msgType, direction).Inc()
}

// RecordWebSocketError records a WebSocket error
func (m *Metrics) RecordWebSocketError(err string) {
	m.websocketErrorsTotal.WithLabelValues(err).Inc()
}

// RecordSessionCreated records a created call session
func (m *Metrics) RecordSessionCreated(kind, mode string) {
	m.sessionsTotal.WithLabelValues(kind, mode).Inc()
}

// SetActiveSessions sets the active session gauge
func (m *Metrics) SetActiveSessions(count int) {
	m.sessionsActive.Set(float64(count))
}

// RecordSessionDuration records the duration of an ended session
func (m *Metrics) RecordSessionDuration(kind string, duration time.Duration) {
	m.sessionsDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordEventBroadcast records an event fanned out to session subscribers
func (m *Metrics) RecordEventBroadcast(event string) {
	m.eventsBroadcastTotal.WithLabelValues(event).Inc()
}

// SetUsersOnline sets the online users gauge
func (m *Metrics) SetUsersOnline(count int) {
	m.usersOnline.Set(float64(count))
}
