// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "console_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// BackendCallDuration tracks calls to the messaging backend.
	BackendCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "console_backend_call_duration_seconds",
			Help:    "Messaging backend call duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "outcome"},
	)

	// LiveConnectionsActive tracks connected live listeners.
	LiveConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "console_live_connections_active",
			Help: "Number of connected live event listeners",
		},
	)

	// LiveReconnectsTotal tracks live listener reconnect attempts.
	LiveReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_live_reconnects_total",
			Help: "Live event listener reconnect attempts",
		},
		[]string{"source"},
	)

	// LiveEventsTotal tracks received live events.
	LiveEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_live_events_total",
			Help: "Live events received",
		},
		[]string{"direction", "message_type"},
	)

	// SessionsActive tracks open console sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "console_sessions_active",
			Help: "Number of open console sessions",
		},
	)

	// StreamsActive tracks console SSE streams.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "console_streams_active",
			Help: "Number of active console SSE streams",
		},
	)

	// NotificationsTotal tracks notifications raised by sessions.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_notifications_total",
			Help: "Notifications raised",
		},
		[]string{"kind", "level"},
	)

	// MessagesSentTotal tracks messages sent through the console.
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_messages_sent_total",
			Help: "Messages sent",
		},
		[]string{"tenant_id", "kind"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordBackendCall records a messaging backend call.
func RecordBackendCall(operation string, err error, duration float64) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	BackendCallDuration.WithLabelValues(operation, outcome).Observe(duration)
}

// RecordLiveEvent records a received live event.
func RecordLiveEvent(direction, messageType string) {
	if messageType == "" {
		messageType = "chat"
	}
	LiveEventsTotal.WithLabelValues(direction, messageType).Inc()
}

// RecordNotification records a raised notification.
func RecordNotification(kind, level string) {
	NotificationsTotal.WithLabelValues(kind, level).Inc()
}
