package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connections
	Connections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Current number of open realtime connections",
		},
		[]string{"namespace"},
	)

	OnlinePrincipals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_online_principals",
			Help: "Current number of principals with at least one open connection",
		},
	)

	ConnectionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connection_rejections_total",
			Help: "Handshakes rejected before upgrade",
		},
		[]string{"code"},
	)

	// Events
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_received_total",
			Help: "Client events received, by type",
		},
		[]string{"type"},
	)

	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_emitted_total",
			Help: "Server events queued to connections, by type",
		},
		[]string{"type"},
	)

	HandlerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_handler_errors_total",
			Help: "Event handler failures, by error kind",
		},
		[]string{"kind"},
	)

	SendBufferDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_send_buffer_drops_total",
			Help: "Frames dropped because a connection's send buffer was full",
		},
	)

	// Notifications
	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_notifications_dropped_total",
			Help: "Targeted notifications dropped because the principal had no live connection",
		},
	)

	AckTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_ack_timeouts_total",
			Help: "Acknowledged sends whose recipients did not confirm in time",
		},
	)

	// Store
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_breaker_state",
			Help: "Store circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// ObserveEventReceived counts one inbound event.
func ObserveEventReceived(eventType string) {
	EventsReceived.WithLabelValues(eventType).Inc()
}

// ObserveEventEmitted counts n outbound frames of one type.
func ObserveEventEmitted(eventType string, n int) {
	if n <= 0 {
		return
	}
	EventsEmitted.WithLabelValues(eventType).Add(float64(n))
}

func ObserveHandlerError(kind string) {
	HandlerErrors.WithLabelValues(kind).Inc()
}
