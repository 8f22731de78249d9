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
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TelemetryBatchesTotal tracks accepted telemetry batches.
	TelemetryBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_batches_total",
			Help: "Telemetry batches accepted and published",
		},
		[]string{"tenant_id", "transport"},
	)

	// TelemetryDroppedTotal tracks batches accepted but dropped.
	TelemetryDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_dropped_total",
			Help: "Telemetry batches dropped at the gateway",
		},
		[]string{"reason"},
	)

	// ActiveSessions tracks sessions currently held by the aggregator.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aggregator_active_sessions",
			Help: "Sessions currently tracked by the aggregator",
		},
	)

	// EmotionStatesTotal tracks published emotion state messages.
	EmotionStatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emotion_states_total",
			Help: "Emotion state messages published",
		},
		[]string{"tenant_id", "dominant"},
	)

	// EmotionStatesSuppressed tracks state messages held back by the throttle.
	EmotionStatesSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emotion_states_suppressed_total",
			Help: "Emotion state messages suppressed by the publish gate",
		},
	)

	// InterventionsFiredTotal tracks fired interventions by rule.
	InterventionsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interventions_fired_total",
			Help: "Interventions fired",
		},
		[]string{"rule"},
	)

	// InterventionsSuppressedTotal tracks rule candidates blocked by cooldown.
	InterventionsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interventions_suppressed_total",
			Help: "Intervention candidates suppressed",
		},
		[]string{"rule", "reason"},
	)

	// BridgeConnectionsActive tracks live fan-out connections.
	BridgeConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_connections_active",
			Help: "Active fan-out bridge connections",
		},
	)

	// BridgeMessagesTotal tracks messages fanned out to subscribers.
	BridgeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_messages_total",
			Help: "Messages delivered to bridge subscribers",
		},
		[]string{"subject"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// ConsumerRedeliveriesTotal tracks messages left unacked for redelivery.
	ConsumerRedeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_redeliveries_total",
			Help: "Messages negatively acknowledged for redelivery",
		},
		[]string{"consumer"},
	)

	// DeadLetterTotal tracks messages routed to the dead-letter subject.
	DeadLetterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letter_total",
			Help: "Messages routed to the dead-letter subject",
		},
		[]string{"consumer"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
