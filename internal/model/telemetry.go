// Package model defines data structures for the behavioral telemetry platform.
package model

// EventType represents the kind of browser interaction captured by the agent.
type EventType string

const (
	EventClick            EventType = "click"
	EventRageClick        EventType = "rage_click"
	EventHover            EventType = "hover"
	EventScroll           EventType = "scroll"
	EventErraticMovement  EventType = "erratic_movement"
	EventSmoothNavigation EventType = "smooth_navigation"
	EventFormInteraction  EventType = "form_interaction"
	EventExitIntent       EventType = "exit_intent"
	EventIdle             EventType = "idle"
	EventPriceProximity   EventType = "price_proximity"
	EventTextSelection    EventType = "text_selection"
)

// RawEvent is a single interaction event as captured by the browser agent.
// Immutable once created.
type RawEvent struct {
	Type      EventType      `json:"type"`
	Timestamp int64          `json:"timestamp"` // unix milliseconds
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DurationMs returns the "duration_ms" metadata value, or 0 if absent.
func (e RawEvent) DurationMs() float64 {
	return e.metadataNumber("duration_ms")
}

// Velocity returns the "velocity" metadata value (px/s), or 0 if absent.
func (e RawEvent) Velocity() float64 {
	return e.metadataNumber("velocity")
}

func (e RawEvent) metadataNumber(key string) float64 {
	if e.Metadata == nil {
		return 0
	}
	switch v := e.Metadata[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// TelemetryBatch is a batch of raw events for one session, as submitted by
// the browser agent. It becomes a durable log record on publish.
type TelemetryBatch struct {
	SessionID string     `json:"session_id"`
	TenantID  string     `json:"tenant_id"`
	URL       string     `json:"url"`
	Timestamp int64      `json:"timestamp"` // client-side unix milliseconds
	Events    []RawEvent `json:"events"`

	// Stamped by the gateway on accept, unix milliseconds.
	ReceivedAt int64 `json:"received_at,omitempty"`

	// JetStream metadata (populated on read).
	Sequence uint64 `json:"sequence,omitempty"`
}

// IngestResponse is the response after accepting a telemetry batch.
type IngestResponse struct {
	Success bool   `json:"success"`
	Seq     uint64 `json:"seq,omitempty"`
	Dropped bool   `json:"dropped,omitempty"`
}
