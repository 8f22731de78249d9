package model

// InterventionEvent is the append-only audit record emitted every time a rule
// fires, regardless of whether a live client received the push.
type InterventionEvent struct {
	ID               string `json:"id"`
	SessionID        string `json:"session_id"`
	TenantID         string `json:"tenant_id"`
	Rule             string `json:"rule"`
	InterventionType string `json:"intervention_type"`
	Emotion          string `json:"emotion"`
	Confidence       int    `json:"confidence"`
	Priority         int    `json:"priority"`
	Timing           string `json:"timing"`
	Reason           string `json:"reason"`
	Timestamp        int64  `json:"timestamp"` // unix milliseconds

	// JetStream metadata (populated on read).
	Sequence uint64 `json:"sequence,omitempty"`
}

// InterventionPayload is the message pushed to a connected session's socket.
type InterventionPayload struct {
	Type             string `json:"type"` // always "intervention"
	SessionID        string `json:"session_id"`
	Rule             string `json:"rule"`
	InterventionType string `json:"intervention_type"`
	Message          string `json:"message,omitempty"`
	Emotion          string `json:"emotion"`
	Confidence       int    `json:"confidence"`
	Priority         int    `json:"priority"`
	Timing           string `json:"timing"`
	Reason           string `json:"reason"`
	Timestamp        int64  `json:"timestamp"`
}

// ListInterventionsResponse is the response for the audit replay endpoint.
type ListInterventionsResponse struct {
	Events       []InterventionEvent `json:"events"`
	HasMore      bool                `json:"has_more"`
	LastSequence uint64              `json:"last_sequence"`
}
