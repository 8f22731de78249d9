package model

// EmotionVector holds the five weighted emotion components derived from a
// session's buffered events. After normalization the component sum is <= 100.
type EmotionVector struct {
	Frustration int `json:"frustration"`
	Confusion   int `json:"confusion"`
	Interest    int `json:"interest"`
	Excitement  int `json:"excitement"`
	Intention   int `json:"intention"`
}

// EmotionNames lists the vector components in canonical order. Dominant-emotion
// resolution iterates in this order so ties are deterministic.
var EmotionNames = []string{"frustration", "confusion", "interest", "excitement", "intention"}

// Components returns the component values in the order of EmotionNames.
func (v EmotionVector) Components() [5]int {
	return [5]int{v.Frustration, v.Confusion, v.Interest, v.Excitement, v.Intention}
}

// Sum returns the total weight across all components.
func (v EmotionVector) Sum() int {
	total := 0
	for _, c := range v.Components() {
		total += c
	}
	return total
}

// Add returns the component-wise sum of two vectors.
func (v EmotionVector) Add(o EmotionVector) EmotionVector {
	return EmotionVector{
		Frustration: v.Frustration + o.Frustration,
		Confusion:   v.Confusion + o.Confusion,
		Interest:    v.Interest + o.Interest,
		Excitement:  v.Excitement + o.Excitement,
		Intention:   v.Intention + o.Intention,
	}
}

// Dominant returns the name and value of the highest component. The first
// component in canonical order wins ties.
func (v EmotionVector) Dominant() (string, int) {
	comps := v.Components()
	best, idx := comps[0], 0
	for i := 1; i < len(comps); i++ {
		if comps[i] > best {
			best, idx = comps[i], i
		}
	}
	return EmotionNames[idx], best
}

// EmotionStateMessage is the derived per-session emotional state published to
// the event log when the aggregator's publish gate passes.
type EmotionStateMessage struct {
	SessionID  string        `json:"session_id"`
	TenantID   string        `json:"tenant_id"`
	URL        string        `json:"url,omitempty"`
	Emotions   EmotionVector `json:"emotions"`
	Dominant   string        `json:"dominant"`
	Confidence int           `json:"confidence"`
	EventCount int           `json:"event_count"`
	Timestamp  int64         `json:"timestamp"` // unix milliseconds

	// JetStream metadata (populated on read).
	Sequence uint64 `json:"sequence,omitempty"`
}
