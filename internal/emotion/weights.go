// Package emotion derives per-session emotional state from raw telemetry.
package emotion

import (
	"github.com/sentientiq/behavioral-platform/internal/model"
)

const (
	// longHoverMs is the hover duration above which a hover signals interest.
	longHoverMs = 500
	// fastScrollVelocity is the scroll velocity (px/s) above which scrolling
	// reads as excitement rather than interest.
	fastScrollVelocity = 1000
)

// eventWeights maps each event type to its emotion contribution. Adding an
// event type is a table change, not a new branch.
var eventWeights = map[model.EventType]model.EmotionVector{
	model.EventClick:            {Interest: 5},
	model.EventRageClick:        {Frustration: 30},
	model.EventErraticMovement:  {Confusion: 20, Frustration: 10},
	model.EventSmoothNavigation: {Interest: 15, Intention: 10},
	model.EventFormInteraction:  {Intention: 20, Interest: 10},
	model.EventExitIntent:       {Frustration: 15, Confusion: 10},
	model.EventPriceProximity:   {Intention: 10, Interest: 5},
	model.EventTextSelection:    {Interest: 10},
	model.EventIdle:             {},
}

// Hover and scroll contributions depend on event metadata.
var (
	longHoverWeights  = model.EmotionVector{Interest: 10, Intention: 5}
	fastScrollWeights = model.EmotionVector{Excitement: 5}
	slowScrollWeights = model.EmotionVector{Interest: 5}
)

// contribution returns the emotion weights for a single event.
func contribution(ev model.RawEvent) model.EmotionVector {
	switch ev.Type {
	case model.EventHover:
		if ev.DurationMs() > longHoverMs {
			return longHoverWeights
		}
		return model.EmotionVector{}
	case model.EventScroll:
		if ev.Velocity() > fastScrollVelocity {
			return fastScrollWeights
		}
		return slowScrollWeights
	default:
		return eventWeights[ev.Type]
	}
}

// Compute recomputes the emotion vector from scratch over the buffered
// events. This is a deterministic, replayable function of the buffer.
func Compute(events []model.RawEvent) model.EmotionVector {
	var v model.EmotionVector
	for _, ev := range events {
		v = v.Add(contribution(ev))
	}
	return v
}

// Normalize scales the vector so the component sum never exceeds 100.
// Components are scaled by 100/sum with truncation, which keeps the
// invariant exact after integer conversion.
func Normalize(v model.EmotionVector) model.EmotionVector {
	sum := v.Sum()
	if sum <= 100 {
		return v
	}
	return model.EmotionVector{
		Frustration: v.Frustration * 100 / sum,
		Confusion:   v.Confusion * 100 / sum,
		Interest:    v.Interest * 100 / sum,
		Excitement:  v.Excitement * 100 / sum,
		Intention:   v.Intention * 100 / sum,
	}
}
