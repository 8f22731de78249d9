package intervention

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentientiq/behavioral-platform/internal/model"
	"github.com/sentientiq/behavioral-platform/pkg/logger"
	"github.com/sentientiq/behavioral-platform/pkg/metrics"
)

// primaryConfidenceFloor is the confidence the dominant emotion must exceed
// before dominant-emotion matching considers a rule.
const primaryConfidenceFloor = 30

// Pusher delivers an intervention payload to a live client connection. The
// returned bool reports whether a connection for the session existed; a
// disconnected session is not an error.
type Pusher interface {
	PushToSession(sessionID string, payload any) bool
}

// AuditPublisher appends intervention events to the durable audit log.
type AuditPublisher interface {
	PublishIntervention(ctx context.Context, event *model.InterventionEvent) (uint64, error)
}

// Engine evaluates emotion state messages against the rule table and fires at
// most one intervention per message.
type Engine struct {
	rules     *RuleSet
	cooldowns CooldownStore
	pusher    Pusher
	auditor   AuditPublisher
	log       *logger.Logger
	now       func() time.Time
}

// NewEngine creates an intervention engine.
func NewEngine(rules *RuleSet, cooldowns CooldownStore, pusher Pusher, auditor AuditPublisher, log *logger.Logger) *Engine {
	return &Engine{
		rules:     rules,
		cooldowns: cooldowns,
		pusher:    pusher,
		auditor:   auditor,
		log:       log,
		now:       time.Now,
	}
}

// HandleMessage is the consumer entrypoint: it decodes an emotion state
// message and evaluates it. A returned error leaves the message unacked.
func (e *Engine) HandleMessage(ctx context.Context, subject string, data []byte) error {
	var state model.EmotionStateMessage
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to decode emotion state: %w", err)
	}
	return e.ProcessState(ctx, &state)
}

type candidate struct {
	rule   Rule
	reason string
}

// ProcessState runs both matching passes, merges the candidates, and fires
// the highest-priority rule whose cooldown has elapsed. Candidates matched by
// both passes are deduplicated, so a state can never trigger the same rule
// twice.
func (e *Engine) ProcessState(ctx context.Context, state *model.EmotionStateMessage) error {
	if state.SessionID == "" {
		return nil
	}

	candidates := e.match(state)
	if len(candidates) == 0 {
		return nil
	}

	// Priority order, rule name as the deterministic tie-break.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].rule.Priority != candidates[j].rule.Priority {
			return candidates[i].rule.Priority > candidates[j].rule.Priority
		}
		return candidates[i].rule.Name < candidates[j].rule.Name
	})

	now := e.now()
	fired := false
	for _, c := range candidates {
		if fired {
			metrics.InterventionsSuppressedTotal.WithLabelValues(c.rule.Name, "single_fire").Inc()
			continue
		}

		lastAt, found, err := e.cooldowns.LastFired(ctx, state.SessionID, c.rule.Name)
		if err != nil {
			return fmt.Errorf("failed to check cooldown for rule %s: %w", c.rule.Name, err)
		}
		// Still cooling at exactly the cooldown boundary; the rule refires
		// only once strictly more time has elapsed.
		if found && now.Sub(lastAt) <= c.rule.Cooldown {
			metrics.InterventionsSuppressedTotal.WithLabelValues(c.rule.Name, "cooldown").Inc()
			e.log.Debug("intervention suppressed by cooldown",
				zap.String("session_id", state.SessionID),
				zap.String("rule", c.rule.Name),
				zap.Duration("since_last", now.Sub(lastAt)),
			)
			continue
		}

		if err := e.fire(ctx, state, c, now); err != nil {
			return err
		}
		fired = true
	}

	return nil
}

// match collects rule candidates from the dominant-emotion pass and the
// component-threshold pass.
func (e *Engine) match(state *model.EmotionStateMessage) []candidate {
	seen := make(map[string]bool)
	var candidates []candidate

	add := func(name, reason string) {
		if seen[name] {
			return
		}
		rule, ok := e.rules.Rule(name)
		if !ok {
			return
		}
		seen[name] = true
		candidates = append(candidates, candidate{rule: rule, reason: reason})
	}

	if state.Confidence > primaryConfidenceFloor {
		for _, name := range e.rules.RulesForEmotion(state.Dominant) {
			add(name, fmt.Sprintf("dominant %s at confidence %d", state.Dominant, state.Confidence))
		}
	}

	components := state.Emotions.Components()
	for _, th := range e.rules.Thresholds() {
		for i, emotionName := range model.EmotionNames {
			if emotionName == th.Component && components[i] > th.Min {
				add(th.Rule, fmt.Sprintf("%s %d above threshold %d", th.Component, components[i], th.Min))
			}
		}
	}

	return candidates
}

// fire records the intervention in the audit log, marks the cooldown, and
// pushes to the live session if one is connected. The audit append is the
// gate: a failed append returns an error without marking the cooldown, so
// redelivery retries the whole decision.
func (e *Engine) fire(ctx context.Context, state *model.EmotionStateMessage, c candidate, now time.Time) error {
	event := &model.InterventionEvent{
		ID:               uuid.Must(uuid.NewV7()).String(),
		SessionID:        state.SessionID,
		TenantID:         state.TenantID,
		Rule:             c.rule.Name,
		InterventionType: c.rule.Template.InterventionType,
		Emotion:          state.Dominant,
		Confidence:       state.Confidence,
		Priority:         c.rule.Priority,
		Timing:           c.rule.Template.Timing,
		Reason:           c.reason,
		Timestamp:        now.UnixMilli(),
	}

	if _, err := e.auditor.PublishIntervention(ctx, event); err != nil {
		return fmt.Errorf("failed to record intervention %s: %w", c.rule.Name, err)
	}

	if err := e.cooldowns.MarkFired(ctx, state.SessionID, c.rule.Name, now); err != nil {
		// Audit is already durable; a lost cooldown mark risks one extra
		// firing, which the client tolerates.
		e.log.Warn("failed to mark intervention cooldown",
			zap.String("session_id", state.SessionID),
			zap.String("rule", c.rule.Name),
			zap.Error(err),
		)
	}

	delivered := e.pusher.PushToSession(state.SessionID, &model.InterventionPayload{
		Type:             "intervention",
		SessionID:        state.SessionID,
		Rule:             c.rule.Name,
		InterventionType: c.rule.Template.InterventionType,
		Message:          c.rule.Template.Message,
		Emotion:          state.Dominant,
		Confidence:       state.Confidence,
		Priority:         c.rule.Priority,
		Timing:           c.rule.Template.Timing,
		Reason:           c.reason,
		Timestamp:        event.Timestamp,
	})

	metrics.InterventionsFiredTotal.WithLabelValues(c.rule.Name).Inc()
	e.log.Info("intervention fired",
		zap.String("session_id", state.SessionID),
		zap.String("rule", c.rule.Name),
		zap.String("reason", c.reason),
		zap.Bool("delivered", delivered),
	)

	return nil
}
