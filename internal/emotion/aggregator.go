package emotion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sentientiq/behavioral-platform/internal/model"
	"github.com/sentientiq/behavioral-platform/pkg/logger"
	"github.com/sentientiq/behavioral-platform/pkg/metrics"
)

// StatePublisher publishes derived emotion state messages onto the event log.
type StatePublisher interface {
	PublishEmotionState(ctx context.Context, msg *model.EmotionStateMessage) (uint64, error)
}

// Config holds aggregator tuning knobs.
type Config struct {
	// Window is the sliding buffer length; events older than this are dropped
	// before each recomputation.
	Window time.Duration
	// IdleTTL is how long a session may sit idle before the sweep evicts it.
	IdleTTL time.Duration
	// PublishThrottle is the minimum gap between state messages for an
	// unchanged dominant emotion.
	PublishThrottle time.Duration
	// ConfidenceFloor is the confidence a vector must exceed to publish.
	ConfidenceFloor int
}

// DefaultConfig returns the production aggregator configuration.
func DefaultConfig() Config {
	return Config{
		Window:          30 * time.Second,
		IdleTTL:         30 * time.Minute,
		PublishThrottle: 3 * time.Second,
		ConfidenceFloor: 20,
	}
}

type sessionState struct {
	buffer          []model.RawEvent
	url             string
	lastEmotion     string
	lastPublishedAt time.Time
	lastSeenAt      time.Time
}

// Aggregator maintains per-session sliding-window state and publishes
// emotion state messages when the publish gate passes. A single aggregator
// instance owns the full session map; the mutex only serializes the consumer
// callback against the background sweep.
type Aggregator struct {
	cfg       Config
	publisher StatePublisher
	log       *logger.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState

	done     chan struct{}
	stopOnce sync.Once
}

// NewAggregator creates a session aggregator.
func NewAggregator(cfg Config, publisher StatePublisher, log *logger.Logger) *Aggregator {
	if cfg.Window <= 0 {
		cfg = DefaultConfig()
	}
	return &Aggregator{
		cfg:       cfg,
		publisher: publisher,
		log:       log,
		now:       time.Now,
		sessions:  make(map[string]*sessionState),
		done:      make(chan struct{}),
	}
}

// HandleMessage is the consumer entrypoint: it decodes a telemetry batch and
// processes it. A returned error leaves the message unacked for redelivery.
func (a *Aggregator) HandleMessage(ctx context.Context, subject string, data []byte) error {
	var batch model.TelemetryBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("failed to decode telemetry batch: %w", err)
	}
	return a.ProcessBatch(ctx, &batch)
}

// ProcessBatch folds one telemetry batch into its session's sliding window,
// recomputes the emotion vector, and publishes a state message if the gate
// passes. Batches without a session or events are a no-op.
func (a *Aggregator) ProcessBatch(ctx context.Context, batch *model.TelemetryBatch) error {
	if batch.SessionID == "" || len(batch.Events) == 0 {
		return nil
	}

	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[batch.SessionID]
	if !ok {
		s = &sessionState{}
		a.sessions[batch.SessionID] = s
		metrics.ActiveSessions.Set(float64(len(a.sessions)))
	}
	s.lastSeenAt = now
	if batch.URL != "" {
		s.url = batch.URL
	}

	// Trim the window, then fold in the new events. Recomputing from the full
	// window keeps the vector drift-free under replay.
	cutoff := now.Add(-a.cfg.Window).UnixMilli()
	kept := s.buffer[:0]
	for _, ev := range s.buffer {
		if ev.Timestamp >= cutoff {
			kept = append(kept, ev)
		}
	}
	for _, ev := range batch.Events {
		if ev.Timestamp >= cutoff {
			kept = append(kept, ev)
		}
	}
	s.buffer = kept

	vector := Normalize(Compute(s.buffer))
	dominant, confidence := vector.Dominant()

	if confidence <= a.cfg.ConfidenceFloor {
		return nil
	}
	if dominant == s.lastEmotion && now.Sub(s.lastPublishedAt) <= a.cfg.PublishThrottle {
		metrics.EmotionStatesSuppressed.Inc()
		return nil
	}

	msg := &model.EmotionStateMessage{
		SessionID:  batch.SessionID,
		TenantID:   batch.TenantID,
		URL:        s.url,
		Emotions:   vector,
		Dominant:   dominant,
		Confidence: confidence,
		EventCount: len(s.buffer),
		Timestamp:  now.UnixMilli(),
	}

	if _, err := a.publisher.PublishEmotionState(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish emotion state: %w", err)
	}

	s.lastEmotion = dominant
	s.lastPublishedAt = now
	metrics.EmotionStatesTotal.WithLabelValues(batch.TenantID, dominant).Inc()

	a.log.WithSession(batch.TenantID, batch.SessionID).Debug("emotion state published",
		zap.String("dominant", dominant),
		zap.Int("confidence", confidence),
		zap.Int("event_count", len(s.buffer)),
	)

	return nil
}

// Sweep evicts sessions idle longer than the configured TTL, bounding memory
// under session churn.
func (a *Aggregator) Sweep() {
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	evicted := 0
	for id, s := range a.sessions {
		if now.Sub(s.lastSeenAt) > a.cfg.IdleTTL {
			delete(a.sessions, id)
			evicted++
		}
	}
	metrics.ActiveSessions.Set(float64(len(a.sessions)))

	if evicted > 0 {
		a.log.Info("swept idle sessions",
			zap.Int("evicted", evicted),
			zap.Int("remaining", len(a.sessions)),
		)
	}
}

// StartSweeper runs Sweep on the given interval until Stop is called.
func (a *Aggregator) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-a.done:
				return
			case <-ticker.C:
				a.Sweep()
			}
		}
	}()
}

// Stop terminates the background sweeper.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}

// SessionCount returns the number of tracked sessions.
func (a *Aggregator) SessionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}
