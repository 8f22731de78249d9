package emotion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentientiq/behavioral-platform/internal/model"
	"github.com/sentientiq/behavioral-platform/pkg/logger"
)

type capturePublisher struct {
	published []*model.EmotionStateMessage
	err       error
}

func (p *capturePublisher) PublishEmotionState(ctx context.Context, msg *model.EmotionStateMessage) (uint64, error) {
	if p.err != nil {
		return 0, p.err
	}
	p.published = append(p.published, msg)
	return uint64(len(p.published)), nil
}

func newTestAggregator(pub StatePublisher) (*Aggregator, *time.Time) {
	a := NewAggregator(DefaultConfig(), pub, logger.NewNop())
	now := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return now }
	return a, &now
}

func batchAt(now time.Time, sessionID string, events ...model.RawEvent) *model.TelemetryBatch {
	return &model.TelemetryBatch{
		SessionID: sessionID,
		TenantID:  "acme",
		URL:       "https://example.com/pricing",
		Timestamp: now.UnixMilli(),
		Events:    events,
	}
}

func rageClicks(now time.Time, n int) []model.RawEvent {
	events := make([]model.RawEvent, n)
	for i := range events {
		events[i] = model.RawEvent{
			Type:      model.EventRageClick,
			Timestamp: now.UnixMilli() + int64(i*100),
		}
	}
	return events
}

func TestRageClicksProduceFrustrationState(t *testing.T) {
	pub := &capturePublisher{}
	a, now := newTestAggregator(pub)

	err := a.ProcessBatch(context.Background(), batchAt(*now, "s1", rageClicks(*now, 3)...))
	require.NoError(t, err)

	require.Len(t, pub.published, 1)
	msg := pub.published[0]
	assert.GreaterOrEqual(t, msg.Emotions.Frustration, 90)
	assert.Equal(t, "frustration", msg.Dominant)
	assert.GreaterOrEqual(t, msg.Confidence, 90)
	assert.Equal(t, 3, msg.EventCount)
	assert.LessOrEqual(t, msg.Emotions.Sum(), 100)
}

func TestZeroWeightBufferPublishesNothing(t *testing.T) {
	pub := &capturePublisher{}
	a, now := newTestAggregator(pub)

	err := a.ProcessBatch(context.Background(), batchAt(*now, "s1",
		model.RawEvent{Type: model.EventIdle, Timestamp: now.UnixMilli()},
	))
	require.NoError(t, err)
	assert.Empty(t, pub.published)
}

func TestBatchWithoutSessionIsDropped(t *testing.T) {
	pub := &capturePublisher{}
	a, now := newTestAggregator(pub)

	b := batchAt(*now, "", rageClicks(*now, 3)...)
	require.NoError(t, a.ProcessBatch(context.Background(), b))
	assert.Empty(t, pub.published)
	assert.Equal(t, 0, a.SessionCount())

	empty := batchAt(*now, "s1")
	require.NoError(t, a.ProcessBatch(context.Background(), empty))
	assert.Equal(t, 0, a.SessionCount())
}

func TestThrottleSuppressesUnchangedDominant(t *testing.T) {
	pub := &capturePublisher{}
	a, now := newTestAggregator(pub)
	ctx := context.Background()

	require.NoError(t, a.ProcessBatch(ctx, batchAt(*now, "s1", rageClicks(*now, 3)...)))
	require.Len(t, pub.published, 1)

	// Same dominant 500ms later: suppressed by the 3s throttle.
	*now = now.Add(500 * time.Millisecond)
	require.NoError(t, a.ProcessBatch(ctx, batchAt(*now, "s1", rageClicks(*now, 1)...)))
	assert.Len(t, pub.published, 1)

	// Same dominant past the throttle: published again.
	*now = now.Add(2600 * time.Millisecond) // 3100ms after the first publish
	require.NoError(t, a.ProcessBatch(ctx, batchAt(*now, "s1", rageClicks(*now, 1)...)))
	assert.Len(t, pub.published, 2)
}

func TestDominantTransitionPublishesImmediately(t *testing.T) {
	pub := &capturePublisher{}
	a, now := newTestAggregator(pub)
	ctx := context.Background()

	require.NoError(t, a.ProcessBatch(ctx, batchAt(*now, "s1", rageClicks(*now, 3)...)))
	require.Len(t, pub.published, 1)

	// A burst of purposeful events flips the dominant emotion within the
	// throttle window; the transition must still publish.
	*now = now.Add(500 * time.Millisecond)
	events := make([]model.RawEvent, 8)
	for i := range events {
		events[i] = model.RawEvent{Type: model.EventFormInteraction, Timestamp: now.UnixMilli()}
	}
	require.NoError(t, a.ProcessBatch(ctx, batchAt(*now, "s1", events...)))

	require.Len(t, pub.published, 2)
	assert.Equal(t, "intention", pub.published[1].Dominant)
}

func TestWindowDropsStaleEvents(t *testing.T) {
	pub := &capturePublisher{}
	a, now := newTestAggregator(pub)
	ctx := context.Background()

	require.NoError(t, a.ProcessBatch(ctx, batchAt(*now, "s1", rageClicks(*now, 3)...)))
	require.Len(t, pub.published, 1)

	// 40s later the rage clicks have left the window; a lone idle event
	// leaves a zero vector and nothing publishes.
	*now = now.Add(40 * time.Second)
	require.NoError(t, a.ProcessBatch(ctx, batchAt(*now, "s1",
		model.RawEvent{Type: model.EventIdle, Timestamp: now.UnixMilli()},
	)))
	assert.Len(t, pub.published, 1)
}

func TestPublishErrorPropagates(t *testing.T) {
	pub := &capturePublisher{err: errors.New("log unavailable")}
	a, now := newTestAggregator(pub)

	err := a.ProcessBatch(context.Background(), batchAt(*now, "s1", rageClicks(*now, 3)...))
	assert.Error(t, err, "publish failures must leave the message unacked")
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	pub := &capturePublisher{}
	a, now := newTestAggregator(pub)
	ctx := context.Background()

	require.NoError(t, a.ProcessBatch(ctx, batchAt(*now, "idle-session", rageClicks(*now, 1)...)))

	*now = now.Add(29 * time.Minute)
	require.NoError(t, a.ProcessBatch(ctx, batchAt(*now, "fresh-session", rageClicks(*now, 1)...)))
	assert.Equal(t, 2, a.SessionCount())

	*now = now.Add(2 * time.Minute) // idle-session is now 31m stale
	a.Sweep()

	assert.Equal(t, 1, a.SessionCount())
}

func TestMalformedPayloadReturnsError(t *testing.T) {
	a, _ := newTestAggregator(&capturePublisher{})
	err := a.HandleMessage(context.Background(), "telemetry.events.acme", []byte("{not json"))
	assert.Error(t, err)
}
