package intervention

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

type capturePusher struct {
	pushed    []*model.InterventionPayload
	connected bool
}

func (p *capturePusher) PushToSession(sessionID string, payload any) bool {
	if ip, ok := payload.(*model.InterventionPayload); ok {
		p.pushed = append(p.pushed, ip)
	}
	return p.connected
}

type captureAuditor struct {
	events []*model.InterventionEvent
	err    error
}

func (a *captureAuditor) PublishIntervention(ctx context.Context, event *model.InterventionEvent) (uint64, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.events = append(a.events, event)
	return uint64(len(a.events)), nil
}

type engineFixture struct {
	engine  *Engine
	pusher  *capturePusher
	auditor *captureAuditor
	now     *time.Time
}

func newEngineFixture() *engineFixture {
	pusher := &capturePusher{connected: true}
	auditor := &captureAuditor{}
	engine := NewEngine(
		DefaultRules(30*time.Second),
		NewMemoryCooldownStore(time.Hour),
		pusher,
		auditor,
		logger.NewNop(),
	)
	now := time.Unix(1_700_000_000, 0)
	engine.now = func() time.Time { return now }
	return &engineFixture{engine: engine, pusher: pusher, auditor: auditor, now: &now}
}

func frustratedState(sessionID string, frustration int) *model.EmotionStateMessage {
	return &model.EmotionStateMessage{
		SessionID:  sessionID,
		TenantID:   "acme",
		Emotions:   model.EmotionVector{Frustration: frustration},
		Dominant:   "frustration",
		Confidence: frustration,
		Timestamp:  time.Now().UnixMilli(),
	}
}

func TestFrustrationFiresHelpOffer(t *testing.T) {
	f := newEngineFixture()

	err := f.engine.ProcessState(context.Background(), frustratedState("s1", 90))
	require.NoError(t, err)

	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, "help", f.auditor.events[0].Rule)
	assert.Equal(t, "help_offer", f.auditor.events[0].InterventionType)

	require.Len(t, f.pusher.pushed, 1)
	assert.Equal(t, "intervention", f.pusher.pushed[0].Type)
	assert.Equal(t, "s1", f.pusher.pushed[0].SessionID)
}

func TestBothPassesMatchingSameRuleFiresOnce(t *testing.T) {
	// frustration 92 matches as dominant AND exceeds the component threshold;
	// the merged candidate set must fire help exactly once.
	f := newEngineFixture()

	err := f.engine.ProcessState(context.Background(), frustratedState("s1", 92))
	require.NoError(t, err)

	assert.Len(t, f.auditor.events, 1)
	assert.Len(t, f.pusher.pushed, 1)
}

func TestAtMostOneInterventionPerMessage(t *testing.T) {
	f := newEngineFixture()

	// Dominant frustration plus confusion over its threshold yields two
	// candidates; only the higher-priority help rule fires.
	state := &model.EmotionStateMessage{
		SessionID:  "s1",
		TenantID:   "acme",
		Emotions:   model.EmotionVector{Frustration: 50, Confusion: 45},
		Dominant:   "frustration",
		Confidence: 50,
	}
	require.NoError(t, f.engine.ProcessState(context.Background(), state))

	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, "help", f.auditor.events[0].Rule)
}

func TestCooldownSuppressesRepeatFiring(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.ProcessState(ctx, frustratedState("s1", 90)))
	require.Len(t, f.auditor.events, 1)

	*f.now = f.now.Add(10 * time.Second)
	require.NoError(t, f.engine.ProcessState(ctx, frustratedState("s1", 90)))
	assert.Len(t, f.auditor.events, 1, "help must stay on cooldown")

	*f.now = f.now.Add(25 * time.Second) // 35s after the first firing
	require.NoError(t, f.engine.ProcessState(ctx, frustratedState("s1", 90)))
	assert.Len(t, f.auditor.events, 2, "help refires once the cooldown elapses")
}

func TestCooldownBoundaryIsExclusive(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.ProcessState(ctx, frustratedState("s1", 90)))
	require.Len(t, f.auditor.events, 1)

	// At exactly the cooldown duration the rule is still cooling.
	*f.now = f.now.Add(30 * time.Second)
	require.NoError(t, f.engine.ProcessState(ctx, frustratedState("s1", 90)))
	assert.Len(t, f.auditor.events, 1, "elapsed == cooldown must still suppress")

	// One tick past the boundary it refires.
	*f.now = f.now.Add(time.Millisecond)
	require.NoError(t, f.engine.ProcessState(ctx, frustratedState("s1", 90)))
	assert.Len(t, f.auditor.events, 2)
}

func TestCooldownIsPerSessionAndPerRule(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	require.NoError(t, f.engine.ProcessState(ctx, frustratedState("s1", 90)))

	// A different session is unaffected by s1's cooldown.
	require.NoError(t, f.engine.ProcessState(ctx, frustratedState("s2", 90)))
	assert.Len(t, f.auditor.events, 2)

	// A different rule for s1 is unaffected by help's cooldown.
	intent := &model.EmotionStateMessage{
		SessionID:  "s1",
		TenantID:   "acme",
		Emotions:   model.EmotionVector{Intention: 60},
		Dominant:   "intention",
		Confidence: 60,
	}
	require.NoError(t, f.engine.ProcessState(ctx, intent))
	require.Len(t, f.auditor.events, 3)
	assert.Equal(t, "checkout_nudge", f.auditor.events[2].Rule)
}

func TestLowConfidenceFiresNothing(t *testing.T) {
	f := newEngineFixture()

	err := f.engine.ProcessState(context.Background(), frustratedState("s1", 25))
	require.NoError(t, err)
	assert.Empty(t, f.auditor.events)
	assert.Empty(t, f.pusher.pushed)
}

func TestThresholdPassFiresWithoutDominantMatch(t *testing.T) {
	f := newEngineFixture()

	// Interest is dominant, but confusion crosses its threshold. Trust
	// outranks social_proof, so the threshold candidate wins the single slot.
	state := &model.EmotionStateMessage{
		SessionID:  "s1",
		TenantID:   "acme",
		Emotions:   model.EmotionVector{Interest: 48, Confusion: 45},
		Dominant:   "interest",
		Confidence: 48,
	}
	require.NoError(t, f.engine.ProcessState(context.Background(), state))

	require.Len(t, f.auditor.events, 1)
	assert.Equal(t, "trust", f.auditor.events[0].Rule)
}

func TestDisconnectedSessionStillRecordsAudit(t *testing.T) {
	f := newEngineFixture()
	f.pusher.connected = false

	err := f.engine.ProcessState(context.Background(), frustratedState("s1", 90))
	require.NoError(t, err)
	assert.Len(t, f.auditor.events, 1, "audit recording must not depend on live delivery")
}

func TestAuditFailureLeavesCooldownUnmarked(t *testing.T) {
	f := newEngineFixture()
	f.auditor.err = errors.New("stream unavailable")

	err := f.engine.ProcessState(context.Background(), frustratedState("s1", 90))
	require.Error(t, err)

	// Redelivery retries and fires normally once the log recovers.
	f.auditor.err = nil
	require.NoError(t, f.engine.ProcessState(context.Background(), frustratedState("s1", 90)))
	assert.Len(t, f.auditor.events, 1)
}

func TestMalformedStateReturnsError(t *testing.T) {
	f := newEngineFixture()
	err := f.engine.HandleMessage(context.Background(), "emotions.state.acme", []byte("{not json"))
	assert.Error(t, err)
}
