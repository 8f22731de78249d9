package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentientiq/behavioral-platform/pkg/logger"
)

type fakeMsg struct {
	subject   string
	data      []byte
	delivered uint64
	acks      int
	naks      int
}

func (f *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{
		NumDelivered: f.delivered,
		Sequence:     jetstream.SequencePair{Stream: 42},
	}, nil
}
func (f *fakeMsg) Data() []byte                           { return f.data }
func (f *fakeMsg) Headers() natsgo.Header                 { return nil }
func (f *fakeMsg) Subject() string                        { return f.subject }
func (f *fakeMsg) Reply() string                          { return "" }
func (f *fakeMsg) Ack() error                             { f.acks++; return nil }
func (f *fakeMsg) DoubleAck(context.Context) error        { f.acks++; return nil }
func (f *fakeMsg) Nak() error                             { f.naks++; return nil }
func (f *fakeMsg) NakWithDelay(time.Duration) error       { f.naks++; return nil }
func (f *fakeMsg) InProgress() error                      { return nil }
func (f *fakeMsg) Term() error                            { return nil }
func (f *fakeMsg) TermWithReason(string) error            { return nil }

func newProcessor(maxDeliver int, deadLetter func(context.Context, jetstream.Msg) error) *processor {
	if deadLetter == nil {
		deadLetter = func(context.Context, jetstream.Msg) error { return nil }
	}
	return &processor{
		name:       "test",
		maxDeliver: maxDeliver,
		deadLetter: deadLetter,
		log:        logger.NewNop(),
	}
}

func TestProcessAcksOnSuccess(t *testing.T) {
	msg := &fakeMsg{subject: "telemetry.events.t1", delivered: 1}
	p := newProcessor(5, nil)

	p.process(context.Background(), msg, func(ctx context.Context, subject string, data []byte) error {
		return nil
	})

	assert.Equal(t, 1, msg.acks)
	assert.Equal(t, 0, msg.naks)
}

func TestProcessNaksOnHandlerError(t *testing.T) {
	msg := &fakeMsg{subject: "telemetry.events.t1", delivered: 1}
	p := newProcessor(5, nil)

	p.process(context.Background(), msg, func(ctx context.Context, subject string, data []byte) error {
		return errors.New("boom")
	})

	assert.Equal(t, 0, msg.acks)
	assert.Equal(t, 1, msg.naks, "failed message must stay unacked for redelivery")
}

func TestProcessDeadLettersAfterMaxDeliver(t *testing.T) {
	msg := &fakeMsg{subject: "telemetry.events.t1", data: []byte("payload"), delivered: 5}

	var dlqData []byte
	p := newProcessor(5, func(ctx context.Context, m jetstream.Msg) error {
		dlqData = m.Data()
		return nil
	})

	p.process(context.Background(), msg, func(ctx context.Context, subject string, data []byte) error {
		return errors.New("still failing")
	})

	require.Equal(t, []byte("payload"), dlqData, "payload must be routed to the dead-letter subject")
	assert.Equal(t, 1, msg.acks, "dead-lettered message is acked so the consumer moves on")
	assert.Equal(t, 0, msg.naks)
}

func TestProcessNaksWhenDeadLetterFails(t *testing.T) {
	msg := &fakeMsg{subject: "telemetry.events.t1", delivered: 5}
	p := newProcessor(5, func(ctx context.Context, m jetstream.Msg) error {
		return errors.New("dlq unavailable")
	})

	p.process(context.Background(), msg, func(ctx context.Context, subject string, data []byte) error {
		return errors.New("boom")
	})

	assert.Equal(t, 0, msg.acks)
	assert.Equal(t, 1, msg.naks)
}

func TestAckOnceIsIdempotent(t *testing.T) {
	msg := &fakeMsg{}
	wrapped := &ackOnce{Msg: msg}

	require.NoError(t, wrapped.Ack())
	require.NoError(t, wrapped.Ack())
	require.NoError(t, wrapped.Nak())

	assert.Equal(t, 1, msg.acks, "only the first acknowledgment reaches the broker")
	assert.Equal(t, 0, msg.naks)
}

func TestStreamForSubject(t *testing.T) {
	cases := map[string]string{
		"telemetry.events.acme":     TelemetryStream,
		"emotions.state.acme":       EmotionStream,
		"interventions.events.acme": InterventionStream,
		"dlq.aggregator":            DeadLetterStream,
	}
	for subject, want := range cases {
		got, err := streamForSubject(subject)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := streamForSubject("unknown.subject")
	assert.Error(t, err)
}
