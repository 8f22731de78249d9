package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/sentientiq/behavioral-platform/internal/model"
)

const (
	// TelemetryStream holds raw telemetry batches from the gateway.
	TelemetryStream = "TELEMETRY"
	// EmotionStream holds derived emotion state messages.
	EmotionStream = "EMOTIONS"
	// InterventionStream holds the intervention audit trail.
	InterventionStream = "INTERVENTIONS"
	// DeadLetterStream holds messages that exhausted redelivery.
	DeadLetterStream = "DEADLETTER"

	telemetryPrefix    = "telemetry.events"
	emotionPrefix      = "emotions.state"
	interventionPrefix = "interventions.events"
	deadLetterPrefix   = "dlq"

	// duplicateWindow is the publish deduplication window for all streams.
	duplicateWindow = 2 * time.Minute
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStreams ensures all pipeline streams exist with proper configuration.
func (m *StreamManager) EnsureStreams(ctx context.Context) error {
	configs := []jetstream.StreamConfig{
		{
			Name:        TelemetryStream,
			Subjects:    []string{telemetryPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			MaxMsgs:     10_000_000,
			MaxMsgSize:  10 * 1024 * 1024,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			Duplicates:  duplicateWindow,
			Description: "Raw telemetry batches from browser agents",
		},
		{
			Name:        EmotionStream,
			Subjects:    []string{emotionPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1_000_000,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Duplicates:  duplicateWindow,
			Description: "Derived per-session emotional state",
		},
		{
			Name:        InterventionStream,
			Subjects:    []string{interventionPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      90 * 24 * time.Hour,
			MaxMsgs:     5_000_000,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			Duplicates:  duplicateWindow,
			Description: "Intervention audit trail",
		},
		{
			Name:        DeadLetterStream,
			Subjects:    []string{deadLetterPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Description: "Messages that exhausted consumer redelivery",
		},
	}

	js := m.client.JetStream()
	for _, cfg := range configs {
		if _, err := js.Stream(ctx, cfg.Name); err == nil {
			continue // Stream already exists
		}
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
	}

	return nil
}

// TelemetrySubject returns the subject for a tenant's raw telemetry.
func TelemetrySubject(tenantID string) string {
	return fmt.Sprintf("%s.%s", telemetryPrefix, tenantID)
}

// EmotionStateSubject returns the subject for a tenant's emotion state.
func EmotionStateSubject(tenantID string) string {
	return fmt.Sprintf("%s.%s", emotionPrefix, tenantID)
}

// InterventionSubject returns the subject for a tenant's intervention audit.
func InterventionSubject(tenantID string) string {
	return fmt.Sprintf("%s.%s", interventionPrefix, tenantID)
}

// AllTelemetrySubjects returns the wildcard covering every tenant's telemetry.
func AllTelemetrySubjects() string {
	return telemetryPrefix + ".>"
}

// AllEmotionSubjects returns the wildcard covering every tenant's emotion state.
func AllEmotionSubjects() string {
	return emotionPrefix + ".>"
}

// DeadLetterSubject returns the dead-letter subject for a consumer.
func DeadLetterSubject(consumer string) string {
	return fmt.Sprintf("%s.%s", deadLetterPrefix, consumer)
}

// streamForSubject maps a subject to the stream that holds it.
func streamForSubject(subject string) (string, error) {
	switch {
	case strings.HasPrefix(subject, telemetryPrefix+"."):
		return TelemetryStream, nil
	case strings.HasPrefix(subject, emotionPrefix+"."):
		return EmotionStream, nil
	case strings.HasPrefix(subject, interventionPrefix+"."):
		return InterventionStream, nil
	case strings.HasPrefix(subject, deadLetterPrefix+"."):
		return DeadLetterStream, nil
	}
	return "", fmt.Errorf("no stream for subject %q", subject)
}

// PublishBatch publishes a telemetry batch and returns the stream sequence.
// The message ID keys the stream's deduplication window.
func (m *StreamManager) PublishBatch(ctx context.Context, batch *model.TelemetryBatch) (uint64, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal batch: %w", err)
	}

	msgID := fmt.Sprintf("%s:%d:%d", batch.SessionID, batch.Timestamp, len(batch.Events))
	ack, err := m.client.JetStream().Publish(ctx, TelemetrySubject(batch.TenantID), data,
		jetstream.WithMsgID(msgID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish batch: %w", err)
	}

	return ack.Sequence, nil
}

// PublishEmotionState publishes a derived emotion state message.
func (m *StreamManager) PublishEmotionState(ctx context.Context, msg *model.EmotionStateMessage) (uint64, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal emotion state: %w", err)
	}

	msgID := fmt.Sprintf("%s:%s:%d", msg.SessionID, msg.Dominant, msg.Timestamp)
	ack, err := m.client.JetStream().Publish(ctx, EmotionStateSubject(msg.TenantID), data,
		jetstream.WithMsgID(msgID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish emotion state: %w", err)
	}

	return ack.Sequence, nil
}

// PublishIntervention publishes an intervention audit record.
func (m *StreamManager) PublishIntervention(ctx context.Context, event *model.InterventionEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal intervention: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, InterventionSubject(event.TenantID), data,
		jetstream.WithMsgID(event.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to publish intervention: %w", err)
	}

	return ack.Sequence, nil
}

// GetInterventions retrieves audit records for a tenant starting after a
// sequence, using a throwaway consumer.
func (m *StreamManager) GetInterventions(ctx context.Context, tenantID string, afterSequence uint64, limit int) ([]model.InterventionEvent, uint64, bool, error) {
	js := m.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: InterventionSubject(tenantID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, InterventionStream, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch interventions: %w", err)
	}

	var events []model.InterventionEvent
	var lastSequence uint64

	for msg := range batch.Messages() {
		var event model.InterventionEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			continue
		}

		if meta, err := msg.Metadata(); err == nil {
			event.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}

		events = append(events, event)
	}

	if batch.Error() != nil && batch.Error() != context.DeadlineExceeded {
		return nil, 0, false, fmt.Errorf("batch error: %w", batch.Error())
	}

	return events, lastSequence, len(events) == limit, nil
}

// Subscribe opens an ordered consumer on the subject's stream and invokes
// handler for every new message. The returned function stops the consumer.
// This is the bridge's path onto the log; ordered consumers are ack-less so
// broker-side state is released on stop.
func (m *StreamManager) Subscribe(ctx context.Context, subject string, handler func(subject string, data []byte)) (func(), error) {
	stream, err := streamForSubject(subject)
	if err != nil {
		return nil, err
	}

	consumer, err := m.client.JetStream().OrderedConsumer(ctx, stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ordered consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(msg.Subject(), msg.Data())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer: %w", err)
	}

	return cc.Stop, nil
}
