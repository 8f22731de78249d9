package nats

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/sentientiq/behavioral-platform/pkg/logger"
	"github.com/sentientiq/behavioral-platform/pkg/metrics"
)

// Handler processes one log message. A non-nil error leaves the message
// unacknowledged so the log redelivers it.
type Handler func(ctx context.Context, subject string, data []byte) error

// ConsumerConfig configures a durable pull consumer.
type ConsumerConfig struct {
	Stream        string
	Name          string
	FilterSubject string

	// MaxDeliver bounds redelivery; the final failed attempt is routed to the
	// dead-letter subject instead of being redelivered again.
	MaxDeliver    int
	MaxAckPending int
	AckWait       time.Duration
}

// StartConsumer creates (or updates) a durable explicit-ack consumer and
// starts processing messages with h. The returned function stops consumption.
func (m *StreamManager) StartConsumer(ctx context.Context, cfg ConsumerConfig, h Handler) (func(), error) {
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = 256
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}

	consumer, err := m.client.JetStream().CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", cfg.Name, err)
	}

	proc := &processor{
		name:       cfg.Name,
		maxDeliver: cfg.MaxDeliver,
		deadLetter: m.deadLetterPublisher(cfg.Name),
		log:        m.client.logger.With(zap.String("consumer", cfg.Name)),
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		proc.process(ctx, msg, h)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consumer %s: %w", cfg.Name, err)
	}

	return cc.Stop, nil
}

func (m *StreamManager) deadLetterPublisher(consumer string) func(ctx context.Context, msg jetstream.Msg) error {
	return func(ctx context.Context, msg jetstream.Msg) error {
		header := nats.Header{}
		header.Set("Orig-Subject", msg.Subject())
		if meta, err := msg.Metadata(); err == nil {
			header.Set("Orig-Sequence", strconv.FormatUint(meta.Sequence.Stream, 10))
			header.Set("Deliveries", strconv.FormatUint(meta.NumDelivered, 10))
		}
		_, err := m.client.JetStream().PublishMsg(ctx, &nats.Msg{
			Subject: DeadLetterSubject(consumer),
			Header:  header,
			Data:    msg.Data(),
		})
		return err
	}
}

// processor owns the ack/redeliver/dead-letter decision for one consumer.
type processor struct {
	name       string
	maxDeliver int
	deadLetter func(ctx context.Context, msg jetstream.Msg) error
	log        *logger.Logger
}

func (p *processor) process(ctx context.Context, msg jetstream.Msg, h Handler) {
	m := &ackOnce{Msg: msg}

	err := h(ctx, msg.Subject(), msg.Data())
	if err == nil {
		if ackErr := m.Ack(); ackErr != nil {
			p.log.Warn("failed to ack message", zap.Error(ackErr))
		}
		return
	}

	p.log.Warn("message processing failed",
		zap.String("subject", msg.Subject()),
		zap.Error(err),
	)

	meta, metaErr := msg.Metadata()
	if metaErr == nil && int(meta.NumDelivered) >= p.maxDeliver {
		// Final attempt: route to the dead-letter subject and ack so the
		// consumer is not blocked behind a poison message.
		if dlqErr := p.deadLetter(ctx, msg); dlqErr != nil {
			p.log.Error("failed to dead-letter message", zap.Error(dlqErr))
			_ = m.Nak()
			return
		}
		metrics.DeadLetterTotal.WithLabelValues(p.name).Inc()
		_ = m.Ack()
		return
	}

	metrics.ConsumerRedeliveriesTotal.WithLabelValues(p.name).Inc()
	_ = m.Nak()
}

// ackOnce makes acknowledgment idempotent: only the first Ack or Nak reaches
// the broker, so a repeated ack never perturbs delivery state.
type ackOnce struct {
	jetstream.Msg
	done atomic.Bool
}

func (a *ackOnce) Ack() error {
	if a.done.Swap(true) {
		return nil
	}
	return a.Msg.Ack()
}

func (a *ackOnce) Nak() error {
	if a.done.Swap(true) {
		return nil
	}
	return a.Msg.Nak()
}
