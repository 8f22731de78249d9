// Package service holds the gateway's business logic, kept separate from
// transport handlers so HTTP and WebSocket ingestion share one path.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sentientiq/behavioral-platform/internal/model"
	"github.com/sentientiq/behavioral-platform/pkg/logger"
	"github.com/sentientiq/behavioral-platform/pkg/metrics"
)

// DefaultTenantID is used when ingestion carries no tenant identity, e.g.
// unauthenticated development setups.
const DefaultTenantID = "default"

// BatchPublisher appends telemetry batches to the durable event log.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, batch *model.TelemetryBatch) (uint64, error)
}

// TelemetryService validates and publishes incoming telemetry batches.
type TelemetryService struct {
	publisher BatchPublisher
	log       *logger.Logger
	now       func() time.Time
}

// NewTelemetryService creates the ingestion service.
func NewTelemetryService(publisher BatchPublisher, log *logger.Logger) *TelemetryService {
	return &TelemetryService{
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// Ingest validates a batch and appends it to the event log. Malformed batches
// are dropped, not rejected: the agent fires and forgets, so the gateway
// reports acceptance and records the drop for operators instead of making the
// client retry. A returned error means the log append itself failed.
func (s *TelemetryService) Ingest(ctx context.Context, batch *model.TelemetryBatch, transport string) (uint64, bool, error) {
	if batch.SessionID == "" {
		metrics.TelemetryDroppedTotal.WithLabelValues("missing_session").Inc()
		s.log.Debug("dropped telemetry batch without session")
		return 0, true, nil
	}
	if len(batch.Events) == 0 {
		metrics.TelemetryDroppedTotal.WithLabelValues("no_events").Inc()
		return 0, true, nil
	}

	if batch.TenantID == "" {
		batch.TenantID = DefaultTenantID
	}
	if batch.Timestamp == 0 {
		batch.Timestamp = s.now().UnixMilli()
	}
	batch.ReceivedAt = s.now().UnixMilli()

	seq, err := s.publisher.PublishBatch(ctx, batch)
	if err != nil {
		return 0, false, fmt.Errorf("failed to append telemetry batch: %w", err)
	}

	metrics.TelemetryBatchesTotal.WithLabelValues(batch.TenantID, transport).Inc()
	s.log.Debug("telemetry batch ingested",
		zap.String("session_id", batch.SessionID),
		zap.String("tenant_id", batch.TenantID),
		zap.Int("events", len(batch.Events)),
		zap.Uint64("seq", seq),
	)

	return seq, false, nil
}
