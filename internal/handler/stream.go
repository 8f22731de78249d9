package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sentientiq/behavioral-platform/internal/middleware"
	natsstream "github.com/sentientiq/behavioral-platform/internal/nats"
	"github.com/sentientiq/behavioral-platform/pkg/logger"
	"github.com/sentientiq/behavioral-platform/pkg/metrics"
)

// LogSubscriber opens a live tail on an event log subject.
type LogSubscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(subject string, data []byte)) (func(), error)
}

// StreamHandler serves the SSE dashboard stream: replayed audit history
// followed by live intervention events.
type StreamHandler struct {
	lister     InterventionLister
	subscriber LogSubscriber
	heartbeat  time.Duration
	logger     *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(lister InterventionLister, subscriber LogSubscriber, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &StreamHandler{
		lister:     lister,
		subscriber: subscriber,
		heartbeat:  heartbeat,
		logger:     log,
	}
}

// ReplayCompleteEvent marks the end of audit replay on the SSE stream.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	EventCount   int    `json:"event_count"`
}

// Stream handles GET /api/v1/interventions/stream
// Supports ?after_sequence=N for resuming from a specific point.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
			afterSequence = seq
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	h.logger.Debug("dashboard stream opened",
		zap.String("tenant_id", tenantID),
		zap.String("user_id", middleware.GetUserID(ctx)),
		zap.Uint64("after_sequence", afterSequence),
	)

	done := ctx.Done()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"tenant_id": tenantID,
	})

	// Replay history before going live so dashboards never miss events
	// between page load and subscription.
	var lastSequence uint64
	var totalReplayed int

	for {
		events, last, hasMore, err := h.lister.GetInterventions(ctx, tenantID, afterSequence, 50)
		if err != nil {
			h.logger.Error("failed to replay interventions",
				zap.String("tenant_id", tenantID),
				zap.Error(err),
			)
			sendSSEEvent(w, flusher, "error", map[string]string{
				"code":    "replay_error",
				"message": "failed to replay interventions",
			})
			break
		}

		for _, event := range events {
			select {
			case <-done:
				return
			default:
			}
			sendSSEEvent(w, flusher, "intervention", event)
			totalReplayed++
		}
		if last > lastSequence {
			lastSequence = last
		}

		if !hasMore {
			break
		}
		afterSequence = lastSequence
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		EventCount:   totalReplayed,
	})

	// Go live. The tail buffer absorbs bursts; a dashboard that cannot keep
	// up loses events and can re-sync via after_sequence.
	live := make(chan json.RawMessage, 64)
	stop, err := h.subscriber.Subscribe(ctx, natsstream.InterventionSubject(tenantID), func(subject string, data []byte) {
		select {
		case live <- json.RawMessage(append([]byte(nil), data...)):
		default:
		}
	})
	if err != nil {
		h.logger.Error("failed to open live intervention tail",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		sendSSEEvent(w, flusher, "error", map[string]string{
			"code":    "subscribe_error",
			"message": "failed to open live stream",
		})
		return
	}
	defer stop()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			h.logger.Debug("SSE client disconnected", zap.String("tenant_id", tenantID))
			return

		case data := <-live:
			sendSSEEvent(w, flusher, "intervention", data)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]int64{
				"timestamp": time.Now().UnixMilli(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
