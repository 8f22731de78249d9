// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sentientiq/behavioral-platform/internal/middleware"
	"github.com/sentientiq/behavioral-platform/internal/model"
	"github.com/sentientiq/behavioral-platform/internal/service"
	"github.com/sentientiq/behavioral-platform/pkg/logger"
)

// TelemetryHandler handles telemetry ingestion endpoints.
type TelemetryHandler struct {
	service         *service.TelemetryService
	maxPayloadBytes int64
	logger          *logger.Logger
}

// NewTelemetryHandler creates a new telemetry handler.
func NewTelemetryHandler(svc *service.TelemetryService, maxPayloadBytes int64, log *logger.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		service:         svc,
		maxPayloadBytes: maxPayloadBytes,
		logger:          log,
	}
}

// Ingest handles POST /api/v1/telemetry
//
// Accepted batches return 202 whether or not they were published; a dropped
// batch is reported in the body so well-behaved agents can fix themselves
// without retry storms from broken ones.
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxPayloadBytes)

	var batch model.TelemetryBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// The authenticated tenant always wins over whatever the agent claims.
	if tenantID := middleware.GetTenantID(ctx); tenantID != "" {
		batch.TenantID = tenantID
	}

	if batch.SessionID != "" {
		if err := middleware.ValidateSessionID(batch.SessionID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if batch.TenantID != "" {
		if err := middleware.ValidateTenantID(batch.TenantID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := middleware.ValidateURL(batch.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	seq, dropped, err := h.service.Ingest(ctx, &batch, "http")
	if err != nil {
		h.logger.Error("failed to ingest telemetry batch",
			zap.String("session_id", batch.SessionID),
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to ingest telemetry")
		return
	}

	writeJSON(w, http.StatusAccepted, &model.IngestResponse{
		Success: true,
		Seq:     seq,
		Dropped: dropped,
	})
}
