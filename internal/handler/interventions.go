package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sentientiq/behavioral-platform/internal/middleware"
	"github.com/sentientiq/behavioral-platform/internal/model"
	"github.com/sentientiq/behavioral-platform/pkg/logger"
)

// InterventionLister reads intervention audit records from the event log.
type InterventionLister interface {
	GetInterventions(ctx context.Context, tenantID string, afterSequence uint64, limit int) ([]model.InterventionEvent, uint64, bool, error)
}

// InterventionHandler serves the intervention audit endpoints.
type InterventionHandler struct {
	lister InterventionLister
	logger *logger.Logger
}

// NewInterventionHandler creates a new intervention handler.
func NewInterventionHandler(lister InterventionLister, log *logger.Logger) *InterventionHandler {
	return &InterventionHandler{
		lister: lister,
		logger: log,
	}
}

// List handles GET /api/v1/interventions
// Supports ?after_sequence=N for cursor paging and ?limit=N (max 200).
func (h *InterventionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)

	var afterSequence uint64
	if seqStr := r.URL.Query().Get("after_sequence"); seqStr != "" {
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_sequence")
			return
		}
		afterSequence = seq
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	events, lastSequence, hasMore, err := h.lister.GetInterventions(ctx, tenantID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to list interventions",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to list interventions")
		return
	}

	if events == nil {
		events = []model.InterventionEvent{}
	}
	writeJSON(w, http.StatusOK, &model.ListInterventionsResponse{
		Events:       events,
		HasMore:      hasMore,
		LastSequence: lastSequence,
	})
}
