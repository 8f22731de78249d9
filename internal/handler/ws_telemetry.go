package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/sentientiq/behavioral-platform/internal/middleware"
	"github.com/sentientiq/behavioral-platform/internal/model"
	"github.com/sentientiq/behavioral-platform/internal/service"
	"github.com/sentientiq/behavioral-platform/pkg/logger"
)

// maxWSDecodeErrors bounds how many malformed frames an agent may send
// before the connection is dropped.
const maxWSDecodeErrors = 5

type telemetryWSFrame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type telemetryWSAck struct {
	Type    string `json:"type"` // "ack"
	Seq     uint64 `json:"seq,omitempty"`
	Dropped bool   `json:"dropped,omitempty"`
}

type telemetryWSError struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TelemetryWSHandler serves the WebSocket ingestion endpoint for agents that
// hold a connection open instead of POSTing per batch.
type TelemetryWSHandler struct {
	service *service.TelemetryService
	logger  *logger.Logger
}

// NewTelemetryWSHandler creates the WebSocket ingestion handler.
func NewTelemetryWSHandler(svc *service.TelemetryService, log *logger.Logger) *TelemetryWSHandler {
	return &TelemetryWSHandler{service: svc, logger: log}
}

// ServeHTTP upgrades the connection and runs the ingestion frame loop.
func (h *TelemetryWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}

	websocket.Handler(func(conn *websocket.Conn) {
		h.handleConn(conn, tenantID)
	}).ServeHTTP(w, r)
}

func (h *TelemetryWSHandler) handleConn(conn *websocket.Conn, tenantID string) {
	defer conn.Close()

	ctx := conn.Request().Context()
	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	decodeErrors := 0
	sessionID := ""

	for {
		var frame telemetryWSFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = encoder.Encode(&telemetryWSError{Type: "error", Code: "invalid_frame", Message: "invalid frame payload"})
			if decodeErrors >= maxWSDecodeErrors {
				return
			}
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case "init":
			if err := middleware.ValidateSessionID(frame.SessionID); err != nil {
				_ = encoder.Encode(&telemetryWSError{Type: "error", Code: "invalid_session", Message: err.Error()})
				continue
			}
			sessionID = frame.SessionID
			_ = encoder.Encode(&telemetryWSAck{Type: "ack"})

		case "telemetry":
			var batch model.TelemetryBatch
			if err := json.Unmarshal(frame.Payload, &batch); err != nil {
				_ = encoder.Encode(&telemetryWSError{Type: "error", Code: "invalid_batch", Message: "invalid telemetry payload"})
				continue
			}
			// Batches inherit the connection's session from the init frame
			// unless they carry their own.
			if batch.SessionID == "" {
				batch.SessionID = sessionID
			}
			if tenantID != "" {
				batch.TenantID = tenantID
			}
			if batch.SessionID != "" {
				if err := middleware.ValidateSessionID(batch.SessionID); err != nil {
					_ = encoder.Encode(&telemetryWSError{Type: "error", Code: "invalid_batch", Message: err.Error()})
					continue
				}
			}
			if batch.TenantID != "" {
				if err := middleware.ValidateTenantID(batch.TenantID); err != nil {
					_ = encoder.Encode(&telemetryWSError{Type: "error", Code: "invalid_batch", Message: err.Error()})
					continue
				}
			}

			seq, dropped, err := h.service.Ingest(ctx, &batch, "ws")
			if err != nil {
				h.logger.Error("failed to ingest websocket batch",
					zap.String("session_id", batch.SessionID),
					zap.Error(err),
				)
				_ = encoder.Encode(&telemetryWSError{Type: "error", Code: "ingest_failed", Message: "failed to ingest telemetry"})
				continue
			}
			_ = encoder.Encode(&telemetryWSAck{Type: "ack", Seq: seq, Dropped: dropped})

		case "ping":
			_ = encoder.Encode(&telemetryWSFrame{Type: "pong"})

		default:
			_ = encoder.Encode(&telemetryWSError{Type: "error", Code: "unsupported_frame", Message: "unsupported frame type"})
		}
	}
}
