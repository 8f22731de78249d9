package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"github.com/sentientiq/behavioral-platform/internal/middleware"
	natsstream "github.com/sentientiq/behavioral-platform/internal/nats"
	"github.com/sentientiq/behavioral-platform/pkg/logger"
)

// ErrUnknownClient is returned when a hub operation references a client that
// was never registered or has already disconnected.
var ErrUnknownClient = errors.New("unknown bridge client")

// maxDecodeErrorsPerConn bounds how many malformed frames a connection may
// send before it is dropped.
const maxDecodeErrorsPerConn = 5

// clientFrame is a control frame sent by a connected client.
type clientFrame struct {
	Type    string `json:"type"`
	Subject string `json:"subject,omitempty"`
}

type ackFrame struct {
	Type    string `json:"type"` // "ack"
	Op      string `json:"op"`
	Subject string `json:"subject,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsSender serializes writes onto one WebSocket connection.
type wsSender struct {
	mu  sync.Mutex
	enc *json.Encoder
	ws  *websocket.Conn
}

func newWSSender(ws *websocket.Conn) *wsSender {
	return &wsSender{enc: json.NewEncoder(ws), ws: ws}
}

func (s *wsSender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(v)
}

func (s *wsSender) Close() error {
	return s.ws.Close()
}

// WSHandler serves the realtime fan-out WebSocket endpoint. Clients identify
// their tenant (and optionally session) via query parameters resolved before
// the upgrade, then manage subject subscriptions with control frames.
type WSHandler struct {
	hub *Hub
	log *logger.Logger
}

// NewWSHandler creates the bridge WebSocket handler.
func NewWSHandler(hub *Hub, log *logger.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// ServeHTTP upgrades the connection and runs the frame loop.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.GetTenantID(r.Context())
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	websocket.Handler(func(conn *websocket.Conn) {
		h.handleConn(conn, tenantID, sessionID)
	}).ServeHTTP(w, r)
}

func (h *WSHandler) handleConn(conn *websocket.Conn, tenantID, sessionID string) {
	sender := newWSSender(conn)
	clientID := h.hub.Register(sessionID, tenantID, sender)
	defer h.hub.Unregister(clientID)

	ctx := conn.Request().Context()
	decoder := json.NewDecoder(conn)
	decodeErrors := 0

	for {
		var frame clientFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = sender.Send(&errorFrame{Type: "error", Code: "invalid_frame", Message: "invalid frame payload"})
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case "subscribe":
			if !subjectAllowed(tenantID, frame.Subject) {
				_ = sender.Send(&errorFrame{Type: "error", Code: "forbidden_subject", Message: "subject is not available to this tenant"})
				continue
			}
			if err := h.hub.Subscribe(ctx, clientID, frame.Subject); err != nil {
				h.log.Warn("bridge subscribe failed",
					zap.String("client_id", clientID),
					zap.String("subject", frame.Subject),
					zap.Error(err),
				)
				_ = sender.Send(&errorFrame{Type: "error", Code: "subscribe_failed", Message: "could not open subscription"})
				continue
			}
			_ = sender.Send(&ackFrame{Type: "ack", Op: "subscribe", Subject: frame.Subject})
		case "unsubscribe":
			h.hub.Unsubscribe(clientID, frame.Subject)
			_ = sender.Send(&ackFrame{Type: "ack", Op: "unsubscribe", Subject: frame.Subject})
		default:
			_ = sender.Send(&errorFrame{Type: "error", Code: "unsupported_frame", Message: "unsupported frame type"})
		}
	}
}

// subjectAllowed restricts subscriptions to the tenant's own emotion state
// and intervention audit subjects.
func subjectAllowed(tenantID, subject string) bool {
	if subject == "" {
		return false
	}
	return subject == natsstream.EmotionStateSubject(tenantID) ||
		subject == natsstream.InterventionSubject(tenantID)
}
