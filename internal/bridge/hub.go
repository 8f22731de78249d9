// Package bridge fans messages from the event log out to live WebSocket
// clients: dashboards subscribing to log subjects, and browser sessions
// receiving targeted intervention pushes.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentientiq/behavioral-platform/pkg/logger"
	"github.com/sentientiq/behavioral-platform/pkg/metrics"
)

// Sender delivers frames to one connected client. Send must be safe for
// concurrent use; the WebSocket implementation serializes writes internally.
type Sender interface {
	Send(v any) error
	Close() error
}

// LogSubscriber opens a live tail on an event log subject. The returned
// function stops the tail.
type LogSubscriber interface {
	Subscribe(ctx context.Context, subject string, handler func(subject string, data []byte)) (func(), error)
}

// Frame is the envelope pushed to subscribed clients.
type Frame struct {
	Type      string          `json:"type"`
	Subject   string          `json:"subject,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type client struct {
	id        string
	sessionID string
	tenantID  string
	sender    Sender
	subjects  map[string]bool
}

// subjectSub is one live log tail shared by every client on the subject.
type subjectSub struct {
	stop    func()
	clients map[string]*client
}

// Hub multiplexes log subjects onto client connections. One log tail exists
// per subject regardless of how many clients watch it; the tail is torn down
// when the last client unsubscribes.
type Hub struct {
	subscriber LogSubscriber
	log        *logger.Logger
	now        func() time.Time

	mu        sync.Mutex
	clients   map[string]*client
	bySession map[string]map[string]*client
	subs      map[string]*subjectSub

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a fan-out hub over the given log subscriber.
func NewHub(subscriber LogSubscriber, log *logger.Logger) *Hub {
	return &Hub{
		subscriber: subscriber,
		log:        log,
		now:        time.Now,
		clients:    make(map[string]*client),
		bySession:  make(map[string]map[string]*client),
		subs:       make(map[string]*subjectSub),
		done:       make(chan struct{}),
	}
}

// Register adds a connection and returns its client ID. sessionID may be
// empty for dashboard connections that only tail subjects.
func (h *Hub) Register(sessionID, tenantID string, sender Sender) string {
	c := &client{
		id:        uuid.Must(uuid.NewV7()).String(),
		sessionID: sessionID,
		tenantID:  tenantID,
		sender:    sender,
		subjects:  make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	if sessionID != "" {
		if h.bySession[sessionID] == nil {
			h.bySession[sessionID] = make(map[string]*client)
		}
		h.bySession[sessionID][c.id] = c
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.BridgeConnectionsActive.Set(float64(total))
	h.log.Debug("bridge client registered",
		zap.String("client_id", c.id),
		zap.String("session_id", sessionID),
		zap.String("tenant_id", tenantID),
	)
	return c.id
}

// Unregister removes a connection and releases its subject subscriptions.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, clientID)
	if c.sessionID != "" {
		delete(h.bySession[c.sessionID], clientID)
		if len(h.bySession[c.sessionID]) == 0 {
			delete(h.bySession, c.sessionID)
		}
	}
	var stops []func()
	for subject := range c.subjects {
		if stop := h.dropFromSubjectLocked(subject, clientID); stop != nil {
			stops = append(stops, stop)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	metrics.BridgeConnectionsActive.Set(float64(total))
	_ = c.sender.Close()
}

// Subscribe attaches a client to a log subject, opening the shared tail on
// first use.
func (h *Hub) Subscribe(ctx context.Context, clientID, subject string) error {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return ErrUnknownClient
	}
	if c.subjects[subject] {
		h.mu.Unlock()
		return nil
	}

	sub, exists := h.subs[subject]
	if !exists {
		sub = &subjectSub{clients: make(map[string]*client)}
		h.subs[subject] = sub
	}
	sub.clients[clientID] = c
	c.subjects[subject] = true
	h.mu.Unlock()

	if exists {
		return nil
	}

	stop, err := h.subscriber.Subscribe(ctx, subject, func(subject string, data []byte) {
		h.fanOut(subject, data)
	})
	if err != nil {
		// The tail never opened. Detach every watcher that piggybacked on the
		// pending sub, not just the opener, so any later subscribe reopens
		// the tail instead of riding a sub with no underlying consumer.
		h.mu.Lock()
		for id, watcher := range sub.clients {
			delete(watcher.subjects, subject)
			delete(sub.clients, id)
		}
		if h.subs[subject] == sub {
			delete(h.subs, subject)
		}
		h.mu.Unlock()
		return err
	}

	h.mu.Lock()
	sub.stop = stop
	// Everyone may have unsubscribed while the tail was opening.
	orphaned := len(sub.clients) == 0
	if orphaned {
		delete(h.subs, subject)
	}
	h.mu.Unlock()

	if orphaned {
		stop()
	}
	return nil
}

// Unsubscribe detaches a client from a subject, closing the shared tail when
// it was the last watcher.
func (h *Hub) Unsubscribe(clientID, subject string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		delete(c.subjects, subject)
	}
	stop := h.dropFromSubjectLocked(subject, clientID)
	h.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// dropFromSubjectLocked removes the client from a subject's watcher set and
// returns the tail's stop function when the set becomes empty.
func (h *Hub) dropFromSubjectLocked(subject, clientID string) func() {
	sub, ok := h.subs[subject]
	if !ok {
		return nil
	}
	delete(sub.clients, clientID)
	if len(sub.clients) > 0 {
		return nil
	}
	delete(h.subs, subject)
	return sub.stop
}

// fanOut delivers one log message to every client watching the subject.
// Clients whose sender fails are evicted.
func (h *Hub) fanOut(subject string, data []byte) {
	frame := &Frame{
		Type:      "message",
		Subject:   subject,
		Data:      json.RawMessage(data),
		Timestamp: h.now().UnixMilli(),
	}

	h.mu.Lock()
	sub, ok := h.subs[subject]
	if !ok {
		h.mu.Unlock()
		return
	}
	targets := make([]*client, 0, len(sub.clients))
	for _, c := range sub.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	metrics.BridgeMessagesTotal.WithLabelValues(subject).Inc()

	for _, c := range targets {
		if err := c.sender.Send(frame); err != nil {
			h.log.Warn("dropping unresponsive bridge client",
				zap.String("client_id", c.id),
				zap.String("subject", subject),
				zap.Error(err),
			)
			h.Unregister(c.id)
		}
	}
}

// PushToSession delivers a payload to every connection bound to the session.
// Returns false when no connection exists; the caller treats that as a
// disconnected session, not an error.
func (h *Hub) PushToSession(sessionID string, payload any) bool {
	h.mu.Lock()
	conns := h.bySession[sessionID]
	targets := make([]*client, 0, len(conns))
	for _, c := range conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return false
	}

	delivered := false
	for _, c := range targets {
		if err := c.sender.Send(payload); err != nil {
			h.Unregister(c.id)
			continue
		}
		delivered = true
	}
	return delivered
}

// StartHeartbeat broadcasts a heartbeat frame to all clients on the given
// interval so intermediaries keep idle connections open.
func (h *Hub) StartHeartbeat(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				h.broadcastHeartbeat()
			}
		}
	}()
}

func (h *Hub) broadcastHeartbeat() {
	frame := &Frame{Type: "heartbeat", Timestamp: h.now().UnixMilli()}

	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.sender.Send(frame); err != nil {
			h.Unregister(c.id)
		}
	}
}

// Stop terminates the heartbeat loop and closes every connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.Unregister(id)
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
