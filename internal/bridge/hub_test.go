package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentientiq/behavioral-platform/pkg/logger"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []any
	err    error
	closed bool
}

func (s *fakeSender) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, v)
	return nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSender) sent() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.frames...)
}

type fakeSubscriber struct {
	mu       sync.Mutex
	handlers map[string]func(subject string, data []byte)
	stopped  map[string]int
	err      error

	// When set, Subscribe signals opening and then blocks until gate yields,
	// letting tests interleave other calls with an in-flight tail open.
	gate    chan error
	opening chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		handlers: make(map[string]func(subject string, data []byte)),
		stopped:  make(map[string]int),
	}
}

func (f *fakeSubscriber) Subscribe(_ context.Context, subject string, handler func(subject string, data []byte)) (func(), error) {
	f.mu.Lock()
	gate, opening := f.gate, f.opening
	f.mu.Unlock()
	if opening != nil {
		opening <- struct{}{}
	}
	if gate != nil {
		if err := <-gate; err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.handlers[subject] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.stopped[subject]++
		delete(f.handlers, subject)
	}, nil
}

func (f *fakeSubscriber) emit(subject string, data []byte) {
	f.mu.Lock()
	handler := f.handlers[subject]
	f.mu.Unlock()
	if handler != nil {
		handler(subject, data)
	}
}

func (f *fakeSubscriber) activeSubjects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeSubscriber) stopCount(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped[subject]
}

func TestSubscribedClientsReceiveLogMessages(t *testing.T) {
	sub := newFakeSubscriber()
	hub := NewHub(sub, logger.NewNop())
	ctx := context.Background()

	a := &fakeSender{}
	b := &fakeSender{}
	idA := hub.Register("", "acme", a)
	idB := hub.Register("", "acme", b)

	require.NoError(t, hub.Subscribe(ctx, idA, "emotions.state.acme"))
	require.NoError(t, hub.Subscribe(ctx, idB, "emotions.state.acme"))
	assert.Equal(t, 1, sub.activeSubjects(), "one shared tail per subject")

	sub.emit("emotions.state.acme", []byte(`{"dominant":"frustration"}`))

	require.Len(t, a.sent(), 1)
	require.Len(t, b.sent(), 1)
	frame := a.sent()[0].(*Frame)
	assert.Equal(t, "message", frame.Type)
	assert.Equal(t, "emotions.state.acme", frame.Subject)
	assert.JSONEq(t, `{"dominant":"frustration"}`, string(frame.Data))
}

func TestLastUnsubscribeClosesTail(t *testing.T) {
	sub := newFakeSubscriber()
	hub := NewHub(sub, logger.NewNop())
	ctx := context.Background()

	idA := hub.Register("", "acme", &fakeSender{})
	idB := hub.Register("", "acme", &fakeSender{})
	require.NoError(t, hub.Subscribe(ctx, idA, "emotions.state.acme"))
	require.NoError(t, hub.Subscribe(ctx, idB, "emotions.state.acme"))

	hub.Unsubscribe(idA, "emotions.state.acme")
	assert.Equal(t, 0, sub.stopCount("emotions.state.acme"), "tail stays open while a watcher remains")

	hub.Unsubscribe(idB, "emotions.state.acme")
	assert.Equal(t, 1, sub.stopCount("emotions.state.acme"))
	assert.Equal(t, 0, sub.activeSubjects())
}

func TestUnregisterReleasesSubscriptions(t *testing.T) {
	sub := newFakeSubscriber()
	hub := NewHub(sub, logger.NewNop())
	ctx := context.Background()

	sender := &fakeSender{}
	id := hub.Register("s1", "acme", sender)
	require.NoError(t, hub.Subscribe(ctx, id, "emotions.state.acme"))
	require.NoError(t, hub.Subscribe(ctx, id, "interventions.events.acme"))

	hub.Unregister(id)

	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, sub.activeSubjects())
	assert.True(t, sender.closed)
	assert.False(t, hub.PushToSession("s1", "late"), "session binding must be gone")
}

func TestPushToSessionDeliversOnlyToBoundConnections(t *testing.T) {
	hub := NewHub(newFakeSubscriber(), logger.NewNop())

	bound := &fakeSender{}
	other := &fakeSender{}
	hub.Register("s1", "acme", bound)
	hub.Register("s2", "acme", other)

	assert.True(t, hub.PushToSession("s1", "payload"))
	assert.Len(t, bound.sent(), 1)
	assert.Empty(t, other.sent())

	assert.False(t, hub.PushToSession("s3", "payload"), "unknown session reports no delivery")
}

func TestFailingSenderIsEvicted(t *testing.T) {
	sub := newFakeSubscriber()
	hub := NewHub(sub, logger.NewNop())
	ctx := context.Background()

	broken := &fakeSender{err: errors.New("write: broken pipe")}
	healthy := &fakeSender{}
	idBroken := hub.Register("", "acme", broken)
	idHealthy := hub.Register("", "acme", healthy)
	require.NoError(t, hub.Subscribe(ctx, idBroken, "emotions.state.acme"))
	require.NoError(t, hub.Subscribe(ctx, idHealthy, "emotions.state.acme"))

	sub.emit("emotions.state.acme", []byte(`{}`))

	assert.Equal(t, 1, hub.ClientCount(), "failed sender must be evicted")
	assert.Len(t, healthy.sent(), 1)
}

func TestSubscribeErrorPropagates(t *testing.T) {
	sub := newFakeSubscriber()
	sub.err = errors.New("stream unavailable")
	hub := NewHub(sub, logger.NewNop())

	id := hub.Register("", "acme", &fakeSender{})
	err := hub.Subscribe(context.Background(), id, "emotions.state.acme")
	require.Error(t, err)

	// A later retry succeeds once the log recovers.
	sub.err = nil
	require.NoError(t, hub.Subscribe(context.Background(), id, "emotions.state.acme"))
	assert.Equal(t, 1, sub.activeSubjects())
}

func TestFailedTailOpenDetachesAllWatchers(t *testing.T) {
	sub := newFakeSubscriber()
	sub.gate = make(chan error)
	sub.opening = make(chan struct{})
	hub := NewHub(sub, logger.NewNop())
	ctx := context.Background()

	a := &fakeSender{}
	b := &fakeSender{}
	idA := hub.Register("", "acme", a)
	idB := hub.Register("", "acme", b)

	errA := make(chan error, 1)
	go func() { errA <- hub.Subscribe(ctx, idA, "emotions.state.acme") }()
	<-sub.opening // A's tail open is now in flight

	// B attaches to the pending sub and is acked without opening a second tail.
	require.NoError(t, hub.Subscribe(ctx, idB, "emotions.state.acme"))

	// The open fails: the whole sub must be torn down, B included.
	sub.gate <- errors.New("stream unavailable")
	require.Error(t, <-errA)

	// After the broker recovers, a resubscribe must open a fresh tail rather
	// than ride the dead sub.
	sub.mu.Lock()
	sub.gate, sub.opening = nil, nil
	sub.mu.Unlock()
	require.NoError(t, hub.Subscribe(ctx, idB, "emotions.state.acme"))
	assert.Equal(t, 1, sub.activeSubjects())

	sub.emit("emotions.state.acme", []byte(`{}`))
	assert.Len(t, b.sent(), 1, "resubscribed client must receive messages")
}

func TestSubscribeUnknownClient(t *testing.T) {
	hub := NewHub(newFakeSubscriber(), logger.NewNop())
	err := hub.Subscribe(context.Background(), "nope", "emotions.state.acme")
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestSubjectAllowed(t *testing.T) {
	assert.True(t, subjectAllowed("acme", "emotions.state.acme"))
	assert.True(t, subjectAllowed("acme", "interventions.events.acme"))
	assert.False(t, subjectAllowed("acme", "emotions.state.other"))
	assert.False(t, subjectAllowed("acme", "telemetry.events.acme"))
	assert.False(t, subjectAllowed("acme", ""))
}
