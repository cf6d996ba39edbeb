package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/insurance-ai/backoffice/internal/stream"
	"github.com/insurance-ai/backoffice/internal/stream/memstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testListenerConfig(group string) ListenerConfig {
	cfg := DefaultListenerConfig()
	cfg.Namespace = "test"
	cfg.Group = group
	cfg.Consumer = group + "-1"
	return cfg
}

// ensureGroups creates the listener's groups before anything is published,
// since a new group starts at the tail of the topic.
func ensureGroups(t *testing.T, l *Listener) {
	t.Helper()
	_, err := l.ProcessOnce(context.Background())
	require.NoError(t, err)
}

func TestListenerFanOutToGroups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := memstream.New()
	pub := NewPublisher(tr, nil, PublisherConfig{Namespace: "test"}, discardLogger(), nil)

	primary := NewListener(tr, testListenerConfig("listeners"), discardLogger(), nil)
	audit := NewListener(tr, testListenerConfig("audit"), discardLogger(), nil)
	primaryHandler, auditHandler := &MockHandler{}, &MockHandler{}
	primary.Register(TypeClaimsFlagged, primaryHandler)
	audit.Register(TypeClaimsFlagged, auditHandler)
	ensureGroups(t, primary)
	ensureGroups(t, audit)

	id, err := pub.PublishType(ctx, TypeClaimsFlagged, "inst", map[string]any{"claim_id": "C1"})
	require.NoError(t, err)

	n, err := primary.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = audit.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 1, primaryHandler.HandledCount)
	assert.Equal(t, 1, auditHandler.HandledCount)
	assert.Equal(t, id, primaryHandler.LastEvent.ID)
	assert.Equal(t, 0, tr.Pending("test:claims.flagged", "listeners"))
	assert.Equal(t, 0, tr.Pending("test:claims.flagged", "audit"))
}

func TestListenerRedeliversFailedEventAfterVisibilityTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := memstream.New(memstream.WithClock(clock.Now))
	pub := NewPublisher(tr, nil, PublisherConfig{Namespace: "test"}, discardLogger(), nil)

	l := NewListener(tr, testListenerConfig("listeners"), discardLogger(), nil)
	var calls atomic.Int32
	l.Register(TypeUnderwritingCompleted, HandlerFunc(func(context.Context, *Event) error {
		if calls.Add(1) == 1 {
			return errors.New("database unavailable")
		}
		return nil
	}))
	ensureGroups(t, l)

	_, err := pub.PublishType(ctx, TypeUnderwritingCompleted, "inst", map[string]any{"application_id": "A1"})
	require.NoError(t, err)

	_, err = l.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, tr.Pending("test:underwriting.completed", "listeners"), "failed event stays pending")

	_, err = l.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "not redelivered before the visibility timeout")

	clock.Advance(31 * time.Second)
	n, err := l.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 0, tr.Pending("test:underwriting.completed", "listeners"))
}

func TestListenerKeepsPanickingHandlerEntryPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := memstream.New(memstream.WithClock(clock.Now))
	pub := NewPublisher(tr, nil, PublisherConfig{Namespace: "test"}, discardLogger(), nil)

	l := NewListener(tr, testListenerConfig("listeners"), discardLogger(), nil)
	var calls atomic.Int32
	l.Register(TypeClaimsFlagged, HandlerFunc(func(context.Context, *Event) error {
		if calls.Add(1) == 1 {
			var seen map[string]bool
			seen["C1"] = true
		}
		return nil
	}))
	ensureGroups(t, l)

	_, err := pub.PublishType(ctx, TypeClaimsFlagged, "inst", map[string]any{"claim_id": "C1"})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		_, err = l.ProcessOnce(ctx)
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, tr.Pending("test:claims.flagged", "listeners"), "panicked event stays pending")

	clock.Advance(31 * time.Second)
	n, err := l.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 0, tr.Pending("test:claims.flagged", "listeners"))
}

func TestListenerAcknowledgesUnhandledEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tr := memstream.New()
	l := NewListener(tr, testListenerConfig("listeners"), discardLogger(), nil)
	l.Register(TypeClaimsFlagged, HandlerFunc(func(context.Context, *Event) error {
		return Skip("claim not found")
	}))
	ensureGroups(t, l)

	// no handler registered for this type
	pub := NewPublisher(tr, nil, PublisherConfig{Namespace: "test"}, discardLogger(), nil)
	_, err := pub.PublishType(ctx, TypeActuarialBenchmarked, "", nil)
	require.NoError(t, err)
	// skipped by its handler
	_, err = pub.PublishType(ctx, TypeClaimsFlagged, "", nil)
	require.NoError(t, err)
	// malformed entries
	_, err = tr.Append(ctx, "test:claims.flagged", map[string]string{"payload": "{not json"})
	require.NoError(t, err)
	_, err = tr.Append(ctx, "test:claims.flagged", map[string]string{"other": "x"})
	require.NoError(t, err)

	n, err := l.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, tr.Pending("test:claims.flagged", "listeners"))
	assert.Equal(t, 0, tr.Pending("test:actuarial.benchmarked", "listeners"))
}

func TestListenerRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	tr := memstream.New()
	cfg := testListenerConfig("listeners")
	cfg.Block = 20 * time.Millisecond
	l := NewListener(tr, cfg, discardLogger(), nil)

	handled := make(chan string, 1)
	l.Register(TypeClaimsFlagged, HandlerFunc(func(_ context.Context, ev *Event) error {
		select {
		case handled <- ev.ID:
		default:
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	pub := NewPublisher(tr, nil, PublisherConfig{Namespace: "test"}, discardLogger(), nil)
	var id string
	require.Eventually(t, func() bool {
		// groups are created asynchronously by Run; publish until one is seen
		var err error
		id, err = pub.PublishType(context.Background(), TypeClaimsFlagged, "", nil)
		if err != nil {
			return false
		}
		select {
		case got := <-handled:
			return got != ""
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, id)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

// groupLosingTransport reports the consumer group missing on its first read,
// the way Redis does after the stream key is deleted.
type groupLosingTransport struct {
	*memstream.Transport
	lost    atomic.Bool
	ensured atomic.Int32
}

func (t *groupLosingTransport) EnsureGroup(ctx context.Context, topic, group string) error {
	t.ensured.Add(1)
	return t.Transport.EnsureGroup(ctx, topic, group)
}

func (t *groupLosingTransport) ReadGroup(ctx context.Context, args stream.ReadArgs) ([]stream.Message, error) {
	if t.lost.CompareAndSwap(false, true) {
		return nil, stream.ErrNoGroup
	}
	return t.Transport.ReadGroup(ctx, args)
}

func TestListenerRunRecreatesMissingGroup(t *testing.T) {
	t.Parallel()
	tr := &groupLosingTransport{Transport: memstream.New()}
	cfg := testListenerConfig("listeners")
	cfg.Types = []string{TypeClaimsFlagged}
	cfg.Block = 20 * time.Millisecond
	cfg.MaxBackoff = time.Hour
	l := NewListener(tr, cfg, discardLogger(), nil)

	handled := make(chan struct{}, 1)
	l.Register(TypeClaimsFlagged, HandlerFunc(func(context.Context, *Event) error {
		select {
		case handled <- struct{}{}:
		default:
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return tr.ensured.Load() >= 2 }, 2*time.Second, 5*time.Millisecond,
		"group is created again after the read reports it missing")

	pub := NewPublisher(tr, nil, PublisherConfig{Namespace: "test"}, discardLogger(), nil)
	_, err := pub.PublishType(context.Background(), TypeClaimsFlagged, "", nil)
	require.NoError(t, err)

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("event not handled after group was recreated")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestListenerRunWithoutTypes(t *testing.T) {
	t.Parallel()
	cfg := testListenerConfig("listeners")
	cfg.Types = nil
	l := NewListener(memstream.New(), cfg, discardLogger(), nil)

	assert.Error(t, l.Run(context.Background()))
}
