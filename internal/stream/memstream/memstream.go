// Package memstream is an in-process stream.Transport with the same consumer
// group semantics as Redis Streams: per-group cursors, a pending-entries list
// per group and idle-based claiming. It backs the "memory" transport option
// for single-process deployments and serves as the transport in tests.
package memstream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/insurance-ai/backoffice/internal/stream"
)

type entry struct {
	seq    uint64
	id     string
	fields map[string]string
}

type pendingEntry struct {
	seq         uint64
	consumer    string
	deliveredAt time.Time
	deliveries  int
}

type consumerGroup struct {
	lastSeq uint64
	pending map[string]*pendingEntry
}

type topicLog struct {
	entries []entry
	byID    map[string]entry
	groups  map[string]*consumerGroup
}

// Transport implements stream.Transport in memory. It is safe for concurrent use.
type Transport struct {
	mu     sync.Mutex
	topics map[string]*topicLog
	seq    uint64
	maxLen int
	now    func() time.Time
	notify chan struct{}
	closed bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithClock overrides the clock used for pending-entry idle times.
func WithClock(now func() time.Time) Option {
	return func(t *Transport) { t.now = now }
}

// WithMaxLen caps each topic at n entries, dropping the oldest first.
func WithMaxLen(n int) Option {
	return func(t *Transport) { t.maxLen = n }
}

// New creates an empty Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		topics: make(map[string]*topicLog),
		now:    time.Now,
		notify: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ stream.Transport = (*Transport)(nil)

func errClosed() error {
	return fmt.Errorf("%w: transport closed", stream.ErrUnavailable)
}

func (t *Transport) topicLocked(name string) *topicLog {
	tp, ok := t.topics[name]
	if !ok {
		tp = &topicLog{
			byID:   make(map[string]entry),
			groups: make(map[string]*consumerGroup),
		}
		t.topics[name] = tp
	}
	return tp
}

func (t *Transport) groupLocked(topic, group string) (*topicLog, *consumerGroup, error) {
	tp, ok := t.topics[topic]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s on %s", stream.ErrNoGroup, group, topic)
	}
	g, ok := tp.groups[group]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s on %s", stream.ErrNoGroup, group, topic)
	}
	return tp, g, nil
}

// EnsureGroup creates the topic and the group at the current tail.
func (t *Transport) EnsureGroup(_ context.Context, topic, group string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errClosed()
	}
	tp := t.topicLocked(topic)
	if _, ok := tp.groups[group]; !ok {
		tp.groups[group] = &consumerGroup{
			lastSeq: t.seq,
			pending: make(map[string]*pendingEntry),
		}
	}
	return nil
}

// Append adds an entry to topic and wakes blocked readers.
func (t *Transport) Append(_ context.Context, topic string, fields map[string]string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", errClosed()
	}

	t.seq++
	e := entry{
		seq:    t.seq,
		id:     fmt.Sprintf("%d-%d", t.now().UnixMilli(), t.seq),
		fields: copyFields(fields),
	}
	tp := t.topicLocked(topic)
	tp.entries = append(tp.entries, e)
	tp.byID[e.id] = e

	if t.maxLen > 0 && len(tp.entries) > t.maxLen {
		drop := len(tp.entries) - t.maxLen
		for _, old := range tp.entries[:drop] {
			delete(tp.byID, old.id)
		}
		tp.entries = append([]entry(nil), tp.entries[drop:]...)
	}

	close(t.notify)
	t.notify = make(chan struct{})
	return e.id, nil
}

// ReadGroup delivers new entries to args.Consumer, waiting up to args.Block.
func (t *Transport) ReadGroup(ctx context.Context, args stream.ReadArgs) ([]stream.Message, error) {
	deadline := time.Now().Add(args.Block)
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return nil, errClosed()
		}
		msgs, err := t.deliverLocked(args)
		wait := t.notify
		t.mu.Unlock()

		if err != nil || len(msgs) > 0 {
			return msgs, err
		}

		remaining := time.Until(deadline)
		if args.Block <= 0 || remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

func (t *Transport) deliverLocked(args stream.ReadArgs) ([]stream.Message, error) {
	groups := make([]*consumerGroup, len(args.Topics))
	logs := make([]*topicLog, len(args.Topics))
	for i, topic := range args.Topics {
		tp, g, err := t.groupLocked(topic, args.Group)
		if err != nil {
			return nil, err
		}
		logs[i], groups[i] = tp, g
	}

	now := t.now()
	var msgs []stream.Message
	for i, topic := range args.Topics {
		tp, g := logs[i], groups[i]
		start := sort.Search(len(tp.entries), func(j int) bool {
			return tp.entries[j].seq > g.lastSeq
		})
		end := len(tp.entries)
		if args.Count > 0 && int64(end-start) > args.Count {
			end = start + int(args.Count)
		}
		for _, e := range tp.entries[start:end] {
			g.lastSeq = e.seq
			g.pending[e.id] = &pendingEntry{
				seq:         e.seq,
				consumer:    args.Consumer,
				deliveredAt: now,
				deliveries:  1,
			}
			msgs = append(msgs, stream.Message{Topic: topic, ID: e.id, Fields: copyFields(e.fields)})
		}
	}
	return msgs, nil
}

// Ack removes ids from the group's pending list. Unknown ids are ignored.
func (t *Transport) Ack(_ context.Context, topic, group string, ids ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errClosed()
	}
	_, g, err := t.groupLocked(topic, group)
	if err != nil {
		return err
	}
	for _, id := range ids {
		delete(g.pending, id)
	}
	return nil
}

// Claim hands entries idle for at least args.MinIdle to args.Consumer, oldest first.
// Pending entries whose data was trimmed are dropped from the pending list.
func (t *Transport) Claim(_ context.Context, args stream.ClaimArgs) ([]stream.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errClosed()
	}
	tp, g, err := t.groupLocked(args.Topic, args.Group)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return g.pending[ids[i]].seq < g.pending[ids[j]].seq })

	now := t.now()
	var msgs []stream.Message
	for _, id := range ids {
		if args.Count > 0 && int64(len(msgs)) >= args.Count {
			break
		}
		p := g.pending[id]
		if now.Sub(p.deliveredAt) < args.MinIdle {
			continue
		}
		e, ok := tp.byID[id]
		if !ok {
			delete(g.pending, id)
			continue
		}
		p.consumer = args.Consumer
		p.deliveredAt = now
		p.deliveries++
		msgs = append(msgs, stream.Message{Topic: args.Topic, ID: id, Fields: copyFields(e.fields)})
	}
	return msgs, nil
}

// Close stops the transport and wakes blocked readers. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.closed {
		t.closed = true
		close(t.notify)
	}
	return nil
}

// Pending reports the number of unacknowledged entries of a group.
func (t *Transport) Pending(topic, group string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, g, err := t.groupLocked(topic, group)
	if err != nil {
		return 0
	}
	return len(g.pending)
}

// Len reports the number of entries retained for topic.
func (t *Transport) Len(topic string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tp, ok := t.topics[topic]; ok {
		return len(tp.entries)
	}
	return 0
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
