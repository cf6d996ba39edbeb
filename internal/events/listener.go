package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/insurance-ai/backoffice/internal/metrics"
	"github.com/insurance-ai/backoffice/internal/platform/logger"
	"github.com/insurance-ai/backoffice/internal/stream"
	"github.com/sethvargo/go-retry"
)

// Listener outcomes reported to metrics.
const (
	outcomeHandled   = "handled"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
	outcomeUnknown   = "unknown"
	outcomeMalformed = "malformed"
)

// ListenerConfig holds consumer identity and polling settings.
type ListenerConfig struct {
	Namespace string
	// Types are the event types subscribed to, one topic each.
	Types    []string
	Group    string
	Consumer string
	// BatchSize caps entries read per topic per poll.
	BatchSize int64
	// Block bounds each wait for new entries.
	Block time.Duration
	// VisibilityTimeout is how long an entry may stay pending before
	// another consumer of the group claims it.
	VisibilityTimeout time.Duration
	// ClaimInterval is how often stale pending entries are claimed.
	ClaimInterval time.Duration
	// MaxBackoff caps the wait between failed reads.
	MaxBackoff time.Duration
}

// DefaultListenerConfig returns a ListenerConfig with reasonable defaults
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		Namespace:         "insurance_ai",
		Types:             []string{TypeUnderwritingCompleted, TypeClaimsFlagged, TypeActuarialBenchmarked},
		Group:             "insurance_ai_event_listeners",
		Consumer:          "main_event_listener",
		BatchSize:         10,
		Block:             time.Second,
		VisibilityTimeout: 30 * time.Second,
		ClaimInterval:     5 * time.Second,
		MaxBackoff:        30 * time.Second,
	}
}

// Listener consumes events for one consumer group and dispatches them.
// An entry is acknowledged only after its handlers succeed or skip it.
// Failed entries stay pending and are claimed again once idle for longer
// than the visibility timeout.
type Listener struct {
	transport  stream.Transport
	dispatcher *Dispatcher
	config     ListenerConfig
	logger     *slog.Logger
	metrics    *metrics.Metrics
	topics     map[string]string
}

// NewListener creates a Listener. Zero config fields take their defaults.
func NewListener(transport stream.Transport, config ListenerConfig, logger *slog.Logger, m *metrics.Metrics) *Listener {
	defaults := DefaultListenerConfig()
	if config.Group == "" {
		config.Group = defaults.Group
	}
	if config.Consumer == "" {
		config.Consumer = defaults.Consumer
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Block <= 0 {
		config.Block = defaults.Block
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = defaults.VisibilityTimeout
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = defaults.ClaimInterval
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}

	l := &Listener{
		transport: transport,
		config:    config,
		logger: logger.With(
			"component", "event_listener",
			"group", config.Group,
			"consumer", config.Consumer,
		),
		metrics: m,
		topics:  make(map[string]string, len(config.Types)),
	}
	l.dispatcher = NewDispatcher(logger)
	for _, t := range config.Types {
		l.topics[stream.Topic(config.Namespace, t)] = t
	}
	return l
}

// Register adds a handler for eventType. Register before Run.
func (l *Listener) Register(eventType string, handler Handler) {
	l.dispatcher.Register(eventType, handler)
}

// Run creates the consumer groups and consumes until ctx is cancelled.
// It returns an error only when the groups cannot be created.
func (l *Listener) Run(ctx context.Context) error {
	if len(l.topics) == 0 {
		return errors.New("listener has no event types to consume")
	}
	topics, err := l.ensureGroups(ctx)
	if err != nil {
		return err
	}

	l.logger.Info("event listener started", "topics", topics)
	defer l.logger.Info("event listener stopped")

	backoff := l.newBackoff()
	var lastClaim time.Time
	recreated := false

	for ctx.Err() == nil {
		if time.Since(lastClaim) >= l.config.ClaimInterval {
			l.claimStale(ctx, topics)
			lastClaim = time.Now()
		}

		msgs, err := l.transport.ReadGroup(ctx, stream.ReadArgs{
			Group:    l.config.Group,
			Consumer: l.config.Consumer,
			Topics:   topics,
			Count:    l.config.BatchSize,
			Block:    l.config.Block,
		})
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, stream.ErrNoGroup) && !recreated {
				// The stream was deleted or flushed under us.
				l.logger.Warn("consumer group missing, recreating", "error", err)
				if _, gerr := l.ensureGroups(ctx); gerr == nil {
					recreated = true
					continue
				}
			}
			wait, _ := backoff.Next()
			l.logger.Error("failed to read events", "error", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				break
			}
			continue
		}
		backoff = l.newBackoff()
		recreated = false

		for _, msg := range msgs {
			l.process(ctx, msg)
		}
	}
	return nil
}

// ProcessOnce claims stale entries and handles one batch of new entries
// without blocking. It is used by tests and one-shot drains.
func (l *Listener) ProcessOnce(ctx context.Context) (int, error) {
	topics, err := l.ensureGroups(ctx)
	if err != nil {
		return 0, err
	}
	n := l.claimStale(ctx, topics)
	msgs, err := l.transport.ReadGroup(ctx, stream.ReadArgs{
		Group:    l.config.Group,
		Consumer: l.config.Consumer,
		Topics:   topics,
		Count:    l.config.BatchSize,
	})
	if err != nil {
		return n, err
	}
	for _, msg := range msgs {
		l.process(ctx, msg)
	}
	return n + len(msgs), nil
}

// ensureGroups creates the consumer group on every subscribed topic and
// returns the topics.
func (l *Listener) ensureGroups(ctx context.Context) ([]string, error) {
	topics := make([]string, 0, len(l.topics))
	for topic := range l.topics {
		if err := l.transport.EnsureGroup(ctx, topic, l.config.Group); err != nil {
			return nil, fmt.Errorf("failed to create consumer group for %s: %w", topic, err)
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

func (l *Listener) claimStale(ctx context.Context, topics []string) int {
	handled := 0
	for _, topic := range topics {
		msgs, err := l.transport.Claim(ctx, stream.ClaimArgs{
			Topic:    topic,
			Group:    l.config.Group,
			Consumer: l.config.Consumer,
			MinIdle:  l.config.VisibilityTimeout,
			Count:    l.config.BatchSize,
		})
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warn("failed to claim stale events", "topic", topic, "error", err)
			}
			continue
		}
		if len(msgs) > 0 {
			l.logger.Info("claimed stale events", "topic", topic, "count", len(msgs))
		}
		for _, msg := range msgs {
			l.process(ctx, msg)
		}
		handled += len(msgs)
	}
	return handled
}

// process handles one entry and acknowledges it unless a handler failed.
func (l *Listener) process(ctx context.Context, msg stream.Message) {
	log := l.logger.With("topic", msg.Topic, "entry_id", msg.ID)

	raw, ok := msg.Fields[stream.PayloadField]
	if !ok {
		log.Warn("dropping entry without payload field")
		l.metrics.ListenerHandled(l.topics[msg.Topic], outcomeMalformed)
		l.ack(ctx, msg, log)
		return
	}

	ev, err := Decode([]byte(raw))
	if err != nil {
		log.Warn("dropping undecodable event", "error", err)
		l.metrics.ListenerHandled(l.topics[msg.Topic], outcomeMalformed)
		l.ack(ctx, msg, log)
		return
	}

	log = log.With("event_id", ev.ID, "event_type", ev.Type)
	hctx := logger.WithLogger(ctx, log)

	err = l.dispatcher.Dispatch(hctx, ev)
	switch {
	case err == nil:
		log.Info("event handled")
		l.metrics.ListenerHandled(ev.Type, outcomeHandled)
		l.ack(ctx, msg, log)
	case errors.Is(err, ErrNoHandler):
		log.Warn("no handler for event type, acknowledging")
		l.metrics.ListenerHandled(ev.Type, outcomeUnknown)
		l.ack(ctx, msg, log)
	case errors.Is(err, ErrSkip):
		log.Warn("event skipped", "reason", err)
		l.metrics.ListenerHandled(ev.Type, outcomeSkipped)
		l.ack(ctx, msg, log)
	default:
		log.Error("event handler failed, leaving pending for redelivery", "error", err)
		l.metrics.ListenerHandled(ev.Type, outcomeFailed)
	}
}

func (l *Listener) ack(ctx context.Context, msg stream.Message, log *slog.Logger) {
	if err := l.transport.Ack(ctx, msg.Topic, l.config.Group, msg.ID); err != nil {
		log.Error("failed to acknowledge event", "error", err)
	}
}

func (l *Listener) newBackoff() retry.Backoff {
	b := retry.NewExponential(100 * time.Millisecond)
	b = retry.WithCappedDuration(l.config.MaxBackoff, b)
	return retry.WithJitterPercent(10, b)
}

// sleep waits for d or until ctx is done. It reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
