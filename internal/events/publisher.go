package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/insurance-ai/backoffice/internal/metrics"
	"github.com/insurance-ai/backoffice/internal/platform/logger"
	"github.com/insurance-ai/backoffice/internal/store"
	"github.com/insurance-ai/backoffice/internal/stream"
)

// DefaultSource is stamped on events published without a source.
const DefaultSource = "system"

// PublisherConfig holds publisher settings.
type PublisherConfig struct {
	// Namespace prefixes every topic, e.g. "insurance_ai".
	Namespace string
	// Source is stamped on events that do not carry one.
	Source string
}

// Publisher appends events to the stream transport.
type Publisher struct {
	transport stream.Transport
	eventLog  store.EventLogStore
	config    PublisherConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewPublisher creates a Publisher. eventLog and m may be nil.
func NewPublisher(
	transport stream.Transport,
	eventLog store.EventLogStore,
	config PublisherConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Publisher {
	if config.Source == "" {
		config.Source = DefaultSource
	}
	return &Publisher{
		transport: transport,
		eventLog:  eventLog,
		config:    config,
		logger:    logger.With("component", "event_publisher"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Topic returns the stream topic carrying eventType.
func (p *Publisher) Topic(eventType string) string {
	return stream.Topic(p.config.Namespace, eventType)
}

// Publish stamps and appends ev and returns its event ID. A missing ID gets
// a random UUID. The event log copy is best effort: its failure is logged
// and does not fail the publish. Transport failures return an error
// wrapping ErrTransportUnavailable.
func (p *Publisher) Publish(ctx context.Context, ev Event) (string, error) {
	if ev.Type == "" {
		return "", fmt.Errorf("cannot publish event without a type")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now()
	}
	if ev.Source == "" {
		ev.Source = p.config.Source
	}

	log := logger.FromContextOrDefault(ctx, p.logger).With(
		"event_id", ev.ID,
		"event_type", ev.Type,
	)

	payload, err := ev.Encode()
	if err != nil {
		return "", err
	}

	entryID, err := p.transport.Append(ctx, p.Topic(ev.Type), map[string]string{
		stream.PayloadField: string(payload),
	})
	if err != nil {
		p.metrics.EventPublishFailed(ev.Type)
		log.Error("failed to append event", "error", err)
		return "", fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	p.metrics.EventPublished(ev.Type)
	log.Debug("event published", "entry_id", entryID)

	if p.eventLog != nil {
		rec := store.EventRecord{
			EventID:       ev.ID,
			EventType:     ev.Type,
			Payload:       payload,
			Source:        ev.Source,
			InstitutionID: ev.InstitutionID,
			CreatedAt:     ev.Timestamp,
		}
		if err := p.eventLog.Insert(ctx, rec); err != nil {
			log.Warn("failed to store event log copy", "error", err)
		}
	}

	return ev.ID, nil
}

// PublishType builds an event from data and publishes it.
func (p *Publisher) PublishType(ctx context.Context, eventType, institutionID string, data any) (string, error) {
	ev, err := NewEvent(eventType, institutionID, data)
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, *ev)
}
