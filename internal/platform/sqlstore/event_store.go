package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/insurance-ai/backoffice/internal/platform/logger"
	"github.com/insurance-ai/backoffice/internal/store"
)

// EventLogStore implements store.EventLogStore
type EventLogStore struct {
	db store.DBTX
}

// NewEventLogStore creates a new EventLogStore
func NewEventLogStore(db store.DBTX) *EventLogStore {
	return &EventLogStore{db: db}
}

var _ store.EventLogStore = (*EventLogStore)(nil)

// Insert stores the event record unless one with the same ID exists.
func (s *EventLogStore) Insert(ctx context.Context, rec store.EventRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO events (event_id, event_type, payload, source, institution_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.EventID,
		rec.EventType,
		[]byte(rec.Payload),
		rec.Source,
		nullString(rec.InstitutionID),
		dbTime(createdAt),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert event record",
			"event_id", rec.EventID,
			"event_type", rec.EventType,
			"error", err)
		return fmt.Errorf("failed to insert event record: %w", MapError(err))
	}
	return nil
}

// DeleteOlderThan removes event records created before cutoff
func (s *EventLogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, dbTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old event records: %w", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
