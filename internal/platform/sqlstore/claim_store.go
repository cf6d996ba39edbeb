package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/insurance-ai/backoffice/internal/domain"
	"github.com/insurance-ai/backoffice/internal/platform/logger"
	"github.com/insurance-ai/backoffice/internal/store"
)

// ClaimStore implements store.ClaimStore
type ClaimStore struct {
	db store.DBTX
}

// NewClaimStore creates a new ClaimStore
func NewClaimStore(db store.DBTX) *ClaimStore {
	return &ClaimStore{db: db}
}

var _ store.ClaimStore = (*ClaimStore)(nil)

// GetByClaimID retrieves a claim by its business key
func (s *ClaimStore) GetByClaimID(ctx context.Context, claimID string) (*domain.Claim, error) {
	query := `
		SELECT id, claim_id, institution_id, status, created_at, updated_at
		FROM claims
		WHERE claim_id = $1
	`
	var c domain.Claim
	var status string
	err := s.db.QueryRowContext(ctx, query, claimID).Scan(
		&c.ID,
		&c.ClaimID,
		&c.InstitutionID,
		&status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrClaimNotFound, claimID)
		}
		return nil, fmt.Errorf("failed to get claim: %w", MapError(err))
	}
	c.Status = domain.ClaimStatus(status)
	return &c, nil
}

// UpdateStatus sets the status of a claim
func (s *ClaimStore) UpdateStatus(ctx context.Context, claimID string, status domain.ClaimStatus) error {
	return updateRecordStatus(ctx, s.db, "claims", "claim_id", claimID, string(status), store.ErrClaimNotFound)
}

// InsertDecision stores a claim decision once per (claim, event)
func (s *ClaimStore) InsertDecision(ctx context.Context, d *domain.ClaimDecision) (bool, error) {
	if err := d.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO claim_decisions
			(claim_id, event_id, decision, decision_factors, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (claim_id, event_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		d.ClaimID,
		d.EventID,
		d.Decision,
		nullBytes(d.DecisionFactors),
		d.CreatedBy,
		dbTime(createdAt),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert claim decision",
			"claim_id", d.ClaimID,
			"event_id", d.EventID,
			"error", err)
		return false, fmt.Errorf("failed to insert claim decision: %w", MapError(err))
	}
	return inserted(result)
}

// WithTx returns a new ClaimStore that uses the provided transaction
func (s *ClaimStore) WithTx(tx *sql.Tx) store.ClaimStore {
	return &ClaimStore{db: tx}
}
