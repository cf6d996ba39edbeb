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

// ApplicationStore implements store.ApplicationStore
type ApplicationStore struct {
	db store.DBTX
}

// NewApplicationStore creates a new ApplicationStore
func NewApplicationStore(db store.DBTX) *ApplicationStore {
	return &ApplicationStore{db: db}
}

var _ store.ApplicationStore = (*ApplicationStore)(nil)

// GetByApplicationID retrieves an application by its business key
func (s *ApplicationStore) GetByApplicationID(ctx context.Context, applicationID string) (*domain.Application, error) {
	query := `
		SELECT id, application_id, institution_id, status, created_at, updated_at
		FROM applications
		WHERE application_id = $1
	`
	var a domain.Application
	var status string
	err := s.db.QueryRowContext(ctx, query, applicationID).Scan(
		&a.ID,
		&a.ApplicationID,
		&a.InstitutionID,
		&status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrApplicationNotFound, applicationID)
		}
		return nil, fmt.Errorf("failed to get application: %w", MapError(err))
	}
	a.Status = domain.ApplicationStatus(status)
	return &a, nil
}

// UpdateStatus sets the status of an application
func (s *ApplicationStore) UpdateStatus(ctx context.Context, applicationID string, status domain.ApplicationStatus) error {
	return updateRecordStatus(ctx, s.db, "applications", "application_id", applicationID, string(status), store.ErrApplicationNotFound)
}

// InsertDecision stores an underwriting decision once per (application, event)
func (s *ApplicationStore) InsertDecision(ctx context.Context, d *domain.UnderwritingDecision) (bool, error) {
	if err := d.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO underwriting_decisions
			(application_id, event_id, decision, risk_score, decision_factors, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (application_id, event_id) DO NOTHING
	`
	var riskScore sql.NullFloat64
	if d.RiskScore != nil {
		riskScore = sql.NullFloat64{Float64: *d.RiskScore, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, query,
		d.ApplicationID,
		d.EventID,
		d.Decision,
		riskScore,
		nullBytes(d.DecisionFactors),
		d.CreatedBy,
		dbTime(createdAt),
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert underwriting decision",
			"application_id", d.ApplicationID,
			"event_id", d.EventID,
			"error", err)
		return false, fmt.Errorf("failed to insert underwriting decision: %w", MapError(err))
	}
	return inserted(result)
}

// WithTx returns a new ApplicationStore that uses the provided transaction
func (s *ApplicationStore) WithTx(tx *sql.Tx) store.ApplicationStore {
	return &ApplicationStore{db: tx}
}

// updateRecordStatus sets status and updated_at on the row of table whose
// keyColumn equals key. table and keyColumn are constants, never input.
func updateRecordStatus(
	ctx context.Context,
	db store.DBTX,
	table, keyColumn, key, status string,
	notFound error,
) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = $2 WHERE %s = $3`, table, keyColumn)
	result, err := db.ExecContext(ctx, query, status, dbTime(time.Now()), key)
	if err != nil {
		return fmt.Errorf("failed to update %s status: %w", table, MapError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", notFound, key)
	}
	return nil
}

// inserted reports whether an INSERT ... ON CONFLICT DO NOTHING added a row.
func inserted(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}
