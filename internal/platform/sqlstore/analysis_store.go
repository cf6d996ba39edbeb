package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/insurance-ai/backoffice/internal/domain"
	"github.com/insurance-ai/backoffice/internal/store"
)

// AnalysisStore implements store.AnalysisStore
type AnalysisStore struct {
	db store.DBTX
}

// NewAnalysisStore creates a new AnalysisStore
func NewAnalysisStore(db store.DBTX) *AnalysisStore {
	return &AnalysisStore{db: db}
}

var _ store.AnalysisStore = (*AnalysisStore)(nil)

// GetByAnalysisID retrieves an analysis by its business key
func (s *AnalysisStore) GetByAnalysisID(ctx context.Context, analysisID string) (*domain.ActuarialAnalysis, error) {
	query := `
		SELECT id, analysis_id, institution_id, status, results, created_at, updated_at
		FROM actuarial_analyses
		WHERE analysis_id = $1
	`
	var a domain.ActuarialAnalysis
	var status string
	var results []byte
	err := s.db.QueryRowContext(ctx, query, analysisID).Scan(
		&a.ID,
		&a.AnalysisID,
		&a.InstitutionID,
		&status,
		&results,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrAnalysisNotFound, analysisID)
		}
		return nil, fmt.Errorf("failed to get actuarial analysis: %w", MapError(err))
	}
	a.Status = domain.AnalysisStatus(status)
	if len(results) > 0 {
		a.Results = results
	}
	return &a, nil
}

// UpdateResults replaces the results and status of an analysis
func (s *AnalysisStore) UpdateResults(
	ctx context.Context,
	analysisID string,
	status domain.AnalysisStatus,
	results json.RawMessage,
) error {
	query := `
		UPDATE actuarial_analyses
		SET status = $1, results = $2, updated_at = $3
		WHERE analysis_id = $4
	`
	result, err := s.db.ExecContext(ctx, query, string(status), nullBytes(results), dbTime(time.Now()), analysisID)
	if err != nil {
		return fmt.Errorf("failed to update actuarial analysis: %w", MapError(err))
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", store.ErrAnalysisNotFound, analysisID)
	}
	return nil
}

// WithTx returns a new AnalysisStore that uses the provided transaction
func (s *AnalysisStore) WithTx(tx *sql.Tx) store.AnalysisStore {
	return &AnalysisStore{db: tx}
}
