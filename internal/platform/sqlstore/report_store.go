package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/insurance-ai/backoffice/internal/domain"
	"github.com/insurance-ai/backoffice/internal/store"
)

// ReportStore implements store.ReportStore
type ReportStore struct {
	db store.DBTX
}

// NewReportStore creates a new ReportStore
func NewReportStore(db store.DBTX) *ReportStore {
	return &ReportStore{db: db}
}

var _ store.ReportStore = (*ReportStore)(nil)

// Create persists a generated report
func (s *ReportStore) Create(ctx context.Context, r *domain.Report) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO reports (report_id, type, content, institution_id, task_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ReportID,
		string(r.Type),
		[]byte(r.Content),
		r.InstitutionID,
		nullString(r.TaskID),
		dbTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", MapError(err))
	}
	return nil
}

// Get retrieves a report by ID
func (s *ReportStore) Get(ctx context.Context, reportID string) (*domain.Report, error) {
	query := `
		SELECT report_id, type, content, institution_id, task_id, created_at
		FROM reports
		WHERE report_id = $1
	`
	var r domain.Report
	var reportType string
	var content []byte
	var taskID sql.NullString
	err := s.db.QueryRowContext(ctx, query, reportID).Scan(
		&r.ReportID,
		&reportType,
		&content,
		&r.InstitutionID,
		&taskID,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrReportNotFound, reportID)
		}
		return nil, fmt.Errorf("failed to get report: %w", MapError(err))
	}
	r.Type = domain.ReportType(reportType)
	r.Content = content
	r.TaskID = taskID.String
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// WithTx returns a new ReportStore that uses the provided transaction
func (s *ReportStore) WithTx(tx *sql.Tx) store.ReportStore {
	return &ReportStore{db: tx}
}
