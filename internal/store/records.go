package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/insurance-ai/backoffice/internal/domain"
)

// ApplicationStore persists applications and their underwriting decisions.
type ApplicationStore interface {
	// GetByApplicationID returns ErrApplicationNotFound when no row matches.
	GetByApplicationID(ctx context.Context, applicationID string) (*domain.Application, error)

	// UpdateStatus sets the status of the application with the given business key.
	// Returns ErrApplicationNotFound if no row matches.
	UpdateStatus(ctx context.Context, applicationID string, status domain.ApplicationStatus) error

	// InsertDecision stores a decision at most once per (application, event).
	// It reports false when the decision was already recorded.
	InsertDecision(ctx context.Context, d *domain.UnderwritingDecision) (bool, error)

	// WithTx returns a store bound to tx.
	WithTx(tx *sql.Tx) ApplicationStore
}

// ClaimStore persists claims and their decisions.
type ClaimStore interface {
	GetByClaimID(ctx context.Context, claimID string) (*domain.Claim, error)
	UpdateStatus(ctx context.Context, claimID string, status domain.ClaimStatus) error
	InsertDecision(ctx context.Context, d *domain.ClaimDecision) (bool, error)
	WithTx(tx *sql.Tx) ClaimStore
}

// AnalysisStore persists actuarial analyses.
type AnalysisStore interface {
	GetByAnalysisID(ctx context.Context, analysisID string) (*domain.ActuarialAnalysis, error)

	// UpdateResults replaces the results document and status of an analysis.
	UpdateResults(ctx context.Context, analysisID string, status domain.AnalysisStatus, results json.RawMessage) error

	WithTx(tx *sql.Tx) AnalysisStore
}

// ReportStore persists generated reports.
type ReportStore interface {
	// Create returns ErrDuplicate if the report ID is taken.
	Create(ctx context.Context, r *domain.Report) error
	Get(ctx context.Context, reportID string) (*domain.Report, error)
	WithTx(tx *sql.Tx) ReportStore
}

// EventRecord is the event-log copy of a published event.
type EventRecord struct {
	EventID       string
	EventType     string
	Payload       json.RawMessage
	Source        string
	InstitutionID string
	CreatedAt     time.Time
}

// EventLogStore keeps an audit copy of published events.
type EventLogStore interface {
	// Insert ignores a duplicate event ID so republishing is harmless.
	Insert(ctx context.Context, rec EventRecord) error
	// DeleteOlderThan removes event records created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
