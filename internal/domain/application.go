package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ApplicationStatus represents the underwriting state of an application.
type ApplicationStatus string

// Possible application status values
const (
	ApplicationStatusPending   ApplicationStatus = "pending"
	ApplicationStatusCompleted ApplicationStatus = "completed"
)

// Common validation errors for underwriting records
var (
	ErrEmptyApplicationID = fmt.Errorf("%w: application ID cannot be empty", ErrValidation)
	ErrEmptyDecision      = fmt.Errorf("%w: decision cannot be empty", ErrValidation)
	ErrEmptyEventID       = fmt.Errorf("%w: event ID cannot be empty", ErrValidation)
	ErrRiskScoreRange     = fmt.Errorf("%w: risk score must be between 0 and 1", ErrValidation)
)

// Application is an insurance application identified by its business key.
type Application struct {
	ID            int64             `json:"id"`
	ApplicationID string            `json:"application_id"`
	InstitutionID string            `json:"institution_id"`
	Status        ApplicationStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// UnderwritingDecision records the outcome of an underwriting.completed event.
// EventID makes the insert idempotent per delivered event.
type UnderwritingDecision struct {
	ApplicationID   string          `json:"application_id"`
	EventID         string          `json:"event_id"`
	Decision        string          `json:"decision"`
	RiskScore       *float64        `json:"risk_score,omitempty"`
	DecisionFactors json.RawMessage `json:"decision_factors,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate checks if the decision has valid data.
func (d *UnderwritingDecision) Validate() error {
	if d.ApplicationID == "" {
		return ErrEmptyApplicationID
	}
	if d.EventID == "" {
		return ErrEmptyEventID
	}
	if d.Decision == "" {
		return ErrEmptyDecision
	}
	if d.RiskScore != nil && (*d.RiskScore < 0 || *d.RiskScore > 1) {
		return fmt.Errorf("%w: %v", ErrRiskScoreRange, *d.RiskScore)
	}
	if len(d.DecisionFactors) > 0 && !json.Valid(d.DecisionFactors) {
		return fmt.Errorf("%w: decision factors are not valid JSON", ErrInvalidFormat)
	}
	return nil
}
