package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ClaimStatus represents the processing state of a claim.
type ClaimStatus string

// Possible claim status values
const (
	ClaimStatusOpen    ClaimStatus = "open"
	ClaimStatusFlagged ClaimStatus = "flagged"
)

// ClaimDecisionFlagged is the decision recorded when a claim is flagged.
const ClaimDecisionFlagged = "flagged"

// Default severity for flagged claims that do not carry one.
const DefaultFlagSeverity = "medium"

// ErrEmptyClaimID is returned when a claim record has no business key.
var ErrEmptyClaimID = fmt.Errorf("%w: claim ID cannot be empty", ErrValidation)

// Claim is a submitted claim identified by its business key.
type Claim struct {
	ID            int64       `json:"id"`
	ClaimID       string      `json:"claim_id"`
	InstitutionID string      `json:"institution_id"`
	Status        ClaimStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// ClaimDecision records a decision taken on a claim from a delivered event.
type ClaimDecision struct {
	ClaimID         string          `json:"claim_id"`
	EventID         string          `json:"event_id"`
	Decision        string          `json:"decision"`
	DecisionFactors json.RawMessage `json:"decision_factors,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate checks if the decision has valid data.
func (d *ClaimDecision) Validate() error {
	if d.ClaimID == "" {
		return ErrEmptyClaimID
	}
	if d.EventID == "" {
		return ErrEmptyEventID
	}
	if d.Decision == "" {
		return ErrEmptyDecision
	}
	if len(d.DecisionFactors) > 0 && !json.Valid(d.DecisionFactors) {
		return fmt.Errorf("%w: decision factors are not valid JSON", ErrInvalidFormat)
	}
	return nil
}
