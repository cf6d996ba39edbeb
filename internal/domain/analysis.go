package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AnalysisStatus represents the state of an actuarial analysis.
type AnalysisStatus string

// Possible analysis status values
const (
	AnalysisStatusPending     AnalysisStatus = "pending"
	AnalysisStatusBenchmarked AnalysisStatus = "benchmarked"
)

// ErrEmptyAnalysisID is returned when an analysis record has no business key.
var ErrEmptyAnalysisID = fmt.Errorf("%w: analysis ID cannot be empty", ErrValidation)

// ActuarialAnalysis is an actuarial run identified by its business key.
type ActuarialAnalysis struct {
	ID            int64           `json:"id"`
	AnalysisID    string          `json:"analysis_id"`
	InstitutionID string          `json:"institution_id"`
	Status        AnalysisStatus  `json:"status"`
	Results       json.RawMessage `json:"results,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// MergeResults returns the analysis results with key set to value. Existing
// keys other than key are preserved. Non-object results are replaced.
func (a *ActuarialAnalysis) MergeResults(key string, value json.RawMessage) (json.RawMessage, error) {
	merged := map[string]json.RawMessage{}
	if len(a.Results) > 0 {
		if err := json.Unmarshal(a.Results, &merged); err != nil {
			merged = map[string]json.RawMessage{}
		}
	}
	if len(value) == 0 {
		value = json.RawMessage(`{}`)
	}
	if !json.Valid(value) {
		return nil, fmt.Errorf("%w: %s is not valid JSON", ErrInvalidFormat, key)
	}
	merged[key] = value
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged results: %w", err)
	}
	return out, nil
}
