package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReportType identifies the domain a report summarizes.
type ReportType string

// Supported report types
const (
	ReportTypeUnderwriting ReportType = "underwriting"
	ReportTypeClaims       ReportType = "claims"
	ReportTypeActuarial    ReportType = "actuarial"
)

// ReportIDPrefix is prepended to every generated report identifier.
const ReportIDPrefix = "RPT-"

// Common validation errors for Report
var (
	ErrEmptyReportID    = fmt.Errorf("%w: report ID cannot be empty", ErrValidation)
	ErrEmptyReportType  = fmt.Errorf("%w: report type cannot be empty", ErrValidation)
	ErrEmptyReportBody  = fmt.Errorf("%w: report content cannot be empty", ErrValidation)
	ErrEmptyInstitution = fmt.Errorf("%w: institution ID cannot be empty", ErrValidation)
)

// Report is a generated report persisted by the report work function.
type Report struct {
	ReportID      string          `json:"report_id"`
	Type          ReportType      `json:"type"`
	Content       json.RawMessage `json:"content"`
	InstitutionID string          `json:"institution_id"`
	TaskID        string          `json:"task_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewReportID returns an identifier of the form RPT-XXXXXXXX where X is an
// uppercase hex digit.
func NewReportID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ReportIDPrefix + strings.ToUpper(hex[:8])
}

// NewReport creates a validated report with a fresh identifier.
func NewReport(reportType ReportType, content json.RawMessage, institutionID, taskID string) (*Report, error) {
	r := &Report{
		ReportID:      NewReportID(),
		Type:          reportType,
		Content:       content,
		InstitutionID: institutionID,
		TaskID:        taskID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks if the Report has valid data.
func (r *Report) Validate() error {
	if r.ReportID == "" {
		return ErrEmptyReportID
	}
	if r.Type == "" {
		return ErrEmptyReportType
	}
	if r.InstitutionID == "" {
		return ErrEmptyInstitution
	}
	if len(r.Content) == 0 {
		return ErrEmptyReportBody
	}
	if !json.Valid(r.Content) {
		return fmt.Errorf("%w: report content is not valid JSON", ErrInvalidFormat)
	}
	return nil
}
