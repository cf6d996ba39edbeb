package api

import (
	"encoding/json"
)

// SubmitTaskRequest defines the payload for the task submission endpoint.
type SubmitTaskRequest struct {
	// TaskID optionally fixes the task ID. Resubmitting an ID conflicts.
	TaskID        string          `json:"task_id,omitempty"      validate:"omitempty,max=128"`
	Type          string          `json:"type"                   validate:"required,oneof=underwriting claims actuarial report"`
	InstitutionID string          `json:"institution_id"         validate:"required,max=128"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// SubmitTaskResponse is returned with 202 Accepted.
type SubmitTaskResponse struct {
	TaskID string `json:"task_id"`
}

// RevokeTaskResponse reports whether the task was revoked before it started.
type RevokeTaskResponse struct {
	TaskID  string `json:"task_id"`
	Revoked bool   `json:"revoked"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
