package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Type identifies the kind of domain work a task performs.
type Type string

// Task types
const (
	TypeUnderwriting Type = "underwriting"
	TypeClaims       Type = "claims"
	TypeActuarial    Type = "actuarial"
	TypeReport       Type = "report"
)

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	switch t {
	case TypeUnderwriting, TypeClaims, TypeActuarial, TypeReport:
		return true
	}
	return false
}

// Status represents the current state of a task
type Status string

// Possible task status values
const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusRevoked Status = "REVOKED"
	StatusRetry   Status = "RETRY"
)

// Terminal reports whether no further work will run for a task in status s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRevoked
}

// allowedFrom lists, per target status, the statuses a task may move from.
// STARTED may follow STARTED so a crashed attempt can be retried. A completed
// task may be completed again; the last write wins.
var allowedFrom = map[Status][]Status{
	StatusStarted: {StatusPending, StatusRetry, StatusStarted},
	StatusSuccess: {StatusStarted, StatusSuccess, StatusFailure},
	StatusFailure: {StatusStarted, StatusSuccess, StatusFailure},
	StatusRetry:   {StatusStarted},
	StatusRevoked: {StatusPending, StatusRetry},
}

// AllowedFrom returns the statuses from which a task may move to status to.
// It returns nil for PENDING, which is only ever set on creation.
func AllowedFrom(to Status) []Status {
	return slices.Clone(allowedFrom[to])
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(allowedFrom[to], from)
}

// Task is the persisted lifecycle record of one unit of background work.
type Task struct {
	ID            string
	Type          Type
	Status        Status
	Payload       json.RawMessage
	Result        json.RawMessage
	Error         string
	InstitutionID string
	ReportID      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewTask holds the fields of a task at submission.
type NewTask struct {
	ID            string
	Type          Type
	InstitutionID string
	Payload       json.RawMessage
}

// Validate checks that the new task can be stored.
func (n NewTask) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: task id is required", ErrInvalidTask)
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTaskType, n.Type)
	}
	if len(n.Payload) > 0 && !json.Valid(n.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidTask)
	}
	return nil
}

// Update is a partial task update. An empty Status leaves the status alone
// and is always applied. Otherwise the update only applies when the current
// status may transition to Status.
type Update struct {
	Status Status
	// Result is written with SUCCESS, which also clears Error.
	Result json.RawMessage
	// Error is written with FAILURE, which also clears Result.
	Error    string
	ReportID string
	// At is the update time. Zero means now. UpdatedAt never moves backwards.
	At time.Time
}

// Store persists tasks.
type Store interface {
	// Create inserts a PENDING task. It returns store.ErrTaskExists when the
	// id is taken.
	Create(ctx context.Context, t NewTask) (*Task, error)

	// Update applies u to the task. It reports false without error when the
	// task does not exist or the transition is not allowed.
	Update(ctx context.Context, id string, u Update) (bool, error)

	// Get returns store.ErrTaskNotFound when no task has the id.
	Get(ctx context.Context, id string) (*Task, error)

	// ListByStatus returns tasks in status, oldest first. When olderThan is
	// non-zero only tasks not updated within olderThan are returned.
	ListByStatus(ctx context.Context, status Status, olderThan time.Duration) ([]*Task, error)

	// DeleteOlderThan removes tasks created before cutoff and returns how
	// many were removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// WithTx returns a Store bound to tx.
	WithTx(tx *sql.Tx) Store
}

// StatusView is what submitters see when polling a task.
type StatusView struct {
	TaskID   string          `json:"task_id"`
	Type     Type            `json:"type"`
	Status   Status          `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	ReportID string          `json:"report_id,omitempty"`
}

// View returns the polling view of t.
func (t *Task) View() *StatusView {
	v := &StatusView{
		TaskID:   t.ID,
		Type:     t.Type,
		Status:   t.Status,
		ReportID: t.ReportID,
	}
	switch t.Status {
	case StatusSuccess:
		v.Result = t.Result
	case StatusFailure:
		v.Error = t.Error
	}
	return v
}
