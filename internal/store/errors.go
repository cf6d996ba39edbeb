package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors
	// (e.g., ErrTaskNotFound, ErrApplicationNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a task with an existing task ID).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrTransientInfra is returned when the database is unreachable or
	// refuses work for a reason that may clear on retry.
	ErrTransientInfra = errors.New("store temporarily unavailable")

	// Entity-specific "not found" errors

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrApplicationNotFound indicates that no application matches the business key.
	ErrApplicationNotFound = fmt.Errorf("%w: application", ErrNotFound)

	// ErrClaimNotFound indicates that no claim matches the business key.
	ErrClaimNotFound = fmt.Errorf("%w: claim", ErrNotFound)

	// ErrAnalysisNotFound indicates that no actuarial analysis matches the business key.
	ErrAnalysisNotFound = fmt.Errorf("%w: actuarial analysis", ErrNotFound)

	// ErrReportNotFound indicates that the requested report does not exist in the store.
	ErrReportNotFound = fmt.Errorf("%w: report", ErrNotFound)

	// Entity-specific "duplicate" errors

	// ErrTaskExists indicates that a task with the given ID already exists.
	ErrTaskExists = fmt.Errorf("%w: task", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
// Entity-specific errors wrap ErrNotFound, so one check covers them all.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsTransientError reports whether err is an infrastructure failure worth retrying.
func IsTransientError(err error) bool {
	return errors.Is(err, ErrTransientInfra)
}
