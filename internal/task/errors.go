package task

import (
	"errors"
	"fmt"
)

// Common errors returned by the task package
var (
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrInvalidTask     = errors.New("invalid task")
	ErrQueueClosed     = errors.New("task queue is closed")
	ErrQueueFull       = errors.New("task queue is full")
	ErrTimeLimit       = errors.New("task time limit exceeded")
)

// WorkError is a failure of a work function. It is recorded on the task as
// FAILURE and never returned to the submitter.
type WorkError struct {
	TaskID string
	Type   Type
	Err    error
	// Panic holds the recovered value when the work function panicked.
	Panic any
}

// Error returns the message recorded on the task.
func (e *WorkError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("panic: %v", e.Panic)
	}
	return e.Err.Error()
}

func (e *WorkError) Unwrap() error {
	return e.Err
}
