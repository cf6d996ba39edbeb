package events

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable is returned by Publish when the stream
	// transport rejects the append. It wraps the transport error.
	ErrTransportUnavailable = errors.New("event transport unavailable")

	// ErrSkip marks an event a handler deliberately did not act on, such as
	// one referring to a record that does not exist. The listener
	// acknowledges skipped events.
	ErrSkip = errors.New("event skipped")

	// ErrNoHandler is returned by Dispatch for an event type without handlers.
	ErrNoHandler = errors.New("no handler registered for event type")
)

// Skip wraps ErrSkip with a reason.
func Skip(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSkip, fmt.Sprintf(format, args...))
}

// HandlerError reports a handler failure for one event. The listener leaves
// the entry pending so it is redelivered after the visibility timeout.
type HandlerError struct {
	EventID   string
	EventType string
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s event %s failed: %v", e.EventType, e.EventID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
