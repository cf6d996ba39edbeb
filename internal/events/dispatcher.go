package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Handler processes a delivered event. It must be idempotent: an event may
// be delivered more than once.
type Handler interface {
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Dispatcher routes events to the handlers registered for their type.
type Dispatcher struct {
	handlers map[string][]Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string][]Handler),
		logger:   logger.With("component", "event_dispatcher"),
	}
}

// Register adds handler for eventType.
func (d *Dispatcher) Register(eventType string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
	d.logger.Debug("registered event handler",
		"event_type", eventType,
		"handler_count", len(d.handlers[eventType]))
}

// Handles reports whether any handler is registered for eventType.
func (d *Dispatcher) Handles(eventType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[eventType]) > 0
}

// handle calls handler and turns a panic into an error so the entry stays
// pending instead of taking the listener down.
func handle(ctx context.Context, handler Handler, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.HandleEvent(ctx, event)
}

// Dispatch runs every handler for the event's type, continuing past
// failures. It returns ErrNoHandler when none is registered, a *HandlerError
// wrapping the joined handler errors when any fails, and the first skip
// error when every handler skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	d.mu.RLock()
	handlers := make([]Handler, len(d.handlers[event.Type]))
	copy(handlers, d.handlers[event.Type])
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return ErrNoHandler
	}

	var failures []error
	var firstSkip error
	skipped := 0
	for i, handler := range handlers {
		err := handle(ctx, handler, event)
		switch {
		case err == nil:
		case errors.Is(err, ErrSkip):
			skipped++
			if firstSkip == nil {
				firstSkip = err
			}
			d.logger.Debug("handler skipped event",
				"reason", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type)
		default:
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		return &HandlerError{EventID: event.ID, EventType: event.Type, Err: errors.Join(failures...)}
	}
	if skipped == len(handlers) {
		return firstSkip
	}
	return nil
}
