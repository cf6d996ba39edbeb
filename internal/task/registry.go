package task

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/insurance-ai/backoffice/internal/events"
)

// TaskContext identifies the task a work function is running for.
type TaskContext struct {
	TaskID        string
	Type          Type
	InstitutionID string
}

// WorkFunc performs the domain work of a task and returns its result document.
type WorkFunc func(ctx context.Context, tc TaskContext, payload json.RawMessage) (json.RawMessage, error)

// EventMapper derives the event to publish from a successful result.
// A nil event means the result is not significant and nothing is published.
type EventMapper func(tc TaskContext, payload, result json.RawMessage) (*events.Event, error)

// Registration is the work function and event mapper of one task type.
type Registration struct {
	Work  WorkFunc
	Event EventMapper
}

// Registry maps task types to their work. It is filled at startup and
// read by submitters and workers.
type Registry struct {
	mu      sync.RWMutex
	entries map[Type]Registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Type]Registration)}
}

// Register adds the work for t. mapper may be nil.
func (r *Registry) Register(t Type, work WorkFunc, mapper EventMapper) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownTaskType, t)
	}
	if work == nil {
		return fmt.Errorf("work function for %s is nil", t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[t]; ok {
		return fmt.Errorf("task type %s is already registered", t)
	}
	r.entries[t] = Registration{Work: work, Event: mapper}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(t Type, work WorkFunc, mapper EventMapper) {
	if err := r.Register(t, work, mapper); err != nil {
		panic(err)
	}
}

// Lookup returns the registration for t.
func (r *Registry) Lookup(t Type) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[t]
	return reg, ok
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
