package task

import (
	"context"
	"database/sql"
	"slices"
	"sync"
	"time"

	"github.com/insurance-ai/backoffice/internal/store"
)

// MockStore implements Store in memory for testing. It enforces the same
// transition rules as the SQL store. Set the Fn fields to inject behavior.
type MockStore struct {
	mutex sync.RWMutex
	tasks map[string]*Task
	now   func() time.Time

	CreateFn func(ctx context.Context, t NewTask) (*Task, error)
	UpdateFn func(ctx context.Context, id string, u Update) (bool, error)
	GetFn    func(ctx context.Context, id string) (*Task, error)
	ListFn   func(ctx context.Context, status Status, olderThan time.Duration) ([]*Task, error)
}

// NewMockStore creates a new MockStore with default implementations
func NewMockStore() *MockStore {
	s := &MockStore{
		tasks: make(map[string]*Task),
		now:   func() time.Time { return time.Now().UTC() },
	}
	s.CreateFn = s.create
	s.UpdateFn = s.update
	s.GetFn = s.get
	s.ListFn = s.list
	return s
}

// SetClock replaces the store's clock.
func (s *MockStore) SetClock(now func() time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.now = now
}

// Create implements Store.
func (s *MockStore) Create(ctx context.Context, t NewTask) (*Task, error) {
	return s.CreateFn(ctx, t)
}

// Update implements Store.
func (s *MockStore) Update(ctx context.Context, id string, u Update) (bool, error) {
	return s.UpdateFn(ctx, id, u)
}

// Get implements Store.
func (s *MockStore) Get(ctx context.Context, id string) (*Task, error) {
	return s.GetFn(ctx, id)
}

// ListByStatus implements Store.
func (s *MockStore) ListByStatus(ctx context.Context, status Status, olderThan time.Duration) ([]*Task, error) {
	return s.ListFn(ctx, status, olderThan)
}

// DeleteOlderThan implements Store.
func (s *MockStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var n int64
	for id, t := range s.tasks {
		if t.CreatedAt.Before(cutoff) {
			delete(s.tasks, id)
			n++
		}
	}
	return n, nil
}

// WithTx implements Store.WithTx for the mock store
// In the mock implementation, we just return the same store instance
func (s *MockStore) WithTx(*sql.Tx) Store {
	return s
}

// Put stores a copy of t as is, bypassing transition checks.
func (s *MockStore) Put(t *Task) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	cp := *t
	s.tasks[t.ID] = &cp
}

func (s *MockStore) create(_ context.Context, nt NewTask) (*Task, error) {
	if err := nt.Validate(); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.tasks[nt.ID]; exists {
		return nil, store.ErrTaskExists
	}
	now := s.now()
	t := &Task{
		ID:            nt.ID,
		Type:          nt.Type,
		Status:        StatusPending,
		Payload:       nt.Payload,
		InstitutionID: nt.InstitutionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *MockStore) update(_ context.Context, id string, u Update) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, exists := s.tasks[id]
	if !exists {
		return false, nil
	}
	if u.Status != "" {
		if !CanTransition(t.Status, u.Status) {
			return false, nil
		}
		t.Status = u.Status
		switch u.Status {
		case StatusSuccess:
			t.Result = u.Result
			t.Error = ""
		case StatusFailure:
			t.Error = u.Error
			t.Result = nil
		}
	}
	if u.ReportID != "" {
		t.ReportID = u.ReportID
	}
	at := u.At
	if at.IsZero() {
		at = s.now()
	}
	if at.After(t.UpdatedAt) {
		t.UpdatedAt = at
	}
	return true, nil
}

func (s *MockStore) get(_ context.Context, id string) (*Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	t, exists := s.tasks[id]
	if !exists {
		return nil, store.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MockStore) list(_ context.Context, status Status, olderThan time.Duration) ([]*Task, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	now := s.now()
	var out []*Task
	for _, t := range s.tasks {
		if t.Status != status {
			continue
		}
		// If olderThan is zero, include all tasks in the status
		if olderThan > 0 && now.Sub(t.UpdatedAt) <= olderThan {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}
