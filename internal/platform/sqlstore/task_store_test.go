package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/insurance-ai/backoffice/internal/store"
	"github.com/insurance-ai/backoffice/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTaskStoreAt(t *testing.T, now time.Time) (*TaskStore, *time.Time) {
	t.Helper()
	clock := now
	s := NewTaskStore(openTestDB(t))
	s.now = func() time.Time { return clock }
	return s, &clock
}

func createTask(t *testing.T, s *TaskStore, id string) *task.Task {
	t.Helper()
	created, err := s.Create(context.Background(), task.NewTask{
		ID:            id,
		Type:          task.TypeUnderwriting,
		InstitutionID: "inst-1",
		Payload:       json.RawMessage(`{"applicant_id":"A1"}`),
	})
	require.NoError(t, err)
	return created
}

func TestTaskStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	s, _ := newTaskStoreAt(t, now)

	created := createTask(t, s, "t-1")
	assert.Equal(t, task.StatusPending, created.Status)

	got, err := s.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, task.TypeUnderwriting, got.Type)
	assert.Equal(t, task.StatusPending, got.Status)
	assert.Equal(t, "inst-1", got.InstitutionID)
	assert.JSONEq(t, `{"applicant_id":"A1"}`, string(got.Payload))
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Error)
	assert.Empty(t, got.ReportID)
	assert.True(t, got.CreatedAt.Equal(now.Truncate(time.Microsecond)), "created_at %v", got.CreatedAt)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestTaskStore_CreateDuplicate(t *testing.T) {
	s := NewTaskStore(openTestDB(t))
	createTask(t, s, "t-1")

	_, err := s.Create(context.Background(), task.NewTask{ID: "t-1", Type: task.TypeClaims})
	assert.ErrorIs(t, err, store.ErrTaskExists)
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestTaskStore_CreateInvalid(t *testing.T) {
	s := NewTaskStore(openTestDB(t))

	_, err := s.Create(context.Background(), task.NewTask{ID: "t-1", Type: "billing"})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.ErrorIs(t, err, task.ErrUnknownTaskType)
}

func TestTaskStore_UpdateTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore(openTestDB(t))

	createTask(t, s, "t-1")

	// Cannot finish a task that has not started
	ok, err := s.Update(ctx, "t-1", task.Update{Status: task.StatusSuccess, Result: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Update(ctx, "t-1", task.Update{Status: task.StatusStarted})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Update(ctx, "t-1", task.Update{Status: task.StatusFailure, Error: "bad input"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailure, got.Status)
	assert.Equal(t, "bad input", got.Error)
	assert.Nil(t, got.Result)

	// A later attempt's success overwrites the failure and clears the error
	ok, err = s.Update(ctx, "t-1", task.Update{Status: task.StatusSuccess, Result: json.RawMessage(`{"decision":"approved"}`)})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, got.Status)
	assert.JSONEq(t, `{"decision":"approved"}`, string(got.Result))
	assert.Empty(t, got.Error)

	// Terminal tasks cannot be revoked or restarted
	ok, err = s.Update(ctx, "t-1", task.Update{Status: task.StatusRevoked})
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Update(ctx, "t-1", task.Update{Status: task.StatusStarted})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Update(ctx, "missing", task.Update{Status: task.StatusStarted})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTaskStore_RevokeBeforeStart(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore(openTestDB(t))
	createTask(t, s, "t-1")

	ok, err := s.Update(ctx, "t-1", task.Update{Status: task.StatusRevoked})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Update(ctx, "t-1", task.Update{Status: task.StatusStarted})
	require.NoError(t, err)
	assert.False(t, ok, "a revoked task must never start")
}

func TestTaskStore_UpdatedAtNeverMovesBack(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := newTaskStoreAt(t, base)
	createTask(t, s, "t-1")

	later := base.Add(10 * time.Minute)
	ok, err := s.Update(ctx, "t-1", task.Update{Status: task.StatusStarted, At: later})
	require.NoError(t, err)
	require.True(t, ok)

	// A write stamped earlier still applies but keeps the newer timestamp
	ok, err = s.Update(ctx, "t-1", task.Update{Status: task.StatusSuccess, Result: json.RawMessage(`{}`), At: base.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, got.Status)
	assert.True(t, got.UpdatedAt.Equal(later), "updated_at %v", got.UpdatedAt)

	// Sub-second ordering holds as well
	finer := later.Add(1500 * time.Microsecond)
	ok, err = s.Update(ctx, "t-1", task.Update{ReportID: "RPT-0000000A", At: finer})
	require.NoError(t, err)
	require.True(t, ok)

	got, err = s.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(finer), "updated_at %v", got.UpdatedAt)
}

func TestTaskStore_FieldOnlyUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore(openTestDB(t))
	createTask(t, s, "t-1")

	ok, err := s.Update(ctx, "t-1", task.Update{ReportID: "RPT-1A2B3C4D"})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, got.Status, "status is untouched")
	assert.Equal(t, "RPT-1A2B3C4D", got.ReportID)
}

func TestTaskStore_RevokeRacesStart(t *testing.T) {
	ctx := context.Background()
	s := NewTaskStore(openTestDB(t))
	createTask(t, s, "t-1")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started int
		revoked int
	)
	for i := 0; i < 8; i++ {
		status := task.StatusStarted
		if i%2 == 0 {
			status = task.StatusRevoked
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Update(ctx, "t-1", task.Update{Status: status})
			if err != nil || !ok {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if status == task.StatusRevoked {
				revoked++
			} else {
				started++
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "t-1")
	require.NoError(t, err)
	switch got.Status {
	case task.StatusRevoked:
		assert.Equal(t, 1, revoked)
		assert.Zero(t, started, "a revoked task must never start")
	case task.StatusStarted:
		assert.Zero(t, revoked, "a started task cannot be revoked")
		assert.Positive(t, started)
	default:
		t.Fatalf("unexpected status %s", got.Status)
	}
}

func TestTaskStore_ListByStatus(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, clock := newTaskStoreAt(t, base)

	createTask(t, s, "old")
	*clock = base.Add(time.Minute)
	createTask(t, s, "new")
	createTask(t, s, "done")
	_, err := s.Update(ctx, "done", task.Update{Status: task.StatusStarted})
	require.NoError(t, err)

	pending, err := s.ListByStatus(ctx, task.StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "old", pending[0].ID)
	assert.Equal(t, "new", pending[1].ID)

	*clock = base.Add(45 * time.Minute)
	stale, err := s.ListByStatus(ctx, task.StatusPending, 44*time.Minute+30*time.Second)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].ID)

	started, err := s.ListByStatus(ctx, task.StatusStarted, 0)
	require.NoError(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, "done", started[0].ID)
}

func TestTaskStore_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, clock := newTaskStoreAt(t, base)

	createTask(t, s, "ancient")
	*clock = base.Add(40 * 24 * time.Hour)
	createTask(t, s, "recent")

	n, err := s.DeleteOlderThan(ctx, base.Add(10*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, "ancient")
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
	_, err = s.Get(ctx, "recent")
	assert.NoError(t, err)
}

func TestTaskStore_WithTx(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewTaskStore(db)

	err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		txStore := s.WithTx(tx)
		if _, err := txStore.Create(ctx, task.NewTask{ID: "t-tx", Type: task.TypeReport}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = s.Get(ctx, "t-tx")
	assert.ErrorIs(t, err, store.ErrTaskNotFound, "rolled back insert must not be visible")
}

func TestTaskStore_DatabaseErrors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewTaskStore(db)

	mock.ExpectExec("UPDATE tasks SET").WillReturnError(sql.ErrConnDone)
	_, err = s.Update(ctx, "t-1", task.Update{Status: task.StatusStarted})
	assert.ErrorIs(t, err, store.ErrTransientInfra)

	mock.ExpectQuery("SELECT .* FROM tasks").WillReturnError(sql.ErrConnDone)
	_, err = s.Get(ctx, "t-1")
	assert.ErrorIs(t, err, store.ErrTransientInfra)
	assert.False(t, store.IsNotFoundError(err))

	mock.ExpectExec("UPDATE tasks SET").WillReturnResult(sqlmock.NewErrorResult(errors.New("no count")))
	_, err = s.Update(ctx, "t-1", task.Update{ReportID: "RPT-00000000"})
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
