package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/insurance-ai/backoffice/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFixture struct {
	store     *MockStore
	queue     *MemoryQueue
	publisher *mockPublisher
	runner    *Runner
}

func newRunnerFixture(t *testing.T, queueSize int) *runnerFixture {
	t.Helper()
	logger := setupTestLogger()
	f := &runnerFixture{
		store:     NewMockStore(),
		queue:     NewMemoryQueue(queueSize, logger),
		publisher: &mockPublisher{},
	}
	registry := NewRegistry()
	registry.MustRegister(TypeUnderwriting, underwritingWork, underwritingEvent)
	executor := NewExecutor(f.store, registry, f.publisher, fastExecutorConfig(), logger, nil)

	config := DefaultRunnerConfig()
	config.StuckTaskAge = time.Minute
	f.runner = NewRunner(f.store, f.queue, executor, config, logger, nil)
	t.Cleanup(f.runner.Stop)
	return f
}

func TestRunner_Submit(t *testing.T) {
	t.Parallel()

	t.Run("successful submission", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t, 10)

		id, err := f.runner.Submit(context.Background(), TypeUnderwriting, "inst-1", map[string]string{"applicant_id": "A1"})
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		stored, err := f.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, stored.Status)
		assert.Equal(t, "inst-1", stored.InstitutionID)
		assert.JSONEq(t, `{"applicant_id":"A1"}`, string(stored.Payload))
		assert.Equal(t, 1, f.queue.Len())
	})

	t.Run("unknown type", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t, 10)

		_, err := f.runner.Submit(context.Background(), TypeReport, "inst-1", nil)
		assert.ErrorIs(t, err, ErrUnknownTaskType)
		assert.Equal(t, 0, f.queue.Len())
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t, 10)

		require.NoError(t, f.runner.SubmitWithID(context.Background(), "fixed", TypeUnderwriting, "", nil))
		err := f.runner.SubmitWithID(context.Background(), "fixed", TypeUnderwriting, "", nil)
		assert.ErrorIs(t, err, store.ErrDuplicate)
		assert.Equal(t, 1, f.queue.Len())
	})

	t.Run("invalid raw payload", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t, 10)

		err := f.runner.SubmitWithID(context.Background(), "raw", TypeUnderwriting, "", json.RawMessage(`{`))
		assert.ErrorIs(t, err, ErrInvalidTask)
	})

	t.Run("store error", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t, 10)
		f.store.CreateFn = func(context.Context, NewTask) (*Task, error) {
			return nil, errors.New("mock store error")
		}

		_, err := f.runner.Submit(context.Background(), TypeUnderwriting, "", nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to save task")
	})

	t.Run("queue full revokes the task", func(t *testing.T) {
		t.Parallel()
		f := newRunnerFixture(t, 1)

		_, err := f.runner.Submit(context.Background(), TypeUnderwriting, "", nil)
		require.NoError(t, err)
		err = f.runner.SubmitWithID(context.Background(), "overflow", TypeUnderwriting, "", nil)
		assert.ErrorIs(t, err, ErrQueueFull)

		stored, err := f.store.Get(context.Background(), "overflow")
		require.NoError(t, err)
		assert.Equal(t, StatusRevoked, stored.Status)
	})
}

func TestRunner_GetStatusAndRevoke(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, 10)
	ctx := context.Background()

	_, err := f.runner.GetStatus(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	id, err := f.runner.Submit(ctx, TypeUnderwriting, "inst-1", map[string]string{"applicant_id": "A1"})
	require.NoError(t, err)

	view, err := f.runner.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, view.Status)
	assert.Equal(t, TypeUnderwriting, view.Type)

	ok, err := f.runner.Revoke(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.runner.Revoke(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "revoked task cannot be revoked again")

	ok, err = f.runner.Revoke(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunner_EndToEnd(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, 10)
	ctx := context.Background()
	require.NoError(t, f.runner.Start(ctx))

	approved, err := f.runner.Submit(ctx, TypeUnderwriting, "inst-1", map[string]string{"applicant_id": "A1"})
	require.NoError(t, err)
	rejected, err := f.runner.Submit(ctx, TypeUnderwriting, "inst-1", "bad input")
	require.NoError(t, err)

	waitForStatus := func(id string, want Status) *StatusView {
		var view *StatusView
		require.Eventually(t, func() bool {
			v, err := f.runner.GetStatus(ctx, id)
			if err != nil {
				return false
			}
			view = v
			return v.Status == want
		}, 2*time.Second, 10*time.Millisecond)
		return view
	}

	view := waitForStatus(approved, StatusSuccess)
	assert.JSONEq(t, `{"decision":"approved","risk_score":0.2}`, string(view.Result))
	assert.Empty(t, view.Error)

	view = waitForStatus(rejected, StatusFailure)
	assert.Equal(t, "bad input", view.Error)
	assert.Nil(t, view.Result)

	published := f.publisher.recorded()
	require.Len(t, published, 1, "only the successful task publishes")
	assert.Equal(t, "A1", published[0].Data["application_id"])
}

func TestRunner_RevokedTaskIsNotExecuted(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, 10)
	ctx := context.Background()

	id, err := f.runner.Submit(ctx, TypeUnderwriting, "", map[string]string{"applicant_id": "A1"})
	require.NoError(t, err)
	ok, err := f.runner.Revoke(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.runner.Start(ctx))
	require.Eventually(t, func() bool { return f.queue.Len() == 0 }, time.Second, 10*time.Millisecond)
	f.runner.Stop()

	view, err := f.runner.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, view.Status)
	assert.Empty(t, f.publisher.recorded())
}

func TestRunner_Recover(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, 10)
	ctx := context.Background()

	payload := json.RawMessage(`{"applicant_id":"A1"}`)
	f.store.Put(&Task{ID: "pending", Type: TypeUnderwriting, Status: StatusPending, Payload: payload})
	f.store.Put(&Task{ID: "retry", Type: TypeUnderwriting, Status: StatusRetry, Payload: payload})
	f.store.Put(&Task{ID: "started", Type: TypeUnderwriting, Status: StatusStarted, Payload: payload})
	f.store.Put(&Task{ID: "done", Type: TypeUnderwriting, Status: StatusSuccess, Payload: payload})

	require.NoError(t, f.runner.Recover(ctx))
	assert.Equal(t, 3, f.queue.Len())

	started, err := f.store.Get(ctx, "started")
	require.NoError(t, err)
	assert.Equal(t, StatusRetry, started.Status)

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		d, err := f.queue.Dequeue(ctx)
		require.NoError(t, err)
		ids[d.Job.TaskID] = true
		assert.JSONEq(t, string(payload), string(d.Job.Payload))
	}
	assert.Equal(t, map[string]bool{"pending": true, "retry": true, "started": true}, ids)
}

func TestRunner_Recover_RevokesWhenQueueFull(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, 1)
	ctx := context.Background()

	payload := json.RawMessage(`{"applicant_id":"A1"}`)
	f.store.Put(&Task{ID: "first", Type: TypeUnderwriting, Status: StatusPending, Payload: payload})
	f.store.Put(&Task{ID: "second", Type: TypeUnderwriting, Status: StatusPending, Payload: payload})

	require.NoError(t, f.runner.Recover(ctx))
	assert.Equal(t, 1, f.queue.Len())

	d, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	overflow := "first"
	if d.Job.TaskID == "first" {
		overflow = "second"
	}

	queued, err := f.store.Get(ctx, d.Job.TaskID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, queued.Status)

	dropped, err := f.store.Get(ctx, overflow)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, dropped.Status, "a task nothing will run is not left pending")
}

func TestRunner_Recover_StoreError(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, 10)
	f.store.ListFn = func(context.Context, Status, time.Duration) ([]*Task, error) {
		return nil, errors.New("mock store error")
	}

	err := f.runner.Start(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to recover tasks")
}

func TestRunner_CheckStuckTasks(t *testing.T) {
	t.Parallel()
	f := newRunnerFixture(t, 10)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f.store.SetClock(func() time.Time { return now })

	f.store.Put(&Task{ID: "stuck", Type: TypeUnderwriting, Status: StatusStarted, UpdatedAt: now.Add(-time.Hour)})
	f.store.Put(&Task{ID: "fresh", Type: TypeUnderwriting, Status: StatusStarted, UpdatedAt: now.Add(-time.Second)})

	assert.Equal(t, 1, f.runner.CheckStuckTasks(ctx))
	assert.Equal(t, 1, f.queue.Len())

	stuck, err := f.store.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, StatusRetry, stuck.Status)

	fresh, err := f.store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, fresh.Status)
}
