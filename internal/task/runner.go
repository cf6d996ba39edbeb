package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/insurance-ai/backoffice/internal/metrics"
)

// RunnerConfig holds configuration for the task runner
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks
	WorkerCount int

	// StuckTaskAge defines how long a task can be in started state
	// before it's considered stuck and retried
	StuckTaskAge time.Duration

	// StuckTaskCheckInterval defines how often to check for stuck tasks
	// If zero, defaults to 5 minutes
	StuckTaskCheckInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:            2,
		StuckTaskAge:           30 * time.Minute,
		StuckTaskCheckInterval: 5 * time.Minute,
	}
}

// Runner is the submission API and owner of the worker pool.
type Runner struct {
	store    Store
	queue    Queue
	executor *Executor
	pool     *WorkerPool
	config   RunnerConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewRunner creates a new Runner
func NewRunner(
	store Store,
	queue Queue,
	executor *Executor,
	config RunnerConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Runner {
	// Apply default check interval if not specified
	if config.StuckTaskCheckInterval <= 0 {
		config.StuckTaskCheckInterval = 5 * time.Minute
	}
	if config.StuckTaskAge <= 0 {
		config.StuckTaskAge = DefaultRunnerConfig().StuckTaskAge
	}

	logger = logger.With("component", "task_runner")
	return &Runner{
		store:    store,
		queue:    queue,
		executor: executor,
		pool:     NewWorkerPool(queue, executor, WorkerPoolConfig{WorkerCount: config.WorkerCount}, logger),
		config:   config,
		logger:   logger,
		metrics:  m,
	}
}

// Submit creates a PENDING task with a new ID and queues it.
func (r *Runner) Submit(ctx context.Context, t Type, institutionID string, payload any) (string, error) {
	id := uuid.NewString()
	if err := r.SubmitWithID(ctx, id, t, institutionID, payload); err != nil {
		return "", err
	}
	return id, nil
}

// SubmitWithID is like Submit with a caller-supplied task ID. It returns
// store.ErrTaskExists when the ID is taken.
func (r *Runner) SubmitWithID(ctx context.Context, id string, t Type, institutionID string, payload any) error {
	if _, ok := r.executor.Registry().Lookup(t); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTaskType, t)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}

	// Save task to the store first so a worker always finds its row
	created, err := r.store.Create(ctx, NewTask{ID: id, Type: t, InstitutionID: institutionID, Payload: raw})
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	job := Job{TaskID: created.ID, Type: created.Type, InstitutionID: created.InstitutionID, Payload: created.Payload}
	if err := r.queue.Enqueue(ctx, job); err != nil {
		// Nothing will run the task, so do not leave it pending.
		if _, uerr := r.store.Update(context.WithoutCancel(ctx), id, Update{Status: StatusRevoked}); uerr != nil {
			r.logger.Error("failed to revoke unqueued task", "task_id", id, "error", uerr)
		}
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	r.metrics.TaskSubmitted(string(t))
	r.logger.Info("task submitted", "task_id", id, "task_type", t, "institution_id", institutionID)
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// GetStatus returns the polling view of a task. It returns
// store.ErrTaskNotFound for an unknown ID.
func (r *Runner) GetStatus(ctx context.Context, id string) (*StatusView, error) {
	t, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return t.View(), nil
}

// Revoke cancels a task that has not started. It reports false when the
// task is unknown or already running or finished.
func (r *Runner) Revoke(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.Update(ctx, id, Update{Status: StatusRevoked})
	if err != nil {
		return false, fmt.Errorf("failed to revoke task: %w", err)
	}
	if ok {
		r.logger.Info("task revoked", "task_id", id)
	}
	return ok, nil
}

// Start begins processing tasks. With a non-durable queue it first
// recovers unfinished tasks from the store and watches for stuck ones;
// a durable queue redelivers them itself.
func (r *Runner) Start(ctx context.Context) error {
	r.ctx, r.cancelFunc = context.WithCancel(ctx)

	if !r.queue.Durable() {
		// Recover unfinished tasks from previous runs
		if err := r.Recover(ctx); err != nil {
			r.cancelFunc()
			return fmt.Errorf("failed to recover tasks: %w", err)
		}

		// Start goroutine to check for stuck tasks periodically
		r.wg.Add(1)
		go r.stuckTaskMonitor()
	}

	r.pool.Start(r.ctx)
	return nil
}

// Stop gracefully shuts down the runner, waiting for in-flight tasks.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		if r.cancelFunc != nil {
			r.cancelFunc()
		}
		r.pool.Stop()
		r.wg.Wait()
		if err := r.queue.Close(); err != nil {
			r.logger.Error("failed to close task queue", "error", err)
		}
	})
}

// Recover requeues tasks left PENDING, RETRY or STARTED by a previous run.
// STARTED tasks were interrupted by a crash and are moved to RETRY first.
func (r *Runner) Recover(ctx context.Context) error {
	pending, err := r.store.ListByStatus(ctx, StatusPending, 0)
	if err != nil {
		return fmt.Errorf("failed to get pending tasks: %w", err)
	}
	retrying, err := r.store.ListByStatus(ctx, StatusRetry, 0)
	if err != nil {
		return fmt.Errorf("failed to get retrying tasks: %w", err)
	}
	// Get all started tasks regardless of age
	started, err := r.store.ListByStatus(ctx, StatusStarted, 0)
	if err != nil {
		return fmt.Errorf("failed to get started tasks: %w", err)
	}

	// Log recovery statistics
	r.logger.Info("recovering unfinished tasks",
		"pending_count", len(pending),
		"retry_count", len(retrying),
		"started_count", len(started))

	for _, t := range append(pending, retrying...) {
		r.requeue(ctx, t, "recovered")
	}
	for _, t := range started {
		r.retry(ctx, t, "recovered after interruption")
	}
	return nil
}

// retry moves a STARTED task to RETRY and queues it again.
func (r *Runner) retry(ctx context.Context, t *Task, reason string) {
	ok, err := r.store.Update(ctx, t.ID, Update{Status: StatusRetry})
	if err != nil {
		r.logger.Error("failed to reset started task",
			"task_id", t.ID,
			"task_type", t.Type,
			"error", err)
		return
	}
	if !ok {
		// Finished or moved on since it was listed.
		return
	}
	r.requeue(ctx, t, reason)
}

func (r *Runner) requeue(ctx context.Context, t *Task, reason string) {
	job := Job{TaskID: t.ID, Type: t.Type, InstitutionID: t.InstitutionID, Payload: t.Payload}
	if err := r.queue.Enqueue(ctx, job); err != nil {
		r.logger.Error("failed to requeue task, revoking",
			"task_id", t.ID,
			"task_type", t.Type,
			"reason", reason,
			"error", err)
		r.metrics.TaskRequeueFailed(string(t.Type))
		// Nothing will run the task, so do not leave it pending.
		if _, uerr := r.store.Update(context.WithoutCancel(ctx), t.ID, Update{Status: StatusRevoked}); uerr != nil {
			r.logger.Error("failed to revoke unqueued task", "task_id", t.ID, "error", uerr)
		}
		return
	}
	r.logger.Info("requeued task", "task_id", t.ID, "task_type", t.Type, "reason", reason)
}

// stuckTaskMonitor periodically checks for tasks that have been in
// STARTED for too long and retries them
func (r *Runner) stuckTaskMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckTaskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.CheckStuckTasks(r.ctx)
		}
	}
}

// CheckStuckTasks retries tasks STARTED longer than the stuck task age and
// returns how many were found.
func (r *Runner) CheckStuckTasks(ctx context.Context) int {
	stuck, err := r.store.ListByStatus(ctx, StatusStarted, r.config.StuckTaskAge)
	if err != nil {
		r.logger.Error("failed to check for stuck tasks", "error", err)
		return 0
	}
	if len(stuck) > 0 {
		r.logger.Info("found stuck tasks", "count", len(stuck))
	}
	for _, t := range stuck {
		r.retry(ctx, t, "stuck in started state")
	}
	return len(stuck)
}
