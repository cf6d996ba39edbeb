package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/insurance-ai/backoffice/internal/events"
	"github.com/insurance-ai/backoffice/internal/metrics"
	"github.com/insurance-ai/backoffice/internal/platform/logger"
	"github.com/sethvargo/go-retry"
)

// Publisher publishes the event derived from a successful task.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) (string, error)
}

// ExecutorConfig holds executor settings.
type ExecutorConfig struct {
	// TimeLimit bounds each work function call. Zero means no limit.
	TimeLimit time.Duration
	// PublishMaxRetries is how many times a failed publish is retried.
	PublishMaxRetries uint64
	// PublishBaseDelay is the first retry delay; it doubles per retry.
	PublishBaseDelay time.Duration
}

// DefaultExecutorConfig returns an ExecutorConfig with reasonable defaults
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TimeLimit:         10 * time.Minute,
		PublishMaxRetries: 3,
		PublishBaseDelay:  500 * time.Millisecond,
	}
}

// Job is a queued request to execute a task.
type Job struct {
	TaskID        string          `json:"task_id"`
	Type          Type            `json:"type"`
	InstitutionID string          `json:"institution_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Outcome describes what Execute did with a job.
type Outcome struct {
	// Skipped is set when the task could not be started, e.g. it was
	// revoked, already completed or does not exist, or when its row moved
	// on before the outcome could be recorded.
	Skipped bool
	Status  Status
	Result  json.RawMessage
	// Err is the work failure recorded on the task.
	Err error
	// EventID is set when an event was published.
	EventID string
}

// Executor runs one task through its lifecycle: STARTED, the work function,
// then SUCCESS or FAILURE and the optional event.
type Executor struct {
	store     Store
	registry  *Registry
	publisher Publisher
	config    ExecutorConfig
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewExecutor creates an Executor. publisher and m may be nil.
func NewExecutor(
	store Store,
	registry *Registry,
	publisher Publisher,
	config ExecutorConfig,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Executor {
	if config.PublishBaseDelay <= 0 {
		config.PublishBaseDelay = DefaultExecutorConfig().PublishBaseDelay
	}
	return &Executor{
		store:     store,
		registry:  registry,
		publisher: publisher,
		config:    config,
		logger:    logger.With("component", "task_executor"),
		metrics:   m,
	}
}

// Registry returns the registry the executor resolves work from.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs job. A work failure is recorded on the task and reported in
// the Outcome. The returned error is reserved for store failures, after
// which the job should be delivered again.
func (e *Executor) Execute(ctx context.Context, job Job) (Outcome, error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(
		"task_id", job.TaskID,
		"task_type", job.Type,
	)
	ctx = logger.WithLogger(ctx, log)

	started, err := e.store.Update(ctx, job.TaskID, Update{Status: StatusStarted})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to mark task started: %w", err)
	}
	if !started {
		log.Info("task not startable, skipping")
		return Outcome{Skipped: true}, nil
	}

	tc := TaskContext{TaskID: job.TaskID, Type: job.Type, InstitutionID: job.InstitutionID}
	begin := time.Now()
	reg, ok := e.registry.Lookup(job.Type)

	var result json.RawMessage
	var workErr error
	if !ok {
		workErr = &WorkError{TaskID: job.TaskID, Type: job.Type, Err: fmt.Errorf("%w: %q", ErrUnknownTaskType, job.Type)}
	} else {
		log.Info("executing task")
		result, workErr = e.run(ctx, reg.Work, tc, job.Payload)
	}

	// Final writes must land even if the worker is shutting down.
	ctx = context.WithoutCancel(ctx)

	if workErr != nil {
		log.Error("task failed", "error", workErr)
		failed, err := e.store.Update(ctx, job.TaskID, Update{Status: StatusFailure, Error: workErr.Error()})
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to mark task failed: %w", err)
		}
		if !failed {
			log.Warn("task moved on while running, discarding failure")
			return Outcome{Skipped: true}, nil
		}
		e.metrics.TaskCompleted(string(job.Type), string(StatusFailure), time.Since(begin))
		return Outcome{Status: StatusFailure, Err: workErr}, nil
	}

	succeeded, err := e.store.Update(ctx, job.TaskID, Update{Status: StatusSuccess, Result: result})
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to mark task succeeded: %w", err)
	}
	if !succeeded {
		// Another attempt owns the task now, e.g. the stuck monitor requeued it.
		log.Warn("task moved on while running, discarding result")
		return Outcome{Skipped: true}, nil
	}
	e.metrics.TaskCompleted(string(job.Type), string(StatusSuccess), time.Since(begin))
	log.Info("task succeeded", "duration", time.Since(begin))

	out := Outcome{Status: StatusSuccess, Result: result}
	if reg.Event != nil {
		out.EventID = e.publish(ctx, log, reg.Event, tc, job.Payload, result)
	}
	return out, nil
}

// run calls work under the time limit and turns a panic into a WorkError.
func (e *Executor) run(
	ctx context.Context,
	work WorkFunc,
	tc TaskContext,
	payload json.RawMessage,
) (result json.RawMessage, err error) {
	if e.config.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, e.config.TimeLimit, ErrTimeLimit)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = &WorkError{TaskID: tc.TaskID, Type: tc.Type, Panic: r}
		}
	}()

	result, err = work(ctx, tc, payload)
	if err == nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeLimit) {
			err = fmt.Errorf("%w: %w", ErrTimeLimit, err)
		}
		return nil, &WorkError{TaskID: tc.TaskID, Type: tc.Type, Err: err}
	}
	if len(result) > 0 && !json.Valid(result) {
		return nil, &WorkError{TaskID: tc.TaskID, Type: tc.Type, Err: errors.New("work function returned invalid JSON result")}
	}
	return result, nil
}

// publish maps the result to an event and publishes it with retries. It
// returns the event ID, or "" when nothing was published.
func (e *Executor) publish(
	ctx context.Context,
	log *slog.Logger,
	mapper EventMapper,
	tc TaskContext,
	payload, result json.RawMessage,
) string {
	ev, err := mapper(tc, payload, result)
	if err != nil {
		log.Error("failed to map task result to event", "error", err)
		return ""
	}
	if ev == nil {
		return ""
	}
	if e.publisher == nil {
		log.Warn("no publisher configured, dropping event", "event_type", ev.Type)
		return ""
	}

	ev.ID = events.NewDeterministicID(tc.TaskID, ev.Type)
	if ev.InstitutionID == "" {
		ev.InstitutionID = tc.InstitutionID
	}

	backoff := retry.WithMaxRetries(e.config.PublishMaxRetries, retry.NewExponential(e.config.PublishBaseDelay))
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if _, err := e.publisher.Publish(ctx, *ev); err != nil {
			log.Warn("event publish attempt failed", "event_type", ev.Type, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		// The result stays observable through status polling.
		log.Error("dropping event after publish retries",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"attempts", attempt,
			"error", err)
		return ""
	}
	return ev.ID
}
