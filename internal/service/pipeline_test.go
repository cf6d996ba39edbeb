package service

import (
	"context"
	"testing"
	"time"

	"github.com/insurance-ai/backoffice/internal/domain"
	"github.com/insurance-ai/backoffice/internal/events"
	"github.com/insurance-ai/backoffice/internal/platform/sqlstore"
	"github.com/insurance-ai/backoffice/internal/stream/memstream"
	"github.com/insurance-ai/backoffice/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeline struct {
	runner   *task.Runner
	queue    *task.MemoryQueue
	executor *task.Executor
	listener *events.Listener
}

// newPipeline wires submission, execution, publishing and the default
// handlers over one SQLite database and an in-memory stream.
func newPipeline(t *testing.T) (*pipeline, *EventHandlers) {
	t.Helper()

	db := openTestDB(t)
	log := discardLogger()
	transport := memstream.New()
	t.Cleanup(func() { _ = transport.Close() })

	publisher := events.NewPublisher(transport, sqlstore.NewEventLogStore(db),
		events.PublisherConfig{Namespace: "test", Source: "insurance-ai"}, log, nil)

	handlers := newTestHandlers(t, db)
	listener := events.NewListener(transport, events.ListenerConfig{
		Namespace: "test",
		Types:     handlers.EventTypes(),
		Group:     "insurance_ai_event_listeners",
		Consumer:  "test",
	}, log, nil)
	handlers.Register(listener)

	// Create the consumer groups before anything is published.
	_, err := listener.ProcessOnce(context.Background())
	require.NoError(t, err)

	tasks := sqlstore.NewTaskStore(db)
	registry := task.NewRegistry()
	work, err := NewWork(StaticAnalyzer{}, nil, log)
	require.NoError(t, err)
	require.NoError(t, work.Register(registry))

	executor := task.NewExecutor(tasks, registry, publisher, task.ExecutorConfig{
		TimeLimit:         5 * time.Second,
		PublishMaxRetries: 1,
		PublishBaseDelay:  time.Millisecond,
	}, log, nil)
	queue := task.NewMemoryQueue(10, log)
	runner := task.NewRunner(tasks, queue, executor, task.RunnerConfig{WorkerCount: 1}, log, nil)

	exec(t, db, `INSERT INTO applications (application_id, institution_id, status) VALUES ($1, $2, $3)`, "A1", "inst-1", "pending")

	return &pipeline{runner: runner, queue: queue, executor: executor, listener: listener}, handlers
}

// runNext executes the next queued job in the calling goroutine.
func (p *pipeline) runNext(t *testing.T) task.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	d, err := p.queue.Dequeue(ctx)
	require.NoError(t, err)
	outcome, err := p.executor.Execute(ctx, d.Job)
	require.NoError(t, err)
	require.NoError(t, d.Ack(ctx))
	return outcome
}

func TestPipelineUnderwritingApproved(t *testing.T) {
	ctx := context.Background()
	p, h := newPipeline(t)

	id, err := p.runner.Submit(ctx, task.TypeUnderwriting, "inst-1", map[string]any{"applicant_id": "A1"})
	require.NoError(t, err)

	status, err := p.runner.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, status.Status)

	outcome := p.runNext(t)
	assert.Equal(t, task.StatusSuccess, outcome.Status)
	assert.Equal(t, events.NewDeterministicID(id, events.TypeUnderwritingCompleted), outcome.EventID)

	status, err = p.runner.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, status.Status)
	assert.JSONEq(t,
		`{"applicant_id":"A1","decision":"approved","risk_score":0.2,"factors":{"declared_conditions":0}}`,
		string(status.Result))
	assert.Empty(t, status.Error)

	n, err := p.listener.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	app, err := h.apps.GetByApplicationID(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationStatusCompleted, app.Status)
	assert.Equal(t, 1, count(t, h.db, `SELECT COUNT(*) FROM underwriting_decisions WHERE application_id = $1 AND decision = $2`, "A1", "approved"))
	assert.Equal(t, 1, count(t, h.db, `SELECT COUNT(*) FROM events WHERE event_id = $1`, outcome.EventID))

	// Nothing is redelivered once handled
	n, err = p.listener.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipelineUnderwritingBadInput(t *testing.T) {
	ctx := context.Background()
	p, h := newPipeline(t)

	id, err := p.runner.Submit(ctx, task.TypeUnderwriting, "inst-1", map[string]any{"notes": "no applicant"})
	require.NoError(t, err)

	outcome := p.runNext(t)
	assert.Equal(t, task.StatusFailure, outcome.Status)
	assert.Empty(t, outcome.EventID)

	status, err := p.runner.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailure, status.Status)
	assert.Contains(t, status.Error, "applicant_id is required")
	assert.Nil(t, status.Result)

	n, err := p.listener.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "failed tasks publish nothing")
	assert.Zero(t, count(t, h.db, `SELECT COUNT(*) FROM events`))
}

func TestPipelineRevokedTaskNeverRuns(t *testing.T) {
	ctx := context.Background()
	p, _ := newPipeline(t)

	id, err := p.runner.Submit(ctx, task.TypeClaims, "inst-1", map[string]any{"claim_id": "C1", "amount": 50000})
	require.NoError(t, err)

	revoked, err := p.runner.Revoke(ctx, id)
	require.NoError(t, err)
	require.True(t, revoked)

	outcome := p.runNext(t)
	assert.True(t, outcome.Skipped)

	status, err := p.runner.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRevoked, status.Status)
}
