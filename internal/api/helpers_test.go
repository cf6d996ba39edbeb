package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/insurance-ai/backoffice/internal/metrics"
	"github.com/insurance-ai/backoffice/internal/task"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTaskService is a function-field TaskService.
type fakeTaskService struct {
	SubmitFn       func(ctx context.Context, t task.Type, institutionID string, payload any) (string, error)
	SubmitWithIDFn func(ctx context.Context, id string, t task.Type, institutionID string, payload any) error
	GetStatusFn    func(ctx context.Context, id string) (*task.StatusView, error)
	RevokeFn       func(ctx context.Context, id string) (bool, error)
}

func (f *fakeTaskService) Submit(ctx context.Context, t task.Type, institutionID string, payload any) (string, error) {
	return f.SubmitFn(ctx, t, institutionID, payload)
}

func (f *fakeTaskService) SubmitWithID(ctx context.Context, id string, t task.Type, institutionID string, payload any) error {
	return f.SubmitWithIDFn(ctx, id, t, institutionID, payload)
}

func (f *fakeTaskService) GetStatus(ctx context.Context, id string) (*task.StatusView, error) {
	return f.GetStatusFn(ctx, id)
}

func (f *fakeTaskService) Revoke(ctx context.Context, id string) (bool, error) {
	return f.RevokeFn(ctx, id)
}

// newRunner returns an unstarted runner over an in-memory store, so
// submitted tasks stay PENDING.
func newRunner(t *testing.T) (*task.Runner, *task.MockStore) {
	t.Helper()

	store := task.NewMockStore()
	registry := task.NewRegistry()
	work := func(ctx context.Context, tc task.TaskContext, payload json.RawMessage) (json.RawMessage, error) {
		return payload, nil
	}
	for _, tt := range []task.Type{task.TypeUnderwriting, task.TypeClaims, task.TypeActuarial, task.TypeReport} {
		registry.MustRegister(tt, work, nil)
	}

	executor := task.NewExecutor(store, registry, nil, task.DefaultExecutorConfig(), discardLogger(), nil)
	queue := task.NewMemoryQueue(16, discardLogger())
	runner := task.NewRunner(store, queue, executor, task.DefaultRunnerConfig(), discardLogger(), nil)
	t.Cleanup(runner.Stop)
	return runner, store
}

func newTestRouter(tasks TaskService, limiter *InstitutionLimiter, m *metrics.Metrics) http.Handler {
	return NewRouter(RouterConfig{
		Tasks:   tasks,
		Limiter: limiter,
		Metrics: m,
		Logger:  discardLogger(),
	})
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}
