package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/insurance-ai/backoffice/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthCheck
		wantStatus int
		want       HealthResponse
	}{
		{
			name:       "no checks",
			wantStatus: http.StatusOK,
			want:       HealthResponse{Status: "ok", Checks: map[string]string{}},
		},
		{
			name: "all healthy",
			checks: map[string]HealthCheck{
				"database": func(context.Context) error { return nil },
				"stream":   func(context.Context) error { return nil },
			},
			wantStatus: http.StatusOK,
			want:       HealthResponse{Status: "ok", Checks: map[string]string{"database": "ok", "stream": "ok"}},
		},
		{
			name: "database down",
			checks: map[string]HealthCheck{
				"database": func(context.Context) error { return errors.New("connection refused") },
				"stream":   func(context.Context) error { return nil },
			},
			wantStatus: http.StatusServiceUnavailable,
			want:       HealthResponse{Status: "degraded", Checks: map[string]string{"database": "unavailable", "stream": "ok"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(RouterConfig{Tasks: &fakeTaskService{}, Checks: tc.checks, Logger: discardLogger()})

			w := doRequest(t, router, http.MethodGet, "/health", nil)

			assert.Equal(t, tc.wantStatus, w.Code)
			got := decodeBody[HealthResponse](t, w)
			assert.Equal(t, tc.want.Status, got.Status)
			if len(tc.want.Checks) > 0 {
				assert.Equal(t, tc.want.Checks, got.Checks)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.TaskSubmitted("claims")
	router := newTestRouter(&fakeTaskService{}, nil, m)

	w := doRequest(t, router, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `insurance_ai_tasks_submitted_total{type="claims"} 1`)
}

func TestRecovererReturns500(t *testing.T) {
	// GetStatusFn is unset, so the handler panics.
	router := newTestRouter(&fakeTaskService{}, nil, nil)

	w := doRequest(t, router, http.MethodGet, "/api/tasks/t-1", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	router := newTestRouter(&fakeTaskService{}, nil, nil)

	assert.Equal(t, http.StatusNotFound, doRequest(t, router, http.MethodGet, "/api/memos", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, doRequest(t, router, http.MethodDelete, "/api/tasks/t-1", nil).Code)
}
