package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/insurance-ai/backoffice/internal/api/shared"
	"github.com/insurance-ai/backoffice/internal/metrics"
	"github.com/insurance-ai/backoffice/internal/platform/logger"
	"github.com/insurance-ai/backoffice/internal/store"
	"github.com/insurance-ai/backoffice/internal/task"
)

// unavailableRetryAfter is the Retry-After, in seconds, sent when the task
// queue or the database cannot take a submission.
const unavailableRetryAfter = 1

// TaskService is the part of the task runner the HTTP API drives.
type TaskService interface {
	Submit(ctx context.Context, t task.Type, institutionID string, payload any) (string, error)
	SubmitWithID(ctx context.Context, id string, t task.Type, institutionID string, payload any) error
	GetStatus(ctx context.Context, id string) (*task.StatusView, error)
	Revoke(ctx context.Context, id string) (bool, error)
}

var _ TaskService = (*task.Runner)(nil)

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	tasks   TaskService
	limiter *InstitutionLimiter
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewTaskHandler creates a new TaskHandler. A nil limiter disables rate limiting.
func NewTaskHandler(tasks TaskService, limiter *InstitutionLimiter, m *metrics.Metrics) *TaskHandler {
	return &TaskHandler{
		tasks:   tasks,
		limiter: limiter,
		metrics: m,
		now:     time.Now,
	}
}

// SubmitTask handles POST /api/tasks requests
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	if !h.limiter.Allow(req.InstitutionID, h.now()) {
		h.metrics.SubmissionDenied(req.InstitutionID)
		shared.RespondWithErrorAndLog(w, r, http.StatusTooManyRequests, "Too many task submissions",
			errors.New("institution submission rate exceeded"), shared.WithRetryAfter(h.limiter.RetryAfter()))
		return
	}

	taskType := task.Type(req.Type)
	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	taskID := req.TaskID
	var err error
	if taskID != "" {
		err = h.tasks.SubmitWithID(r.Context(), taskID, taskType, req.InstitutionID, payload)
	} else {
		taskID, err = h.tasks.Submit(r.Context(), taskType, req.InstitutionID, payload)
	}
	if err != nil {
		status := MapErrorToStatusCode(err)
		shared.RespondWithErrorAndLog(w, r, status, GetSafeErrorMessage(err), err, submitErrorOptions(status)...)
		return
	}

	logger.FromContext(r.Context()).Info("task accepted",
		"task_id", taskID,
		"task_type", taskType,
		"institution_id", req.InstitutionID)

	// 202 since the work happens asynchronously
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{TaskID: taskID})
}

// GetTask handles GET /api/tasks/{id} requests
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	view, err := h.tasks.GetStatus(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// RevokeTask handles POST /api/tasks/{id}/revoke requests. Revoking a task
// that already started or finished answers revoked=false; an unknown task
// answers 404.
func (h *TaskHandler) RevokeTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	revoked, err := h.tasks.Revoke(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	if !revoked {
		if _, err := h.tasks.GetStatus(r.Context(), id); errors.Is(err, store.ErrNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, GetSafeErrorMessage(err))
			return
		}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, RevokeTaskResponse{TaskID: id, Revoked: revoked})
}

// submitErrorOptions asks clients to back off when the queue is saturated
// and surfaces reused task IDs, which usually mean a client retry bug.
func submitErrorOptions(status int) []shared.ResponseOption {
	switch status {
	case http.StatusServiceUnavailable:
		return []shared.ResponseOption{shared.WithRetryAfter(unavailableRetryAfter)}
	case http.StatusConflict:
		return []shared.ResponseOption{shared.WithElevatedLogLevel()}
	default:
		return nil
	}
}
