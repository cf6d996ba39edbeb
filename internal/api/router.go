package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/insurance-ai/backoffice/internal/api/middleware"
	"github.com/insurance-ai/backoffice/internal/metrics"
)

// RouterConfig holds the dependencies of the HTTP router.
type RouterConfig struct {
	Tasks   TaskService
	Limiter *InstitutionLimiter
	Metrics *metrics.Metrics
	Checks  map[string]HealthCheck
	Logger  *slog.Logger
}

// NewRouter creates the application router with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewTraceMiddleware(cfg.Logger))
	r.Use(chimiddleware.Recoverer)

	taskHandler := NewTaskHandler(cfg.Tasks, cfg.Limiter, cfg.Metrics)
	healthHandler := NewHealthHandler(cfg.Checks)

	r.Route("/api", func(r chi.Router) {
		r.Post("/tasks", taskHandler.SubmitTask)
		r.Get("/tasks/{id}", taskHandler.GetTask)
		r.Post("/tasks/{id}/revoke", taskHandler.RevokeTask)
	})

	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", cfg.Metrics.Handler())

	return r
}
