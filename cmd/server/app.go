package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/insurance-ai/backoffice/internal/api"
	"github.com/insurance-ai/backoffice/internal/config"
	"github.com/insurance-ai/backoffice/internal/domain"
	"github.com/insurance-ai/backoffice/internal/events"
	"github.com/insurance-ai/backoffice/internal/metrics"
	"github.com/insurance-ai/backoffice/internal/platform/gemini"
	"github.com/insurance-ai/backoffice/internal/platform/sqlstore"
	"github.com/insurance-ai/backoffice/internal/service"
	"github.com/insurance-ai/backoffice/internal/stream"
	"github.com/insurance-ai/backoffice/internal/stream/memstream"
	"github.com/insurance-ai/backoffice/internal/stream/redisstream"
	"github.com/insurance-ai/backoffice/internal/sweeper"
	"github.com/insurance-ai/backoffice/internal/task"
)

// visibilityMargin is added to the task time limit so a job still running
// on a live worker is not taken over by another one.
const visibilityMargin = 5 * time.Minute

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	db        *sql.DB
	transport stream.Transport
	metrics   *metrics.Metrics

	runner   *task.Runner
	listener *events.Listener
	sweeper  *sweeper.Sweeper
	router   http.Handler

	listenerCancel context.CancelFunc
	listenerDone   chan struct{}
	cleanupOnce    sync.Once
}

// pinger is implemented by transports that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// newApplication connects to the database and stream transport and wires
// every component. Nothing is started until Run.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *application, err error) {
	app := &application{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	app.db, err = sqlstore.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	logger.Info("database connection established", "driver", cfg.Database.Driver)

	if cfg.Database.AutoMigrate {
		if err = sqlstore.Migrate(ctx, app.db, cfg.Database.Driver, sqlstore.MigrateUp, logger); err != nil {
			return nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	app.transport, err = newTransport(ctx, cfg.Stream)
	if err != nil {
		return nil, err
	}
	logger.Info("stream transport connected", "transport", cfg.Stream.Transport)

	taskStore := sqlstore.NewTaskStore(app.db)
	eventLog := sqlstore.NewEventLogStore(app.db)

	publisher := events.NewPublisher(app.transport, eventLog, events.PublisherConfig{
		Namespace: cfg.Stream.Namespace,
		Source:    cfg.Server.Source,
	}, logger, app.metrics)

	analyzer, err := newAnalyzer(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	reportRegistry, err := service.NewAnalyzerReportRegistry(analyzer,
		domain.ReportTypeUnderwriting,
		domain.ReportTypeClaims,
		domain.ReportTypeActuarial,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create report registry: %w", err)
	}
	reports, err := service.NewReportService(reportRegistry, sqlstore.NewReportStore(app.db), taskStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create report service: %w", err)
	}
	work, err := service.NewWork(analyzer, reports, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create work functions: %w", err)
	}
	registry := task.NewRegistry()
	if err = work.Register(registry); err != nil {
		return nil, fmt.Errorf("failed to register task types: %w", err)
	}

	timeLimit := time.Duration(cfg.Task.TimeLimitSeconds) * time.Second
	executor := task.NewExecutor(taskStore, registry, publisher, task.ExecutorConfig{
		TimeLimit:         timeLimit,
		PublishMaxRetries: uint64(cfg.Task.PublishMaxRetries),
	}, logger, app.metrics)

	queue, err := app.newQueue(ctx, timeLimit)
	if err != nil {
		return nil, err
	}

	app.runner = task.NewRunner(taskStore, queue, executor, task.RunnerConfig{
		WorkerCount:            cfg.Task.WorkerCount,
		StuckTaskAge:           time.Duration(cfg.Task.StuckTaskAgeMinutes) * time.Minute,
		StuckTaskCheckInterval: time.Duration(cfg.Task.StuckCheckIntervalSecs) * time.Second,
	}, logger, app.metrics)

	if cfg.Listener.Enabled {
		if err = app.setupListener(); err != nil {
			return nil, err
		}
	}

	if cfg.Sweeper.Enabled {
		app.sweeper = sweeper.New(sweeper.Config{
			Schedule:  cfg.Sweeper.Schedule,
			Retention: time.Duration(cfg.Sweeper.RetentionDays) * 24 * time.Hour,
		}, logger, app.metrics,
			sweeper.Target{Name: "tasks", Pruner: taskStore},
			sweeper.Target{Name: "events", Pruner: eventLog},
		)
	}

	app.router = api.NewRouter(api.RouterConfig{
		Tasks:   app.runner,
		Limiter: api.NewInstitutionLimiter(cfg.Server.SubmitRatePerSecond, cfg.Server.SubmitBurst),
		Metrics: app.metrics,
		Checks:  app.healthChecks(),
		Logger:  logger,
	})

	logger.Info("application initialized successfully")
	return app, nil
}

// newTransport connects the configured stream transport.
func newTransport(ctx context.Context, cfg config.StreamConfig) (stream.Transport, error) {
	switch cfg.Transport {
	case "redis":
		t, err := redisstream.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return t, nil
	case "memory":
		return memstream.New(), nil
	default:
		return nil, fmt.Errorf("unsupported stream transport %q", cfg.Transport)
	}
}

// newAnalyzer returns the configured analysis provider.
func newAnalyzer(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (service.Analyzer, error) {
	if cfg.Provider != "gemini" {
		logger.Info("using static analyzer")
		return service.StaticAnalyzer{}, nil
	}
	a, err := gemini.NewAnalyzer(ctx, logger, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gemini analyzer: %w", err)
	}
	logger.Info("gemini analyzer initialized", "model", cfg.ModelName)
	return a, nil
}

// newQueue returns the in-process queue or the shared stream queue.
func (app *application) newQueue(ctx context.Context, timeLimit time.Duration) (task.Queue, error) {
	cfg := app.config
	if cfg.Task.Queue != "stream" {
		return task.NewMemoryQueue(cfg.Task.QueueSize, app.logger), nil
	}

	qcfg := task.StreamQueueConfig{
		Namespace: cfg.Stream.Namespace,
		Consumer:  consumerName(cfg.Task.Consumer),
	}
	if timeLimit > 0 {
		qcfg.VisibilityTimeout = timeLimit + visibilityMargin
	}
	q, err := task.NewStreamQueue(ctx, app.transport, qcfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream queue: %w", err)
	}
	return q, nil
}

// setupListener creates the event listener and registers the default handlers.
func (app *application) setupListener() error {
	cfg := app.config.Listener

	handlers, err := service.NewEventHandlers(app.db,
		sqlstore.NewApplicationStore(app.db),
		sqlstore.NewClaimStore(app.db),
		sqlstore.NewAnalysisStore(app.db),
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create event handlers: %w", err)
	}

	app.listener = events.NewListener(app.transport, events.ListenerConfig{
		Namespace:         app.config.Stream.Namespace,
		Types:             cfg.EventTypes,
		Group:             cfg.Group,
		Consumer:          consumerName(cfg.Consumer),
		BatchSize:         int64(cfg.BatchSize),
		Block:             time.Duration(cfg.BlockMillis) * time.Millisecond,
		VisibilityTimeout: time.Duration(cfg.VisibilityTimeoutSeconds) * time.Second,
		ClaimInterval:     time.Duration(cfg.ClaimIntervalSeconds) * time.Second,
	}, app.logger, app.metrics)
	handlers.Register(app.listener)
	return nil
}

// healthChecks probes the database and, when it supports it, the transport.
func (app *application) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"database": app.db.PingContext,
	}
	if p, ok := app.transport.(pinger); ok {
		checks["stream"] = p.Ping
	}
	return checks
}

// consumerName returns name, or hostname-pid when it is empty, so every
// process reads the shared streams under its own consumer identity.
func consumerName(name string) string {
	if name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Run starts the background components and serves HTTP until ctx is
// cancelled, then shuts everything down.
func (app *application) Run(ctx context.Context) error {
	if err := app.start(ctx); err != nil {
		app.cleanup()
		return err
	}

	if err := app.startHTTPServer(ctx, app.router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// start launches the runner, the listener and the sweeper.
func (app *application) start(ctx context.Context) error {
	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}

	if app.listener != nil {
		listenerCtx, cancel := context.WithCancel(ctx)
		app.listenerCancel = cancel
		app.listenerDone = make(chan struct{})
		go func() {
			defer close(app.listenerDone)
			if err := app.listener.Run(listenerCtx); err != nil {
				app.logger.Error("event listener exited", "error", err)
			}
		}()
	}

	if app.sweeper != nil {
		if err := app.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sweeper: %w", err)
		}
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. Workers are
// drained before the transport closes so their events can still publish.
func (app *application) cleanup() {
	app.cleanupOnce.Do(func() {
		if app.runner != nil {
			app.runner.Stop()
		}

		if app.listenerCancel != nil {
			app.listenerCancel()
			<-app.listenerDone
		}

		if app.sweeper != nil {
			app.sweeper.Stop()
		}

		if app.transport != nil {
			if err := app.transport.Close(); err != nil {
				app.logger.Error("error closing stream transport", "error", err)
			}
		}

		if app.db != nil {
			if err := app.db.Close(); err != nil {
				app.logger.Error("error closing database connection", "error", err)
			}
		}

		app.logger.Info("application shutdown completed")
	})
}
