// Package main implements the entry point for the insurance back-office
// server, which accepts analysis tasks over HTTP, runs them on a worker pool
// and coordinates downstream processing through the event stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/insurance-ai/backoffice/internal/config"
	"github.com/insurance-ai/backoffice/internal/platform/logger"
	"github.com/insurance-ai/backoffice/internal/platform/sqlstore"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: ./config.yaml or /etc/insurance-ai/config.yaml)")
	migrateCmd := flag.String("migrate", "", "run a migration command (up, down, status, version) and exit")
	flag.Parse()

	if err := run(*configPath, *migrateCmd); err != nil {
		log.Fatalf("insurance-ai: %v", err)
	}
}

// run loads configuration and either executes a migration command or
// serves until SIGINT or SIGTERM.
func run(configPath, migrateCmd string) error {
	cfg, l, err := initializeApp(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrateCmd != "" {
		return handleMigrations(ctx, cfg, migrateCmd, l)
	}

	app, err := newApplication(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_driver", cfg.Database.Driver,
		"stream_transport", cfg.Stream.Transport,
		"task_queue", cfg.Task.Queue,
		"llm_provider", cfg.LLM.Provider)

	return cfg, l, nil
}

// handleMigrations opens the database and runs a single migration command.
func handleMigrations(ctx context.Context, cfg *config.Config, command string, l *slog.Logger) error {
	switch command {
	case sqlstore.MigrateUp, sqlstore.MigrateDown, sqlstore.MigrateStatus, sqlstore.MigrateVersion:
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}

	db, err := sqlstore.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			l.Error("error closing database connection", "error", err)
		}
	}()

	l.Info("executing migrations", "command", command)
	if err := sqlstore.Migrate(ctx, db, cfg.Database.Driver, command, l); err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}
