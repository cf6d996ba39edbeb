package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// Migration commands accepted by Migrate
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateStatus  = "status"
	MigrateVersion = "version"
)

// slogGooseLogger adapts slog to goose's logger interface.
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// newProvider returns a goose provider for the migrations of driver.
func newProvider(db *sql.DB, driver string, logger *slog.Logger) (*goose.Provider, error) {
	var dialect goose.Dialect
	var dir string
	switch driver {
	case DriverPostgres:
		dialect, dir = goose.DialectPostgres, "migrations/postgres"
	case DriverSQLite:
		dialect, dir = goose.DialectSQLite3, "migrations/sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	fsys, err := fs.Sub(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s migrations: %w", driver, err)
	}
	return goose.NewProvider(dialect, db, fsys,
		goose.WithLogger(&slogGooseLogger{logger: logger}),
		goose.WithDisableGlobalRegistry(true),
	)
}

// Migrate runs a migration command against db. Status and version are
// reported through logger.
func Migrate(ctx context.Context, db *sql.DB, driver, command string, logger *slog.Logger) error {
	logger = logger.With("component", "migrations", "command", command)

	provider, err := newProvider(db, driver, logger)
	if err != nil {
		return err
	}

	switch command {
	case MigrateUp:
		results, err := provider.Up(ctx)
		if err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		for _, r := range results {
			logger.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
		}
		logger.Info("migrations up to date", "applied", len(results))

	case MigrateDown:
		r, err := provider.Down(ctx)
		if err != nil {
			if errors.Is(err, goose.ErrNoNextVersion) {
				logger.Info("no migration to roll back")
				return nil
			}
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Info("rolled back migration", "version", r.Source.Version)

	case MigrateStatus:
		statuses, err := provider.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		for _, s := range statuses {
			logger.Info("migration status",
				"version", s.Source.Version,
				"path", s.Source.Path,
				"state", s.State,
				"applied_at", s.AppliedAt)
		}

	case MigrateVersion:
		version, err := Version(ctx, db, driver)
		if err != nil {
			return err
		}
		logger.Info("database version", "version", version)

	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	return nil
}

// Version returns the current schema version of db.
func Version(ctx context.Context, db *sql.DB, driver string) (int64, error) {
	provider, err := newProvider(db, driver, slog.Default())
	if err != nil {
		return 0, err
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read database version: %w", err)
	}
	return version, nil
}
