package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/insurance-ai/backoffice/internal/config"
	"github.com/insurance-ai/backoffice/internal/events"
	"github.com/insurance-ai/backoffice/internal/platform/sqlstore"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := sqlstore.Open(ctx, config.DatabaseConfig{
		Driver: sqlstore.DriverSQLite,
		URL:    filepath.Join(t.TempDir(), "service.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, sqlstore.Migrate(ctx, db, sqlstore.DriverSQLite, sqlstore.MigrateUp, discardLogger()))
	return db
}

func newTestHandlers(t *testing.T, db *sql.DB) *EventHandlers {
	t.Helper()
	h, err := NewEventHandlers(
		db,
		sqlstore.NewApplicationStore(db),
		sqlstore.NewClaimStore(db),
		sqlstore.NewAnalysisStore(db),
		discardLogger(),
	)
	require.NoError(t, err)
	return h
}

func newEvent(t *testing.T, eventType, id string, data map[string]any) *events.Event {
	t.Helper()
	ev, err := events.NewEvent(eventType, "inst-1", data)
	require.NoError(t, err)
	ev.ID = id
	ev.Source = "test"
	return ev
}

func exec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}

func count(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(query, args...).Scan(&n))
	return n
}
