package sqlstore

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/insurance-ai/backoffice/internal/config"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// openTestDB returns a migrated SQLite database that lives for the test.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, config.DatabaseConfig{
		Driver: DriverSQLite,
		URL:    filepath.Join(t.TempDir(), "backoffice.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db, DriverSQLite, MigrateUp, discardLogger()))
	return db
}

func seedApplication(t *testing.T, db *sql.DB, applicationID string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO applications (application_id, institution_id, status) VALUES ($1, $2, $3)`,
		applicationID, "inst-1", "pending")
	require.NoError(t, err)
}

func seedClaim(t *testing.T, db *sql.DB, claimID string) {
	t.Helper()
	_, err := db.Exec(
		`INSERT INTO claims (claim_id, institution_id, status) VALUES ($1, $2, $3)`,
		claimID, "inst-1", "open")
	require.NoError(t, err)
}

func seedAnalysis(t *testing.T, db *sql.DB, analysisID string, results string) {
	t.Helper()
	var r any
	if results != "" {
		r = []byte(results)
	}
	_, err := db.Exec(
		`INSERT INTO actuarial_analyses (analysis_id, institution_id, status, results) VALUES ($1, $2, $3, $4)`,
		analysisID, "inst-1", "pending", r)
	require.NoError(t, err)
}
