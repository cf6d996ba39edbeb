package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/insurance-ai/backoffice/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, config.DatabaseConfig{
		Driver: DriverSQLite,
		URL:    filepath.Join(t.TempDir(), "migrate.db"),
	})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	log := discardLogger()

	version, err := Version(ctx, db, DriverSQLite)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, Migrate(ctx, db, DriverSQLite, MigrateUp, log))
	version, err = Version(ctx, db, DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	// Up is idempotent
	require.NoError(t, Migrate(ctx, db, DriverSQLite, MigrateUp, log))
	require.NoError(t, Migrate(ctx, db, DriverSQLite, MigrateStatus, log))
	require.NoError(t, Migrate(ctx, db, DriverSQLite, MigrateVersion, log))

	require.NoError(t, Migrate(ctx, db, DriverSQLite, MigrateDown, log))
	version, err = Version(ctx, db, DriverSQLite)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	_, err = db.ExecContext(ctx, `SELECT 1 FROM reports`)
	assert.Error(t, err, "domain tables are dropped")

	require.NoError(t, Migrate(ctx, db, DriverSQLite, MigrateDown, log))
	require.NoError(t, Migrate(ctx, db, DriverSQLite, MigrateDown, log), "nothing left to roll back")

	err = Migrate(ctx, db, DriverSQLite, "sideways", log)
	assert.ErrorContains(t, err, "unknown migration command")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql", URL: "x"})
	assert.ErrorContains(t, err, "unsupported database driver")

	_, err = newProvider(nil, "mysql", discardLogger())
	assert.Error(t, err)
}
