package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"gatekeeper/internal/database"
	"gatekeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "users.db")
	require.NoError(t, database.MigrateUp(models.DatabaseDriverSQLite, dsn))

	db, err := database.OpenSQLite(context.Background(), models.DatabaseConfig{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage(t *testing.T) {
	runUserStoreSuite(t, NewSQLiteStorage(newSQLiteTestDB(t)))
}

func TestSQLiteStorage_RejectsUnknownRole(t *testing.T) {
	db := newSQLiteTestDB(t)
	store := NewSQLiteStorage(db)
	ctx := context.Background()

	// the CHECK constraint keeps bad roles out of the table
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, password_hash, role, created_at, updated_at) VALUES ('x', 'x@example.com', 'X', 'h', 'ROOT', 0, 0)`)
	require.Error(t, err)

	_, err = store.GetUser(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}
