package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestStore_ReopenExistingDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	entity, _, err := first.CreateEntity(ctx, "iris", "", "", "")
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Schema creation and migrations must be idempotent on reopen
	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	retrieved, err := second.GetEntity(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "iris", retrieved.Name)
}
