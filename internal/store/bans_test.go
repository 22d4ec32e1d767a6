package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_BanServer(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BanServer(ctx, "srv-1", "spam relay"))

	banned, err := store.IsServerBanned(ctx, "srv-1")
	require.NoError(t, err)
	assert.True(t, banned)

	banned, err = store.IsServerBanned(ctx, "srv-2")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestStore_BanServer_UpdatesReason(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BanServer(ctx, "srv-1", "first reason"))
	require.NoError(t, store.BanServer(ctx, "srv-1", "second reason"))

	bans, err := store.ListServerBans(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 1)
	assert.Equal(t, "second reason", bans[0].Reason)
}

func TestStore_UnbanServer(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.BanServer(ctx, "srv-1", ""))
	require.NoError(t, store.UnbanServer(ctx, "srv-1"))

	banned, err := store.IsServerBanned(ctx, "srv-1")
	require.NoError(t, err)
	assert.False(t, banned)

	err = store.UnbanServer(ctx, "srv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_BanServer_MissingID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.BanServer(ctx, "", "reason")
	assert.ErrorIs(t, err, ErrBadInput)
}
