package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_UpsertServerTemplate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tmpl := &ServerTemplate{
		ServerID: "srv-1",
		Name:     "default",
		Channels: []string{"chan-1"},
		Tools:    []string{"search"},
	}
	require.NoError(t, store.UpsertServerTemplate(ctx, tmpl))

	// Upsert with the same key replaces the payload
	tmpl.Channels = []string{"chan-1", "chan-2"}
	require.NoError(t, store.UpsertServerTemplate(ctx, tmpl))

	retrieved, err := store.GetServerTemplate(ctx, "srv-1", "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"chan-1", "chan-2"}, retrieved.Channels)
	assert.Equal(t, []string{"search"}, retrieved.Tools)

	templates, err := store.ListServerTemplates(ctx, "srv-1")
	require.NoError(t, err)
	assert.Len(t, templates, 1, "upsert must not duplicate rows")
}

func TestStore_UpsertServerTemplate_MissingKey(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.UpsertServerTemplate(ctx, &ServerTemplate{ServerID: "", Name: "default"})
	assert.ErrorIs(t, err, ErrBadInput)

	err = store.UpsertServerTemplate(ctx, &ServerTemplate{ServerID: "srv-1", Name: ""})
	assert.ErrorIs(t, err, ErrBadInput)
}

func TestStore_GetServerTemplate_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetServerTemplate(ctx, "srv-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListServerTemplates_ScopedToServer(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertServerTemplate(ctx, &ServerTemplate{ServerID: "srv-1", Name: "quiet"}))
	require.NoError(t, store.UpsertServerTemplate(ctx, &ServerTemplate{ServerID: "srv-1", Name: "default"}))
	require.NoError(t, store.UpsertServerTemplate(ctx, &ServerTemplate{ServerID: "srv-2", Name: "default"}))

	templates, err := store.ListServerTemplates(ctx, "srv-1")
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "default", templates[0].Name, "listing is sorted by name")
	assert.Equal(t, "quiet", templates[1].Name)
}

func TestStore_DeleteServerTemplate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertServerTemplate(ctx, &ServerTemplate{ServerID: "srv-1", Name: "default"}))
	require.NoError(t, store.DeleteServerTemplate(ctx, "srv-1", "default"))

	_, err := store.GetServerTemplate(ctx, "srv-1", "default")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.DeleteServerTemplate(ctx, "srv-1", "default")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpsertServerSettings(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	settings := &ServerSettings{
		ServerID:          "srv-1",
		AnnounceChannelID: "chan-announce",
		AnnounceTemplate:  "{entity} has joined {server}",
		RoleTemplate:      "{entity}",
		DefaultTemplate:   "default",
	}
	require.NoError(t, store.UpsertServerSettings(ctx, settings))

	settings.AnnounceChannelID = "chan-other"
	require.NoError(t, store.UpsertServerSettings(ctx, settings))

	retrieved, err := store.GetServerSettings(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "chan-other", retrieved.AnnounceChannelID)
	assert.Equal(t, "{entity} has joined {server}", retrieved.AnnounceTemplate)
	assert.False(t, retrieved.UpdatedAt.IsZero())
}

func TestStore_GetServerSettings_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetServerSettings(ctx, "srv-unconfigured")
	assert.ErrorIs(t, err, ErrNotFound)
}
