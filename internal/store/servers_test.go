package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addTestEntity creates an active entity for subscription tests.
func addTestEntity(t *testing.T, store *SQLiteStore, name string) *Entity {
	t.Helper()
	entity, _, err := store.CreateEntity(context.Background(), name, "", "", "")
	require.NoError(t, err)
	return entity
}

func TestStore_AddServer(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	entity := addTestEntity(t, store, "iris")

	sub := &EntityServer{
		EntityID: entity.ID,
		ServerID: "srv-1",
		Channels: []string{"chan-1", "chan-2"},
		Tools:    []string{"search"},
	}
	require.NoError(t, store.AddServer(ctx, sub))

	retrieved, err := store.GetEntityServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"chan-1", "chan-2"}, retrieved.Channels)
	assert.Equal(t, []string{"search"}, retrieved.Tools)
	assert.False(t, retrieved.CreatedAt.IsZero())
}

func TestStore_AddServer_Duplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	entity := addTestEntity(t, store, "iris")

	sub := &EntityServer{EntityID: entity.ID, ServerID: "srv-1"}
	require.NoError(t, store.AddServer(ctx, sub))

	err := store.AddServer(ctx, &EntityServer{EntityID: entity.ID, ServerID: "srv-1"})
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestStore_RemoveServer(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	entity := addTestEntity(t, store, "iris")

	sub := &EntityServer{EntityID: entity.ID, ServerID: "srv-1", RoleID: "role-42"}
	require.NoError(t, store.AddServer(ctx, sub))

	roleID, err := store.RemoveServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "role-42", roleID, "removal hands back the role id for cleanup")

	_, err = store.GetEntityServer(ctx, entity.ID, "srv-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.RemoveServer(ctx, entity.ID, "srv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListEntityServers(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	entity := addTestEntity(t, store, "iris")

	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: entity.ID, ServerID: "srv-1"}))
	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: entity.ID, ServerID: "srv-2"}))

	subs, err := store.ListEntityServers(ctx, entity.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestStore_GetEntitiesForChannel(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	everywhere := addTestEntity(t, store, "everywhere")
	scoped := addTestEntity(t, store, "scoped")
	elsewhere := addTestEntity(t, store, "elsewhere")

	// Empty channel list means the whole server
	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: everywhere.ID, ServerID: "srv-1"}))
	require.NoError(t, store.AddServer(ctx, &EntityServer{
		EntityID: scoped.ID, ServerID: "srv-1", Channels: []string{"chan-a"},
	}))
	require.NoError(t, store.AddServer(ctx, &EntityServer{
		EntityID: elsewhere.ID, ServerID: "srv-1", Channels: []string{"chan-b"},
	}))

	subs, err := store.GetEntitiesForChannel(ctx, "srv-1", "chan-a")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	var names []string
	for _, sub := range subs {
		names = append(names, sub.Entity.Name)
	}
	assert.ElementsMatch(t, []string{"everywhere", "scoped"}, names)
}

func TestStore_GetEntitiesForChannel_SkipsInactive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	entity := addTestEntity(t, store, "iris")

	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: entity.ID, ServerID: "srv-1"}))
	require.NoError(t, store.DeactivateEntity(ctx, entity.ID))

	subs, err := store.GetEntitiesForChannel(ctx, "srv-1", "chan-a")
	require.NoError(t, err)
	assert.Empty(t, subs, "deactivated entities must not route")
}

func TestStore_ListServerEntities(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := addTestEntity(t, store, "alpha")
	b := addTestEntity(t, store, "beta")
	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: a.ID, ServerID: "srv-1"}))
	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: b.ID, ServerID: "srv-1"}))
	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: b.ID, ServerID: "srv-2"}))

	subs, err := store.ListServerEntities(ctx, "srv-1")
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestStore_GetRoleEntityMap(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	withRole := addTestEntity(t, store, "with-role")
	noRole := addTestEntity(t, store, "no-role")

	require.NoError(t, store.AddServer(ctx, &EntityServer{
		EntityID: withRole.ID, ServerID: "srv-1", RoleID: "role-1",
	}))
	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: noRole.ID, ServerID: "srv-1"}))

	roles, err := store.GetRoleEntityMap(ctx, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"role-1": withRole.ID}, roles)
}

func TestStore_UpdateServerChannels(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	entity := addTestEntity(t, store, "iris")

	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: entity.ID, ServerID: "srv-1"}))

	err := store.UpdateServerChannels(ctx, entity.ID, "srv-1", []string{"chan-x"}, []string{"search", "post"})
	require.NoError(t, err)

	sub, err := store.GetEntityServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"chan-x"}, sub.Channels)
	assert.Equal(t, []string{"search", "post"}, sub.Tools)

	err = store.UpdateServerChannels(ctx, entity.ID, "srv-missing", nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateServerFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	entity := addTestEntity(t, store, "iris")

	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: entity.ID, ServerID: "srv-1"}))

	err := store.UpdateServerFilters(ctx, entity.ID, "srv-1", []string{"chan-watch"}, []string{"chan-block"})
	require.NoError(t, err)

	sub, err := store.GetEntityServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"chan-watch"}, sub.WatchChannels)
	assert.Equal(t, []string{"chan-block"}, sub.BlockedChannels)
}

func TestStore_UpdateServerRoleID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	entity := addTestEntity(t, store, "iris")

	require.NoError(t, store.AddServer(ctx, &EntityServer{EntityID: entity.ID, ServerID: "srv-1"}))
	require.NoError(t, store.UpdateServerRoleID(ctx, entity.ID, "srv-1", "role-9"))

	sub, err := store.GetEntityServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "role-9", sub.RoleID)
}
