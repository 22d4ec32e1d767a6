package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arachne-bridge/arachne/internal/store"
)

type createdRole struct {
	serverID string
	name     string
}

type deletedRole struct {
	serverID string
	roleID   string
}

type announcement struct {
	channelID string
	text      string
}

// fakePlatform records role and announcement calls instead of hitting the
// chat platform.
type fakePlatform struct {
	mu sync.Mutex

	roleID      string
	roleErr     error
	deleteErr   error
	announceErr error
	names       map[string]string

	createdRoles  []createdRole
	deletedRoles  []deletedRole
	announcements []announcement
}

func (p *fakePlatform) CreateEntityRole(_ context.Context, serverID, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.roleErr != nil {
		return "", p.roleErr
	}
	p.createdRoles = append(p.createdRoles, createdRole{serverID: serverID, name: name})
	return p.roleID, nil
}

func (p *fakePlatform) DeleteEntityRole(_ context.Context, serverID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deletedRoles = append(p.deletedRoles, deletedRole{serverID: serverID, roleID: roleID})
	return nil
}

func (p *fakePlatform) Announce(_ context.Context, channelID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.announceErr != nil {
		return p.announceErr
	}
	p.announcements = append(p.announcements, announcement{channelID: channelID, text: text})
	return nil
}

func (p *fakePlatform) ServerName(id string) string {
	if name, ok := p.names[id]; ok {
		return name
	}
	return id
}

func setupApprovals(t *testing.T) (*Approvals, *store.SQLiteStore, *fakePlatform) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	platform := &fakePlatform{
		roleID: "role-123",
		names:  map[string]string{"srv-1": "Test Server"},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewApprovals(st, platform, logger), st, platform
}

func addEntity(t *testing.T, st *store.SQLiteStore, name string) *store.Entity {
	t.Helper()
	entity, _, err := st.CreateEntity(context.Background(), name, "", "owner-1", "Nadia")
	require.NoError(t, err)
	return entity
}

func addRequest(t *testing.T, st *store.SQLiteStore, entityID, serverID string) *store.ServerRequest {
	t.Helper()
	req := &store.ServerRequest{
		EntityID:      entityID,
		ServerID:      serverID,
		ApplicantID:   "user-1",
		ApplicantName: "Maja",
	}
	require.NoError(t, st.CreateServerRequest(context.Background(), req))
	return req
}

func TestApprovals_ApproveAppliesTemplateRoleAndAnnouncement(t *testing.T) {
	approvals, st, platform := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")
	req := addRequest(t, st, entity.ID, "srv-1")

	require.NoError(t, st.UpsertServerTemplate(ctx, &store.ServerTemplate{
		ServerID: "srv-1",
		Name:     "standard",
		Channels: []string{"chan-1", "chan-2"},
		Tools:    []string{"search"},
	}))
	require.NoError(t, st.UpsertServerSettings(ctx, &store.ServerSettings{
		ServerID:          "srv-1",
		AnnounceChannelID: "chan-announce",
		AnnounceTemplate:  "Welcome {entity} to {server}!",
		RoleTemplate:      "{entity} (bot)",
		DefaultTemplate:   "standard",
	}))

	require.NoError(t, approvals.ApproveRequest(ctx, req.ID, "op-1"))

	updated, err := st.GetServerRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RequestStatusApproved, updated.Status)
	assert.Equal(t, "op-1", updated.ReviewerID)

	sub, err := st.GetEntityServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"chan-1", "chan-2"}, sub.Channels)
	assert.Equal(t, []string{"search"}, sub.Tools)
	assert.Equal(t, "role-123", sub.RoleID)

	require.Len(t, platform.createdRoles, 1)
	assert.Equal(t, createdRole{serverID: "srv-1", name: "Iris (bot)"}, platform.createdRoles[0])

	require.Len(t, platform.announcements, 1)
	assert.Equal(t, announcement{
		channelID: "chan-announce",
		text:      "Welcome Iris to Test Server!",
	}, platform.announcements[0])
}

func TestApprovals_ApproveWithoutSettingsUsesDefaults(t *testing.T) {
	approvals, st, platform := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")
	req := addRequest(t, st, entity.ID, "srv-1")

	require.NoError(t, approvals.ApproveRequest(ctx, req.ID, "op-1"))

	sub, err := st.GetEntityServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, sub.Channels, "no template configured means no channel restriction")
	assert.Empty(t, sub.Tools)

	// Default role template is the bare entity name.
	require.Len(t, platform.createdRoles, 1)
	assert.Equal(t, "Iris", platform.createdRoles[0].name)

	assert.Empty(t, platform.announcements, "no announce channel configured")
}

func TestApprovals_RoleFailureKeepsSubscription(t *testing.T) {
	approvals, st, platform := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")
	req := addRequest(t, st, entity.ID, "srv-1")

	require.NoError(t, st.UpsertServerSettings(ctx, &store.ServerSettings{
		ServerID:          "srv-1",
		AnnounceChannelID: "chan-announce",
	}))
	platform.roleErr = errors.New("missing manage roles permission")

	require.NoError(t, approvals.ApproveRequest(ctx, req.ID, "op-1"))

	sub, err := st.GetEntityServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, sub.RoleID, "subscription stands without a role")

	// The announcement is independent of role creation.
	assert.Len(t, platform.announcements, 1)
}

func TestApprovals_MissingDefaultTemplateSubscribesWithoutPresets(t *testing.T) {
	approvals, st, _ := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")
	req := addRequest(t, st, entity.ID, "srv-1")

	require.NoError(t, st.UpsertServerSettings(ctx, &store.ServerSettings{
		ServerID:        "srv-1",
		DefaultTemplate: "deleted-template",
	}))

	require.NoError(t, approvals.ApproveRequest(ctx, req.ID, "op-1"))

	sub, err := st.GetEntityServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, sub.Channels)
}

func TestApprovals_ApproveIsSingleShot(t *testing.T) {
	approvals, st, _ := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")
	req := addRequest(t, st, entity.ID, "srv-1")

	require.NoError(t, approvals.ApproveRequest(ctx, req.ID, "op-1"))

	err := approvals.ApproveRequest(ctx, req.ID, "op-2")
	assert.ErrorIs(t, err, store.ErrRequestNotPending)

	// The reviewer from the winning transition is preserved.
	updated, err := st.GetServerRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "op-1", updated.ReviewerID)
}

func TestApprovals_ApproveRejectedRequestFails(t *testing.T) {
	approvals, st, platform := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")
	req := addRequest(t, st, entity.ID, "srv-1")

	require.NoError(t, approvals.RejectRequest(ctx, req.ID, "op-1"))

	err := approvals.ApproveRequest(ctx, req.ID, "op-2")
	assert.ErrorIs(t, err, store.ErrRequestNotPending)

	_, err = st.GetEntityServer(ctx, entity.ID, "srv-1")
	assert.ErrorIs(t, err, store.ErrNotFound, "rejection never subscribes")
	assert.Empty(t, platform.createdRoles)
}

func TestApprovals_ApproveMissingRequest(t *testing.T) {
	approvals, _, _ := setupApprovals(t)

	err := approvals.ApproveRequest(context.Background(), "nonexistent", "op-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApprovals_ApproveToleratesExistingSubscription(t *testing.T) {
	approvals, st, platform := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")
	req := addRequest(t, st, entity.ID, "srv-1")

	// An operator subscribed the entity manually before the review happened.
	require.NoError(t, st.AddServer(ctx, &store.EntityServer{
		EntityID: entity.ID,
		ServerID: "srv-1",
		Channels: []string{"chan-manual"},
	}))

	require.NoError(t, approvals.ApproveRequest(ctx, req.ID, "op-1"))

	updated, err := st.GetServerRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RequestStatusApproved, updated.Status)

	sub, err := st.GetEntityServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"chan-manual"}, sub.Channels, "existing row is untouched")
	assert.Empty(t, platform.createdRoles, "no role for a subscription this flow did not create")
}

func TestApprovals_Reject(t *testing.T) {
	approvals, st, platform := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")
	req := addRequest(t, st, entity.ID, "srv-1")

	require.NoError(t, approvals.RejectRequest(ctx, req.ID, "op-1"))

	updated, err := st.GetServerRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RequestStatusRejected, updated.Status)

	_, err = st.GetEntityServer(ctx, entity.ID, "srv-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, platform.createdRoles)
	assert.Empty(t, platform.announcements)
}

func TestApprovals_RemoveFromServerDeletesRole(t *testing.T) {
	approvals, st, platform := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")

	require.NoError(t, st.AddServer(ctx, &store.EntityServer{
		EntityID: entity.ID,
		ServerID: "srv-1",
		RoleID:   "role-9",
	}))

	require.NoError(t, approvals.RemoveFromServer(ctx, entity.ID, "srv-1"))

	_, err := st.GetEntityServer(ctx, entity.ID, "srv-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.Len(t, platform.deletedRoles, 1)
	assert.Equal(t, deletedRole{serverID: "srv-1", roleID: "role-9"}, platform.deletedRoles[0])
}

func TestApprovals_RemoveFromServerWithoutRole(t *testing.T) {
	approvals, st, platform := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")

	require.NoError(t, st.AddServer(ctx, &store.EntityServer{
		EntityID: entity.ID,
		ServerID: "srv-1",
	}))

	require.NoError(t, approvals.RemoveFromServer(ctx, entity.ID, "srv-1"))
	assert.Empty(t, platform.deletedRoles)
}

func TestApprovals_RemoveFromServerRoleFailureStillRemoves(t *testing.T) {
	approvals, st, platform := setupApprovals(t)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")

	require.NoError(t, st.AddServer(ctx, &store.EntityServer{
		EntityID: entity.ID,
		ServerID: "srv-1",
		RoleID:   "role-9",
	}))
	platform.deleteErr = errors.New("role already gone")

	require.NoError(t, approvals.RemoveFromServer(ctx, entity.ID, "srv-1"))

	_, err := st.GetEntityServer(ctx, entity.ID, "srv-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApprovals_RemoveFromServerMissingSubscription(t *testing.T) {
	approvals, _, _ := setupApprovals(t)

	err := approvals.RemoveFromServer(context.Background(), "ent-1", "srv-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApprovals_NilPlatformSkipsPlatformSteps(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	approvals := NewApprovals(st, nil, logger)
	ctx := context.Background()
	entity := addEntity(t, st, "Iris")
	req := addRequest(t, st, entity.ID, "srv-1")

	require.NoError(t, st.UpsertServerSettings(ctx, &store.ServerSettings{
		ServerID:          "srv-1",
		AnnounceChannelID: "chan-announce",
	}))

	require.NoError(t, approvals.ApproveRequest(ctx, req.ID, "op-1"))

	sub, err := st.GetEntityServer(ctx, entity.ID, "srv-1")
	require.NoError(t, err)
	assert.Empty(t, sub.RoleID)

	require.NoError(t, approvals.RemoveFromServer(ctx, entity.ID, "srv-1"))
}

func TestRenderTemplate(t *testing.T) {
	assert.Equal(t, "Iris has joined Test Server.",
		renderTemplate(defaultAnnounceTemplate, "Iris", "Test Server"))
	assert.Equal(t, "Iris", renderTemplate(defaultRoleTemplate, "Iris", "Test Server"))
	assert.Equal(t, "no placeholders", renderTemplate("no placeholders", "Iris", "Test Server"))
}
