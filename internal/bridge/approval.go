// ABOUTME: Server-request approval workflow: transition, subscription, role, announcement
// ABOUTME: Role creation and announcements are best-effort; the subscription always stands

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arachne-bridge/arachne/internal/store"
)

// Templates applied when a server never configured the bridge.
const (
	defaultRoleTemplate     = "{entity}"
	defaultAnnounceTemplate = "{entity} has joined {server}."
)

// Platform is the slice of chat-platform operations the approval flow uses.
type Platform interface {
	CreateEntityRole(ctx context.Context, serverID, name string) (string, error)
	DeleteEntityRole(ctx context.Context, serverID, roleID string) error
	Announce(ctx context.Context, channelID, text string) error
	ServerName(id string) string
}

// ApprovalStore is the registry surface consumed by the approval flow.
type ApprovalStore interface {
	GetServerRequest(ctx context.Context, id string) (*store.ServerRequest, error)
	UpdateServerRequest(ctx context.Context, id, status, reviewerID string) error
	GetEntity(ctx context.Context, id string) (*store.Entity, error)
	GetServerSettings(ctx context.Context, serverID string) (*store.ServerSettings, error)
	GetServerTemplate(ctx context.Context, serverID, name string) (*store.ServerTemplate, error)
	AddServer(ctx context.Context, sub *store.EntityServer) error
	UpdateServerRoleID(ctx context.Context, entityID, serverID, roleID string) error
	RemoveServer(ctx context.Context, entityID, serverID string) (string, error)
}

// Approvals executes the server-request workflow: reviewers approve or reject
// pending requests, and approval places the entity on the server.
//
// A nil platform skips the role and announcement steps; offline tooling uses
// that to apply the store-side transition alone.
type Approvals struct {
	store    ApprovalStore
	platform Platform
	logger   *slog.Logger
}

// NewApprovals creates the approval workflow around a registry and an
// optional platform connection.
func NewApprovals(st ApprovalStore, platform Platform, logger *slog.Logger) *Approvals {
	if logger == nil {
		logger = slog.Default()
	}
	return &Approvals{store: st, platform: platform, logger: logger}
}

// ApproveRequest moves a pending request to approved and subscribes the
// entity to the server, seeding channels and tools from the server's default
// template. The transition and the subscription insert must succeed; role
// creation and the announcement run afterwards as best-effort steps, so a
// platform hiccup never strands an approved entity without its subscription.
func (a *Approvals) ApproveRequest(ctx context.Context, requestID, reviewerID string) error {
	req, err := a.store.GetServerRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("loading request: %w", err)
	}
	entity, err := a.store.GetEntity(ctx, req.EntityID)
	if err != nil {
		return fmt.Errorf("loading entity %s: %w", req.EntityID, err)
	}

	if err := a.store.UpdateServerRequest(ctx, requestID, store.RequestStatusApproved, reviewerID); err != nil {
		return err
	}

	settings := a.serverSettings(ctx, req.ServerID)

	sub := &store.EntityServer{
		EntityID: req.EntityID,
		ServerID: req.ServerID,
	}
	if settings.DefaultTemplate != "" {
		tmpl, err := a.store.GetServerTemplate(ctx, req.ServerID, settings.DefaultTemplate)
		if err != nil {
			a.logger.Warn("default template missing, subscribing without presets",
				"server_id", req.ServerID,
				"template", settings.DefaultTemplate,
				"error", err,
			)
		} else {
			sub.Channels = tmpl.Channels
			sub.Tools = tmpl.Tools
		}
	}

	if err := a.store.AddServer(ctx, sub); err != nil {
		if errors.Is(err, store.ErrAlreadySubscribed) {
			// A manual subscription beat the approval. The end state is what
			// the reviewer wanted, so leave the existing row untouched.
			a.logger.Warn("entity already subscribed, keeping existing subscription",
				"entity_id", req.EntityID, "server_id", req.ServerID)
			return nil
		}
		return fmt.Errorf("recording subscription: %w", err)
	}

	a.logger.Info("approved server request",
		"request_id", requestID,
		"entity_id", req.EntityID,
		"server_id", req.ServerID,
		"reviewer", reviewerID,
	)

	if a.platform == nil {
		return nil
	}
	a.createRole(ctx, req, entity, settings)
	a.announce(ctx, req, entity, settings)
	return nil
}

// RejectRequest moves a pending request to rejected. No other state changes.
func (a *Approvals) RejectRequest(ctx context.Context, requestID, reviewerID string) error {
	return a.store.UpdateServerRequest(ctx, requestID, store.RequestStatusRejected, reviewerID)
}

// RemoveFromServer deletes an entity's subscription and best-effort deletes
// the platform role that approval created. A role deletion failure leaves an
// orphaned role behind but never resurrects the subscription.
func (a *Approvals) RemoveFromServer(ctx context.Context, entityID, serverID string) error {
	roleID, err := a.store.RemoveServer(ctx, entityID, serverID)
	if err != nil {
		return err
	}
	if roleID == "" || a.platform == nil {
		return nil
	}
	if err := a.platform.DeleteEntityRole(ctx, serverID, roleID); err != nil {
		a.logger.Warn("role deletion failed",
			"entity_id", entityID,
			"server_id", serverID,
			"role_id", roleID,
			"error", err,
		)
	}
	return nil
}

// serverSettings loads a server's bridge settings, substituting zero values
// for servers that never configured anything.
func (a *Approvals) serverSettings(ctx context.Context, serverID string) *store.ServerSettings {
	settings, err := a.store.GetServerSettings(ctx, serverID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("loading server settings", "server_id", serverID, "error", err)
		}
		return &store.ServerSettings{ServerID: serverID}
	}
	return settings
}

func (a *Approvals) createRole(ctx context.Context, req *store.ServerRequest, entity *store.Entity, settings *store.ServerSettings) {
	tmpl := settings.RoleTemplate
	if tmpl == "" {
		tmpl = defaultRoleTemplate
	}
	name := renderTemplate(tmpl, entity.Name, a.platform.ServerName(req.ServerID))

	roleID, err := a.platform.CreateEntityRole(ctx, req.ServerID, name)
	if err != nil {
		a.logger.Warn("role creation failed, subscription stands",
			"entity_id", req.EntityID,
			"server_id", req.ServerID,
			"error", err,
		)
		return
	}
	if err := a.store.UpdateServerRoleID(ctx, req.EntityID, req.ServerID, roleID); err != nil {
		a.logger.Error("created role but could not persist its id",
			"entity_id", req.EntityID,
			"server_id", req.ServerID,
			"role_id", roleID,
			"error", err,
		)
	}
}

func (a *Approvals) announce(ctx context.Context, req *store.ServerRequest, entity *store.Entity, settings *store.ServerSettings) {
	if settings.AnnounceChannelID == "" {
		return
	}
	tmpl := settings.AnnounceTemplate
	if tmpl == "" {
		tmpl = defaultAnnounceTemplate
	}
	text := renderTemplate(tmpl, entity.Name, a.platform.ServerName(req.ServerID))
	if err := a.platform.Announce(ctx, settings.AnnounceChannelID, text); err != nil {
		a.logger.Warn("announcement failed",
			"server_id", req.ServerID,
			"channel_id", settings.AnnounceChannelID,
			"error", err,
		)
	}
}

// renderTemplate substitutes the {entity} and {server} placeholders.
func renderTemplate(tmpl, entityName, serverName string) string {
	return strings.NewReplacer("{entity}", entityName, "{server}", serverName).Replace(tmpl)
}
