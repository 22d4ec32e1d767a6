// ABOUTME: Store interface and data types for the Arachne entity registry
// ABOUTME: Defines Entity, EntityServer, ServerRequest structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadySubscribed is returned when adding an entity to a server it is already on
var ErrAlreadySubscribed = errors.New("entity already subscribed to server")

// ErrRequestNotPending is returned when transitioning a server request that is already terminal
var ErrRequestNotPending = errors.New("request is not pending")

// ErrEntityLimit is returned when an owner is at their active entity cap
var ErrEntityLimit = errors.New("owner entity limit reached")

// DefaultOwnerEntityLimit caps active entities per owner at create time.
const DefaultOwnerEntityLimit = 5

// Entity represents an external agent registered with the bridge.
// APIKeyHash and APIKeySalt are credential material and must never be
// exposed through any API surface or log.
type Entity struct {
	ID              string
	Name            string
	AvatarURL       string
	Description     string
	AccentColor     string
	Platform        string
	APIKeyHash      []byte
	APIKeySalt      []byte
	OwnerID         string
	OwnerName       string
	NotifyOnMention bool
	NotifyOnTrigger bool
	Triggers        []string
	Active          bool
	CreatedAt       time.Time
}

// EntityPatch describes a partial identity update. Nil fields are left unchanged.
type EntityPatch struct {
	Name        *string
	AvatarURL   *string
	Description *string
	AccentColor *string
	Platform    *string
}

// EntityServer represents an entity's subscription to a server.
// Channels is the set of channel ids the entity may use; empty means all.
// WatchChannels narrows ingress when non-empty; BlockedChannels always wins.
type EntityServer struct {
	EntityID        string
	ServerID        string
	Channels        []string
	Tools           []string
	WatchChannels   []string
	BlockedChannels []string
	RoleID          string
	CreatedAt       time.Time
}

// Subscriber pairs an active entity with its subscription row for routing.
type Subscriber struct {
	Entity *Entity
	Server *EntityServer
}

// ServerRequest status values
const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusRejected = "rejected"
)

// ServerRequest represents an application to add an entity to a server.
// Status only ever moves pending -> approved or pending -> rejected.
type ServerRequest struct {
	ID            string
	EntityID      string
	ServerID      string
	ApplicantID   string
	ApplicantName string
	Status        string
	ReviewerID    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ServerTemplate is a named channels+tools preset for a server.
type ServerTemplate struct {
	ServerID  string
	Name      string
	Channels  []string
	Tools     []string
	CreatedAt time.Time
}

// ServerSettings holds server-wide bridge configuration.
type ServerSettings struct {
	ServerID          string
	AnnounceChannelID string
	AnnounceTemplate  string
	RoleTemplate      string
	DefaultTemplate   string
	UpdatedAt         time.Time
}

// ServerBan marks a server the bridge refuses to join.
type ServerBan struct {
	ServerID  string
	Reason    string
	CreatedAt time.Time
}

// Store defines the interface for entity registry persistence
type Store interface {
	// Entities
	CreateEntity(ctx context.Context, name, avatarURL, ownerID, ownerName string) (*Entity, string, error)
	GetEntity(ctx context.Context, id string) (*Entity, error)
	ListEntities(ctx context.Context) ([]*Entity, error)
	ListActiveEntities(ctx context.Context) ([]*Entity, error)
	ListEntitiesByOwner(ctx context.Context, ownerID string) ([]*Entity, error)
	UpdateEntityIdentity(ctx context.Context, id string, patch EntityPatch) error
	SetEntityOwner(ctx context.Context, id, ownerID, ownerName string) error
	SetEntityTriggers(ctx context.Context, id string, triggers []string) error
	SetEntityNotifyPrefs(ctx context.Context, id string, onMention, onTrigger bool) error
	RegenerateEntityKey(ctx context.Context, id string) (string, error)
	DeactivateEntity(ctx context.Context, id string) error

	// Server subscriptions
	AddServer(ctx context.Context, sub *EntityServer) error
	RemoveServer(ctx context.Context, entityID, serverID string) (string, error)
	GetEntityServer(ctx context.Context, entityID, serverID string) (*EntityServer, error)
	ListEntityServers(ctx context.Context, entityID string) ([]*EntityServer, error)
	ListServerEntities(ctx context.Context, serverID string) ([]*Subscriber, error)
	UpdateServerChannels(ctx context.Context, entityID, serverID string, channels, tools []string) error
	UpdateServerFilters(ctx context.Context, entityID, serverID string, watch, blocked []string) error
	UpdateServerRoleID(ctx context.Context, entityID, serverID, roleID string) error
	GetEntitiesForChannel(ctx context.Context, serverID, channelID string) ([]*Subscriber, error)
	GetRoleEntityMap(ctx context.Context, serverID string) (map[string]string, error)

	// Server requests
	CreateServerRequest(ctx context.Context, req *ServerRequest) error
	GetServerRequest(ctx context.Context, id string) (*ServerRequest, error)
	ListServerRequests(ctx context.Context, serverID, status string) ([]*ServerRequest, error)
	UpdateServerRequest(ctx context.Context, id, status, reviewerID string) error

	// Templates and settings
	UpsertServerTemplate(ctx context.Context, tmpl *ServerTemplate) error
	GetServerTemplate(ctx context.Context, serverID, name string) (*ServerTemplate, error)
	ListServerTemplates(ctx context.Context, serverID string) ([]*ServerTemplate, error)
	DeleteServerTemplate(ctx context.Context, serverID, name string) error
	UpsertServerSettings(ctx context.Context, settings *ServerSettings) error
	GetServerSettings(ctx context.Context, serverID string) (*ServerSettings, error)

	// Server bans
	BanServer(ctx context.Context, serverID, reason string) error
	UnbanServer(ctx context.Context, serverID string) error
	IsServerBanned(ctx context.Context, serverID string) (bool, error)
	ListServerBans(ctx context.Context) ([]*ServerBan, error)

	// Close releases any resources held by the store
	Close() error
}
