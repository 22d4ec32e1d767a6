// ABOUTME: Entity-facing HTTP control API: authentication, queue drain, egress sends
// ABOUTME: Bearer-authenticated JSON surface mounted by the bridge orchestrator

package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arachne-bridge/arachne/internal/auth"
	"github.com/arachne-bridge/arachne/internal/bus"
	"github.com/arachne-bridge/arachne/internal/keystore"
	"github.com/arachne-bridge/arachne/internal/metrics"
	"github.com/arachne-bridge/arachne/internal/store"
)

// Registry is the store surface the control API needs.
type Registry interface {
	GetEntity(ctx context.Context, id string) (*store.Entity, error)
	UpdateEntityIdentity(ctx context.Context, id string, patch store.EntityPatch) error
	SetEntityTriggers(ctx context.Context, id string, triggers []string) error
	ListEntityServers(ctx context.Context, entityID string) ([]*store.EntityServer, error)
	GetEntityServer(ctx context.Context, entityID, serverID string) (*store.EntityServer, error)
	CreateBugReport(ctx context.Context, report *store.BugReport) error
	ListBugReports(ctx context.Context, reporterID, status string) ([]*store.BugReport, error)
	AddBugReportMessage(ctx context.Context, msg *store.BugReportMessage) error
	Ping(ctx context.Context) error
}

// Queue is the message bus surface exposed to entities.
type Queue interface {
	Drain(entityID string, key []byte) ([]bus.Message, error)
	Peek(entityID string, key []byte, limit int) ([]bus.Message, error)
	Len(entityID string) int
}

// Sender delivers outbound messages through per-entity webhook identities.
type Sender interface {
	Send(ctx context.Context, channelID, username, avatarURL, content, threadID string) error
}

// Directory answers platform topology questions without hitting the network.
type Directory interface {
	IsReady() bool
	ChannelServer(channelID string) string
	ServerName(id string) string
}

// Authenticator resolves raw API keys to entity ids.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (string, error)
	InvalidateKey(entityID string)
}

// Server serves the entity control API. Construct with New and mount the
// routes on a mux via RegisterRoutes or Handler.
type Server struct {
	registry   Registry
	queue      Queue
	sender     Sender
	directory  Directory
	auth       Authenticator
	tokens     *auth.TokenIssuer // nil disables session tokens
	keys       *keystore.Store
	sessionTTL  time.Duration
	metricsH    http.Handler // nil disables the metrics route
	metricsPath string
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// Config carries the collaborators and settings for a control Server.
type Config struct {
	Registry   Registry
	Queue      Queue
	Sender     Sender
	Directory  Directory
	Auth       Authenticator
	Tokens     *auth.TokenIssuer
	Keys       *keystore.Store
	SessionTTL  time.Duration
	MetricsH    http.Handler
	MetricsPath string
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
}

// New creates a control API server. Tokens and MetricsH are optional.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	return &Server{
		registry:    cfg.Registry,
		queue:       cfg.Queue,
		sender:      cfg.Sender,
		directory:   cfg.Directory,
		auth:        cfg.Auth,
		tokens:      cfg.Tokens,
		keys:        cfg.Keys,
		sessionTTL:  ttl,
		metricsH:    cfg.MetricsH,
		metricsPath: metricsPath,
		metrics:     cfg.Metrics,
		logger:      logger,
	}
}

// RegisterRoutes registers all control API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Health is unauthenticated so orchestrators can probe it
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metricsH != nil {
		mux.Handle("GET "+s.metricsPath, s.metricsH)
	}

	mux.HandleFunc("POST /v1/auth", s.requireEntity(s.handleAuth))
	mux.HandleFunc("GET /v1/messages", s.requireEntity(s.handleDrain))
	mux.HandleFunc("GET /v1/messages/peek", s.requireEntity(s.handlePeek))
	mux.HandleFunc("POST /v1/send", s.requireEntity(s.handleSend))
	mux.HandleFunc("GET /v1/profile", s.requireEntity(s.handleGetProfile))
	mux.HandleFunc("PATCH /v1/profile", s.requireEntity(s.handleUpdateProfile))
	mux.HandleFunc("GET /v1/servers", s.requireEntity(s.handleListServers))
	mux.HandleFunc("POST /v1/bugs", s.requireEntity(s.handleCreateBug))
	mux.HandleFunc("GET /v1/bugs", s.requireEntity(s.handleListBugs))
}

// Handler returns a mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Identity is the authenticated caller attached to request contexts.
// ViaAPIKey distinguishes full credential auth from session-token auth;
// only the former installs queue encryption keys.
type Identity struct {
	EntityID  string
	ViaAPIKey bool
}

type identityKey struct{}

// WithIdentity returns a context carrying the authenticated identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom retrieves the authenticated identity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty credential"
	}
	return token, ""
}

// requireEntity authenticates the request and attaches the entity identity.
// API keys take the full credential-scan path and install the queue key;
// anything else is treated as a session token when sessions are enabled.
func (s *Server) requireEntity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential, errMsg := extractBearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			s.writeError(w, http.StatusUnauthorized, errMsg, "unauthorized")
			return
		}

		identity, errMsg := s.authenticate(r.Context(), credential)
		if errMsg != "" {
			s.metrics.AuthAttempt("fail")
			s.writeError(w, http.StatusUnauthorized, errMsg, "unauthorized")
			return
		}

		s.metrics.AuthAttempt("ok")
		next(w, r.WithContext(WithIdentity(r.Context(), identity)))
	}
}

func (s *Server) authenticate(ctx context.Context, credential string) (Identity, string) {
	if auth.IsAPIKey(credential) {
		entityID, err := s.auth.Authenticate(ctx, credential)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidAPIKey) {
				s.logger.Error("api key authentication failed", "error", err)
			}
			return Identity{}, "invalid api key"
		}
		return Identity{EntityID: entityID, ViaAPIKey: true}, ""
	}

	if s.tokens == nil {
		return Identity{}, "invalid api key"
	}

	entityID, err := s.tokens.Verify(credential)
	if err != nil {
		return Identity{}, "invalid or expired session token"
	}

	// Tokens outlive deactivation, so re-check the entity on every request
	entity, err := s.registry.GetEntity(ctx, entityID)
	if err != nil {
		return Identity{}, "invalid or expired session token"
	}
	if !entity.Active {
		// Deactivation also revokes the cached queue key
		s.auth.InvalidateKey(entityID)
		return Identity{}, "invalid or expired session token"
	}

	return Identity{EntityID: entityID}, ""
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response", "error", err)
	}
}

// writeError writes the standard JSON error body {error, code}.
func (s *Server) writeError(w http.ResponseWriter, status int, message, code string) {
	s.writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// writeStoreError maps registry errors onto the API status contract.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found", "not_found")
	case errors.Is(err, store.ErrBadInput):
		s.writeError(w, http.StatusBadRequest, err.Error(), "bad_input")
	case errors.Is(err, store.ErrAlreadySubscribed), errors.Is(err, store.ErrRequestNotPending):
		s.writeError(w, http.StatusConflict, err.Error(), "conflict")
	default:
		s.logger.Error("registry operation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
	}
}
