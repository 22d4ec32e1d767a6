// ABOUTME: HTTP handlers and JSON shapes for the entity control API
// ABOUTME: Covers auth, queue drain/peek, egress sends, profile, servers, bugs

package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/arachne-bridge/arachne/internal/bus"
	"github.com/arachne-bridge/arachne/internal/store"
	"github.com/arachne-bridge/arachne/internal/webhook"
)

// maxSendRunes is the platform's message length limit.
const maxSendRunes = 2000

// peek limits
const (
	defaultPeekLimit = 10
	maxPeekLimit     = 100
)

// EntityProfile is the JSON shape for profile reads and auth responses.
type EntityProfile struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	AvatarURL       string   `json:"avatar_url,omitempty"`
	Description     string   `json:"description,omitempty"`
	AccentColor     string   `json:"accent_color,omitempty"`
	Platform        string   `json:"platform,omitempty"`
	Triggers        []string `json:"triggers"`
	NotifyOnMention bool     `json:"notify_on_mention"`
	NotifyOnTrigger bool     `json:"notify_on_trigger"`
	CreatedAt       string   `json:"created_at"`
}

// AuthResponse is the JSON response for POST /v1/auth.
type AuthResponse struct {
	Entity       EntityProfile `json:"entity"`
	QueueDepth   int           `json:"queue_depth"`
	SessionToken string        `json:"session_token,omitempty"`
	ExpiresIn    int64         `json:"expires_in_seconds,omitempty"`
}

// MessagesResponse is the JSON response for GET /v1/messages and peek.
type MessagesResponse struct {
	Messages []bus.Message `json:"messages"`
	Count    int           `json:"count"`
}

// SendRequest is the JSON request body for POST /v1/send.
type SendRequest struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// UpdateProfileRequest is the JSON request body for PATCH /v1/profile.
// Nil fields are left unchanged.
type UpdateProfileRequest struct {
	Name        *string   `json:"name"`
	AvatarURL   *string   `json:"avatar_url"`
	Description *string   `json:"description"`
	AccentColor *string   `json:"accent_color"`
	Platform    *string   `json:"platform"`
	Triggers    *[]string `json:"triggers"`
}

// ServerSubscription is one element of the GET /v1/servers response.
type ServerSubscription struct {
	ServerID        string   `json:"server_id"`
	ServerName      string   `json:"server_name,omitempty"`
	Channels        []string `json:"channels"`
	Tools           []string `json:"tools"`
	WatchChannels   []string `json:"watch_channels"`
	BlockedChannels []string `json:"blocked_channels"`
	RoleID          string   `json:"role_id,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

// ListServersResponse is the JSON response for GET /v1/servers.
type ListServersResponse struct {
	Servers []ServerSubscription `json:"servers"`
}

// CreateBugRequest is the JSON request body for POST /v1/bugs.
type CreateBugRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// BugReportResponse is the JSON shape for bug report reads.
type BugReportResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ListBugsResponse is the JSON response for GET /v1/bugs.
type ListBugsResponse struct {
	Reports []BugReportResponse `json:"reports"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	GatewayReady bool   `json:"gateway_ready"`
	Database     bool   `json:"database"`
}

// handleAuth handles POST /v1/auth. It returns the entity profile plus a
// session token when sessions are enabled and the caller presented a full
// API key. Session-token callers get their profile back but never a fresh
// token, so a deactivated key cannot be laundered into a new session.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	entity, err := s.registry.GetEntity(r.Context(), identity.EntityID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	resp := AuthResponse{
		Entity:     toProfile(entity),
		QueueDepth: s.queue.Len(entity.ID),
	}

	if s.tokens != nil && identity.ViaAPIKey {
		token, err := s.tokens.Issue(entity.ID, s.sessionTTL)
		if err != nil {
			s.logger.Error("issuing session token", "entity_id", entity.ID, "error", err)
		} else {
			resp.SessionToken = token
			resp.ExpiresIn = int64(s.sessionTTL.Seconds())
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleDrain handles GET /v1/messages. Draining removes the returned
// messages from the queue.
func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	key, _ := s.keys.Get(identity.EntityID)
	messages, err := s.queue.Drain(identity.EntityID, key)
	if err != nil {
		if errors.Is(err, bus.ErrKeyMissing) {
			s.writeError(w, http.StatusConflict,
				"queue key missing; authenticate with your API key to restore it", "key_missing")
			return
		}
		s.logger.Error("drain failed", "entity_id", identity.EntityID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	if messages == nil {
		messages = []bus.Message{}
	}
	s.writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages, Count: len(messages)})
}

// handlePeek handles GET /v1/messages/peek?limit=N without consuming the queue.
func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	limit := defaultPeekLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer", "bad_input")
			return
		}
		limit = parsed
		if limit > maxPeekLimit {
			limit = maxPeekLimit
		}
	}

	key, _ := s.keys.Get(identity.EntityID)
	messages, err := s.queue.Peek(identity.EntityID, key, limit)
	if err != nil {
		if errors.Is(err, bus.ErrKeyMissing) {
			s.writeError(w, http.StatusConflict,
				"queue key missing; authenticate with your API key to restore it", "key_missing")
			return
		}
		s.logger.Error("peek failed", "entity_id", identity.EntityID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error", "internal")
		return
	}

	if messages == nil {
		messages = []bus.Message{}
	}
	s.writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages, Count: len(messages)})
}

// handleSend handles POST /v1/send. The entity may send only into channels
// on servers it is subscribed to; an empty channel allow-list on the
// subscription means every channel of that server.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", "bad_input")
		return
	}
	if req.ChannelID == "" {
		s.writeError(w, http.StatusBadRequest, "channel_id is required", "bad_input")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.writeError(w, http.StatusBadRequest, "content is required", "bad_input")
		return
	}
	if utf8.RuneCountInString(req.Content) > maxSendRunes {
		s.writeError(w, http.StatusBadRequest, "content exceeds 2000 characters", "bad_input")
		return
	}

	entity, err := s.registry.GetEntity(r.Context(), identity.EntityID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	serverID := s.directory.ChannelServer(req.ChannelID)
	if serverID == "" {
		s.writeError(w, http.StatusForbidden, "unknown channel", "forbidden")
		return
	}

	sub, err := s.registry.GetEntityServer(r.Context(), identity.EntityID, serverID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusForbidden, "not subscribed to this server", "forbidden")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if len(sub.Channels) > 0 && !containsString(sub.Channels, req.ChannelID) {
		s.writeError(w, http.StatusForbidden, "channel not allowed for this entity", "forbidden")
		return
	}

	err = s.sender.Send(r.Context(), req.ChannelID, entity.Name, entity.AvatarURL, req.Content, req.ThreadID)
	if err != nil {
		if errors.Is(err, webhook.ErrForbidden) {
			s.writeError(w, http.StatusForbidden, "missing platform permissions in this channel", "forbidden")
			return
		}
		s.logger.Error("webhook send failed",
			"entity_id", identity.EntityID, "channel_id", req.ChannelID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "message delivery failed", "internal")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"sent": true, "channel_id": req.ChannelID})
}

// handleGetProfile handles GET /v1/profile.
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	entity, err := s.registry.GetEntity(r.Context(), identity.EntityID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toProfile(entity))
}

// handleUpdateProfile handles PATCH /v1/profile.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", "bad_input")
		return
	}

	hasIdentityField := req.Name != nil || req.AvatarURL != nil || req.Description != nil ||
		req.AccentColor != nil || req.Platform != nil
	if !hasIdentityField && req.Triggers == nil {
		s.writeError(w, http.StatusBadRequest, "no fields to update", "bad_input")
		return
	}

	if hasIdentityField {
		patch := store.EntityPatch{
			Name:        req.Name,
			AvatarURL:   req.AvatarURL,
			Description: req.Description,
			AccentColor: req.AccentColor,
			Platform:    req.Platform,
		}
		if err := s.registry.UpdateEntityIdentity(r.Context(), identity.EntityID, patch); err != nil {
			s.writeStoreError(w, err)
			return
		}
	}

	if req.Triggers != nil {
		if err := s.registry.SetEntityTriggers(r.Context(), identity.EntityID, *req.Triggers); err != nil {
			s.writeStoreError(w, err)
			return
		}
	}

	entity, err := s.registry.GetEntity(r.Context(), identity.EntityID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toProfile(entity))
}

// handleListServers handles GET /v1/servers.
func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	subs, err := s.registry.ListEntityServers(r.Context(), identity.EntityID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	resp := ListServersResponse{Servers: make([]ServerSubscription, len(subs))}
	for i, sub := range subs {
		resp.Servers[i] = ServerSubscription{
			ServerID:        sub.ServerID,
			ServerName:      s.directory.ServerName(sub.ServerID),
			Channels:        emptyIfNil(sub.Channels),
			Tools:           emptyIfNil(sub.Tools),
			WatchChannels:   emptyIfNil(sub.WatchChannels),
			BlockedChannels: emptyIfNil(sub.BlockedChannels),
			RoleID:          sub.RoleID,
			CreatedAt:       sub.CreatedAt.Format(time.RFC3339),
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleCreateBug handles POST /v1/bugs. The body becomes the first message
// of the report's thread.
func (s *Server) handleCreateBug(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	var req CreateBugRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body", "bad_input")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "title is required", "bad_input")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		s.writeError(w, http.StatusBadRequest, "body is required", "bad_input")
		return
	}

	entity, err := s.registry.GetEntity(r.Context(), identity.EntityID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	report := &store.BugReport{
		ReporterID:   entity.ID,
		ReporterName: entity.Name,
		Title:        req.Title,
	}
	if err := s.registry.CreateBugReport(r.Context(), report); err != nil {
		s.writeStoreError(w, err)
		return
	}

	msg := &store.BugReportMessage{
		ReportID:   report.ID,
		AuthorID:   entity.ID,
		AuthorName: entity.Name,
		Body:       req.Body,
	}
	if err := s.registry.AddBugReportMessage(r.Context(), msg); err != nil {
		s.writeStoreError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, toBugResponse(report))
}

// handleListBugs handles GET /v1/bugs?status=open|closed, scoped to the
// authenticated entity's own reports.
func (s *Server) handleListBugs(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())

	status := r.URL.Query().Get("status")
	if status != "" && status != store.BugStatusOpen && status != store.BugStatusClosed {
		s.writeError(w, http.StatusBadRequest, "status must be open or closed", "bad_input")
		return
	}

	reports, err := s.registry.ListBugReports(r.Context(), identity.EntityID, status)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	resp := ListBugsResponse{Reports: make([]BugReportResponse, len(reports))}
	for i, report := range reports {
		resp.Reports[i] = toBugResponse(report)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health. Degraded state answers 503 so
// orchestrators restart or route around the instance.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ready := s.directory.IsReady()
	dbOK := true
	if err := s.registry.Ping(r.Context()); err != nil {
		s.logger.Error("database ping failed", "error", err)
		dbOK = false
	}

	status := http.StatusOK
	state := "ok"
	if !ready || !dbOK {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	s.writeJSON(w, status, HealthResponse{Status: state, GatewayReady: ready, Database: dbOK})
}

func toProfile(e *store.Entity) EntityProfile {
	return EntityProfile{
		ID:              e.ID,
		Name:            e.Name,
		AvatarURL:       e.AvatarURL,
		Description:     e.Description,
		AccentColor:     e.AccentColor,
		Platform:        e.Platform,
		Triggers:        emptyIfNil(e.Triggers),
		NotifyOnMention: e.NotifyOnMention,
		NotifyOnTrigger: e.NotifyOnTrigger,
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
}

func toBugResponse(r *store.BugReport) BugReportResponse {
	return BugReportResponse{
		ID:        r.ID,
		Title:     r.Title,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}

// emptyIfNil keeps JSON list fields as [] instead of null.
func emptyIfNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
