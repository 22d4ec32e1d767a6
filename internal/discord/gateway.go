// ABOUTME: Platform gateway owning the bot session, event fan-out, and state lookups
// ABOUTME: Consumers attach handlers before Login; banned servers are left and muted

// Package discord wraps the platform session behind a stable event surface.
// It normalises inbound messages, drops DMs and replayed events at the
// boundary, auto-leaves banned servers, and exposes the small set of REST
// and state helpers the rest of the bridge needs.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/arachne-bridge/arachne/internal/dedupe"
	"github.com/arachne-bridge/arachne/internal/metrics"
)

// BanChecker answers whether a server is on the refuse list.
// The registry store satisfies it.
type BanChecker interface {
	IsServerBanned(ctx context.Context, serverID string) (bool, error)
}

// MessageHandler receives each normalised server message exactly once.
type MessageHandler func(ctx context.Context, msg Message)

// Gateway owns the bot's platform connection.
type Gateway struct {
	session *discordgo.Session
	bans    BanChecker
	logger  *slog.Logger
	metrics *metrics.Recorder
	seen    *dedupe.Cache

	// handlers are attached before Login and read-only afterwards
	msgHandlers   []MessageHandler
	readyHandlers []func()

	readyOnce sync.Once
	ready     atomic.Bool

	suppressMu sync.Mutex
	suppressed map[string]struct{}

	closeOnce sync.Once
	ctx       context.Context

	// leave is swapped out by tests
	leave func(serverID string) error
}

// New builds a Gateway for the given bot token. It does not connect;
// call Login after attaching handlers. rec may be nil.
func New(token string, bans BanChecker, logger *slog.Logger, rec *metrics.Recorder) (*Gateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	// Handlers run on the event reader goroutine so pushes for a channel
	// keep the order messages arrived in
	session.SyncEvents = true

	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		session:    session,
		bans:       bans,
		logger:     logger,
		metrics:    rec,
		seen:       dedupe.New(dedupe.DefaultSize),
		suppressed: make(map[string]struct{}),
		ctx:        context.Background(),
	}
	g.leave = func(serverID string) error {
		return g.session.GuildLeave(serverID)
	}
	return g, nil
}

// OnMessage attaches a message consumer. Must be called before Login.
func (g *Gateway) OnMessage(h MessageHandler) {
	g.msgHandlers = append(g.msgHandlers, h)
}

// OnReady attaches a callback run once, after the first connect completes.
// Must be called before Login.
func (g *Gateway) OnReady(fn func()) {
	g.readyHandlers = append(g.readyHandlers, fn)
}

// Login registers the event handlers and opens the connection. The given
// context is handed to message consumers on every dispatch.
func (g *Gateway) Login(ctx context.Context) error {
	g.ctx = ctx

	g.session.AddHandler(g.handleReady)
	g.session.AddHandler(g.handleMessageCreate)
	g.session.AddHandler(g.handleGuildCreate)

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("opening session: %w", err)
	}
	return nil
}

// Close shuts the connection down. Idempotent; later calls return nil.
func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		err = g.session.Close()
	})
	return err
}

func (g *Gateway) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	g.ready.Store(true)
	g.readyOnce.Do(func() {
		if r.User != nil {
			g.logger.Info("connected to platform", "username", r.User.Username, "user_id", r.User.ID)
		}
		for _, fn := range g.readyHandlers {
			fn()
		}
	})
}

func (g *Gateway) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	// DMs never bridge
	if m.GuildID == "" {
		return
	}
	if g.isSuppressed(m.GuildID) {
		return
	}
	if m.Content == "" {
		return
	}

	// Reconnects replay recent events
	if g.seen.CheckAndMark(m.ID) {
		g.metrics.DedupeHit()
		return
	}

	g.metrics.MessageReceived()
	msg := normalise(m)
	for _, h := range g.msgHandlers {
		h(g.ctx, msg)
	}
}

// handleGuildCreate fires for every server at connect and on each join.
// Banned servers are left immediately and muted even before the leave
// completes.
func (g *Gateway) handleGuildCreate(_ *discordgo.Session, gc *discordgo.GuildCreate) {
	banned, err := g.bans.IsServerBanned(g.ctx, gc.ID)
	if err != nil {
		g.logger.Error("ban check failed", "server_id", gc.ID, "error", err)
		return
	}
	if !banned {
		g.logger.Debug("server available", "server_id", gc.ID, "name", gc.Name)
		return
	}

	g.suppressMu.Lock()
	g.suppressed[gc.ID] = struct{}{}
	g.suppressMu.Unlock()

	g.logger.Warn("leaving banned server", "server_id", gc.ID, "name", gc.Name)
	if err := g.leave(gc.ID); err != nil {
		g.logger.Error("failed to leave banned server", "server_id", gc.ID, "error", err)
	}
}

func (g *Gateway) isSuppressed(serverID string) bool {
	g.suppressMu.Lock()
	defer g.suppressMu.Unlock()
	_, ok := g.suppressed[serverID]
	return ok
}

// ChannelName resolves a channel's name from session state, falling back to
// the id when the channel is unknown.
func (g *Gateway) ChannelName(id string) string {
	ch, err := g.session.State.Channel(id)
	if err != nil || ch.Name == "" {
		return id
	}
	return ch.Name
}

// ServerName resolves a server's name from session state, falling back to
// the id.
func (g *Gateway) ServerName(id string) string {
	guild, err := g.session.State.Guild(id)
	if err != nil || guild.Name == "" {
		return id
	}
	return guild.Name
}

// ChannelServer reports which server a channel belongs to, or "" if the
// channel is not in state.
func (g *Gateway) ChannelServer(channelID string) string {
	ch, err := g.session.State.Channel(channelID)
	if err != nil {
		return ""
	}
	return ch.GuildID
}

// NotifyOwner sends a direct message to a platform user.
func (g *Gateway) NotifyOwner(ctx context.Context, userID, text string) error {
	ch, err := g.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("creating dm channel: %w", err)
	}
	if _, err := g.session.ChannelMessageSend(ch.ID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending dm: %w", err)
	}
	return nil
}

// CreateEntityRole creates a mentionable role for an entity on a server and
// returns its id.
func (g *Gateway) CreateEntityRole(ctx context.Context, serverID, name string) (string, error) {
	mentionable := true
	role, err := g.session.GuildRoleCreate(serverID, &discordgo.RoleParams{
		Name:        name,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("creating role: %w", err)
	}
	return role.ID, nil
}

// DeleteEntityRole removes an entity's role from a server.
func (g *Gateway) DeleteEntityRole(ctx context.Context, serverID, roleID string) error {
	if err := g.session.GuildRoleDelete(serverID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("deleting role: %w", err)
	}
	return nil
}

// Announce posts an embed with the given text to a channel.
func (g *Gateway) Announce(ctx context.Context, channelID, text string) error {
	embed := &discordgo.MessageEmbed{Description: text}
	if _, err := g.session.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("sending announcement: %w", err)
	}
	return nil
}

// BotUserID returns the bot's own user id, or "" before the first connect.
func (g *Gateway) BotUserID() string {
	if g.session.State != nil && g.session.State.User != nil {
		return g.session.State.User.ID
	}
	return ""
}

// IsReady reports whether the first connect has completed.
func (g *Gateway) IsReady() bool {
	return g.ready.Load()
}

// Session exposes the underlying session for the webhook manager.
func (g *Gateway) Session() *discordgo.Session {
	return g.session
}
