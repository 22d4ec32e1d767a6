// ABOUTME: Egress webhook manager, one adopted or created webhook per channel
// ABOUTME: Sends impersonate entities via per-message username and avatar overrides

// Package webhook owns the bridge's outbound path to channels. Each channel
// gets exactly one webhook, found or created on first use, and every entity
// send executes through it with that entity's name and avatar.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/singleflight"

	"github.com/arachne-bridge/arachne/internal/metrics"
)

// ErrForbidden marks an operation the platform rejected for missing
// permissions. Callers surface it as-is rather than retrying.
var ErrForbidden = errors.New("missing permissions")

// WebhookName is the name given to webhooks the bridge creates.
const WebhookName = "Arachne Bridge"

// Session is the slice of the platform session the manager needs.
// *discordgo.Session satisfies it.
type Session interface {
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookThreadExecute(webhookID, token string, wait bool, threadID string, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// BotIdentity reports the bridge's own platform user id once connected.
type BotIdentity interface {
	BotUserID() string
}

// hook is the cached execution handle for one channel's webhook.
type hook struct {
	id    string
	token string
}

// Manager caches one webhook per channel and executes entity sends through it.
type Manager struct {
	session Session
	bot     BotIdentity
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu    sync.RWMutex
	hooks map[string]hook

	// group collapses concurrent resolutions for the same channel into one
	// platform round-trip, so a burst never creates duplicate webhooks.
	group singleflight.Group
}

// NewManager creates a Manager. rec may be nil.
func NewManager(session Session, bot BotIdentity, logger *slog.Logger, rec *metrics.Recorder) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		session: session,
		bot:     bot,
		logger:  logger,
		metrics: rec,
		hooks:   make(map[string]hook),
	}
}

// Send posts content to channelID under the given username and avatar.
// A non-empty threadID targets a thread below the channel. If the cached
// webhook was deleted on the platform side, the cache entry is dropped and
// the send retried exactly once with a fresh webhook.
func (m *Manager) Send(ctx context.Context, channelID, username, avatarURL, content, threadID string) error {
	h, err := m.resolve(ctx, channelID)
	if err != nil {
		m.metrics.WebhookSend("error")
		return err
	}

	execErr := m.execute(ctx, h, username, avatarURL, content, threadID)
	if execErr == nil {
		m.metrics.WebhookSend("ok")
		return nil
	}

	if isUnknownWebhook(execErr) {
		m.invalidate(channelID)
		m.logger.Info("cached webhook gone, resolving a fresh one", "channel_id", channelID)

		h, err = m.resolve(ctx, channelID)
		if err != nil {
			m.metrics.WebhookSend("error")
			return err
		}
		execErr = m.execute(ctx, h, username, avatarURL, content, threadID)
		if execErr == nil {
			m.metrics.WebhookSend("retried")
			return nil
		}
	}

	m.metrics.WebhookSend("error")
	if isPermissionDenied(execErr) {
		return fmt.Errorf("%w: sending to channel %s", ErrForbidden, channelID)
	}
	return fmt.Errorf("executing webhook: %w", execErr)
}

// resolve returns the channel's webhook, hitting the cache first.
func (m *Manager) resolve(ctx context.Context, channelID string) (hook, error) {
	m.mu.RLock()
	h, ok := m.hooks[channelID]
	m.mu.RUnlock()
	if ok {
		return h, nil
	}

	v, err, _ := m.group.Do(channelID, func() (any, error) {
		// A concurrent caller may have finished while we queued
		m.mu.RLock()
		h, ok := m.hooks[channelID]
		m.mu.RUnlock()
		if ok {
			return h, nil
		}
		return m.lookupOrCreate(ctx, channelID)
	})
	if err != nil {
		return hook{}, err
	}
	return v.(hook), nil
}

// lookupOrCreate adopts an existing bridge-owned webhook on the channel, or
// creates one. The cache is only written on success.
func (m *Manager) lookupOrCreate(ctx context.Context, channelID string) (hook, error) {
	existing, err := m.session.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		if isPermissionDenied(err) {
			return hook{}, fmt.Errorf("%w: listing webhooks on channel %s", ErrForbidden, channelID)
		}
		return hook{}, fmt.Errorf("listing channel webhooks: %w", err)
	}

	botID := m.bot.BotUserID()
	for _, wh := range existing {
		// Only our own webhooks carry a usable token
		if wh.User != nil && wh.User.ID == botID && wh.Token != "" {
			h := hook{id: wh.ID, token: wh.Token}
			m.store(channelID, h)
			m.logger.Debug("adopted existing webhook", "channel_id", channelID, "webhook_id", wh.ID)
			return h, nil
		}
	}

	created, err := m.session.WebhookCreate(channelID, WebhookName, "", discordgo.WithContext(ctx))
	if err != nil {
		if isPermissionDenied(err) {
			return hook{}, fmt.Errorf("%w: creating webhook on channel %s", ErrForbidden, channelID)
		}
		return hook{}, fmt.Errorf("creating webhook: %w", err)
	}

	m.metrics.WebhookCreate()
	m.logger.Info("created webhook", "channel_id", channelID, "webhook_id", created.ID)

	h := hook{id: created.ID, token: created.Token}
	m.store(channelID, h)
	return h, nil
}

func (m *Manager) execute(ctx context.Context, h hook, username, avatarURL, content, threadID string) error {
	params := &discordgo.WebhookParams{
		Content:   content,
		Username:  username,
		AvatarURL: avatarURL,
	}

	var err error
	if threadID != "" {
		_, err = m.session.WebhookThreadExecute(h.id, h.token, false, threadID, params, discordgo.WithContext(ctx))
	} else {
		_, err = m.session.WebhookExecute(h.id, h.token, false, params, discordgo.WithContext(ctx))
	}
	return err
}

func (m *Manager) store(channelID string, h hook) {
	m.mu.Lock()
	m.hooks[channelID] = h
	m.mu.Unlock()
}

func (m *Manager) invalidate(channelID string) {
	m.mu.Lock()
	delete(m.hooks, channelID)
	m.mu.Unlock()
}

// isUnknownWebhook reports whether err is the platform telling us the
// webhook no longer exists.
func isUnknownWebhook(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeUnknownWebhook
	}
	return false
}

func isPermissionDenied(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		return restErr.Message.Code == discordgo.ErrCodeMissingPermissions ||
			restErr.Message.Code == discordgo.ErrCodeMissingAccess
	}
	return false
}
