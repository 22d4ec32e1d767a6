// ABOUTME: Routes normalised server messages onto per-entity queues
// ABOUTME: Blocks beat everything; triggers and role mentions punch through watch filters

// Package router decides, for every server message, which entities receive
// it and with what flags. One entity's bad subscription never affects the
// delivery to others.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/arachne-bridge/arachne/internal/bus"
	"github.com/arachne-bridge/arachne/internal/discord"
	"github.com/arachne-bridge/arachne/internal/metrics"
	"github.com/arachne-bridge/arachne/internal/store"
)

// notifyPreviewLimit bounds the content excerpt in owner notifications.
const notifyPreviewLimit = 200

// SubscriberSource is the registry slice the router reads.
type SubscriberSource interface {
	GetEntitiesForChannel(ctx context.Context, serverID, channelID string) ([]*store.Subscriber, error)
	GetRoleEntityMap(ctx context.Context, serverID string) (map[string]string, error)
}

// Pusher appends a message to an entity's queue.
type Pusher interface {
	Push(entityID string, msg bus.Message, key []byte) error
}

// KeySource looks up an entity's queue encryption key, if one is installed.
type KeySource interface {
	Get(entityID string) ([]byte, bool)
}

// NameResolver turns channel and server ids into display names.
type NameResolver interface {
	ChannelName(id string) string
	ServerName(id string) string
}

// OwnerNotifier delivers a direct message to a platform user.
type OwnerNotifier interface {
	NotifyOwner(ctx context.Context, userID, text string) error
}

// Router fans inbound messages out to entity queues.
type Router struct {
	subscribers SubscriberSource
	queue       Pusher
	keys        KeySource
	names       NameResolver
	notifier    OwnerNotifier
	logger      *slog.Logger
	metrics     *metrics.Recorder
}

// New creates a Router. rec may be nil.
func New(subscribers SubscriberSource, queue Pusher, keys KeySource, names NameResolver, notifier OwnerNotifier, logger *slog.Logger, rec *metrics.Recorder) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		subscribers: subscribers,
		queue:       queue,
		keys:        keys,
		names:       names,
		notifier:    notifier,
		logger:      logger,
		metrics:     rec,
	}
}

// HandleMessage evaluates one normalised message against every subscribed
// entity. Errors for one entity are logged and the loop continues.
func (r *Router) HandleMessage(ctx context.Context, msg discord.Message) {
	// The bridge's own webhook sends come back as webhook messages, and
	// other bots are never routed either
	if msg.AuthorIsBot || msg.WebhookID != "" {
		return
	}
	if strings.TrimSpace(msg.Content) == "" {
		return
	}

	subscribers, err := r.subscribers.GetEntitiesForChannel(ctx, msg.ServerID, msg.ChannelID)
	if err != nil {
		r.logger.Error("subscriber lookup failed",
			"server_id", msg.ServerID, "channel_id", msg.ChannelID, "error", err)
		return
	}
	if len(subscribers) == 0 {
		return
	}

	var roleMap map[string]string
	if len(msg.MentionedRoleIDs) > 0 {
		roleMap, err = r.subscribers.GetRoleEntityMap(ctx, msg.ServerID)
		if err != nil {
			r.logger.Error("role map lookup failed", "server_id", msg.ServerID, "error", err)
			roleMap = nil
		}
	}

	// Names resolve once per message, not per entity
	channelName := r.names.ChannelName(msg.ChannelID)
	serverName := r.names.ServerName(msg.ServerID)

	routed := false
	for _, sub := range subscribers {
		if r.routeToEntity(ctx, msg, sub, roleMap, channelName, serverName) {
			routed = true
		}
	}
	if routed {
		r.metrics.MessageRouted()
	}
}

// routeToEntity runs the per-entity decision chain and reports whether the
// message was queued for this entity.
func (r *Router) routeToEntity(ctx context.Context, msg discord.Message, sub *store.Subscriber, roleMap map[string]string, channelName, serverName string) bool {
	entity := sub.Entity

	// A blocked channel wins over triggers and mentions
	if containsString(sub.Server.BlockedChannels, msg.ChannelID) {
		return false
	}

	triggered := matchesTrigger(msg.Content, entity.Triggers)
	addressed := mentionsEntity(msg.MentionedRoleIDs, roleMap, entity.ID)

	// Watch filters narrow ingress, but triggers and mentions punch through
	if len(sub.Server.WatchChannels) > 0 &&
		!containsString(sub.Server.WatchChannels, msg.ChannelID) &&
		!triggered && !addressed {
		return false
	}

	key, _ := r.keys.Get(entity.ID)
	err := r.queue.Push(entity.ID, bus.Message{
		ID:          msg.ID,
		ChannelID:   msg.ChannelID,
		ChannelName: channelName,
		ServerID:    msg.ServerID,
		AuthorID:    msg.AuthorID,
		AuthorName:  msg.AuthorName,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
		Addressed:   addressed,
		Triggered:   triggered,
	}, key)
	if err != nil {
		r.logger.Error("queue push failed", "entity_id", entity.ID, "message_id", msg.ID, "error", err)
		return false
	}

	if entity.OwnerID != "" &&
		((addressed && entity.NotifyOnMention) || (triggered && entity.NotifyOnTrigger)) {
		go r.notifyOwner(ctx, entity, msg, addressed, channelName, serverName)
	}
	return true
}

// notifyOwner DMs the entity's owner. Failures are logged, never propagated.
func (r *Router) notifyOwner(ctx context.Context, entity *store.Entity, msg discord.Message, addressed bool, channelName, serverName string) {
	verb := "was triggered"
	if addressed {
		verb = "was mentioned"
	}

	text := fmt.Sprintf("**%s** %s in %s #%s by %s:\n> %s\n%s",
		entity.Name, verb, serverName, channelName, msg.AuthorName,
		truncate(msg.Content, notifyPreviewLimit),
		jumpLink(msg.ServerID, msg.ChannelID, msg.ID))

	if err := r.notifier.NotifyOwner(ctx, entity.OwnerID, text); err != nil {
		r.logger.Warn("owner notification failed",
			"entity_id", entity.ID, "owner_id", entity.OwnerID, "error", err)
		r.metrics.Notification("error")
		return
	}
	r.metrics.Notification("ok")
}

// matchesTrigger reports whether any trigger word appears in content,
// case-insensitively. Blank triggers never match.
func matchesTrigger(content string, triggers []string) bool {
	if len(triggers) == 0 {
		return false
	}
	lowered := strings.ToLower(content)
	for _, trigger := range triggers {
		trigger = strings.TrimSpace(trigger)
		if trigger == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

func mentionsEntity(mentionedRoles []string, roleMap map[string]string, entityID string) bool {
	for _, roleID := range mentionedRoles {
		if roleMap[roleID] == entityID {
			return true
		}
	}
	return false
}

func jumpLink(serverID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", serverID, channelID, messageID)
}

// truncate caps s at n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
