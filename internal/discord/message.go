// ABOUTME: Normalised message type and the mapping from raw platform events
// ABOUTME: Display names resolve server nickname, then global name, then handle

package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// Message is the platform-independent shape the router consumes. Everything
// downstream of the gateway works in these terms.
type Message struct {
	ID               string
	ChannelID        string
	ServerID         string
	AuthorID         string
	AuthorName       string
	AuthorIsBot      bool
	WebhookID        string
	Content          string
	Timestamp        time.Time
	MentionedRoleIDs []string
	ReplyToID        string
}

// normalise converts a raw message-create event. Callers have already
// checked that Author is present.
func normalise(m *discordgo.MessageCreate) Message {
	msg := Message{
		ID:               m.ID,
		ChannelID:        m.ChannelID,
		ServerID:         m.GuildID,
		AuthorID:         m.Author.ID,
		AuthorName:       displayName(m),
		AuthorIsBot:      m.Author.Bot,
		WebhookID:        m.WebhookID,
		Content:          m.Content,
		Timestamp:        m.Timestamp,
		MentionedRoleIDs: m.MentionRoles,
	}
	if m.MessageReference != nil {
		msg.ReplyToID = m.MessageReference.MessageID
	}
	return msg
}

func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
