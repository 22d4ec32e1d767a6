package discord

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBans struct {
	banned map[string]bool
}

func (f *fakeBans) IsServerBanned(_ context.Context, serverID string) (bool, error) {
	return f.banned[serverID], nil
}

func newTestGateway(t *testing.T, bans BanChecker) *Gateway {
	t.Helper()
	if bans == nil {
		bans = &fakeBans{}
	}
	g, err := New("test-token", bans, nil, nil)
	require.NoError(t, err)
	return g
}

func serverMessage(id, guildID, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        id,
		ChannelID: "chan-1",
		GuildID:   guildID,
		Author:    &discordgo.User{ID: "user-1", Username: "maja"},
		Content:   content,
	}}
}

func TestGateway_DispatchesServerMessages(t *testing.T) {
	g := newTestGateway(t, nil)

	var got []Message
	g.OnMessage(func(_ context.Context, msg Message) {
		got = append(got, msg)
	})

	g.handleMessageCreate(nil, serverMessage("msg-1", "srv-1", "hello"))

	require.Len(t, got, 1)
	assert.Equal(t, "msg-1", got[0].ID)
	assert.Equal(t, "srv-1", got[0].ServerID)
	assert.Equal(t, "hello", got[0].Content)
}

func TestGateway_DeduplicatesReplayedEvents(t *testing.T) {
	g := newTestGateway(t, nil)

	var count int
	g.OnMessage(func(_ context.Context, _ Message) { count++ })

	g.handleMessageCreate(nil, serverMessage("msg-1", "srv-1", "hello"))
	g.handleMessageCreate(nil, serverMessage("msg-1", "srv-1", "hello"))
	g.handleMessageCreate(nil, serverMessage("msg-2", "srv-1", "other"))

	assert.Equal(t, 2, count)
}

func TestGateway_DropsAtBoundary(t *testing.T) {
	g := newTestGateway(t, nil)

	var count int
	g.OnMessage(func(_ context.Context, _ Message) { count++ })

	// DM
	g.handleMessageCreate(nil, serverMessage("msg-1", "", "hello"))
	// No content (e.g. attachment-only or missing content intent)
	g.handleMessageCreate(nil, serverMessage("msg-2", "srv-1", ""))
	// No author
	g.handleMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "msg-3", GuildID: "srv-1", Content: "x",
	}})

	assert.Equal(t, 0, count)
}

func TestGateway_LeavesBannedServer(t *testing.T) {
	g := newTestGateway(t, &fakeBans{banned: map[string]bool{"srv-bad": true}})

	var left []string
	g.leave = func(serverID string) error {
		left = append(left, serverID)
		return nil
	}

	var count int
	g.OnMessage(func(_ context.Context, _ Message) { count++ })

	g.handleGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "srv-bad", Name: "Bad Place"}})
	assert.Equal(t, []string{"srv-bad"}, left)

	// Events that race the leave are muted
	g.handleMessageCreate(nil, serverMessage("msg-1", "srv-bad", "hello"))
	assert.Equal(t, 0, count)

	// Other servers are unaffected
	g.handleMessageCreate(nil, serverMessage("msg-2", "srv-ok", "hello"))
	assert.Equal(t, 1, count)
}

func TestGateway_KeepsUnbannedServer(t *testing.T) {
	g := newTestGateway(t, &fakeBans{banned: map[string]bool{}})

	var left []string
	g.leave = func(serverID string) error {
		left = append(left, serverID)
		return nil
	}

	g.handleGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "srv-ok"}})
	assert.Empty(t, left)
}

func TestGateway_ReadyFiresOnce(t *testing.T) {
	g := newTestGateway(t, nil)

	var calls int
	g.OnReady(func() { calls++ })

	assert.False(t, g.IsReady())

	ready := &discordgo.Ready{User: &discordgo.User{ID: "bot-1", Username: "arachne"}}
	g.handleReady(nil, ready)
	// Reconnects re-fire the event
	g.handleReady(nil, ready)

	assert.Equal(t, 1, calls)
	assert.True(t, g.IsReady())
}

func TestGateway_StateLookups(t *testing.T) {
	g := newTestGateway(t, nil)

	require.NoError(t, g.session.State.GuildAdd(&discordgo.Guild{ID: "srv-1", Name: "Test Server"}))
	require.NoError(t, g.session.State.ChannelAdd(&discordgo.Channel{
		ID:      "chan-1",
		Name:    "general",
		GuildID: "srv-1",
		Type:    discordgo.ChannelTypeGuildText,
	}))

	assert.Equal(t, "general", g.ChannelName("chan-1"))
	assert.Equal(t, "chan-unknown", g.ChannelName("chan-unknown"))
	assert.Equal(t, "Test Server", g.ServerName("srv-1"))
	assert.Equal(t, "srv-unknown", g.ServerName("srv-unknown"))
	assert.Equal(t, "srv-1", g.ChannelServer("chan-1"))
	assert.Equal(t, "", g.ChannelServer("chan-unknown"))
}

func TestGateway_BotUserID(t *testing.T) {
	g := newTestGateway(t, nil)
	assert.Equal(t, "", g.BotUserID())

	g.session.State.User = &discordgo.User{ID: "bot-1"}
	assert.Equal(t, "bot-1", g.BotUserID())
}
