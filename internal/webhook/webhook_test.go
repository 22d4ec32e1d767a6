package webhook

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBot struct{ id string }

func (f fakeBot) BotUserID() string { return f.id }

// fakeSession scripts the platform side of webhook resolution and execution.
type fakeSession struct {
	mu sync.Mutex

	existing  map[string][]*discordgo.Webhook
	listDelay time.Duration

	listErr   error
	createErr error
	execErrs  []error

	listCalls       int
	createCalls     int
	execCalls       int
	threadExecCalls int

	lastExecID   string
	lastParams   *discordgo.WebhookParams
	lastThreadID string

	nextID int
}

func newFakeSession() *fakeSession {
	return &fakeSession{existing: make(map[string][]*discordgo.Webhook)}
}

func (f *fakeSession) ChannelWebhooks(channelID string, _ ...discordgo.RequestOption) ([]*discordgo.Webhook, error) {
	f.mu.Lock()
	f.listCalls++
	delay := f.listDelay
	err := f.listErr
	hooks := f.existing[channelID]
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return hooks, nil
}

func (f *fakeSession) WebhookCreate(channelID, name, avatar string, _ ...discordgo.RequestOption) (*discordgo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	return &discordgo.Webhook{
		ID:        fmt.Sprintf("wh-%d", f.nextID),
		Token:     fmt.Sprintf("tok-%d", f.nextID),
		Name:      name,
		ChannelID: channelID,
	}, nil
}

func (f *fakeSession) WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.execCalls++
	f.lastExecID = webhookID
	f.lastParams = data
	if len(f.execErrs) > 0 {
		err := f.execErrs[0]
		f.execErrs = f.execErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &discordgo.Message{ID: "sent"}, nil
}

func (f *fakeSession) WebhookThreadExecute(webhookID, token string, wait bool, threadID string, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.threadExecCalls++
	f.lastExecID = webhookID
	f.lastParams = data
	f.lastThreadID = threadID
	return &discordgo.Message{ID: "sent"}, nil
}

func restErr(code int) *discordgo.RESTError {
	return &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: code}}
}

func TestManager_CreatesWebhookOnFirstSend(t *testing.T) {
	session := newFakeSession()
	m := NewManager(session, fakeBot{id: "bot-1"}, nil, nil)
	ctx := context.Background()

	err := m.Send(ctx, "chan-1", "iris", "https://cdn.example/iris.png", "hello", "")
	require.NoError(t, err)

	assert.Equal(t, 1, session.listCalls)
	assert.Equal(t, 1, session.createCalls)
	assert.Equal(t, 1, session.execCalls)
	assert.Equal(t, "iris", session.lastParams.Username)
	assert.Equal(t, "https://cdn.example/iris.png", session.lastParams.AvatarURL)
	assert.Equal(t, "hello", session.lastParams.Content)

	// Second send hits the cache
	require.NoError(t, m.Send(ctx, "chan-1", "iris", "", "again", ""))
	assert.Equal(t, 1, session.listCalls)
	assert.Equal(t, 1, session.createCalls)
	assert.Equal(t, 2, session.execCalls)
}

func TestManager_AdoptsBotOwnedWebhook(t *testing.T) {
	session := newFakeSession()
	session.existing["chan-1"] = []*discordgo.Webhook{
		{ID: "wh-theirs", Token: "tok-theirs", User: &discordgo.User{ID: "someone-else"}},
		{ID: "wh-ours", Token: "tok-ours", User: &discordgo.User{ID: "bot-1"}},
	}
	m := NewManager(session, fakeBot{id: "bot-1"}, nil, nil)

	err := m.Send(context.Background(), "chan-1", "iris", "", "hello", "")
	require.NoError(t, err)

	assert.Equal(t, 0, session.createCalls, "an adoptable webhook exists")
	assert.Equal(t, "wh-ours", session.lastExecID)
}

func TestManager_IgnoresTokenlessWebhook(t *testing.T) {
	session := newFakeSession()
	session.existing["chan-1"] = []*discordgo.Webhook{
		{ID: "wh-ours", Token: "", User: &discordgo.User{ID: "bot-1"}},
	}
	m := NewManager(session, fakeBot{id: "bot-1"}, nil, nil)

	err := m.Send(context.Background(), "chan-1", "iris", "", "hello", "")
	require.NoError(t, err)
	assert.Equal(t, 1, session.createCalls, "a webhook we cannot execute is useless")
}

func TestManager_ConcurrentSendsCreateOnce(t *testing.T) {
	session := newFakeSession()
	session.listDelay = 20 * time.Millisecond
	m := NewManager(session, fakeBot{id: "bot-1"}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, m.Send(context.Background(), "chan-1", "iris", "", fmt.Sprintf("msg %d", n), ""))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, session.createCalls, "concurrent resolution must collapse to one create")
	assert.Equal(t, 10, session.execCalls)
}

func TestManager_RetriesOnceWhenWebhookDeleted(t *testing.T) {
	session := newFakeSession()
	m := NewManager(session, fakeBot{id: "bot-1"}, nil, nil)
	ctx := context.Background()

	// Warm the cache
	require.NoError(t, m.Send(ctx, "chan-1", "iris", "", "first", ""))
	require.Equal(t, 1, session.createCalls)

	// The webhook vanishes remotely: one failure, then the retry succeeds
	session.execErrs = []error{restErr(discordgo.ErrCodeUnknownWebhook)}

	err := m.Send(ctx, "chan-1", "iris", "", "second", "")
	require.NoError(t, err)
	assert.Equal(t, 2, session.createCalls, "a fresh webhook replaces the deleted one")
	assert.Equal(t, 3, session.execCalls)
	assert.Equal(t, "wh-2", session.lastExecID)
}

func TestManager_RetryIsSingleShot(t *testing.T) {
	session := newFakeSession()
	m := NewManager(session, fakeBot{id: "bot-1"}, nil, nil)
	ctx := context.Background()

	require.NoError(t, m.Send(ctx, "chan-1", "iris", "", "first", ""))

	session.execErrs = []error{
		restErr(discordgo.ErrCodeUnknownWebhook),
		restErr(discordgo.ErrCodeUnknownWebhook),
	}

	err := m.Send(ctx, "chan-1", "iris", "", "second", "")
	require.Error(t, err, "two unknown-webhook failures in a row must not loop")
	assert.Equal(t, 2, session.createCalls)
	assert.Equal(t, 3, session.execCalls)
}

func TestManager_ForbiddenOnCreate(t *testing.T) {
	session := newFakeSession()
	session.createErr = restErr(discordgo.ErrCodeMissingPermissions)
	m := NewManager(session, fakeBot{id: "bot-1"}, nil, nil)

	err := m.Send(context.Background(), "chan-1", "iris", "", "hello", "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestManager_ForbiddenOnExecute(t *testing.T) {
	session := newFakeSession()
	session.execErrs = []error{restErr(discordgo.ErrCodeMissingAccess)}
	m := NewManager(session, fakeBot{id: "bot-1"}, nil, nil)

	err := m.Send(context.Background(), "chan-1", "iris", "", "hello", "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestManager_ThreadSend(t *testing.T) {
	session := newFakeSession()
	m := NewManager(session, fakeBot{id: "bot-1"}, nil, nil)

	err := m.Send(context.Background(), "chan-1", "iris", "", "hello", "thread-9")
	require.NoError(t, err)

	assert.Equal(t, 1, session.threadExecCalls)
	assert.Equal(t, 0, session.execCalls)
	assert.Equal(t, "thread-9", session.lastThreadID)
}
