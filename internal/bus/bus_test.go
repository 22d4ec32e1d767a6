package bus

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(n int) Message {
	return Message{
		ID:          fmt.Sprintf("msg-%d", n),
		ChannelID:   "chan-1",
		ChannelName: "general",
		ServerID:    "srv-1",
		AuthorID:    "user-1",
		AuthorName:  "maja",
		Content:     fmt.Sprintf("hello %d", n),
		Timestamp:   time.Now().UTC(),
	}
}

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

func TestBus_PushDrainFIFO(t *testing.T) {
	b := New(Options{}, nil, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Push("ent-1", testMessage(i), nil))
	}

	messages, err := b.Drain("ent-1", nil)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "msg-0", messages[0].ID)
	assert.Equal(t, "msg-1", messages[1].ID)
	assert.Equal(t, "msg-2", messages[2].ID)
	assert.Equal(t, "hello 0", messages[0].Content)
	assert.False(t, messages[0].ExpiresAt.IsZero())

	// Drained queue is empty
	messages, err = b.Drain("ent-1", nil)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestBus_DrainUnknownEntity(t *testing.T) {
	b := New(Options{}, nil, nil)

	messages, err := b.Drain("never-pushed", nil)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestBus_QueuesAreIndependent(t *testing.T) {
	b := New(Options{}, nil, nil)

	require.NoError(t, b.Push("ent-1", testMessage(1), nil))
	require.NoError(t, b.Push("ent-2", testMessage(2), nil))

	messages, err := b.Drain("ent-1", nil)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "msg-1", messages[0].ID)

	assert.Equal(t, 1, b.Len("ent-2"))
}

func TestBus_EncryptedRoundTrip(t *testing.T) {
	b := New(Options{}, nil, nil)
	key := testKey(7)

	require.NoError(t, b.Push("ent-1", testMessage(1), key))

	// At rest the payload fields must not be readable
	q := b.getQueue("ent-1")
	require.NotNil(t, q)
	require.Len(t, q.items, 1)
	assert.True(t, q.items[0].sealed)
	assert.Empty(t, q.items[0].msg.Content)
	assert.Empty(t, q.items[0].msg.AuthorName)
	assert.Empty(t, q.items[0].msg.ChannelName)
	assert.Equal(t, "msg-1", q.items[0].msg.ID, "metadata stays cleartext")

	messages, err := b.Drain("ent-1", key)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello 1", messages[0].Content)
	assert.Equal(t, "maja", messages[0].AuthorName)
	assert.Equal(t, "general", messages[0].ChannelName)
}

func TestBus_DrainKeyMissing(t *testing.T) {
	b := New(Options{}, nil, nil)
	key := testKey(7)

	require.NoError(t, b.Push("ent-1", testMessage(1), key))

	_, err := b.Drain("ent-1", nil)
	assert.ErrorIs(t, err, ErrKeyMissing)

	// The failed drain must not consume anything
	messages, err := b.Drain("ent-1", key)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestBus_DrainKeyMissing_MixedQueue(t *testing.T) {
	b := New(Options{}, nil, nil)

	require.NoError(t, b.Push("ent-1", testMessage(1), nil))
	require.NoError(t, b.Push("ent-1", testMessage(2), testKey(7)))

	// One sealed item poisons a keyless drain entirely
	_, err := b.Drain("ent-1", nil)
	assert.ErrorIs(t, err, ErrKeyMissing)

	messages, err := b.Drain("ent-1", testKey(7))
	require.NoError(t, err)
	assert.Len(t, messages, 2)
}

func TestBus_DrainWrongKeyDropsItems(t *testing.T) {
	b := New(Options{}, nil, nil)

	require.NoError(t, b.Push("ent-1", testMessage(1), testKey(7)))
	require.NoError(t, b.Push("ent-1", testMessage(2), nil))

	messages, err := b.Drain("ent-1", testKey(9))
	require.NoError(t, err)
	require.Len(t, messages, 1, "undecryptable items are dropped, cleartext survives")
	assert.Equal(t, "msg-2", messages[0].ID)
}

func TestBus_DrainTamperedItemDropped(t *testing.T) {
	b := New(Options{}, nil, nil)
	key := testKey(7)

	require.NoError(t, b.Push("ent-1", testMessage(1), key))
	require.NoError(t, b.Push("ent-1", testMessage(2), key))

	q := b.getQueue("ent-1")
	q.items[0].ciphertext[0] ^= 0xff

	messages, err := b.Drain("ent-1", key)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "msg-2", messages[0].ID)
}

func TestBus_SealedForOtherEntityFails(t *testing.T) {
	key := testKey(7)
	nonce, ciphertext, err := sealPayload(key, "ent-1", payload{Content: "secret"})
	require.NoError(t, err)

	// Same key, different entity: associated data mismatch
	_, err = openPayload(key, "ent-2", nonce, ciphertext)
	assert.ErrorIs(t, err, ErrDecryptFailed)

	p, err := openPayload(key, "ent-1", nonce, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "secret", p.Content)
}

func TestBus_TTLExpiry(t *testing.T) {
	b := New(Options{TTL: time.Minute}, nil, nil)

	require.NoError(t, b.Push("ent-1", testMessage(1), nil))

	b.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	messages, err := b.Drain("ent-1", nil)
	require.NoError(t, err)
	assert.Empty(t, messages, "expired items are filtered at read")
}

func TestBus_SweepRemovesExpired(t *testing.T) {
	b := New(Options{TTL: time.Minute}, nil, nil)

	require.NoError(t, b.Push("ent-1", testMessage(1), nil))
	require.NoError(t, b.Push("ent-2", testMessage(2), nil))

	b.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	b.sweepExpired()

	assert.Equal(t, 0, b.Len("ent-1"))
	assert.Equal(t, 0, b.Len("ent-2"))

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Empty(t, b.queues, "sweep forgets emptied queues")
}

func TestBus_SweepKeepsLiveItems(t *testing.T) {
	b := New(Options{TTL: time.Hour}, nil, nil)

	require.NoError(t, b.Push("ent-1", testMessage(1), nil))
	b.sweepExpired()

	assert.Equal(t, 1, b.Len("ent-1"))
}

func TestBus_CapacityDropsOldest(t *testing.T) {
	b := New(Options{MaxLen: 3}, nil, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Push("ent-1", testMessage(i), nil))
	}

	messages, err := b.Drain("ent-1", nil)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "msg-2", messages[0].ID)
	assert.Equal(t, "msg-3", messages[1].ID)
	assert.Equal(t, "msg-4", messages[2].ID)
}

func TestBus_Peek(t *testing.T) {
	b := New(Options{}, nil, nil)
	key := testKey(7)

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Push("ent-1", testMessage(i), key))
	}

	messages, err := b.Peek("ent-1", key, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "msg-0", messages[0].ID)
	assert.Equal(t, "hello 0", messages[0].Content)

	assert.Equal(t, 3, b.Len("ent-1"), "peek is non-destructive")

	_, err = b.Peek("ent-1", nil, 0)
	assert.ErrorIs(t, err, ErrKeyMissing)
}

func TestBus_StartStop(t *testing.T) {
	b := New(Options{SweepInterval: 10 * time.Millisecond}, nil, nil)

	b.Start()
	b.Start()

	require.NoError(t, b.Push("ent-1", testMessage(1), nil))
	assert.Equal(t, 1, b.Len("ent-1"))

	b.Stop()
	b.Stop()
}

func TestBus_StopWithoutStart(t *testing.T) {
	b := New(Options{}, nil, nil)
	b.Stop()
}
