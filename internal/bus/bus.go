// ABOUTME: Bounded per-entity FIFO queues with TTL eviction and optional at-rest encryption
// ABOUTME: Sealed items need the entity's queue key at read time; without it the drain fails whole

// Package bus holds normalised platform messages per entity until the entity
// collects them over the control API.
//
// Queues are in-memory only. Every item expires TTL after push, a background
// sweep removes expired items, and a full queue drops its oldest item. When
// the router supplies a queue key, the message payload (content, author name,
// channel name) is stored as XChaCha20-Poly1305 ciphertext bound to the
// entity id; draining such items requires the same key.
package bus

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arachne-bridge/arachne/internal/metrics"
)

// ErrKeyMissing is returned when a queue holds sealed items and the caller
// has no key. The queue is left intact; a fresh API-key auth installs the key.
var ErrKeyMissing = errors.New("queue key missing")

// ErrDecryptFailed marks a sealed item that would not authenticate.
// Such items are dropped, never returned.
var ErrDecryptFailed = errors.New("payload decryption failed")

// Queue tuning defaults
const (
	DefaultTTL           = 10 * time.Minute
	DefaultMaxLen        = 200
	DefaultSweepInterval = 30 * time.Second
)

// Message is one queued platform message, as seen by the consumer after
// any decryption.
type Message struct {
	ID          string    `json:"message_id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	ServerID    string    `json:"server_id"`
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	Addressed   bool      `json:"addressed"`
	Triggered   bool      `json:"triggered"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// item is the stored form. When sealed, the payload fields of msg are zeroed
// and live only inside ciphertext.
type item struct {
	msg        Message
	sealed     bool
	nonce      []byte
	ciphertext []byte
}

type queue struct {
	mu    sync.Mutex
	items []item
}

// Options tunes queue behavior. Zero values take the defaults.
type Options struct {
	TTL           time.Duration
	MaxLen        int
	SweepInterval time.Duration
}

// Bus is the per-entity message queue registry.
type Bus struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu     sync.Mutex
	queues map[string]*queue
	depth  atomic.Int64

	// now is swapped out by tests
	now func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopCh    chan struct{}
	done      chan struct{}
}

// New creates a Bus. rec may be nil.
func New(opts Options, logger *slog.Logger, rec *metrics.Recorder) *Bus {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = DefaultMaxLen
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		opts:    opts,
		logger:  logger,
		metrics: rec,
		queues:  make(map[string]*queue),
		now:     time.Now,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the background expiry sweep. Repeat calls are no-ops.
func (b *Bus) Start() {
	b.startOnce.Do(func() {
		b.started.Store(true)
		go b.sweepLoop()
	})
}

// Stop cancels the sweep and waits for it to exit. Idempotent, and safe
// to call even if Start never ran.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	if b.started.Load() {
		<-b.done
	}
}

func (b *Bus) sweepLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.sweepExpired()
		case <-b.stopCh:
			return
		}
	}
}

// Push appends msg to the entity's queue, stamping its expiry. When key is
// non-empty the payload is sealed before storage. A full queue drops its
// oldest item first.
func (b *Bus) Push(entityID string, msg Message, key []byte) error {
	msg.ExpiresAt = b.now().Add(b.opts.TTL)

	it := item{msg: msg}
	if len(key) > 0 {
		nonce, ciphertext, err := sealPayload(key, entityID, payload{
			Content:     msg.Content,
			AuthorName:  msg.AuthorName,
			ChannelName: msg.ChannelName,
		})
		if err != nil {
			return err
		}
		it.sealed = true
		it.nonce = nonce
		it.ciphertext = ciphertext
		it.msg.Content = ""
		it.msg.AuthorName = ""
		it.msg.ChannelName = ""
	}

	q := b.getOrCreateQueue(entityID)

	q.mu.Lock()
	dropped := 0
	q.items = append(q.items, it)
	if len(q.items) > b.opts.MaxLen {
		dropped = len(q.items) - b.opts.MaxLen
		q.items = q.items[dropped:]
	}
	q.mu.Unlock()

	b.adjustDepth(1 - dropped)
	b.metrics.QueuePush()
	for i := 0; i < dropped; i++ {
		b.metrics.QueueEviction("capacity")
	}
	if dropped > 0 {
		b.logger.Warn("queue at capacity, dropped oldest", "entity_id", entityID, "dropped", dropped)
	}
	return nil
}

// Drain removes and returns all live items in FIFO order. If the queue holds
// any sealed item and key is empty, the drain fails whole with ErrKeyMissing
// and nothing is removed. Sealed items that fail to open are dropped with a
// warning; the rest are still returned.
func (b *Bus) Drain(entityID string, key []byte) ([]Message, error) {
	q := b.getQueue(entityID)
	if q == nil {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	b.pruneExpiredLocked(entityID, q)

	if len(key) == 0 {
		for _, it := range q.items {
			if it.sealed {
				return nil, ErrKeyMissing
			}
		}
	}

	messages := b.openAllLocked(entityID, q.items, key, 0)
	b.adjustDepth(-len(q.items))
	q.items = nil
	return messages, nil
}

// Peek returns up to limit live items without removing them, under the same
// key rules as Drain. limit <= 0 means all.
func (b *Bus) Peek(entityID string, key []byte, limit int) ([]Message, error) {
	q := b.getQueue(entityID)
	if q == nil {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	b.pruneExpiredLocked(entityID, q)

	if len(key) == 0 {
		for _, it := range q.items {
			if it.sealed {
				return nil, ErrKeyMissing
			}
		}
	}

	return b.openAllLocked(entityID, q.items, key, limit), nil
}

// Len reports the entity's live queue depth.
func (b *Bus) Len(entityID string) int {
	q := b.getQueue(entityID)
	if q == nil {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	b.pruneExpiredLocked(entityID, q)
	return len(q.items)
}

// openAllLocked decrypts sealed items and assembles the consumer view.
// Items that fail authentication are skipped and counted as tampered.
func (b *Bus) openAllLocked(entityID string, items []item, key []byte, limit int) []Message {
	var messages []Message
	for _, it := range items {
		if limit > 0 && len(messages) >= limit {
			break
		}
		msg := it.msg
		if it.sealed {
			p, err := openPayload(key, entityID, it.nonce, it.ciphertext)
			if err != nil {
				b.logger.Warn("dropping undecryptable queue item",
					"entity_id", entityID, "message_id", msg.ID, "error", err)
				b.metrics.QueueEviction("tampered")
				continue
			}
			msg.Content = p.Content
			msg.AuthorName = p.AuthorName
			msg.ChannelName = p.ChannelName
		}
		messages = append(messages, msg)
	}
	return messages
}

// pruneExpiredLocked drops items whose expiry has passed. Caller holds q.mu.
func (b *Bus) pruneExpiredLocked(entityID string, q *queue) {
	now := b.now()
	var live []item
	for _, it := range q.items {
		if it.msg.ExpiresAt.After(now) {
			live = append(live, it)
		}
	}

	expired := len(q.items) - len(live)
	if expired == 0 {
		return
	}
	q.items = live
	b.adjustDepth(-expired)
	for i := 0; i < expired; i++ {
		b.metrics.QueueEviction("expired")
	}
	b.logger.Debug("expired queue items", "entity_id", entityID, "count", expired)
}

// sweepExpired prunes every queue and forgets the empty ones.
func (b *Bus) sweepExpired() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for entityID, q := range b.queues {
		q.mu.Lock()
		b.pruneExpiredLocked(entityID, q)
		if len(q.items) == 0 {
			delete(b.queues, entityID)
		}
		q.mu.Unlock()
	}
}

func (b *Bus) getQueue(entityID string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[entityID]
}

func (b *Bus) getOrCreateQueue(entityID string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[entityID]
	if !ok {
		q = &queue{}
		b.queues[entityID] = q
	}
	return q
}

// adjustDepth tracks the aggregate item count for the depth gauge.
// It must not take b.mu: the sweep calls it with b.mu held.
func (b *Bus) adjustDepth(delta int) {
	if delta == 0 {
		return
	}
	b.metrics.SetQueueDepth(int(b.depth.Add(int64(delta))))
}
