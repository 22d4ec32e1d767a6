// ABOUTME: Thread-safe bounded seen-set for deduplicating gateway messages.
// ABOUTME: Keeps the most recent keys in insertion order and evicts the oldest at capacity.

package dedupe

import (
	"container/list"
	"sync"
)

// DefaultSize is the number of recent message ids remembered by the gateway.
const DefaultSize = 100

// Cache provides a thread-safe, size-limited set for tracking seen message
// ids. Reconnects replay recent gateway events, so the gateway checks every
// message id here before dispatch. Uses a doubly-linked list to maintain
// insertion order for O(1) eviction.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*list.Element
	order   *list.List // keys in insertion order (oldest at front)
	maxSize int
}

// New creates a dedupe cache that remembers at most maxSize keys.
// Non-positive sizes fall back to DefaultSize.
func New(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	return &Cache{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Check returns true if the key is currently in the set.
func (c *Cache) Check(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.seen[key]
	return ok
}

// CheckAndMark atomically checks if a key has been seen and marks it if not.
// Returns true if the key was already seen (duplicate), false if it's new and
// now marked. This prevents TOCTOU race conditions that could occur with
// separate Check/Mark calls.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[key]; ok {
		return true // Already seen, reject
	}

	c.markLocked(key)
	return false
}

// Mark records that a key has been seen. If the set is at capacity,
// the oldest entry is evicted to make room.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// markLocked is the internal mark implementation. Must be called with mu held.
func (c *Cache) markLocked(key string) {
	// If key already exists, refresh its position
	if elem, exists := c.seen[key]; exists {
		c.order.MoveToBack(elem)
		return
	}

	// Evict oldest if at capacity
	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	c.seen[key] = c.order.PushBack(key)
}

// evictOldest removes the oldest entry from the set.
// Must be called with mu held. O(1) operation using linked list.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// Len returns the number of keys currently tracked.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}
