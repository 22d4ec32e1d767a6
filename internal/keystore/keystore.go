// ABOUTME: Volatile store mapping entity ids to queue encryption keys.
// ABOUTME: Keys are derived at API-key auth and vanish on restart; nothing here is persisted.

package keystore

import (
	"sync"
)

// KeySize is the length of a queue encryption key in bytes.
const KeySize = 32

// Store holds per-entity queue encryption keys in memory only. A key is
// installed when an entity authenticates with its API key and removed when
// the key is regenerated or the entity is deactivated. After a restart the
// store is empty until entities re-authenticate.
type Store struct {
	mu   sync.RWMutex
	keys map[string][]byte // entity id -> 32-byte key
}

// New creates an empty key store.
func New() *Store {
	return &Store{
		keys: make(map[string][]byte),
	}
}

// Put installs the encryption key for an entity, replacing any previous key.
// The key is copied to avoid aliasing the caller's buffer.
func (s *Store) Put(entityID string, key []byte) {
	k := make([]byte, len(key))
	copy(k, key)

	s.mu.Lock()
	s.keys[entityID] = k
	s.mu.Unlock()
}

// Get returns a copy of the entity's key and whether one is installed.
func (s *Store) Get(entityID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[entityID]
	if !ok {
		return nil, false
	}

	// Return a copy to prevent modification
	result := make([]byte, len(key))
	copy(result, key)
	return result, true
}

// Delete removes the entity's key. Called on key regeneration and
// deactivation so stale derivations cannot decrypt new traffic.
func (s *Store) Delete(entityID string) {
	s.mu.Lock()
	delete(s.keys, entityID)
	s.mu.Unlock()
}

// Len returns the number of installed keys (for monitoring).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
