// ABOUTME: AEAD sealing for queued payloads, bound to the owning entity
// ABOUTME: XChaCha20-Poly1305 with a fresh random nonce per item

package bus

import (
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// payload holds the fields hidden at rest when a queue key is present.
// Queue-management metadata (ids, timestamps, flags) stays cleartext.
type payload struct {
	Content     string `json:"content"`
	AuthorName  string `json:"author_name"`
	ChannelName string `json:"channel_name"`
}

// sealPayload encrypts p under key with the entity id as associated data,
// so a ciphertext moved to another entity's queue fails to open.
func sealPayload(key []byte, entityID string, p payload) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}

	plaintext, err := json.Marshal(p)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding payload: %w", err)
	}

	nonce = make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, []byte(entityID))
	return nonce, ciphertext, nil
}

// openPayload reverses sealPayload. A wrong key, wrong entity id, or any
// modified byte returns ErrDecryptFailed.
func openPayload(key []byte, entityID string, nonce, ciphertext []byte) (payload, error) {
	var p payload

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return p, fmt.Errorf("creating cipher: %w", err)
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return p, ErrDecryptFailed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(entityID))
	if err != nil {
		return p, ErrDecryptFailed
	}

	if err := json.Unmarshal(plaintext, &p); err != nil {
		return p, fmt.Errorf("decoding payload: %w", err)
	}
	return p, nil
}
