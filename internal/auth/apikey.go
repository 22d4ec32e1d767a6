// ABOUTME: API key generation, hashing, and verification for entity credentials
// ABOUTME: Uses scrypt with per-entity salts and constant-time comparison

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters. N=32768 keeps key scans tolerable while staying
// expensive enough for offline attacks on a leaked database.
const (
	scryptN = 32768
	scryptR = 8
	scryptP = 1
	keySize = 32
	// saltSize is the per-entity salt length in bytes
	saltSize = 32
)

// apiKeyPrefix marks bearer values as API keys rather than session tokens.
const apiKeyPrefix = "ak_"

// queueKeyInfo is the HKDF info string binding derived keys to their purpose.
const queueKeyInfo = "arachne queue encryption v1"

// GenerateAPIKey returns a new random API key (32 bytes, base64url).
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// IsAPIKey reports whether a bearer credential looks like an API key.
func IsAPIKey(credential string) bool {
	return len(credential) > len(apiKeyPrefix) && credential[:len(apiKeyPrefix)] == apiKeyPrefix
}

// NewSalt returns a fresh random salt for API key hashing.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// HashAPIKey derives the stored hash for an API key under the given salt.
func HashAPIKey(apiKey string, salt []byte) ([]byte, error) {
	hash, err := scrypt.Key([]byte(apiKey), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("deriving key hash: %w", err)
	}
	return hash, nil
}

// VerifyAPIKey recomputes the hash for a presented key and compares it to the
// stored hash in constant time.
func VerifyAPIKey(apiKey string, salt, wantHash []byte) bool {
	hash, err := HashAPIKey(apiKey, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(hash, wantHash) == 1
}

// DeriveQueueKey derives the 32-byte queue encryption key from a raw API key
// via HKDF-SHA256. The same API key always derives the same queue key, so an
// entity can decrypt items queued before it reconnected.
func DeriveQueueKey(apiKey string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(apiKey), nil, []byte(queueKeyInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving queue key: %w", err)
	}
	return key, nil
}
