// ABOUTME: API key authentication by credential scan over active entities
// ABOUTME: Installs the derived queue encryption key on successful auth

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arachne-bridge/arachne/internal/keystore"
)

// ErrInvalidAPIKey is returned when a presented key matches no active entity
var ErrInvalidAPIKey = errors.New("invalid api key")

// Credential is the stored hash material for one active entity.
type Credential struct {
	EntityID string
	Salt     []byte
	Hash     []byte
}

// CredentialSource supplies the credential scan set, normally the registry.
type CredentialSource interface {
	ListActiveCredentials(ctx context.Context) ([]Credential, error)
}

// Authenticator resolves API keys to entity ids. There is no key id in the
// credential, so authentication recomputes the scrypt hash against each
// active entity's salt and compares in constant time.
type Authenticator struct {
	source CredentialSource
	keys   *keystore.Store
	logger *slog.Logger
}

// NewAuthenticator creates an authenticator over the given credential source.
// keys may be nil when queue encryption is not in play (tests).
func NewAuthenticator(source CredentialSource, keys *keystore.Store, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		source: source,
		keys:   keys,
		logger: logger.With("component", "auth"),
	}
}

// Authenticate verifies an API key and returns the matching entity id.
// On success the queue encryption key derived from the raw API key is
// installed in the key store. Returns ErrInvalidAPIKey on no match.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrInvalidAPIKey
	}

	creds, err := a.source.ListActiveCredentials(ctx)
	if err != nil {
		return "", fmt.Errorf("listing credentials: %w", err)
	}

	for _, c := range creds {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !VerifyAPIKey(apiKey, c.Salt, c.Hash) {
			continue
		}

		if a.keys != nil {
			queueKey, err := DeriveQueueKey(apiKey)
			if err != nil {
				return "", err
			}
			a.keys.Put(c.EntityID, queueKey)
		}

		a.logger.Debug("entity authenticated", "entity_id", c.EntityID)
		return c.EntityID, nil
	}

	return "", ErrInvalidAPIKey
}

// InvalidateKey drops the entity's cached queue key. Called when an API key
// is rotated so the old derivation stops sealing new items.
func (a *Authenticator) InvalidateKey(entityID string) {
	if a.keys != nil {
		a.keys.Delete(entityID)
	}
}
