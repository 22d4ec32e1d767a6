// ABOUTME: Entity CRUD and credential persistence for the registry
// ABOUTME: API keys are generated here and stored as scrypt hash + salt only

package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"database/sql"

	"github.com/arachne-bridge/arachne/internal/auth"
)

// ErrBadInput is returned when a caller supplies invalid field values
var ErrBadInput = errors.New("bad input")

// newEntityID generates a short opaque entity id (12 hex chars).
func newEntityID() (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating entity id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// CreateEntity registers a new entity and returns it along with the cleartext
// API key. The key is shown exactly once; only its hash and salt are stored.
// When ownerID is set, the per-owner active entity cap is enforced.
func (s *SQLiteStore) CreateEntity(ctx context.Context, name, avatarURL, ownerID, ownerName string) (*Entity, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", fmt.Errorf("%w: entity name is required", ErrBadInput)
	}

	if ownerID != "" {
		count, err := s.countActiveEntitiesByOwner(ctx, ownerID)
		if err != nil {
			return nil, "", err
		}
		if count >= DefaultOwnerEntityLimit {
			return nil, "", ErrEntityLimit
		}
	}

	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("generating api key: %w", err)
	}
	salt, err := auth.NewSalt()
	if err != nil {
		return nil, "", fmt.Errorf("generating salt: %w", err)
	}
	hash, err := auth.HashAPIKey(apiKey, salt)
	if err != nil {
		return nil, "", fmt.Errorf("hashing api key: %w", err)
	}

	entity := &Entity{
		Name:       name,
		AvatarURL:  avatarURL,
		APIKeyHash: hash,
		APIKeySalt: salt,
		OwnerID:    ownerID,
		OwnerName:  ownerName,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}

	query := `
		INSERT INTO entities (id, name, avatar_url, description, accent_color, platform,
			api_key_hash, api_key_salt, owner_id, owner_name,
			notify_on_mention, notify_on_trigger, triggers, active, created_at)
		VALUES (?, ?, ?, '', '', '', ?, ?, ?, ?, 0, 0, '[]', 1, ?)
	`

	// Ids are 48 random bits; retry the insert on the unlikely collision
	for attempt := 0; attempt < 3; attempt++ {
		id, err := newEntityID()
		if err != nil {
			return nil, "", err
		}

		_, err = s.db.ExecContext(ctx, query,
			id,
			entity.Name,
			entity.AvatarURL,
			entity.APIKeyHash,
			entity.APIKeySalt,
			entity.OwnerID,
			entity.OwnerName,
			formatTime(entity.CreatedAt),
		)
		if err == nil {
			entity.ID = id
			s.logger.Info("created entity", "id", id, "name", entity.Name, "owner", entity.OwnerID)
			return entity, apiKey, nil
		}
		if !isConstraintViolation(err) {
			return nil, "", fmt.Errorf("inserting entity: %w", err)
		}
	}

	return nil, "", fmt.Errorf("inserting entity: id collisions exhausted retries")
}

// scanEntity reads one entity row from a row or rows scanner.
func scanEntity(scanner interface{ Scan(dest ...any) error }) (*Entity, error) {
	var e Entity
	var triggersRaw, createdAt string

	err := scanner.Scan(
		&e.ID,
		&e.Name,
		&e.AvatarURL,
		&e.Description,
		&e.AccentColor,
		&e.Platform,
		&e.APIKeyHash,
		&e.APIKeySalt,
		&e.OwnerID,
		&e.OwnerName,
		&e.NotifyOnMention,
		&e.NotifyOnTrigger,
		&triggersRaw,
		&e.Active,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entity: %w", err)
	}

	e.Triggers, err = decodeList(triggersRaw)
	if err != nil {
		return nil, fmt.Errorf("decoding entity triggers: %w", err)
	}
	e.CreatedAt = parseTime(createdAt, "entities.created_at")

	return &e, nil
}

// GetEntity retrieves an entity by id.
// Returns ErrNotFound if the entity doesn't exist.
func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, avatar_url, description, accent_color, platform,
		       api_key_hash, api_key_salt, owner_id, owner_name,
		       notify_on_mention, notify_on_trigger, triggers, active, created_at
		FROM entities WHERE id = ?
	`, id)
	return scanEntity(row)
}

func (s *SQLiteStore) listEntities(ctx context.Context, query string, args ...any) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity rows: %w", err)
	}
	return entities, nil
}

// ListEntities returns every entity, newest first, including deactivated ones.
func (s *SQLiteStore) ListEntities(ctx context.Context) ([]*Entity, error) {
	return s.listEntities(ctx, `
		SELECT id, name, avatar_url, description, accent_color, platform,
		       api_key_hash, api_key_salt, owner_id, owner_name,
		       notify_on_mention, notify_on_trigger, triggers, active, created_at
		FROM entities ORDER BY created_at DESC
	`)
}

// ListActiveEntities returns entities that can authenticate and route.
func (s *SQLiteStore) ListActiveEntities(ctx context.Context) ([]*Entity, error) {
	return s.listEntities(ctx, `
		SELECT id, name, avatar_url, description, accent_color, platform,
		       api_key_hash, api_key_salt, owner_id, owner_name,
		       notify_on_mention, notify_on_trigger, triggers, active, created_at
		FROM entities WHERE active = 1 ORDER BY created_at DESC
	`)
}

// ListEntitiesByOwner returns all of an owner's entities, newest first.
func (s *SQLiteStore) ListEntitiesByOwner(ctx context.Context, ownerID string) ([]*Entity, error) {
	return s.listEntities(ctx, `
		SELECT id, name, avatar_url, description, accent_color, platform,
		       api_key_hash, api_key_salt, owner_id, owner_name,
		       notify_on_mention, notify_on_trigger, triggers, active, created_at
		FROM entities WHERE owner_id = ? ORDER BY created_at DESC
	`, ownerID)
}

func (s *SQLiteStore) countActiveEntitiesByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entities WHERE owner_id = ? AND active = 1`, ownerID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting owner entities: %w", err)
	}
	return count, nil
}

// UpdateEntityIdentity applies a partial identity update. Nil patch fields
// are left unchanged; an empty patch is a no-op.
func (s *SQLiteStore) UpdateEntityIdentity(ctx context.Context, id string, patch EntityPatch) error {
	var sets []string
	var args []any

	if patch.Name != nil {
		if strings.TrimSpace(*patch.Name) == "" {
			return fmt.Errorf("%w: entity name cannot be blank", ErrBadInput)
		}
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, *patch.AvatarURL)
	}
	if patch.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *patch.Description)
	}
	if patch.AccentColor != nil {
		sets = append(sets, "accent_color = ?")
		args = append(args, *patch.AccentColor)
	}
	if patch.Platform != nil {
		sets = append(sets, "platform = ?")
		args = append(args, *patch.Platform)
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := "UPDATE entities SET " + strings.Join(sets, ", ") + " WHERE id = ?"

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating entity identity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated entity identity", "id", id)
	return nil
}

// SetEntityOwner assigns or reassigns the owning user.
// The per-owner cap applies at create time, not here.
func (s *SQLiteStore) SetEntityOwner(ctx context.Context, id, ownerID, ownerName string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entities SET owner_id = ?, owner_name = ? WHERE id = ?`,
		ownerID, ownerName, id,
	)
	if err != nil {
		return fmt.Errorf("setting entity owner: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("set entity owner", "id", id, "owner", ownerID)
	return nil
}

// SetEntityTriggers replaces the entity's trigger word list.
func (s *SQLiteStore) SetEntityTriggers(ctx context.Context, id string, triggers []string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entities SET triggers = ? WHERE id = ?`,
		encodeList(triggers), id,
	)
	if err != nil {
		return fmt.Errorf("setting entity triggers: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("set entity triggers", "id", id, "count", len(triggers))
	return nil
}

// SetEntityNotifyPrefs updates the owner notification toggles.
func (s *SQLiteStore) SetEntityNotifyPrefs(ctx context.Context, id string, onMention, onTrigger bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entities SET notify_on_mention = ?, notify_on_trigger = ? WHERE id = ?`,
		onMention, onTrigger, id,
	)
	if err != nil {
		return fmt.Errorf("setting entity notify prefs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// RegenerateEntityKey rotates an entity's API key and returns the new
// cleartext key exactly once. The previous key stops authenticating
// immediately. Only active entities can rotate.
func (s *SQLiteStore) RegenerateEntityKey(ctx context.Context, id string) (string, error) {
	apiKey, err := auth.GenerateAPIKey()
	if err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	salt, err := auth.NewSalt()
	if err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	hash, err := auth.HashAPIKey(apiKey, salt)
	if err != nil {
		return "", fmt.Errorf("hashing api key: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE entities SET api_key_hash = ?, api_key_salt = ? WHERE id = ? AND active = 1`,
		hash, salt, id,
	)
	if err != nil {
		return "", fmt.Errorf("regenerating entity key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return "", ErrNotFound
	}

	s.logger.Info("regenerated entity key", "id", id)
	return apiKey, nil
}

// DeactivateEntity soft deletes an entity. It stops authenticating and
// routing but its rows remain for audit.
func (s *SQLiteStore) DeactivateEntity(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entities SET active = 0 WHERE id = ? AND active = 1`, id,
	)
	if err != nil {
		return fmt.Errorf("deactivating entity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Info("deactivated entity", "id", id)
	return nil
}

// ListActiveCredentials returns the credential material for every active
// entity, for the API-key authenticator scan.
func (s *SQLiteStore) ListActiveCredentials(ctx context.Context) ([]auth.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, api_key_salt, api_key_hash FROM entities WHERE active = 1`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []auth.Credential
	for rows.Next() {
		var c auth.Credential
		if err := rows.Scan(&c.EntityID, &c.Salt, &c.Hash); err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}
		creds = append(creds, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential rows: %w", err)
	}
	return creds, nil
}

// Ensure SQLiteStore satisfies the authenticator's credential source
var _ auth.CredentialSource = (*SQLiteStore)(nil)
