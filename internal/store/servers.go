// ABOUTME: Entity-server subscription persistence and the routing lookup queries
// ABOUTME: Channel/tool/watch/block lists are stored as JSON columns and decoded here

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AddServer subscribes an entity to a server. Returns ErrAlreadySubscribed if
// a row for (entity_id, server_id) already exists.
func (s *SQLiteStore) AddServer(ctx context.Context, sub *EntityServer) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_servers (entity_id, server_id, channels, tools,
			watch_channels, blocked_channels, role_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sub.EntityID,
		sub.ServerID,
		encodeList(sub.Channels),
		encodeList(sub.Tools),
		encodeList(sub.WatchChannels),
		encodeList(sub.BlockedChannels),
		sub.RoleID,
		formatTime(sub.CreatedAt),
	)
	if isConstraintViolation(err) {
		return ErrAlreadySubscribed
	}
	if err != nil {
		return fmt.Errorf("inserting entity server: %w", err)
	}

	s.logger.Info("added entity to server", "entity_id", sub.EntityID, "server_id", sub.ServerID)
	return nil
}

// RemoveServer deletes an entity's subscription and returns the role id that
// was attached to it, so the caller can best-effort delete the platform role.
func (s *SQLiteStore) RemoveServer(ctx context.Context, entityID, serverID string) (string, error) {
	var roleID string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM entity_servers WHERE entity_id = ? AND server_id = ?
		RETURNING role_id
	`, entityID, serverID).Scan(&roleID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("removing entity server: %w", err)
	}

	s.logger.Info("removed entity from server", "entity_id", entityID, "server_id", serverID)
	return roleID, nil
}

// scanEntityServer reads one subscription row.
func scanEntityServer(scanner interface{ Scan(dest ...any) error }) (*EntityServer, error) {
	var es EntityServer
	var channels, tools, watch, blocked, createdAt string

	err := scanner.Scan(
		&es.EntityID,
		&es.ServerID,
		&channels,
		&tools,
		&watch,
		&blocked,
		&es.RoleID,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning entity server: %w", err)
	}

	if es.Channels, err = decodeList(channels); err != nil {
		return nil, fmt.Errorf("decoding channels: %w", err)
	}
	if es.Tools, err = decodeList(tools); err != nil {
		return nil, fmt.Errorf("decoding tools: %w", err)
	}
	if es.WatchChannels, err = decodeList(watch); err != nil {
		return nil, fmt.Errorf("decoding watch channels: %w", err)
	}
	if es.BlockedChannels, err = decodeList(blocked); err != nil {
		return nil, fmt.Errorf("decoding blocked channels: %w", err)
	}
	es.CreatedAt = parseTime(createdAt, "entity_servers.created_at")

	return &es, nil
}

// GetEntityServer retrieves a single subscription row.
func (s *SQLiteStore) GetEntityServer(ctx context.Context, entityID, serverID string) (*EntityServer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entity_id, server_id, channels, tools, watch_channels,
		       blocked_channels, role_id, created_at
		FROM entity_servers WHERE entity_id = ? AND server_id = ?
	`, entityID, serverID)
	return scanEntityServer(row)
}

// ListEntityServers returns all of an entity's subscriptions.
func (s *SQLiteStore) ListEntityServers(ctx context.Context, entityID string) ([]*EntityServer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, server_id, channels, tools, watch_channels,
		       blocked_channels, role_id, created_at
		FROM entity_servers WHERE entity_id = ? ORDER BY created_at
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("querying entity servers: %w", err)
	}
	defer rows.Close()

	var subs []*EntityServer
	for rows.Next() {
		es, err := scanEntityServer(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, es)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity server rows: %w", err)
	}
	return subs, nil
}

// subscriberQuery joins active entities with their subscription rows.
const subscriberQuery = `
	SELECT e.id, e.name, e.avatar_url, e.description, e.accent_color, e.platform,
	       e.api_key_hash, e.api_key_salt, e.owner_id, e.owner_name,
	       e.notify_on_mention, e.notify_on_trigger, e.triggers, e.active, e.created_at,
	       es.entity_id, es.server_id, es.channels, es.tools, es.watch_channels,
	       es.blocked_channels, es.role_id, es.created_at
	FROM entity_servers es
	JOIN entities e ON e.id = es.entity_id
	WHERE es.server_id = ? AND e.active = 1
	ORDER BY es.created_at
`

func (s *SQLiteStore) querySubscribers(ctx context.Context, serverID string) ([]*Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, subscriberQuery, serverID)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers: %w", err)
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		var e Entity
		var es EntityServer
		var triggersRaw, entityCreated string
		var channels, tools, watch, blocked, subCreated string

		err := rows.Scan(
			&e.ID, &e.Name, &e.AvatarURL, &e.Description, &e.AccentColor, &e.Platform,
			&e.APIKeyHash, &e.APIKeySalt, &e.OwnerID, &e.OwnerName,
			&e.NotifyOnMention, &e.NotifyOnTrigger, &triggersRaw, &e.Active, &entityCreated,
			&es.EntityID, &es.ServerID, &channels, &tools, &watch,
			&blocked, &es.RoleID, &subCreated,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning subscriber row: %w", err)
		}

		if e.Triggers, err = decodeList(triggersRaw); err != nil {
			return nil, fmt.Errorf("decoding entity triggers: %w", err)
		}
		e.CreatedAt = parseTime(entityCreated, "entities.created_at")

		if es.Channels, err = decodeList(channels); err != nil {
			return nil, fmt.Errorf("decoding channels: %w", err)
		}
		if es.Tools, err = decodeList(tools); err != nil {
			return nil, fmt.Errorf("decoding tools: %w", err)
		}
		if es.WatchChannels, err = decodeList(watch); err != nil {
			return nil, fmt.Errorf("decoding watch channels: %w", err)
		}
		if es.BlockedChannels, err = decodeList(blocked); err != nil {
			return nil, fmt.Errorf("decoding blocked channels: %w", err)
		}
		es.CreatedAt = parseTime(subCreated, "entity_servers.created_at")

		subs = append(subs, &Subscriber{Entity: &e, Server: &es})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriber rows: %w", err)
	}
	return subs, nil
}

// ListServerEntities returns every active entity subscribed to a server.
func (s *SQLiteStore) ListServerEntities(ctx context.Context, serverID string) ([]*Subscriber, error) {
	return s.querySubscribers(ctx, serverID)
}

// GetEntitiesForChannel returns the active entities permitted on a channel:
// those subscribed to the server whose channels list is empty (all channels)
// or contains the channel id. The permitted-channels check lives here; watch
// and block filters are the router's job.
func (s *SQLiteStore) GetEntitiesForChannel(ctx context.Context, serverID, channelID string) ([]*Subscriber, error) {
	subs, err := s.querySubscribers(ctx, serverID)
	if err != nil {
		return nil, err
	}

	var matched []*Subscriber
	for _, sub := range subs {
		if len(sub.Server.Channels) == 0 || containsString(sub.Server.Channels, channelID) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

// GetRoleEntityMap returns the role id to entity id mapping for a server,
// used by the router to resolve role mentions into addressed entities.
func (s *SQLiteStore) GetRoleEntityMap(ctx context.Context, serverID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT es.role_id, es.entity_id
		FROM entity_servers es
		JOIN entities e ON e.id = es.entity_id
		WHERE es.server_id = ? AND es.role_id != '' AND e.active = 1
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("querying role map: %w", err)
	}
	defer rows.Close()

	roleMap := make(map[string]string)
	for rows.Next() {
		var roleID, entityID string
		if err := rows.Scan(&roleID, &entityID); err != nil {
			return nil, fmt.Errorf("scanning role map row: %w", err)
		}
		roleMap[roleID] = entityID
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating role map rows: %w", err)
	}
	return roleMap, nil
}

// UpdateServerChannels replaces the admin-managed channel and tool lists.
func (s *SQLiteStore) UpdateServerChannels(ctx context.Context, entityID, serverID string, channels, tools []string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entity_servers SET channels = ?, tools = ? WHERE entity_id = ? AND server_id = ?`,
		encodeList(channels), encodeList(tools), entityID, serverID,
	)
	if err != nil {
		return fmt.Errorf("updating server channels: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateServerFilters replaces the owner-managed watch and block lists.
func (s *SQLiteStore) UpdateServerFilters(ctx context.Context, entityID, serverID string, watch, blocked []string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entity_servers SET watch_channels = ?, blocked_channels = ? WHERE entity_id = ? AND server_id = ?`,
		encodeList(watch), encodeList(blocked), entityID, serverID,
	)
	if err != nil {
		return fmt.Errorf("updating server filters: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateServerRoleID records the platform role created for an entity on a
// server. The partial unique index keeps one role per (server, role).
func (s *SQLiteStore) UpdateServerRoleID(ctx context.Context, entityID, serverID, roleID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE entity_servers SET role_id = ? WHERE entity_id = ? AND server_id = ?`,
		roleID, entityID, serverID,
	)
	if isConstraintViolation(err) {
		return fmt.Errorf("role %s already assigned on server %s: %w", roleID, serverID, err)
	}
	if err != nil {
		return fmt.Errorf("updating server role id: %w", err)
	}
	return requireRowAffected(result)
}

// requireRowAffected maps zero-row updates to ErrNotFound.
func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// containsString reports whether list contains s.
func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
