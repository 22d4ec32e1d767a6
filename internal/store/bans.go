// ABOUTME: Server ban list consulted by the gateway's guild-join auto-leave
// ABOUTME: Bans are keyed by server id with an optional operator-supplied reason

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BanServer adds a server to the auto-leave list. Banning an already banned
// server updates its reason.
func (s *SQLiteStore) BanServer(ctx context.Context, serverID, reason string) error {
	if serverID == "" {
		return fmt.Errorf("%w: server id is required", ErrBadInput)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_bans (server_id, reason, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (server_id) DO UPDATE SET reason = excluded.reason
	`, serverID, reason, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("banning server: %w", err)
	}

	s.logger.Info("banned server", "server_id", serverID, "reason", reason)
	return nil
}

// UnbanServer removes a server from the auto-leave list.
func (s *SQLiteStore) UnbanServer(ctx context.Context, serverID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM server_bans WHERE server_id = ?`, serverID,
	)
	if err != nil {
		return fmt.Errorf("unbanning server: %w", err)
	}
	if err := requireRowAffected(result); err != nil {
		return err
	}

	s.logger.Info("unbanned server", "server_id", serverID)
	return nil
}

// IsServerBanned reports whether the bridge must leave the given server.
func (s *SQLiteStore) IsServerBanned(ctx context.Context, serverID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM server_bans WHERE server_id = ?`, serverID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking server ban: %w", err)
	}
	return true, nil
}

// ListServerBans returns all bans, newest first.
func (s *SQLiteStore) ListServerBans(ctx context.Context) ([]*ServerBan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, reason, created_at FROM server_bans ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying server bans: %w", err)
	}
	defer rows.Close()

	var bans []*ServerBan
	for rows.Next() {
		var b ServerBan
		var createdAt string
		if err := rows.Scan(&b.ServerID, &b.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning server ban row: %w", err)
		}
		b.CreatedAt = parseTime(createdAt, "server_bans.created_at")
		bans = append(bans, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating server ban rows: %w", err)
	}
	return bans, nil
}
