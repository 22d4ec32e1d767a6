// ABOUTME: Named channel/tool templates and per-server bridge settings
// ABOUTME: Both are consumed by the approval flow when placing an entity on a server

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertServerTemplate creates or replaces a named template on a server.
func (s *SQLiteStore) UpsertServerTemplate(ctx context.Context, tmpl *ServerTemplate) error {
	if tmpl.ServerID == "" || tmpl.Name == "" {
		return fmt.Errorf("%w: template server id and name are required", ErrBadInput)
	}
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_templates (server_id, name, channels, tools, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (server_id, name) DO UPDATE SET
			channels = excluded.channels,
			tools = excluded.tools
	`,
		tmpl.ServerID,
		tmpl.Name,
		encodeList(tmpl.Channels),
		encodeList(tmpl.Tools),
		formatTime(tmpl.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting server template: %w", err)
	}

	s.logger.Debug("upserted server template", "server_id", tmpl.ServerID, "name", tmpl.Name)
	return nil
}

func scanServerTemplate(scanner interface{ Scan(dest ...any) error }) (*ServerTemplate, error) {
	var t ServerTemplate
	var channels, tools, createdAt string

	err := scanner.Scan(&t.ServerID, &t.Name, &channels, &tools, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning server template: %w", err)
	}

	if t.Channels, err = decodeList(channels); err != nil {
		return nil, fmt.Errorf("decoding template channels: %w", err)
	}
	if t.Tools, err = decodeList(tools); err != nil {
		return nil, fmt.Errorf("decoding template tools: %w", err)
	}
	t.CreatedAt = parseTime(createdAt, "server_templates.created_at")
	return &t, nil
}

// GetServerTemplate retrieves one named template.
func (s *SQLiteStore) GetServerTemplate(ctx context.Context, serverID, name string) (*ServerTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT server_id, name, channels, tools, created_at
		FROM server_templates WHERE server_id = ? AND name = ?
	`, serverID, name)
	return scanServerTemplate(row)
}

// ListServerTemplates returns a server's templates ordered by name.
func (s *SQLiteStore) ListServerTemplates(ctx context.Context, serverID string) ([]*ServerTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT server_id, name, channels, tools, created_at
		FROM server_templates WHERE server_id = ? ORDER BY name
	`, serverID)
	if err != nil {
		return nil, fmt.Errorf("querying server templates: %w", err)
	}
	defer rows.Close()

	var templates []*ServerTemplate
	for rows.Next() {
		t, err := scanServerTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating template rows: %w", err)
	}
	return templates, nil
}

// DeleteServerTemplate removes one named template.
func (s *SQLiteStore) DeleteServerTemplate(ctx context.Context, serverID, name string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM server_templates WHERE server_id = ? AND name = ?`,
		serverID, name,
	)
	if err != nil {
		return fmt.Errorf("deleting server template: %w", err)
	}
	return requireRowAffected(result)
}

// UpsertServerSettings creates or replaces a server's bridge settings.
func (s *SQLiteStore) UpsertServerSettings(ctx context.Context, settings *ServerSettings) error {
	if settings.ServerID == "" {
		return fmt.Errorf("%w: settings server id is required", ErrBadInput)
	}
	settings.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_settings (server_id, announce_channel_id, announce_template,
			role_template, default_template, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (server_id) DO UPDATE SET
			announce_channel_id = excluded.announce_channel_id,
			announce_template = excluded.announce_template,
			role_template = excluded.role_template,
			default_template = excluded.default_template,
			updated_at = excluded.updated_at
	`,
		settings.ServerID,
		settings.AnnounceChannelID,
		settings.AnnounceTemplate,
		settings.RoleTemplate,
		settings.DefaultTemplate,
		formatTime(settings.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting server settings: %w", err)
	}

	s.logger.Debug("upserted server settings", "server_id", settings.ServerID)
	return nil
}

// GetServerSettings retrieves a server's settings. Returns ErrNotFound for
// servers that never configured the bridge; callers fall back to defaults.
func (s *SQLiteStore) GetServerSettings(ctx context.Context, serverID string) (*ServerSettings, error) {
	var settings ServerSettings
	var updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT server_id, announce_channel_id, announce_template,
		       role_template, default_template, updated_at
		FROM server_settings WHERE server_id = ?
	`, serverID).Scan(
		&settings.ServerID,
		&settings.AnnounceChannelID,
		&settings.AnnounceTemplate,
		&settings.RoleTemplate,
		&settings.DefaultTemplate,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying server settings: %w", err)
	}

	settings.UpdatedAt = parseTime(updatedAt, "server_settings.updated_at")
	return &settings, nil
}
