// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides entity registry persistence with automatic schema creation

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"database/sql"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entities (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			avatar_url        TEXT NOT NULL DEFAULT '',
			description       TEXT NOT NULL DEFAULT '',
			accent_color      TEXT NOT NULL DEFAULT '',
			platform          TEXT NOT NULL DEFAULT '',
			api_key_hash      BLOB NOT NULL,
			api_key_salt      BLOB NOT NULL,
			owner_id          TEXT NOT NULL DEFAULT '',
			owner_name        TEXT NOT NULL DEFAULT '',
			notify_on_mention INTEGER NOT NULL DEFAULT 0,
			notify_on_trigger INTEGER NOT NULL DEFAULT 0,
			triggers          TEXT NOT NULL DEFAULT '[]',
			active            INTEGER NOT NULL DEFAULT 1,
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_entities_owner ON entities(owner_id);
		CREATE INDEX IF NOT EXISTS idx_entities_active ON entities(active);

		CREATE TABLE IF NOT EXISTS entity_servers (
			entity_id        TEXT NOT NULL REFERENCES entities(id),
			server_id        TEXT NOT NULL,
			channels         TEXT NOT NULL DEFAULT '[]',
			tools            TEXT NOT NULL DEFAULT '[]',
			watch_channels   TEXT NOT NULL DEFAULT '[]',
			blocked_channels TEXT NOT NULL DEFAULT '[]',
			role_id          TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL,

			PRIMARY KEY (entity_id, server_id)
		);

		CREATE INDEX IF NOT EXISTS idx_entity_servers_server ON entity_servers(server_id);

		-- One entity role per server; blank role_id means no role was created
		CREATE UNIQUE INDEX IF NOT EXISTS idx_entity_servers_role
			ON entity_servers(server_id, role_id) WHERE role_id != '';

		CREATE TABLE IF NOT EXISTS server_requests (
			id             TEXT PRIMARY KEY,
			entity_id      TEXT NOT NULL REFERENCES entities(id),
			server_id      TEXT NOT NULL,
			applicant_id   TEXT NOT NULL,
			applicant_name TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'pending',
			reviewer_id    TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,

			CHECK (status IN ('pending', 'approved', 'rejected'))
		);

		CREATE INDEX IF NOT EXISTS idx_server_requests_server ON server_requests(server_id, status);
		CREATE INDEX IF NOT EXISTS idx_server_requests_entity ON server_requests(entity_id);

		CREATE TABLE IF NOT EXISTS server_templates (
			server_id  TEXT NOT NULL,
			name       TEXT NOT NULL,
			channels   TEXT NOT NULL DEFAULT '[]',
			tools      TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,

			PRIMARY KEY (server_id, name)
		);

		CREATE TABLE IF NOT EXISTS server_settings (
			server_id           TEXT PRIMARY KEY,
			announce_channel_id TEXT NOT NULL DEFAULT '',
			announce_template   TEXT NOT NULL DEFAULT '',
			role_template       TEXT NOT NULL DEFAULT '',
			default_template    TEXT NOT NULL DEFAULT '',
			updated_at          TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS server_bans (
			server_id  TEXT PRIMARY KEY,
			reason     TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bug_reports (
			id            TEXT PRIMARY KEY,
			reporter_id   TEXT NOT NULL,
			reporter_name TEXT NOT NULL DEFAULT '',
			title         TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'open',
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (status IN ('open', 'closed'))
		);

		CREATE INDEX IF NOT EXISTS idx_bug_reports_status ON bug_reports(status);

		CREATE TABLE IF NOT EXISTS bug_report_messages (
			id          TEXT PRIMARY KEY,
			report_id   TEXT NOT NULL REFERENCES bug_reports(id) ON DELETE CASCADE,
			author_id   TEXT NOT NULL,
			author_name TEXT NOT NULL DEFAULT '',
			body        TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_bug_report_messages_report ON bug_report_messages(report_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "entities",
			column: "notify_on_mention",
			apply:  `ALTER TABLE entities ADD COLUMN notify_on_mention INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "entities",
			column: "notify_on_trigger",
			apply:  `ALTER TABLE entities ADD COLUMN notify_on_trigger INTEGER NOT NULL DEFAULT 0`,
		},
		{
			table:  "entities",
			column: "triggers",
			apply:  `ALTER TABLE entities ADD COLUMN triggers TEXT NOT NULL DEFAULT '[]'`,
		},
		{
			table:  "entities",
			column: "accent_color",
			apply:  `ALTER TABLE entities ADD COLUMN accent_color TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "entity_servers",
			column: "tools",
			apply:  `ALTER TABLE entity_servers ADD COLUMN tools TEXT NOT NULL DEFAULT '[]'`,
		},
	}

	for _, m := range migrations {
		var exists int
		check := fmt.Sprintf(`SELECT 1 FROM pragma_table_info('%s') WHERE name = ?`, m.table)
		err := s.db.QueryRow(check, m.column).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping verifies the database connection is alive. Used by health checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// encodeList marshals a string list into its JSON column form.
// Nil and empty lists encode as "[]" so columns never hold NULL.
func encodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		// string slices always marshal; keep the column well-formed regardless
		return "[]"
	}
	return string(data)
}

// decodeList unmarshals a JSON list column into a string slice.
func decodeList(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decoding list column: %w", err)
	}
	return items, nil
}

// formatTime renders a timestamp in the canonical column format (RFC3339 UTC).
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a timestamp column, logging rather than failing on
// malformed values so one bad row cannot poison a list call.
func parseTime(raw, column string) time.Time {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		slog.Warn("failed to parse timestamp column", "column", column, "value", raw, "error", err)
		return time.Time{}
	}
	return t
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)

// Ensure SQLiteStore implements BugStore interface
var _ BugStore = (*SQLiteStore)(nil)
