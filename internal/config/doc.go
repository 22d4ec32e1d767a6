// Package config handles configuration loading for the Arachne bridge.
//
// # Overview
//
// Configuration is loaded from an optional YAML file with environment
// variable expansion, then overridden by the documented environment
// variables, so containerised deployments can run with env vars alone.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ARACHNE_CONFIG environment variable
//  2. ./arachne.yaml (current directory)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	discord:
//	  bot_token: "${BOT_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Environment Overrides
//
// These variables override file values when set:
//
//	BOT_TOKEN           Discord bot token (required)
//	DB_PATH             SQLite database path (default ./arachne.db)
//	MCP_PORT            entity control API port (default 3000)
//	DATA_DIR            writable data directory (default /data)
//	AVATAR_BASE_URL     public base URL for served avatars
//	JWT_SECRET          session token signing secret (sessions off when empty)
//	DASHBOARD_URL       external dashboard URL
//	OAUTH_CLIENT_ID     dashboard OAuth client id
//	OAUTH_CLIENT_SECRET dashboard OAuth client secret
//	OPERATOR_IDS        comma-separated operator user ids
//	QUEUE_TTL_SECONDS   queue item TTL (default 600)
//	QUEUE_MAX_LEN       per-entity queue cap (default 200)
//	LOG_LEVEL           slog level (default info)
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	queue:
//	  ttl: "10m"
//	  sweep_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Usage
//
//	cfg, err := config.Load(config.ResolvePath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
