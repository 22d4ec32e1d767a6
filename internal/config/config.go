// ABOUTME: Configuration loading and parsing for the Arachne bridge
// ABOUTME: Supports YAML files with env var expansion plus direct environment overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete bridge configuration
type Config struct {
	Discord   DiscordConfig   `yaml:"discord"`
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Queue     QueueConfig     `yaml:"queue"`
	Data      DataConfig      `yaml:"data"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DiscordConfig holds the Discord gateway credentials
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// ServerConfig holds the entity control API address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration for the control API
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds API-key session token configuration
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SessionTTLRaw string `yaml:"session_ttl"`
}

// DashboardConfig carries values consumed by the external dashboard, which
// shares this config file. The bridge loads them but does not act on them.
type DashboardConfig struct {
	URL               string   `yaml:"url"`
	OAuthClientID     string   `yaml:"oauth_client_id"`
	OAuthClientSecret string   `yaml:"oauth_client_secret"`
	OperatorIDs       []string `yaml:"operator_ids"`
}

// QueueConfig holds message queue tuning
type QueueConfig struct {
	TTL           time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`
	MaxLen        int           `yaml:"max_len"`

	// Raw string values for YAML unmarshaling
	TTLRaw           string `yaml:"ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// DataConfig holds writable data directory configuration
type DataConfig struct {
	Dir           string `yaml:"dir"`
	AvatarBaseURL string `yaml:"avatar_base_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a Config populated with defaults. Environment overrides
// and validation still apply, so callers normally want Load instead.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":3000"},
		Database: DatabaseConfig{Path: "./arachne.db"},
		Auth:     AuthConfig{SessionTTL: time.Hour},
		Queue: QueueConfig{
			TTL:           10 * time.Minute,
			SweepInterval: 30 * time.Second,
			MaxLen:        200,
		},
		Data:    DataConfig{Dir: "/data"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. The path may be empty, in which case the bridge runs on defaults
// and environment variables alone. Environment variables in the format
// ${VAR_NAME} are expanded inside the file; the documented ARACHNE
// environment variables override file values afterwards.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadForTooling is Load without required-field validation. Offline tools
// that only touch the database do not need a bot token or listen address.
func LoadForTooling(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw YAML content
		expandedData := expandEnvVars(string(data))

		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overrides config values from the documented environment
// variables. Environment always wins over file values so containerised
// deployments can run without a config file at all.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("BOT_TOKEN"); v != "" {
		cfg.Discord.BotToken = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MCP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid MCP_PORT %q", v)
		}
		cfg.Server.HTTPAddr = fmt.Sprintf(":%d", port)
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Data.Dir = v
	}
	if v := os.Getenv("AVATAR_BASE_URL"); v != "" {
		cfg.Data.AvatarBaseURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DASHBOARD_URL"); v != "" {
		cfg.Dashboard.URL = v
	}
	if v := os.Getenv("OAUTH_CLIENT_ID"); v != "" {
		cfg.Dashboard.OAuthClientID = v
	}
	if v := os.Getenv("OAUTH_CLIENT_SECRET"); v != "" {
		cfg.Dashboard.OAuthClientSecret = v
	}
	if v := os.Getenv("OPERATOR_IDS"); v != "" {
		cfg.Dashboard.OperatorIDs = splitCommaList(v)
	}
	if v := os.Getenv("QUEUE_TTL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid QUEUE_TTL_SECONDS %q", v)
		}
		cfg.Queue.TTL = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("QUEUE_MAX_LEN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid QUEUE_MAX_LEN %q", v)
		}
		cfg.Queue.MaxLen = n
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Discord.BotToken == "" {
		return fmt.Errorf("discord.bot_token is required (set BOT_TOKEN)")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Queue.TTL <= 0 {
		return fmt.Errorf("queue.ttl must be positive")
	}
	if c.Queue.MaxLen <= 0 {
		return fmt.Errorf("queue.max_len must be positive")
	}
	if c.Queue.SweepInterval <= 0 {
		return fmt.Errorf("queue.sweep_interval must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.SessionTTLRaw != "" {
		cfg.Auth.SessionTTL, err = time.ParseDuration(cfg.Auth.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session_ttl %q: %w", cfg.Auth.SessionTTLRaw, err)
		}
	}

	if cfg.Queue.TTLRaw != "" {
		cfg.Queue.TTL, err = time.ParseDuration(cfg.Queue.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing queue ttl %q: %w", cfg.Queue.TTLRaw, err)
		}
	}

	if cfg.Queue.SweepIntervalRaw != "" {
		cfg.Queue.SweepInterval, err = time.ParseDuration(cfg.Queue.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Queue.SweepIntervalRaw, err)
		}
	}

	return nil
}

// ResolvePath picks the config file path for the daemon: the ARACHNE_CONFIG
// environment variable if set, otherwise ./arachne.yaml when it exists,
// otherwise empty (env-only operation).
func ResolvePath() string {
	if p := os.Getenv("ARACHNE_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("arachne.yaml"); err == nil {
		return "arachne.yaml"
	}
	return ""
}
