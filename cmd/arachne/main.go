// ABOUTME: Entry point for the arachne bridge daemon
// ABOUTME: Subcommands: serve (default), bootstrap, health, version

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/arachne-bridge/arachne/internal/bridge"
	"github.com/arachne-bridge/arachne/internal/config"
	"github.com/arachne-bridge/arachne/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                       _
  __ _ _ __ __ _  ___| |__  _ __   ___
 / _' | '__/ _' |/ __| '_ \| '_ \ / _ \
| (_| | | | (_| | (__| | | | | | |  __/
 \__,_|_|  \__,_|\___|_| |_|_| |_|\___|
`

func main() {
	// serve is the default so a bare "arachne" starts the bridge
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "bootstrap":
		err = runBootstrap(ctx)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Printf("arachne %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: arachne [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the bridge (default)")
	fmt.Println("  bootstrap --name NAME  Create config and the first entity, print its API key")
	fmt.Println("  health                 Check bridge health over HTTP")
	fmt.Println("  version                Print the version")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  ARACHNE_CONFIG         Config file path (default: ./arachne.yaml)")
	fmt.Println("  BOT_TOKEN              Chat platform bot token")
	fmt.Println("  DB_PATH                Database file path override")
	fmt.Println("  MCP_PORT               Control API port override")
}

func runServe(ctx context.Context) error {
	configPath := config.ResolvePath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	shownPath := configPath
	if shownPath == "" {
		shownPath = "(defaults + environment)"
	}
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", shownPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}

	fmt.Println()

	logger.Info("starting arachne",
		"version", version,
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"db_path", cfg.Database.Path,
	)

	b, err := bridge.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	return b.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{level: h.level, attrs: h.attrs, groups: newGroups}
}

func runHealth(ctx context.Context) error {
	// Only the listen address is needed, not a full daemon config.
	cfg, err := config.LoadForTooling(config.ResolvePath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status       string `json:"status"`
		GatewayReady bool   `json:"gateway_ready"`
		Database     bool   `json:"database"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decoding health response: %w", err)
	}

	fmt.Printf("status:        %s\n", health.Status)
	fmt.Printf("gateway ready: %t\n", health.GatewayReady)
	fmt.Printf("database:      %t\n", health.Database)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge is degraded")
	}
	return nil
}

// healthURL turns a listen address like ":3000" into a dialable URL.
func healthURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/health"
}

// runBootstrap performs first-time setup:
// 1. Creates a config file with a random JWT secret (if none exists)
// 2. Creates the database and the first entity
// 3. Prints the entity's API key, once
func runBootstrap(ctx context.Context) error {
	var name, ownerID, ownerName string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			name = strings.TrimPrefix(arg, "--name=")
		case arg == "--owner":
			if i+1 >= len(args) {
				return fmt.Errorf("--owner requires a value")
			}
			ownerID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--owner="):
			ownerID = strings.TrimPrefix(arg, "--owner=")
		case arg == "--owner-name":
			if i+1 >= len(args) {
				return fmt.Errorf("--owner-name requires a value")
			}
			ownerName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--owner-name="):
			ownerName = strings.TrimPrefix(arg, "--owner-name=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("--name flag is required")
	}

	configPath := os.Getenv("ARACHNE_CONFIG")
	if configPath == "" {
		configPath = "arachne.yaml"
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	// BOT_TOKEN is usually not exported yet at bootstrap time, so skip
	// required-field validation; only the database path matters here.
	cfg, err := config.LoadForTooling(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	existing, err := s.ListEntities(ctx)
	if err != nil {
		return fmt.Errorf("checking entities: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("bootstrap already complete: %d entities exist (use arachne-admin entity create)", len(existing))
	}

	entity, apiKey, err := s.CreateEntity(ctx, name, "", ownerID, ownerName)
	if err != nil {
		return fmt.Errorf("creating entity: %w", err)
	}

	green.Printf("  ✓ Created entity: %s\n", entity.Name)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  First Entity")
	cyan.Println("  ------------")
	fmt.Printf("  ID:      %s\n", entity.ID)
	fmt.Printf("  Name:    %s\n", entity.Name)
	if entity.OwnerID != "" {
		fmt.Printf("  Owner:   %s\n", entity.OwnerID)
	}
	fmt.Printf("  API key: %s\n", apiKey)
	fmt.Println()

	yellow.Println("  Store this API key now. Only its hash is persisted, so it cannot")
	yellow.Println("  be recovered; regenerate with arachne-admin entity regen-key.")
	fmt.Println()
	fmt.Println("  Ready to go:")
	fmt.Println("    export BOT_TOKEN=...   # chat platform bot token")
	fmt.Println("    arachne serve          # start the bridge")
	fmt.Println()

	return nil
}

// writeDefaultConfig writes a starter config with a fresh JWT secret. The bot
// token stays an environment reference so the secret never lands on disk.
func writeDefaultConfig(path string) error {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	content := fmt.Sprintf(`# arachne configuration
# Generated by arachne bootstrap

discord:
  bot_token: "${BOT_TOKEN}"

server:
  http_addr: ":3000"

database:
  path: "./arachne.db"

auth:
  jwt_secret: "%s"
  session_ttl: "1h"

queue:
  ttl: "10m"
  sweep_interval: "30s"
  max_len: 200

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`, jwtSecret)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
