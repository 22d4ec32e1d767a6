// ABOUTME: Top-level orchestrator wiring the store, queue, gateway, router, and control API
// ABOUTME: Owns process lifecycle: platform login, HTTP serving, graceful shutdown

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/arachne-bridge/arachne/internal/auth"
	"github.com/arachne-bridge/arachne/internal/bus"
	"github.com/arachne-bridge/arachne/internal/config"
	"github.com/arachne-bridge/arachne/internal/control"
	"github.com/arachne-bridge/arachne/internal/discord"
	"github.com/arachne-bridge/arachne/internal/keystore"
	"github.com/arachne-bridge/arachne/internal/metrics"
	"github.com/arachne-bridge/arachne/internal/router"
	"github.com/arachne-bridge/arachne/internal/store"
	"github.com/arachne-bridge/arachne/internal/webhook"
)

// Bridge owns every long-lived component and runs them as one process.
type Bridge struct {
	config      *config.Config
	store       *store.SQLiteStore
	keys        *keystore.Store
	queue       *bus.Bus
	gateway     *discord.Gateway
	webhooks    *webhook.Manager
	router      *router.Router
	approvals   *Approvals
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

// New wires a Bridge from configuration. Nothing connects or listens yet;
// call Run for that.
func New(cfg *config.Config, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.NewRecorder()
	}

	keys := keystore.New()
	queue := bus.New(bus.Options{
		TTL:           cfg.Queue.TTL,
		MaxLen:        cfg.Queue.MaxLen,
		SweepInterval: cfg.Queue.SweepInterval,
	}, logger.With("component", "bus"), rec)

	gw, err := discord.New(cfg.Discord.BotToken, st, logger.With("component", "gateway"), rec)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating platform gateway: %w", err)
	}

	hooks := webhook.NewManager(gw.Session(), gw, logger.With("component", "webhook"), rec)
	authn := auth.NewAuthenticator(st, keys, logger.With("component", "auth"))
	rtr := router.New(st, queue, keys, gw, gw, logger.With("component", "router"), rec)

	var tokens *auth.TokenIssuer
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokenIssuer([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("auth.jwt_secret not set, session tokens disabled")
	}

	var metricsH http.Handler
	if rec != nil {
		metricsH = rec.Handler()
	}

	ctrl := control.New(control.Config{
		Registry:    st,
		Queue:       queue,
		Sender:      hooks,
		Directory:   gw,
		Auth:        authn,
		Tokens:      tokens,
		Keys:        keys,
		SessionTTL:  cfg.Auth.SessionTTL,
		MetricsH:    metricsH,
		MetricsPath: cfg.Metrics.Path,
		Metrics:     rec,
		Logger:      logger.With("component", "control"),
	})

	mux := http.NewServeMux()
	ctrl.RegisterRoutes(mux)

	return &Bridge{
		config:    cfg,
		store:     st,
		keys:      keys,
		queue:     queue,
		gateway:   gw,
		webhooks:  hooks,
		router:    rtr,
		approvals: NewApprovals(st, gw, logger.With("component", "approvals")),
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		metrics: rec,
		logger:  logger.With("component", "bridge"),
	}, nil
}

// ApproveRequest approves a pending server request and places the entity on
// the server. See Approvals.ApproveRequest for the step semantics.
func (b *Bridge) ApproveRequest(ctx context.Context, requestID, reviewerID string) error {
	return b.approvals.ApproveRequest(ctx, requestID, reviewerID)
}

// RejectRequest rejects a pending server request.
func (b *Bridge) RejectRequest(ctx context.Context, requestID, reviewerID string) error {
	return b.approvals.RejectRequest(ctx, requestID, reviewerID)
}

// RemoveFromServer unsubscribes an entity from a server and best-effort
// deletes its platform role.
func (b *Bridge) RemoveFromServer(ctx context.Context, entityID, serverID string) error {
	return b.approvals.RemoveFromServer(ctx, entityID, serverID)
}

// Run connects to the platform, serves the control API, and blocks until the
// context is canceled or the server fails. It always attempts a graceful
// shutdown before returning.
func (b *Bridge) Run(ctx context.Context) error {
	b.queue.Start()

	// Consumers must be attached before login.
	b.gateway.OnMessage(b.router.HandleMessage)
	b.gateway.OnReady(func() {
		b.logger.Info("platform gateway ready")
	})

	if err := b.gateway.Login(ctx); err != nil {
		if shutdownErr := b.gracefulShutdown(); shutdownErr != nil {
			b.logger.Error("cleanup after login failure", "error", shutdownErr)
		}
		return fmt.Errorf("platform login: %w", err)
	}

	ln, err := b.setupListener(ctx)
	if err != nil {
		if shutdownErr := b.gracefulShutdown(); shutdownErr != nil {
			b.logger.Error("cleanup after listener failure", "error", shutdownErr)
		}
		return err
	}

	errCh := b.startServer(ln)
	serverErr := b.waitForShutdownSignal(ctx, errCh)
	shutdownErr := b.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates the control API listener, on the tailnet when
// tailscale is enabled, otherwise plain TCP.
func (b *Bridge) setupListener(ctx context.Context) (net.Listener, error) {
	if b.config.Tailscale.Enabled {
		if b.config.Server.HTTPAddr != "" {
			b.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", b.config.Server.HTTPAddr)
		}
		return b.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", b.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupTailscaleListener joins the tailnet and listens for HTTP there.
func (b *Bridge) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := b.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	b.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	b.logger.Info("starting tailscale node",
		"hostname", tsCfg.Hostname,
		"state_dir", stateDir,
		"ephemeral", tsCfg.Ephemeral,
	)
	status, err := b.tsnetServer.Up(ctx)
	if err != nil {
		_ = b.tsnetServer.Close()
		b.tsnetServer = nil
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	var tsAddr string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		b.logger.Warn("tailscale node has no IP addresses assigned")
	}
	b.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", tsAddr)

	ln, err := b.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = b.tsnetServer.Close()
		b.tsnetServer = nil
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// resolveTailscaleStateDir returns the node state directory, defaulting under
// the user's data dir when not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "arachne", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or the TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// startServer serves HTTP in a goroutine, reporting fatal errors on the
// returned channel.
func (b *Bridge) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		b.logger.Info("control API listening", "addr", ln.Addr().String())
		if err := b.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal blocks until the context is canceled or the server
// reports a fatal error.
func (b *Bridge) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		b.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown runs Shutdown with a fresh context; the run context is
// already canceled by the time shutdown starts.
func (b *Bridge) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the components in dependency order: the HTTP server first so
// no new drains arrive, then the queue sweeper, the platform connection, and
// finally the store.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down bridge")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", b.httpServer.Shutdown(ctx))

	b.queue.Stop()

	errs = appendCloseError(errs, "gateway close", b.gateway.Close())

	if b.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", b.tsnetServer.Close())
	}

	errs = appendCloseError(errs, "store close", b.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
