// ABOUTME: Gateway assembles the pairwatch components and serves the HTTP API
// ABOUTME: Handles listener setup (TCP or Tailscale), lifecycle, and graceful shutdown

package gateway

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

	"github.com/2389/pairwatch/internal/anomaly"
	"github.com/2389/pairwatch/internal/auth"
	"github.com/2389/pairwatch/internal/config"
	"github.com/2389/pairwatch/internal/fanout"
	"github.com/2389/pairwatch/internal/metrics"
	"github.com/2389/pairwatch/internal/monitor"
	"github.com/2389/pairwatch/internal/orchestrator"
	"github.com/2389/pairwatch/internal/ratelimit"
	"github.com/2389/pairwatch/internal/store"
)

// Gateway wires the store, monitor core, anomaly engine, rate limiter,
// event fan-out, and orchestrator behind a single HTTP surface.
type Gateway struct {
	config *config.Config
	logger *slog.Logger

	store        store.Storage
	engine       *anomaly.Engine
	watcher      *anomaly.Watcher
	aggregator   *metrics.Aggregator
	fanout       *fanout.Fanout
	monitor      *monitor.Monitor
	limiter      *ratelimit.Limiter
	orchestrator *orchestrator.Orchestrator
	verifier     auth.TokenVerifier

	httpServer   *http.Server
	httpListener net.Listener
	tsServer     *tsnet.Server
}

// New creates a gateway from configuration, opening the store and
// constructing every component. Call Run to start serving.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	thresholds := anomaly.DefaultThresholds()
	if cfg.Monitor.ThresholdsPath != "" {
		thresholds, err = anomaly.LoadThresholds(cfg.Monitor.ThresholdsPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("loading thresholds: %w", err)
		}
	}
	engine := anomaly.NewEngine(thresholds, logger)

	var watcher *anomaly.Watcher
	if cfg.Monitor.ThresholdsPath != "" {
		watcher, err = anomaly.WatchThresholds(cfg.Monitor.ThresholdsPath, engine, logger)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("watching thresholds: %w", err)
		}
	}

	aggregator := metrics.NewAggregator()
	fan := fanout.New(logger, aggregator.SetSubscriberCount)

	mon := monitor.New(st, engine, fan, aggregator, logger, monitor.Options{
		CollectionInterval: cfg.Monitor.CollectionInterval,
	})

	limitCfg := ratelimit.DefaultConfig()
	if cfg.RateLimit.PerMinute > 0 {
		limitCfg.PerMinute = cfg.RateLimit.PerMinute
	}
	if cfg.RateLimit.PerHour > 0 {
		limitCfg.PerHour = cfg.RateLimit.PerHour
	}
	limiter := ratelimit.New(limitCfg)

	// Claims-based privilege checks only make sense when requests carry a
	// verified actor. With auth open, commands run unchecked.
	var verifier auth.TokenVerifier
	var privileges orchestrator.PrivilegeChecker
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		privileges = auth.ClaimsChecker{}
	}

	orch := orchestrator.New(mon, limiter, st, privileges, aggregator, fan, logger)

	g := &Gateway{
		config:       cfg,
		logger:       logger,
		store:        st,
		engine:       engine,
		watcher:      watcher,
		aggregator:   aggregator,
		fanout:       fan,
		monitor:      mon,
		limiter:      limiter,
		orchestrator: orch,
		verifier:     verifier,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	g.registerAPIRoutes(mux)

	g.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Run starts the HTTP listener and blocks until the context is cancelled
// or a server fails. Shutdown is performed before returning.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.setupListeners(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpListener.Addr().String())
		if err := g.httpServer.Serve(g.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case err := <-errCh:
		runErr = err
	}

	if err := g.gracefulShutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// setupListeners chooses between a Tailscale tsnet listener and a plain
// TCP listener based on configuration.
func (g *Gateway) setupListeners(ctx context.Context) error {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	g.httpListener = ln
	return nil
}

func (g *Gateway) setupTailscaleListener(ctx context.Context) error {
	stateDir, err := g.resolveTailscaleStateDir()
	if err != nil {
		return err
	}

	g.tsServer = &tsnet.Server{
		Hostname:  g.config.Tailscale.Hostname,
		Dir:       stateDir,
		Ephemeral: g.config.Tailscale.Ephemeral,
		AuthKey:   g.resolveTailscaleAuthKey(),
	}

	status, err := g.tsServer.Up(ctx)
	if err != nil {
		return fmt.Errorf("starting tailscale node: %w", err)
	}
	g.logger.Info("tailscale node up",
		"hostname", g.config.Tailscale.Hostname,
		"addrs", status.TailscaleIPs)

	ln, err := g.tsServer.Listen("tcp", ":80")
	if err != nil {
		return fmt.Errorf("tailscale listen: %w", err)
	}
	g.httpListener = ln
	return nil
}

// resolveTailscaleStateDir returns the configured state directory or the
// default under the user's local share, creating it if needed.
func (g *Gateway) resolveTailscaleStateDir() (string, error) {
	dir := g.config.Tailscale.StateDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home dir: %w", err)
		}
		dir = filepath.Join(home, ".local", "share", "pairwatch", "tailscale")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating tailscale state dir: %w", err)
	}
	return dir, nil
}

// resolveTailscaleAuthKey prefers the configured key, falling back to the
// TS_AUTHKEY environment variable.
func (g *Gateway) resolveTailscaleAuthKey() string {
	if g.config.Tailscale.AuthKey != "" {
		return g.config.Tailscale.AuthKey
	}
	return os.Getenv("TS_AUTHKEY")
}

// gracefulShutdown drains the HTTP server then closes components in
// dependency order: monitor, fan-out, limiter, threshold watcher, store.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = appendCloseError(errs, "http server", err)
	}
	errs = append(errs, g.closeComponents()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	g.logger.Info("shutdown complete")
	return nil
}

// Shutdown closes all components without draining the HTTP server. Used
// when Run was never started.
func (g *Gateway) Shutdown() error {
	errs := g.closeComponents()
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func (g *Gateway) closeComponents() []error {
	var errs []error

	g.monitor.Close()
	g.fanout.Close()
	g.limiter.Close()

	if g.watcher != nil {
		if err := g.watcher.Close(); err != nil {
			errs = appendCloseError(errs, "threshold watcher", err)
		}
	}
	if g.tsServer != nil {
		if err := g.tsServer.Close(); err != nil {
			errs = appendCloseError(errs, "tailscale", err)
		}
	}
	if err := g.store.Close(); err != nil {
		errs = appendCloseError(errs, "store", err)
	}
	return errs
}

func appendCloseError(errs []error, component string, err error) []error {
	return append(errs, fmt.Errorf("%s: %w", component, err))
}

// handleHealth reports liveness. Unauthenticated.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: the store must answer a trivial query.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListAudit(r.Context(), store.AuditFilter{Limit: 1}); err != nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	g.sendJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
