// ABOUTME: Gateway orchestrator that wires the registry, router and transports onto one HTTP server
// ABOUTME: Manages the optional event journal, health endpoints and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/2389/intake-gateway/internal/api"
	"github.com/2389/intake-gateway/internal/config"
	"github.com/2389/intake-gateway/internal/directory"
	"github.com/2389/intake-gateway/internal/ledger"
	"github.com/2389/intake-gateway/internal/router"
	"github.com/2389/intake-gateway/internal/session"
	"github.com/2389/intake-gateway/internal/socket"
)

// Gateway orchestrates the intake-gateway server components.
// A single HTTP server carries the actions, the WebSocket endpoint and health checks.
type Gateway struct {
	config     *config.Config
	registry   *session.Registry
	router     *router.Router
	sockets    *socket.Server
	journal    *ledger.Journal
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	journal, err := initJournal(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry()
	routerCfg := router.Config{
		Registry:  registry,
		Directory: directory.New[router.Conn](),
		Logger:    logger,
	}
	if journal != nil {
		routerCfg.Journal = journal
	}
	r := router.New(routerCfg)

	gw := &Gateway{
		config:   cfg,
		registry: registry,
		router:   r,
		journal:  journal,
		sockets:  socket.NewServer(r, socket.OptionsFromConfig(cfg.WebSocket, cfg.CORS), logger),
		logger:   logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	api.New(r, cfg.Uploads, cfg.CORS, logger).RegisterRoutes(mux)
	mux.Handle(cfg.WebSocket.Path, gw.sockets)

	gw.mux = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// initJournal opens the ledger when a path is configured.
func initJournal(cfg *config.Config, logger *slog.Logger) (*ledger.Journal, error) {
	if cfg.Ledger.Path == "" {
		return nil, nil
	}
	store, err := ledger.Open(cfg.Ledger.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return ledger.NewJournal(store, cfg.Ledger.BufferSize, logger), nil
}

// Handler returns the HTTP handler serving every route.
func (g *Gateway) Handler() http.Handler {
	return g.mux
}

// Router returns the event router.
func (g *Gateway) Router() *router.Router {
	return g.router
}

// Addr returns the bound listen address once Run has started, else the
// configured one.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener != nil {
		return g.listener.Addr().String()
	}
	return g.config.Server.HTTPAddr
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening",
			"addr", ln.Addr().String(),
			"websocket_path", g.config.WebSocket.Path,
		)
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// Run listens on the configured address and serves until ctx is cancelled
// or the server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	g.mu.Lock()
	g.listener = ln
	g.mu.Unlock()

	g.logger.Info("starting gateway", "http_addr", ln.Addr().String(), "ledger", g.journal != nil)

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, closes every WebSocket and flushes the
// journal. Sessions are not persisted.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "sessions", g.registry.Len())

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "websocket shutdown", g.sockets.Shutdown(ctx))
	if g.journal != nil {
		errs = appendCloseError(errs, "ledger close", g.journal.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports registry and connection counts.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	st := g.router.Stats()
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions, %d observers, %d clients)", st.Sessions, st.Observers, st.Clients)
}
