// ABOUTME: Gateway orchestrator that serves the world runtime over HTTP
// ABOUTME: Owns the HTTP server, the world registry, and the store lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/agentworld/internal/auth"
	"github.com/2389/agentworld/internal/config"
	"github.com/2389/agentworld/internal/store"
	"github.com/2389/agentworld/internal/world"
)

// Gateway exposes worlds to UI and CLI clients.
type Gateway struct {
	config     *config.Config
	registry   *world.Registry
	store      store.Store
	verifier   auth.TokenVerifier
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	// heartbeat is the keepalive interval on live streams
	heartbeat time.Duration
}

// New creates a Gateway over an open store and registry. The gateway takes
// ownership of both and closes them on Shutdown.
func New(cfg *config.Config, registry *world.Registry, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config:   cfg,
		registry: registry,
		store:    s,
		logger:   logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		heartbeat: 15 * time.Second,
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating HTTP JWT verifier: %w", err)
		}
		gw.verifier = verifier
		gw.logger.Info("HTTP auth middleware enabled")
	} else {
		gw.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the routed HTTP handler.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, promhttp.Handler())
	}

	authed := auth.HTTPAuthMiddleware(g.verifier, g.logger)
	scoped := func(h http.HandlerFunc) http.Handler {
		return authed(auth.RequireWorldAccess(h))
	}

	mux.Handle("GET /api/worlds", authed(http.HandlerFunc(g.handleListWorlds)))
	mux.Handle("POST /api/worlds", authed(http.HandlerFunc(g.handleCreateWorld)))
	mux.Handle("GET /api/worlds/{world}", scoped(g.handleGetWorld))
	mux.Handle("DELETE /api/worlds/{world}", scoped(g.handleDeleteWorld))

	mux.Handle("GET /api/worlds/{world}/agents", scoped(g.handleListAgents))
	mux.Handle("POST /api/worlds/{world}/agents", scoped(g.handleCreateAgent))
	mux.Handle("DELETE /api/worlds/{world}/agents/{agent}", scoped(g.handleDeleteAgent))
	mux.Handle("DELETE /api/worlds/{world}/agents/{agent}/memory", scoped(g.handleClearMemory))

	mux.Handle("GET /api/worlds/{world}/chats", scoped(g.handleListChats))
	mux.Handle("POST /api/worlds/{world}/chats", scoped(g.handleNewChat))
	mux.Handle("POST /api/worlds/{world}/chats/{chat}/restore", scoped(g.handleRestoreChat))
	mux.Handle("DELETE /api/worlds/{world}/chats/{chat}", scoped(g.handleDeleteChat))
	mux.Handle("GET /api/worlds/{world}/chats/{chat}/export", scoped(g.handleExportChat))

	mux.Handle("POST /api/worlds/{world}/messages", scoped(g.handleSendMessage))
	mux.Handle("DELETE /api/worlds/{world}/chats/{chat}/messages/{message}", scoped(g.handleDeleteMessage))

	mux.Handle("POST /api/worlds/{world}/tools/check", scoped(g.handleCheckTool))
	mux.Handle("GET /api/worlds/{world}/approvals", scoped(g.handlePendingApprovals))
	mux.Handle("POST /api/worlds/{world}/approvals", scoped(g.handleApproval))

	mux.Handle("GET /api/worlds/{world}/events", scoped(g.handleEvents))
	mux.Handle("GET /api/worlds/{world}/stream", scoped(g.handleStream))
	mux.Handle("GET /api/worlds/{world}/ws", scoped(g.handleWebSocket))

	return mux
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := g.startServer(ln)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
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

// Shutdown stops the HTTP server, unloads every world, and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "registry close", g.registry.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	worlds, err := g.store.ListWorlds(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d worlds)", len(worlds))
}
