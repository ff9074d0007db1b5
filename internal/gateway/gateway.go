// ABOUTME: Gateway orchestrator that wires agents, dispatch, captures, and the HTTP server
// ABOUTME: Manages the audit store, metrics registry, and the server lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/svdleer/PyPNMGui-sub000/internal/agent"
	"github.com/svdleer/PyPNMGui-sub000/internal/auth"
	"github.com/svdleer/PyPNMGui-sub000/internal/clock"
	"github.com/svdleer/PyPNMGui-sub000/internal/config"
	"github.com/svdleer/PyPNMGui-sub000/internal/dispatch"
	"github.com/svdleer/PyPNMGui-sub000/internal/metrics"
	"github.com/svdleer/PyPNMGui-sub000/internal/store"
	"github.com/svdleer/PyPNMGui-sub000/internal/utsc"
)

// Gateway owns every server-side component of the PNM control plane.
type Gateway struct {
	config       *config.Config
	agentManager *agent.Manager
	dispatcher   *dispatch.Dispatcher
	captures     *utsc.Service
	store        store.AuditStore
	audit        *auditObserver
	metrics      *metrics.Metrics
	registry     *prometheus.Registry
	tokens       *auth.AgentTokenChecker
	httpServer   *http.Server
	logger       *slog.Logger
}

// initStore opens the audit database named by config or PNM_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PNM_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// captureServiceConfig maps capture settings onto the session defaults.
func captureServiceConfig(cfg *config.Config) utsc.ServiceConfig {
	c := cfg.Capture
	return utsc.ServiceConfig{
		MaxDuration:        c.MaxDuration,
		RefreshInterval:    c.RefreshInterval,
		HeartbeatInterval:  c.HeartbeatInterval,
		PollInterval:       c.PollInterval,
		StatusPollInterval: c.StatusPollInterval,
		InitialFill:        c.InitialFill,
		BufferCapacity:     c.BufferCapacity,
		Policy: utsc.RetriggerPolicy{
			LowWatermark: c.LowWatermark,
			MinInterval:  c.MinRetriggerInterval,
		},
		DefaultCommunity: c.Community,
		TaskTimeout:      cfg.Agents.DefaultTaskTimeout,
		FileSettleTime:   c.FileSettleTime,
	}
}

// Option configures a Gateway.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock sets the time source for agent liveness, task deadlines and audit records.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	audit := newAuditObserver(sqlStore, o.clock, logger.With("component", "audit"))
	agentMgr := agent.NewManager(logger.With("component", "agent-manager"),
		agent.WithClock(o.clock),
		agent.WithLivenessWindow(cfg.Agents.LivenessWindow),
		agent.WithObserver(m),
		agent.WithObserver(audit),
	)

	dispatcher := dispatch.New(agentMgr, logger,
		dispatch.WithClock(o.clock),
		dispatch.WithMetrics(m),
		dispatch.WithDefaultTimeout(cfg.Agents.DefaultTaskTimeout),
	)

	captureOpts := []utsc.ServiceOption{utsc.WithServiceMetrics(m)}
	if cfg.Capture.TFTPDir != "" {
		captureOpts = append(captureOpts, utsc.WithFileStore(utsc.DirStore{Dir: cfg.Capture.TFTPDir}))
	}
	captures := utsc.NewService(captureServiceConfig(cfg), dispatcher, logger.With("component", "utsc"), captureOpts...)

	gw := &Gateway{
		config:       cfg,
		agentManager: agentMgr,
		dispatcher:   dispatcher,
		captures:     captures,
		store:        sqlStore,
		audit:        audit,
		metrics:      m,
		registry:     registry,
		tokens:       auth.NewAgentTokenChecker(cfg.Auth.AgentToken),
		logger:       logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health and websocket endpoints carry their own auth, if any.
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)
	mux.HandleFunc("/ws/agent", gw.handleAgentWS)
	mux.HandleFunc("GET /ws/utsc/{mac}", gw.handleCaptureWS)

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	gw.registerHTTPAPIRoutes(mux, cfg, logger)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// registerHTTPAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux, cfg *config.Config, logger *slog.Logger) {
	routes := []struct {
		pattern string
		scope   auth.Scope
		handler http.HandlerFunc
	}{
		{"GET /api/agents", auth.ScopeRead, g.handleListAgents},
		{"POST /api/tasks", auth.ScopeTasks, g.handleSubmitTask},
		{"GET /api/captures", auth.ScopeRead, g.handleListCaptures},
		{"DELETE /api/captures/{id}", auth.ScopeTasks, g.handleStopCapture},
		{"GET /api/audit", auth.ScopeRead, g.handleListAudit},
	}

	if cfg.Auth.JWTSecret != "" {
		authMiddleware := auth.HTTPAuthMiddleware(auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)))
		for _, rt := range routes {
			mux.Handle(rt.pattern, authMiddleware(auth.RequireScope(rt.scope)(rt.handler)))
		}
		logger.Info("HTTP auth middleware enabled")
		return
	}

	for _, rt := range routes {
		mux.Handle(rt.pattern, rt.handler)
	}
	logger.Warn("HTTP auth disabled - no jwt_secret configured")
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Agents returns the agent registry.
func (g *Gateway) Agents() *agent.Manager {
	return g.agentManager
}

// Dispatcher returns the task dispatcher.
func (g *Gateway) Dispatcher() *dispatch.Dispatcher {
	return g.dispatcher
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

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
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with context if non-nil.
func appendCloseError(errs []error, context string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", context, err))
	}
	return errs
}

// Shutdown stops captures, disconnects agents, and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.captures.StopAll()
	g.agentManager.CloseAll("gateway shutting down")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the audit store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := g.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", g.agentManager.Count())
}
