// ABOUTME: Gateway orchestrator that wires the store, reconciler, hub and agents
// ABOUTME: Manages the HTTP server and snapshot persistence lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pipedeck/pipedeck/internal/agentgw"
	"github.com/pipedeck/pipedeck/internal/config"
	"github.com/pipedeck/pipedeck/internal/dedupe"
	"github.com/pipedeck/pipedeck/internal/hub"
	"github.com/pipedeck/pipedeck/internal/metrics"
	"github.com/pipedeck/pipedeck/internal/persist"
	"github.com/pipedeck/pipedeck/internal/reconcile"
	"github.com/pipedeck/pipedeck/internal/state"
	"github.com/pipedeck/pipedeck/internal/uploads"
)

// Gateway orchestrates the pipedeck server components. It owns the canonical
// state store and coordinates agent calls, reconciliation, broadcasting and
// snapshot persistence behind one HTTP surface.
type Gateway struct {
	config     *config.Config
	store      *state.Store
	reconciler *reconcile.Reconciler
	hub        *hub.Hub
	persister  *persist.Manager
	agents     *agentgw.Client
	uploads    *uploads.Registry
	httpServer *http.Server
	logger     *slog.Logger

	// dedupe suppresses duplicate chat submissions
	dedupe *dedupe.Cache

	// metrics backs the /metrics endpoint and the hub delivery counters
	metrics *metrics.Metrics
}

// New creates a Gateway instance with the given configuration. The previous
// snapshot, if any, is loaded into the store before New returns.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	m := metrics.New()

	// Constructors tag their own component attribute; passing a pre-tagged
	// logger would double it on every line.
	store := state.NewStore(logger)
	broadcastHub := hub.New(logger, m)
	reconciler := reconcile.New(store, logger)

	agents := agentgw.New(agentgw.Config{
		BuilderURL:    cfg.Agents.BuilderURL,
		InteractorURL: cfg.Agents.InteractorURL,
		HTTPClient:    &http.Client{Timeout: cfg.Agents.RequestTimeout},
	}, logger)

	persister := persist.New(store, cfg.State.SnapshotPath, cfg.State.SaveInterval, logger)
	persister.LoadInto()

	registry, err := uploads.NewRegistry(cfg.Uploads.RegistryPath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing upload registry: %w", err)
	}

	gw := &Gateway{
		config:     cfg,
		store:      store,
		reconciler: reconciler,
		hub:        broadcastHub,
		persister:  persister,
		agents:     agents,
		uploads:    registry,
		logger:     logger.With("component", "gateway"),
		dedupe:     dedupe.New(5*time.Minute, 100_000), // TTL 5min, max 100k entries
		metrics:    m,
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	// Conversation endpoints
	mux.HandleFunc("POST /owner/chat", gw.handleOwnerChat)
	mux.HandleFunc("POST /owner/upload", gw.handleOwnerUpload)
	mux.HandleFunc("POST /lead/chat", gw.handleLeadChat)

	// Read-side projections
	mux.HandleFunc("GET /api/state", gw.handleState)
	mux.HandleFunc("GET /api/state/kanban", gw.handleKanban)
	mux.HandleFunc("GET /api/state/leads", gw.handleLeads)
	mux.HandleFunc("GET /api/state/pipeline", gw.handlePipeline)
	mux.HandleFunc("GET /api/state/business", gw.handleBusiness)

	mux.HandleFunc("POST /api/reset", gw.handleReset)

	// Websocket observers
	mux.HandleFunc("GET /ws", gw.handleWebsocket)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the gateway server and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the
// server fails.
func (g *Gateway) Run(ctx context.Context) error {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.persister.Run(ctx)
	}()

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()
	wg.Wait()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning an error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
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

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
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

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.hub.Close()
	g.dedupe.Close()
	errs = appendCloseError(errs, "upload registry close", g.uploads.Close())

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

// handleReady returns 200 OK once a pipeline is installed.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	snap := g.store.Read()
	if snap.Pipeline.StageCount() == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("pipeline not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d stages)", snap.Pipeline.StageCount())
}
