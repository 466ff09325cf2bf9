// ABOUTME: Gateway orchestrator that wires storage, event log, services and the HTTP API
// ABOUTME: Runs the HTTP server, and the timed retention sweeper when enabled, and shuts down cleanly

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-context/internal/checkpoint"
	"github.com/2389/coven-context/internal/config"
	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/mcp"
	"github.com/2389/coven-context/internal/primer"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
	"github.com/2389/coven-context/internal/stream"
	"github.com/2389/coven-context/internal/workitems"
)

// Version is reported by the MCP initialize handshake and the banner
var Version = "dev"

// Gateway orchestrates the coven-context server components.
type Gateway struct {
	config      *config.Config
	store       *store.SQLiteStore
	events      *eventlog.Log
	broadcaster *eventlog.Broadcaster
	sessions    *session.Service
	checkpoints *checkpoint.Engine
	workItems   *workitems.Service
	primer      *primer.Builder
	stream      *stream.Handler
	httpServer  *http.Server
	logger      *slog.Logger

	// mcpServer is nil when mcp.enabled is false
	mcpServer *mcp.Server

	// cancelBase cancels the parent of every request context, ending open streams
	cancelBase context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the SQLite store named by the config.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("store opened", "path", cfg.Database.Path)

	broadcaster := eventlog.NewBroadcaster(logger)
	events := eventlog.New(st, eventlog.Options{
		Retention:     cfg.Events.Retention,
		SweepInterval: cfg.Events.SweepInterval,
		Broadcaster:   broadcaster,
		Logger:        logger,
	})

	baseCtx, cancelBase := context.WithCancel(context.Background())
	g := &Gateway{
		config:      cfg,
		store:       st,
		events:      events,
		broadcaster: broadcaster,
		sessions:    session.New(st, events, logger),
		checkpoints: checkpoint.New(st, events, logger),
		workItems:   workitems.New(st, events, logger),
		primer:      primer.New(st, logger),
		logger:      logger,
		cancelBase:  cancelBase,
	}

	g.stream = stream.NewHandler(events, stream.Options{
		PollInterval:      cfg.Stream.PollInterval,
		KeepaliveInterval: cfg.Stream.KeepaliveInterval,
		ReconnectWindow:   cfg.Stream.ReconnectWindow,
		Broadcaster:       broadcaster,
		Logger:            logger,
	})

	if cfg.MCP.Enabled {
		if err := g.initMCP(); err != nil {
			cancelBase()
			_ = st.Close()
			return nil, err
		}
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return g, nil
}

// initMCP builds the tool registry and the MCP server over the gateway services.
func (g *Gateway) initMCP() error {
	reg := mcp.NewRegistry()
	err := reg.Register(mcp.ContextTools(mcp.Services{
		Sessions:    g.sessions,
		Checkpoints: g.checkpoints,
		WorkItems:   g.workItems,
		Primer:      g.primer,
	})...)
	if err != nil {
		return fmt.Errorf("registering MCP tools: %w", err)
	}

	server, err := mcp.NewServer(mcp.Config{
		Registry:    reg,
		Logger:      g.logger,
		Version:     Version,
		IdleTimeout: g.config.MCP.IdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	g.mcpServer = server
	return nil
}

// Handler returns the HTTP handler with every route mounted.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server, plus the timed retention sweeper when
// events.background_sweep is set, and blocks until ctx is canceled or the
// server fails. Either way everything is shut down before it
// returns; a graceful shutdown returns nil.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.gracefulShutdown()
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	if g.config.Events.BackgroundSweep {
		grp.Go(func() error {
			g.runSweeper(gctx)
			return nil
		})
	}

	grp.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return grp.Wait()
}

// runSweeper forces a retention sweep every sweep interval, so a log that
// goes quiet is still pruned without waiting for the next read or write.
func (g *Gateway) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(g.config.Events.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := g.events.Sweep(ctx)
			if err != nil {
				if ctx.Err() == nil {
					g.logger.Warn("retention sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				g.logger.Debug("retention sweep", "removed", n)
			}
		}
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

// Shutdown ends open event streams, stops the HTTP server and closes the
// store. Only the first call does any work.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down")
		g.cancelBase()

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		g.broadcaster.Close()
		if g.mcpServer != nil {
			g.mcpServer.Close()
		}
		errs = appendCloseError(errs, "store close", g.store.Close())

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the database answers a ping.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	seq, err := g.store.LatestEventSequence(ctx)
	if err != nil {
		g.logger.Warn("reading latest event sequence", "error", err)
		seq = 0
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (event sequence %d)", seq)
}
