// Package gateway exposes the memory subsystem over HTTP: fusion
// queries, knowledge-base and file management, ingestion control,
// health, and Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ruochenliao/ai-training-course-sub000/internal/fusion"
	"github.com/ruochenliao/ai-training-course-sub000/internal/ingest"
	"github.com/ruochenliao/ai-training-course-sub000/internal/knowledge"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/registry"
)

const (
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Config holds the configuration for a Gateway.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// BearerToken protects the /api routes when non-empty.
	BearerToken string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Registry *registry.Registry
	Fusion   *fusion.Adapter
	Pipeline *ingest.Pipeline
	Files    *knowledge.Store

	// PromRegistry backs the /metrics endpoint.
	PromRegistry *prometheus.Registry
	Logger       *slog.Logger
}

// withDefaults returns a copy of the config with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Gateway is the HTTP front end. It owns nothing it serves: stores,
// fusion, and the pipeline are wired in and shut down by the caller.
type Gateway struct {
	config    Config
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a Gateway with the given configuration.
func New(cfg Config) (*Gateway, error) {
	cfg = cfg.withDefaults()
	if cfg.Registry == nil {
		return nil, errors.New("gateway: registry is required")
	}
	if cfg.Fusion == nil {
		return nil, errors.New("gateway: fusion adapter is required")
	}
	if cfg.Pipeline == nil {
		return nil, errors.New("gateway: ingestion pipeline is required")
	}
	if cfg.Files == nil {
		return nil, errors.New("gateway: knowledge store is required")
	}
	return &Gateway{config: cfg, logger: cfg.Logger}, nil
}

// Start binds the listen address and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:         g.config.Addr,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", g.config.Addr)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway: listening", "addr", g.config.Addr)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway: serve error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down with the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway: shutting down")
	return g.server.Shutdown(shutdownCtx)
}
