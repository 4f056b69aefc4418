package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ruochenliao/ai-training-course-sub000/internal/config"
	"github.com/ruochenliao/ai-training-course-sub000/internal/cron"
	"github.com/ruochenliao/ai-training-course-sub000/internal/embed"
	"github.com/ruochenliao/ai-training-course-sub000/internal/extract"
	"github.com/ruochenliao/ai-training-course-sub000/internal/fusion"
	"github.com/ruochenliao/ai-training-course-sub000/internal/gateway"
	"github.com/ruochenliao/ai-training-course-sub000/internal/ingest"
	"github.com/ruochenliao/ai-training-course-sub000/internal/knowledge"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/conversation"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/registry"
	"github.com/ruochenliao/ai-training-course-sub000/internal/memory/vector"
	"github.com/ruochenliao/ai-training-course-sub000/internal/mcptools"
	"github.com/ruochenliao/ai-training-course-sub000/internal/metrics"
	"github.com/ruochenliao/ai-training-course-sub000/internal/telemetry"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memory daemon: HTTP gateway, ingestion workers, and background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve memory tools to an MCP client over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			// Logs go to stderr; stdout belongs to the MCP transport.
			logger := buildLogger(cfg.Logging, os.Stderr)

			core, err := buildCore(cfg, logger, metrics.New(prometheus.NewRegistry()))
			if err != nil {
				return err
			}
			defer core.close(logger)

			srv := mcptools.NewServer(core.registry, core.fusion, version, logger)
			return srv.ServeStdio()
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

// core holds the components shared by the serve and mcp commands.
type core struct {
	registry *registry.Registry
	files    *knowledge.Store
	fusion   *fusion.Adapter
	cache    *embed.CachingEmbedder
}

func (c *core) close(logger *slog.Logger) {
	if err := c.registry.CloseAll(); err != nil {
		logger.Error("shutdown: closing stores", "error", err)
	}
	if err := c.files.Close(); err != nil {
		logger.Error("shutdown: closing knowledge store", "error", err)
	}
	if c.cache != nil {
		c.cache.Close()
	}
}

// buildCore opens the backing stores and constructs the registry and
// fusion adapter.
func buildCore(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*core, error) {
	embedder, cache, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	cache.WithCounters(m.EmbedCacheHits.Inc, m.EmbedCacheMiss.Inc)

	var reranker embed.Reranker
	if cfg.Rerank.Enabled {
		reranker = embed.NewHTTPReranker(cfg.Rerank.Endpoint, cfg.Rerank.APIKey, cfg.Rerank.Model)
	}

	convDB, err := conversation.Open(cfg.Storage.ConversationDB)
	if err != nil {
		return nil, err
	}
	vecDB, err := vector.Open(cfg.Storage.VectorDir)
	if err != nil {
		return nil, err
	}
	files, err := knowledge.Open(cfg.Storage.KnowledgeDB, logger)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(registry.Config{
		ConversationDB: convDB,
		VectorDB:       vecDB,
		Embedder:       embedder,
		Reranker:       reranker,
		Oversample:     cfg.Fusion.Oversample,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	renderer := fusion.NewRenderer(fusion.RenderConfig{
		TokenBudget: cfg.Fusion.TokenBudget,
		Tokens:      buildTokenCounter(logger),
	})
	adapter, err := fusion.New(fusion.Config{
		Stores: reg,
		Weights: fusion.Weights{
			Conversation: cfg.Fusion.Weights.Conversation,
			Private:      cfg.Fusion.Weights.Private,
			Public:       cfg.Fusion.Weights.Public,
		},
		Timeout:  cfg.FusionTimeout(),
		Limit:    cfg.Fusion.Limit,
		Renderer: renderer,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		return nil, err
	}

	return &core{registry: reg, files: files, fusion: adapter, cache: cache}, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := buildLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.Setup(ctx, cfg.Tracing.Endpoint, version)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("shutdown: flushing traces", "error", err)
			}
		}()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promReg)

	app, err := buildCore(cfg, logger, m)
	if err != nil {
		return err
	}
	defer app.close(logger)

	pipeline, err := ingest.New(ingest.Config{
		Files:          app.files,
		Stores:         app.registry,
		Extractors:     extract.NewRegistry(),
		QueueSize:      cfg.Ingest.QueueSize,
		Workers:        cfg.Ingest.Workers,
		BatchSize:      cfg.Ingest.BatchSize,
		EmbeddingModel: cfg.Embedding.Model,
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		return err
	}
	pipeline.Start(ctx)
	defer pipeline.Stop()

	scheduler := cron.NewScheduler(logger)
	if err := scheduler.RegisterJob(&cron.StuckFileSweepJob{
		Files:        app.files,
		MaxAge:       cfg.StuckAge(),
		ScheduleExpr: cfg.Ingest.SweepSchedule,
		Logger:       logger,
	}); err != nil {
		return err
	}
	if err := scheduler.RegisterJob(&cron.StoreCleanupJob{
		Registry:     app.registry,
		MaxIdle:      cfg.RegistryMaxIdle(),
		ScheduleExpr: cfg.Registry.CleanupSchedule,
		Logger:       logger,
	}); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer func() { _ = scheduler.Stop(context.Background()) }()

	gw, err := gateway.New(gateway.Config{
		Addr:         cfg.Gateway.Addr,
		BearerToken:  cfg.Gateway.BearerToken,
		Registry:     app.registry,
		Fusion:       app.fusion,
		Pipeline:     pipeline,
		Files:        app.files,
		PromRegistry: promReg,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if err := gw.Start(ctx); err != nil {
		return err
	}

	logger.Info("memoryd: running", "version", version, "addr", cfg.Gateway.Addr)
	<-ctx.Done()

	return gw.Stop(context.Background())
}

func buildEmbedder(cfg *config.Config) (embed.Embedder, *embed.CachingEmbedder, error) {
	var inner embed.Embedder
	if cfg.Embedding.Mock {
		inner = embed.NewMockEmbedder(0)
	} else {
		if cfg.Embedding.APIKey == "" {
			return nil, nil, errors.New("memoryd: embedding.api_key is required unless embedding.mock is set")
		}
		inner = embed.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.Endpoint, cfg.Embedding.Model)
	}

	cache, err := embed.NewCachingEmbedder(inner, int64(cfg.Embedding.CacheSize))
	if err != nil {
		return nil, nil, err
	}
	return cache, cache, nil
}

// buildTokenCounter prefers the real tokenizer but never fails startup
// over a missing vocabulary file.
func buildTokenCounter(logger *slog.Logger) fusion.TokenCounter {
	tc, err := fusion.NewTikTokenCounter()
	if err != nil {
		logger.Warn("memoryd: tokenizer unavailable, using approximate token counts", "error", err)
		return nil
	}
	return tc
}

func buildLogger(cfg config.LoggingConfig, w *os.File) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
