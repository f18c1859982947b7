package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/sous/internal/agent"
	"github.com/haasonsaas/sous/internal/agent/providers"
	"github.com/haasonsaas/sous/internal/config"
	"github.com/haasonsaas/sous/internal/kitchen"
	"github.com/haasonsaas/sous/internal/observability"
	"github.com/haasonsaas/sous/internal/sessions"
	"github.com/haasonsaas/sous/internal/storage"
	"github.com/haasonsaas/sous/internal/tools"
	"github.com/haasonsaas/sous/internal/usage"
)

// app holds every component built from a configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	level    *slog.LevelVar
	registry *prometheus.Registry
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	db       *storage.DB
	sessions sessions.Store
	usage    usage.Recorder
	kitchen  kitchen.Store

	orchestrator *agent.Orchestrator

	shutdownTracer func(context.Context) error
}

type appOptions struct {
	// SeedFile overrides kitchen.seed_file.
	SeedFile string

	// LogOutput defaults to stderr.
	LogOutput io.Writer
}

// loadConfig reads path, falling back to defaults when the file is missing.
func loadConfig(path string, fake bool) (*config.Config, error) {
	var overrides []func(*config.Config)
	if fake {
		overrides = append(overrides, func(cfg *config.Config) { cfg.LLM.FakeMode = true })
	}
	cfg, err := config.LoadOrDefault(path, overrides...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newApp wires logging, metrics, tracing, the stores, the tool executor, the
// model client and the orchestrator. SQL databases are migrated to the latest
// schema before use.
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	var output io.Writer = os.Stderr
	if opts.LogOutput != nil {
		output = opts.LogOutput
	}
	logger, level := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    output,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})

	a := &app{
		cfg:            cfg,
		logger:         logger,
		level:          level,
		registry:       registry,
		metrics:        metrics,
		tracer:         tracer,
		shutdownTracer: shutdownTracer,
	}
	if err := a.openStores(ctx, opts.SeedFile); err != nil {
		a.Close(ctx)
		return nil, err
	}

	client, err := providers.NewClient(providers.Config{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.LLM.Model,
		MaxRetries: *cfg.LLM.MaxRetries,
		RetryDelay: cfg.LLM.RetryDelay,
		FakeMode:   cfg.LLM.FakeMode,
		Logger:     logger,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}

	executor := tools.NewExecutor(tools.NewKitchenRegistry(a.kitchen, time.Now), tools.ExecutorConfig{
		PerToolTimeout: cfg.Agent.ToolTimeout,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
	})

	a.orchestrator = agent.NewOrchestrator(client, executor, a.sessions, a.usage, agent.OrchestratorConfig{
		Model:              cfg.LLM.Model,
		TitleModel:         cfg.LLM.TitleModel,
		MaxTokens:          cfg.LLM.MaxTokens,
		MaxToolRounds:      cfg.Agent.MaxToolRounds,
		HistoryTokenBudget: cfg.Agent.HistoryTokenBudget,
		SystemPrompt:       cfg.Agent.SystemPrompt,
		Pricing:            cfg.Usage,
		EventBuffer:        cfg.Agent.EventBuffer,
		TitleTimeout:       cfg.Agent.TitleTimeout,
		Logger:             logger,
		Metrics:            metrics,
		Tracer:             tracer,
	})

	logger.Info("sous initialized",
		"version", version,
		"database", cfg.Database.Driver,
		"model", cfg.LLM.Model,
		"fake_mode", cfg.LLM.FakeMode,
	)
	return a, nil
}

func (a *app) openStores(ctx context.Context, seedOverride string) error {
	seedFile := a.cfg.Kitchen.SeedFile
	if strings.TrimSpace(seedOverride) != "" {
		seedFile = seedOverride
	}

	driver := strings.ToLower(a.cfg.Database.Driver)
	if driver == "memory" {
		a.sessions = sessions.NewMemoryStore()
		a.usage = usage.NewMemoryRecorder()
		store, err := seedKitchen(seedFile)
		if err != nil {
			return err
		}
		a.kitchen = store
		return nil
	}

	db, err := openDB(a.cfg)
	if err != nil {
		return err
	}
	a.db = db

	migrator, err := storage.NewMigrator(db)
	if err != nil {
		return fmt.Errorf("failed to initialize migrator: %w", err)
	}
	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, id := range applied {
		a.logger.Info("applied migration", "id", id)
	}

	a.sessions = sessions.NewSQLStore(db)
	a.usage = usage.NewSQLRecorder(db)

	// Only the postgres schema carries kitchen tables. A seed file, when
	// given, still wins so a database can be paired with fixture data.
	if db.Dialect == storage.DialectPostgres && strings.TrimSpace(seedFile) == "" {
		store, err := kitchen.NewPostgresStore(db)
		if err != nil {
			return fmt.Errorf("failed to create kitchen store: %w", err)
		}
		a.kitchen = store
		return nil
	}
	store, err := seedKitchen(seedFile)
	if err != nil {
		return err
	}
	a.kitchen = store
	return nil
}

func seedKitchen(path string) (*kitchen.MemoryStore, error) {
	if strings.TrimSpace(path) == "" {
		return kitchen.NewMemoryStore(), nil
	}
	store, err := kitchen.LoadSeed(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load kitchen seed: %w", err)
	}
	return store, nil
}

// openDB connects to the configured SQL database.
func openDB(cfg *config.Config) (*storage.DB, error) {
	driver := strings.ToLower(cfg.Database.Driver)
	if driver == "memory" {
		return nil, errors.New("database.driver is memory; migrations need postgres or sqlite")
	}
	pool := storage.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.Database.MaxConnections
	pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	db, err := storage.Open(driver, cfg.Database.URL, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Close releases the database and flushes traces. It is safe on a partially
// built app.
func (a *app) Close(ctx context.Context) {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
		a.db = nil
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
		a.shutdownTracer = nil
	}
}
