package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/sous/internal/config"
	"github.com/haasonsaas/sous/internal/gateway"
	"github.com/haasonsaas/sous/internal/ratelimit"
	"github.com/haasonsaas/sous/internal/retention"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe starts the gateway and blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, fake bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	slog.Info("starting sous", "version", version, "commit", commit, "config", configPath)

	cfg, err := loadConfig(configPath, fake)
	if err != nil {
		return err
	}

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		a.Close(closeCtx)
	}()
	logger := a.logger

	server, err := gateway.New(gatewayConfig(cfg), gateway.Deps{
		Runner:   a.orchestrator,
		Store:    a.sessions,
		Recorder: a.usage,
		Metrics:  a.metrics,
		Tracer:   a.tracer,
		Logger:   logger,
		Gatherer: a.registry,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	var sweeper *retention.Sweeper
	if cfg.Retention.Enabled {
		sweeper, err = retention.NewSweeper(a.sessions, retention.Config{
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge,
		}, retention.WithLogger(logger), retention.WithMetrics(a.metrics))
		if err != nil {
			server.Shutdown(context.Background())
			return fmt.Errorf("failed to create retention sweeper: %w", err)
		}
		sweeper.Start(ctx)
	}

	if _, statErr := os.Stat(configPath); statErr == nil {
		var overrides []func(*config.Config)
		if fake {
			overrides = append(overrides, func(c *config.Config) { c.LLM.FakeMode = true })
		}
		if err := config.Watch(ctx, configPath, a.level, logger, overrides...); err != nil {
			logger.Warn("config hot reload disabled", "error", err)
		}
	} else if !errors.Is(statErr, os.ErrNotExist) {
		logger.Warn("failed to stat config file", "path", configPath, "error", statErr)
	}

	logger.Info("sous started",
		"http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		"retention", cfg.Retention.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	// Create a timeout context for graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	server.Shutdown(shutdownCtx)

	// Pending title generations write to the store, which closes next.
	waited := make(chan struct{})
	go func() {
		a.orchestrator.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-shutdownCtx.Done():
		logger.Warn("background work still running at shutdown")
	}

	if sweeper != nil {
		if err := sweeper.Stop(shutdownCtx); err != nil {
			logger.Warn("retention sweeper did not stop", "error", err)
		}
	}

	logger.Info("sous stopped")
	return nil
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		Host:            cfg.Server.Host,
		HTTPPort:        cfg.Server.HTTPPort,
		MetricsPort:     cfg.Server.MetricsPort,
		MaxMessageChars: cfg.Server.MaxMessageChars,
		RateLimit: ratelimit.Config{
			Enabled:           cfg.Server.RateLimit.Enabled,
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			Burst:             cfg.Server.RateLimit.Burst,
		},
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
}
