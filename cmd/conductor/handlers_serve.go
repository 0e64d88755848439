package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/pipeline"
	"github.com/haasonsaas/conductor/internal/server"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe implements the serve command logic.
// It handles configuration loading, pipeline construction, config hot
// reload, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := buildLogger(cfg, debug)
	slog.SetDefault(logger)

	slog.Info("starting conductor",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)
	slog.Info("configuration loaded",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.ModelName,
		"servers", len(cfg.Servers),
		"sub_agents", len(cfg.Agent.SubAgents),
	)

	metrics := observability.NewMetrics()
	comps, err := pipeline.NewComponents(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer func() {
		if cerr := comps.Close(); cerr != nil {
			slog.Warn("error closing components", "error", cerr)
		}
	}()

	srv, err := server.New(server.Options{
		Config:     cfg,
		Components: comps,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	// Create a context that cancels on shutdown signals.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(); err != nil {
		return err
	}
	slog.Info("conductor started", "addr", srv.Addr())

	// Config changes swap the pipeline components between tasks. Changing
	// the listen address still requires a restart.
	watcher, werr := config.NewWatcher(configPath, logger)
	if werr == nil {
		werr = watcher.Start(ctx)
	}
	if werr != nil {
		slog.Warn("config hot reload disabled", "error", werr)
	} else {
		defer func() { _ = watcher.Close() }()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case next := <-watcher.Updates():
					if rerr := comps.Reload(next); rerr != nil {
						slog.Warn("config reload failed, keeping previous components", "error", rerr)
						continue
					}
					slog.Info("pipeline components reloaded", "config", configPath)
				}
			}
		}()
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	// Create a timeout context for graceful shutdown.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("conductor stopped gracefully")
	return nil
}
