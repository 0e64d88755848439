// handlers.go contains the run command handler and helpers shared by the
// other handlers_*.go files.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/pipeline"
	"github.com/haasonsaas/conductor/internal/stream"
	"github.com/haasonsaas/conductor/internal/tasklog"
)

// buildLogger constructs the configured logger. Debug forces level debug
// regardless of config. Output goes to stderr so stdout stays free for
// command output.
func buildLogger(cfg *config.Config, debug bool) *slog.Logger {
	logCfg := observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	}
	if debug {
		logCfg.Level = "debug"
	}
	return observability.NewLogger(logCfg).Slog()
}

// =============================================================================
// Run Command Handler
// =============================================================================

// runRun executes one task through the pipeline and prints the outcome.
func runRun(cmd *cobra.Command, configPath, taskID, logDir string, events, debug bool, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := buildLogger(cfg, debug)
	slog.SetDefault(logger)

	metrics := observability.NewMetrics()
	comps, err := pipeline.NewComponents(cfg, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	defer func() {
		if cerr := comps.Close(); cerr != nil {
			logger.Warn("error closing components", "error", cerr)
		}
	}()

	// Ctrl-C cancels the task; the pipeline records it as a cancelled run.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	var (
		bus     *stream.Bus
		printed chan struct{}
	)
	if events {
		// Events own stdout; everything human-readable moves to stderr.
		enc := json.NewEncoder(out)
		out = cmd.ErrOrStderr()

		bus = stream.NewBus(0)
		printed = make(chan struct{})
		go func() {
			defer close(printed)
			for {
				e := <-bus.Events()
				if e == nil {
					return
				}
				// Keep draining on encode errors so the publisher never stalls.
				_ = enc.Encode(e)
			}
		}()
	}

	res, runErr := comps.ExecuteTask(ctx, pipeline.TaskOptions{
		TaskID: taskID,
		Task:   strings.Join(args, " "),
		LogDir: logDir,
		Bus:    bus,
	})
	if bus != nil {
		// Failures before the stream handler exists never end the bus.
		bus.End(context.Background())
		<-printed
	}

	if runErr != nil {
		if res != nil && res.LogPath != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Log: %s\n", res.LogPath)
		}
		return runErr
	}

	switch {
	case res.Status == tasklog.StatusCancelled:
		fmt.Fprintln(out, "Task cancelled.")
	case res.Final != nil:
		fmt.Fprintln(out, res.Final.Summary)
	}
	if res.LogPath != "" {
		fmt.Fprintf(out, "Log: %s\n", res.LogPath)
	}
	return nil
}
