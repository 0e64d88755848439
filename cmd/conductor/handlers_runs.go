package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/runstore"
)

// =============================================================================
// Runs Command Handlers
// =============================================================================

// openStore loads the config and opens the run store it points at.
func openStore(configPath string) (*runstore.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Store.IsEnabled() {
		return nil, fmt.Errorf("the run store is disabled in %s", configPath)
	}
	// One-shot CLI queries are not worth instrumenting.
	return runstore.Open(cfg.Store.Path, buildLogger(cfg, false), nil)
}

// truncateText collapses whitespace and bounds the text to max runes.
func truncateText(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// runRunsList lists recent runs, most recent first.
func runRunsList(cmd *cobra.Command, configPath string, limit int) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No recorded runs.")
		return nil
	}
	fmt.Fprintln(out, "Recent runs:")
	for _, rec := range records {
		fmt.Fprintf(out, "  %s  %-9s  %s  %s\n",
			rec.FinishedAt.Format("2006-01-02 15:04:05"),
			rec.Status,
			rec.TaskID,
			truncateText(rec.Task, 60),
		)
	}
	return nil
}

// runRunsShow prints one recorded run in full.
func runRunsShow(cmd *cobra.Command, configPath, taskID string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	rec, err := store.Get(cmd.Context(), taskID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("run %q not found", taskID)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task ID:      %s\n", rec.TaskID)
	fmt.Fprintf(out, "Status:       %s\n", rec.Status)
	fmt.Fprintf(out, "Task:         %s\n", rec.Task)
	boxed := rec.BoxedAnswer
	if boxed == "" {
		boxed = "(none)"
	}
	fmt.Fprintf(out, "Boxed answer: %s\n", boxed)
	fmt.Fprintf(out, "Turns:        %d\n", rec.Turns)
	fmt.Fprintf(out, "Tool calls:   %d\n", rec.ToolCalls)
	fmt.Fprintf(out, "Tokens:       %d in / %d out\n", rec.Usage.InputTokens, rec.Usage.OutputTokens)
	if rec.Usage.CacheReadInputTokens > 0 || rec.Usage.CacheWriteInputTokens > 0 {
		fmt.Fprintf(out, "Cache tokens: %d read / %d written\n",
			rec.Usage.CacheReadInputTokens, rec.Usage.CacheWriteInputTokens)
	}
	fmt.Fprintf(out, "Duration:     %s\n", rec.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "Finished:     %s\n", rec.FinishedAt.Format(time.RFC3339))
	if rec.LogPath != "" {
		fmt.Fprintf(out, "Log:          %s\n", rec.LogPath)
	}
	return nil
}

// runRunsPrune deletes runs that finished before the cutoff.
func runRunsPrune(cmd *cobra.Command, configPath string, olderThan time.Duration) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	pruned, err := store.Prune(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d runs.\n", pruned)
	return nil
}
