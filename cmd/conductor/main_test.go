package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/internal/runstore"
	"github.com/haasonsaas/conductor/internal/tasklog"
	"github.com/haasonsaas/conductor/pkg/models"
)

const minimalConfig = "llm:\n  provider: anthropic\n  model_name: claude-test\n"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// executeCmd runs the CLI against a fresh command tree and captures output.
func executeCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := buildRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"run", "serve", "mcp", "runs", "config", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CONDUCTOR_CONFIG", "")
	if got := resolveConfigPath(""); got != defaultConfigName {
		t.Errorf("resolveConfigPath(\"\") = %q, want %q", got, defaultConfigName)
	}
	if got := resolveConfigPath("custom.yaml"); got != "custom.yaml" {
		t.Errorf("resolveConfigPath(custom.yaml) = %q", got)
	}

	t.Setenv("CONDUCTOR_CONFIG", "/etc/conductor/env.yaml")
	if got := resolveConfigPath(defaultConfigName); got != "/etc/conductor/env.yaml" {
		t.Errorf("env override ignored for default path: %q", got)
	}
	if got := resolveConfigPath(""); got != "/etc/conductor/env.yaml" {
		t.Errorf("env override ignored for empty path: %q", got)
	}
	if got := resolveConfigPath("explicit.yaml"); got != "explicit.yaml" {
		t.Errorf("explicit path overridden by env: %q", got)
	}
}

func TestVersionCmd(t *testing.T) {
	out, _, err := executeCmd(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if want := "conductor dev (commit: none, built: unknown)\n"; out != want {
		t.Errorf("version output = %q, want %q", out, want)
	}
}

func TestRunCmdRequiresTask(t *testing.T) {
	if _, _, err := executeCmd(t, "run"); err == nil {
		t.Fatal("run with no task succeeded, want argument error")
	}
}

func TestRunsCmdLifecycle(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	cfgPath := writeConfig(t, fmt.Sprintf("%sstore:\n  path: %s\n", minimalConfig, dbPath))

	out, _, err := executeCmd(t, "runs", "list", "--config", cfgPath)
	if err != nil {
		if strings.Contains(err.Error(), "unknown driver") {
			t.Skipf("sqlite driver unavailable: %v", err)
		}
		t.Fatalf("runs list: %v", err)
	}
	if !strings.Contains(out, "No recorded runs.") {
		t.Errorf("empty list output = %q", out)
	}

	// Seed one finished run through the store API.
	store, err := runstore.Open(dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	rec := &runstore.Record{
		TaskID:      "run-1",
		Task:        "what is 2+2",
		Status:      tasklog.StatusSuccess,
		BoxedAnswer: "4",
		Turns:       1,
		Usage:       models.TokenUsage{InputTokens: 12, OutputTokens: 3},
		LogPath:     filepath.Join(dir, "task_run-1.json"),
		StartedAt:   time.Now().Add(-61 * time.Minute),
		FinishedAt:  time.Now().Add(-time.Hour),
	}
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("save record: %v", err)
	}
	_ = store.Close()

	out, _, err = executeCmd(t, "runs", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	for _, want := range []string{"run-1", "success", "what is 2+2"} {
		if !strings.Contains(out, want) {
			t.Errorf("list output missing %q: %q", want, out)
		}
	}

	out, _, err = executeCmd(t, "runs", "show", "--config", cfgPath, "run-1")
	if err != nil {
		t.Fatalf("runs show: %v", err)
	}
	for _, want := range []string{"Boxed answer: 4", "12 in / 3 out", "Turns:        1"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q: %q", want, out)
		}
	}

	if _, _, err := executeCmd(t, "runs", "show", "--config", cfgPath, "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("show missing run error = %v, want not found", err)
	}

	out, _, err = executeCmd(t, "runs", "prune", "--config", cfgPath, "--older-than", "30m")
	if err != nil {
		t.Fatalf("runs prune: %v", err)
	}
	if !strings.Contains(out, "Pruned 1 runs.") {
		t.Errorf("prune output = %q", out)
	}

	out, _, err = executeCmd(t, "runs", "list", "--config", cfgPath)
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	if !strings.Contains(out, "No recorded runs.") {
		t.Errorf("list after prune = %q", out)
	}
}

func TestRunsCmdStoreDisabled(t *testing.T) {
	cfgPath := writeConfig(t, minimalConfig+"store:\n  enabled: false\n")
	if _, _, err := executeCmd(t, "runs", "list", "--config", cfgPath); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Errorf("runs list error = %v, want disabled store error", err)
	}
}

func TestConfigValidateCmd(t *testing.T) {
	cfgPath := writeConfig(t, minimalConfig)
	out, _, err := executeCmd(t, "config", "validate", "--config", cfgPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	for _, want := range []string{"Configuration OK", "anthropic (claude-test)", "127.0.0.1:8080"} {
		if !strings.Contains(out, want) {
			t.Errorf("validate output missing %q: %q", want, out)
		}
	}

	bad := writeConfig(t, "llm:\n  provider: banana\n  model_name: m\n")
	if _, _, err := executeCmd(t, "config", "validate", "--config", bad); err == nil || !strings.Contains(err.Error(), "llm.provider") {
		t.Errorf("validate bad config error = %v, want provider error", err)
	}
}

func TestConfigShowRedactsSecrets(t *testing.T) {
	cfgPath := writeConfig(t, `llm:
  provider: anthropic
  model_name: claude-test
  api_key: sk-ant-supersecret
servers:
  - name: browsing
    kind: stdio
    params:
      command: python
      args: ["server.py"]
      env:
        SERPER_API_KEY: topsecret123
`)
	out, _, err := executeCmd(t, "config", "show", "--config", cfgPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, secret := range []string{"supersecret", "topsecret123"} {
		if strings.Contains(out, secret) {
			t.Errorf("show output leaks %q", secret)
		}
	}
	for _, want := range []string{redacted, "model_name: claude-test", "name: browsing"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q: %q", want, out)
		}
	}
}

func TestConfigSchemaCmd(t *testing.T) {
	out, _, err := executeCmd(t, "config", "schema")
	if err != nil {
		t.Fatalf("config schema: %v", err)
	}
	if !strings.Contains(out, `"$schema"`) || !strings.Contains(out, "properties") {
		t.Errorf("schema output = %q", out)
	}
}

func TestMcpServersCmdNoServers(t *testing.T) {
	cfgPath := writeConfig(t, minimalConfig)
	out, _, err := executeCmd(t, "mcp", "servers", "--config", cfgPath)
	if err != nil {
		t.Fatalf("mcp servers: %v", err)
	}
	if !strings.Contains(out, "No tool servers configured.") {
		t.Errorf("mcp servers output = %q", out)
	}
}

func TestMcpToolsCmdUnknownServer(t *testing.T) {
	cfgPath := writeConfig(t, minimalConfig)
	if _, _, err := executeCmd(t, "mcp", "tools", "--config", cfgPath, "--server", "nope"); err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Errorf("mcp tools error = %v, want unknown server error", err)
	}
}
