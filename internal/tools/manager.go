// Package tools dispatches tool calls to the configured tool servers and
// aggregates their catalogs for prompt assembly. Tool-level failures are
// data, not errors: every dispatch produces a ToolResult and the
// conversation decides what to do with it.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/conductor/internal/cache"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/mcp"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/pkg/models"
)

// StepLogger receives step-level progress destined for the task artifact.
// *tasklog.TaskLog satisfies it.
type StepLogger interface {
	LogStep(level, stepName, message string, metadata map[string]any)
}

// Manager owns one client per configured server and dispatches tool calls
// for a single agent profile.
type Manager struct {
	clients   map[string]*mcp.Client
	order     []string
	blacklist map[config.ToolRef]struct{}

	resultCache cache.Cache
	logger      *slog.Logger
	metrics     *observability.Metrics

	mu    sync.Mutex
	steps StepLogger
}

// NewManager builds one client per server the profile names, in profile
// order. Blacklisted (server, tool) pairs are filtered out of catalogs and
// rejected at dispatch.
func NewManager(servers []config.ServerEntry, profile config.AgentProfile, resultCache cache.Cache, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	byName := make(map[string]config.ServerEntry, len(servers))
	for _, entry := range servers {
		byName[entry.Name] = entry
	}

	m := &Manager{
		clients:     make(map[string]*mcp.Client, len(profile.Tools)),
		blacklist:   make(map[config.ToolRef]struct{}, len(profile.ToolBlacklist)),
		resultCache: resultCache,
		logger:      logger.With("component", "tools"),
		metrics:     metrics,
	}

	for _, name := range profile.Tools {
		entry, ok := byName[name]
		if !ok {
			m.logger.Warn("profile references unknown server", "server", name)
			continue
		}
		cfg := entry.ToServerConfig()
		m.clients[name] = mcp.NewClient(&cfg, logger)
		m.order = append(m.order, name)
	}
	for _, ref := range profile.ToolBlacklist {
		m.blacklist[ref] = struct{}{}
	}
	return m
}

// SetStepLogger attaches the per-task step log. Pass nil to detach.
func (m *Manager) SetStepLogger(steps StepLogger) {
	m.mu.Lock()
	m.steps = steps
	m.mu.Unlock()
}

func (m *Manager) logStep(level, step, message string) {
	m.mu.Lock()
	steps := m.steps
	m.mu.Unlock()
	if steps != nil {
		steps.LogStep(level, "ToolManager | "+step, message, nil)
	}
}

// ServerNames lists the servers this manager dispatches to, in profile order.
func (m *Manager) ServerNames() []string {
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

// HasServer reports whether the profile includes the named server.
func (m *Manager) HasServer(name string) bool {
	_, ok := m.clients[name]
	return ok
}

// Blacklisted reports whether the (server, tool) pair is excluded.
func (m *Manager) Blacklisted(server, tool string) bool {
	_, ok := m.blacklist[config.ToolRef{Server: server, Tool: tool}]
	return ok
}

// GetAllToolDefinitions fetches every server's catalog. A server that fails
// to answer contributes its error instead of a tool list, so the prompt can
// still surface the servers that worked.
func (m *Manager) GetAllToolDefinitions(ctx context.Context) []models.ServerTools {
	final := make([]models.ServerTools, 0, len(m.order))
	for _, name := range m.order {
		client := m.clients[name]
		m.logStep("info", "Get Tool Definitions", fmt.Sprintf("Getting tool definitions for server '%s'...", name))

		entry := models.ServerTools{ServerName: name}
		tools, err := client.ListTools(ctx)
		switch {
		case err == nil:
			for _, tool := range tools {
				if m.Blacklisted(name, tool.Name) {
					continue
				}
				entry.Tools = append(entry.Tools, models.ToolDefinition{
					ServerName:  name,
					ToolName:    tool.Name,
					Description: tool.Description,
					InputSchema: tool.InputSchema,
				})
			}
		case isConnectError(err):
			m.logStep("error", "MCP Session Error", fmt.Sprintf("MCP session error: %v", err))
			entry.Err = fmt.Sprintf("MCP session error: %v", err)
		default:
			m.logStep("error", "List Tools Error", fmt.Sprintf("Unable to connect or get tools from server '%s': %v", name, err))
			entry.Err = fmt.Sprintf("Unable to fetch tools: %v", err)
		}
		final = append(final, entry)
	}
	return final
}

// ExecuteToolCall runs one tool call and never returns a Go error: failures
// come back inside the ToolResult so the conversation can carry them.
func (m *Manager) ExecuteToolCall(ctx context.Context, call models.ToolCall) models.ToolResult {
	res := models.ToolResult{ServerName: call.ServerName, ToolName: call.ToolName}

	client, ok := m.clients[call.ServerName]
	if !ok {
		m.logStep("error", "Server Not Found", fmt.Sprintf("Attempting to call server '%s' not found", call.ServerName))
		res.Error = fmt.Sprintf("Server '%s' not found.", call.ServerName)
		return res
	}
	if m.Blacklisted(call.ServerName, call.ToolName) {
		m.logStep("error", "Tool Call Error", fmt.Sprintf("Tool '%s' on server '%s' is blacklisted", call.ToolName, call.ServerName))
		res.Error = fmt.Sprintf("Tool '%s' on server '%s' is blacklisted.", call.ToolName, call.ServerName)
		return res
	}

	if tool := findTool(client, call.ToolName); tool != nil {
		if err := validateArguments(tool.InputSchema, call.Arguments); err != nil {
			m.logStep("error", "Tool Call Error", fmt.Sprintf("Invalid arguments for tool '%s': %v", call.ToolName, err))
			res.Error = fmt.Sprintf("Invalid arguments for tool '%s' on server '%s': %v", call.ToolName, call.ServerName, err)
			return res
		}
	}

	key := cache.Key(call.ServerName, call.ToolName, call.Arguments)
	if m.resultCache != nil {
		if cached, hit := m.resultCache.Get(ctx, key); hit {
			m.logStep("info", "Tool Call Cache Hit", fmt.Sprintf("Reusing cached result for tool '%s' on server '%s'", call.ToolName, call.ServerName))
			if m.metrics != nil {
				m.metrics.RecordCache("result", "hit")
			}
			res.Result = cached
			return res
		}
		if m.metrics != nil {
			m.metrics.RecordCache("result", "miss")
		}
	}

	m.logStep("info", "Tool Call Start", fmt.Sprintf("Connecting to server '%s' to call tool '%s'", call.ServerName, call.ToolName))
	m.logger.Debug("executing tool call", "server", call.ServerName, "tool", call.ToolName)

	callCtx, cancel := context.WithTimeout(ctx, client.Config().CallTimeout())
	defer cancel()

	start := time.Now()
	result, err := client.CallTool(callCtx, call.ToolName, call.Arguments)
	elapsed := time.Since(start)

	switch {
	case err == nil && result.IsError:
		msg := result.LastText()
		if msg == "" {
			msg = "tool reported an error"
		}
		m.logStep("error", "Tool Execution Error", fmt.Sprintf("Tool execution error: %s", msg))
		res.Error = fmt.Sprintf("Tool execution failed: %s", msg)
	case err == nil:
		res.Result = result.LastText()
		m.logStep("info", "Tool Call Success", fmt.Sprintf("Tool '%s' on server '%s' finished in %s", call.ToolName, call.ServerName, elapsed.Round(time.Millisecond)))
		if m.resultCache != nil && res.Result != "" {
			m.resultCache.Set(ctx, key, res.Result)
		}
	case isConnectError(err):
		m.logStep("error", "MCP Session Error", fmt.Sprintf("MCP session error: %v", err))
		res.Error = fmt.Sprintf("MCP session error: %v", err)
	default:
		m.logStep("error", "Tool Execution Error", fmt.Sprintf("Tool execution error: %v", err))
		res.Error = fmt.Sprintf("Tool execution failed: %v", err)
	}

	if m.metrics != nil {
		status := "ok"
		if res.Failed() {
			status = "error"
		}
		m.metrics.RecordToolCall(call.ServerName, call.ToolName, status, elapsed.Seconds())
	}
	return res
}

// Close closes every server client.
func (m *Manager) Close() error {
	var errs []error
	for _, name := range m.order {
		if err := m.clients[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func findTool(client *mcp.Client, name string) *mcp.Tool {
	for _, tool := range client.Tools() {
		if tool.Name == name {
			return tool
		}
	}
	return nil
}

func isConnectError(err error) bool {
	var connErr *mcp.ConnectError
	return errors.As(err, &connErr)
}
