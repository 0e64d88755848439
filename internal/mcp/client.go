package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Client speaks the tool-server protocol to a single server over its
// configured transport.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	mu         sync.RWMutex
	tools      []*Tool
	serverInfo ServerInfo
}

// NewClient creates a client for the given server.
func NewClient(cfg *ServerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:    cfg,
		transport: NewTransport(cfg),
		logger:    logger.With("server", cfg.Name),
	}
}

// newClientWithTransport is used by tests to inject a fake transport.
func newClientWithTransport(cfg *ServerConfig, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    cfg,
		transport: transport,
		logger:    logger.With("server", cfg.Name),
	}
}

// Connect establishes the transport and performs the initialize handshake.
// The context should be task-scoped: stdio subprocesses live until it is
// canceled or Close is called. The handshake itself is bounded by
// ConnectTimeout.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	result, err := c.transport.Call(initCtx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "conductor",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.mu.Unlock()

	c.logger.Info("connected to tool server",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Config returns the server configuration.
func (c *Client) Config() *ServerConfig {
	return c.config
}

// ServerInfo returns the identity the server reported during initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// Connected reports whether the client is connected.
func (c *Client) Connected() bool {
	return c.transport.Connected()
}

// ListTools fetches the server's tool catalog, connecting first if needed.
// Failures are typed: ConnectError when the transport cannot be established,
// ProtocolError when the server answers with something other than a valid
// tool list.
func (c *Client) ListTools(ctx context.Context) ([]*Tool, error) {
	if !c.Connected() {
		if err := c.Connect(ctx); err != nil {
			return nil, &ConnectError{Server: c.config.Name, Err: err}
		}
	}

	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, &ProtocolError{Server: c.config.Name, Err: err}
	}

	var resp ListToolsResult
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, &ProtocolError{Server: c.config.Name, Err: fmt.Errorf("parse tool list: %w", err)}
	}

	c.mu.Lock()
	c.tools = resp.Tools
	c.mu.Unlock()

	c.logger.Debug("listed tools", "count", len(resp.Tools))
	return resp.Tools, nil
}

// Tools returns the tools cached by the last ListTools call.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// CallTool invokes one tool, connecting first if needed. The full result is
// returned; callers decide which content blocks to consume.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	if !c.Connected() {
		if err := c.Connect(ctx); err != nil {
			return nil, &ConnectError{Server: c.config.Name, Err: err}
		}
	}

	params := CallToolParams{
		Name: name,
	}

	if arguments != nil {
		argsJSON, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = argsJSON
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, &ProtocolError{Server: c.config.Name, Err: fmt.Errorf("parse call result: %w", err)}
	}

	return &callResult, nil
}
