package mcp

import (
	"context"
	"encoding/json"
)

// Transport moves JSON-RPC messages between the client and one tool server.
type Transport interface {
	// Connect establishes the transport connection.
	Connect(ctx context.Context) error

	// Close closes the transport connection.
	Close() error

	// Call sends a request and waits for a response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	// Connected reports whether the transport is connected.
	Connected() bool
}

// NewTransport creates a transport based on the server configuration.
// Servers without an explicit transport default to stdio.
func NewTransport(cfg *ServerConfig) Transport {
	switch cfg.Transport {
	case TransportSSE:
		return NewSSETransport(cfg)
	case TransportStreamableHTTP:
		return NewStreamableHTTPTransport(cfg)
	default:
		return NewStdioTransport(cfg)
	}
}
