// Package models defines the shared data model for the conductor runtime:
// conversation messages, tool calls and results, tool definitions, and token
// usage accounting.
package models

import (
	"encoding/json"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one element of an agent conversation. Histories are append-only
// during a turn loop.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool executions.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool messages in the native dialect to
	// pair the result with the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// HasToolCalls reports whether the message requests any tool executions.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToolCall is a model's request to execute one tool on one server.
// ID is present iff the call was produced by native function calling.
type ToolCall struct {
	ID         string         `json:"id,omitempty"`
	ServerName string         `json:"server_name"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call. Exactly one of
// Result and Error is meaningful; Error non-empty marks a failed call.
type ToolResult struct {
	ServerName string `json:"server_name"`
	ToolName   string `json:"tool_name"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether the call produced an error instead of a result.
func (r *ToolResult) Failed() bool {
	return r.Error != ""
}

// ToolDefinition describes one tool exposed by one server. InputSchema is a
// JSON-Schema-shaped object. (ServerName, ToolName) is unique within a run.
type ToolDefinition struct {
	ServerName  string          `json:"server_name"`
	ToolName    string          `json:"tool_name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ServerTools is the per-server result of tool discovery. A server that
// failed to list reports Err instead of Tools so callers can still surface
// the servers that worked.
type ServerTools struct {
	ServerName string           `json:"server_name"`
	Tools      []ToolDefinition `json:"tools,omitempty"`
	Err        string           `json:"error,omitempty"`
}
