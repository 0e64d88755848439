package stream

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Handler emits the workflow event vocabulary onto a bus. A Handler with a
// nil bus discards everything, so orchestration code can emit
// unconditionally without checking whether anyone is listening.
type Handler struct {
	bus    *Bus
	logger *slog.Logger
}

func NewHandler(bus *Bus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{bus: bus, logger: logger}
}

// Enabled reports whether events actually go anywhere.
func (h *Handler) Enabled() bool {
	return h != nil && h.bus != nil
}

func (h *Handler) update(ctx context.Context, event string, data map[string]any) {
	if !h.Enabled() {
		return
	}
	if err := h.bus.Publish(ctx, &Event{Event: event, Data: data}); err != nil {
		h.logger.Warn("failed to send stream update", "event", event, "error", err)
	}
}

// StartWorkflow emits start_of_workflow and returns the new workflow id.
func (h *Handler) StartWorkflow(ctx context.Context, userInput string) string {
	workflowID := uuid.NewString()
	h.update(ctx, "start_of_workflow", map[string]any{
		"workflow_id": workflowID,
		"input": []map[string]any{
			{
				"role":    "user",
				"content": userInput,
			},
		},
	})
	return workflowID
}

// EndWorkflow emits end_of_workflow.
func (h *Handler) EndWorkflow(ctx context.Context, workflowID string) {
	h.update(ctx, "end_of_workflow", map[string]any{
		"workflow_id": workflowID,
	})
}

// ShowError surfaces an error to the consumer as a show_error tool call and
// then ends the stream.
func (h *Handler) ShowError(ctx context.Context, errMsg string) {
	h.ToolCall(ctx, "show_error", map[string]any{"error": errMsg}, false, "")
	if h.Enabled() {
		h.bus.End(ctx)
	}
}

// StartAgent emits start_of_agent and returns the new agent id.
func (h *Handler) StartAgent(ctx context.Context, agentName, displayName string) string {
	agentID := uuid.NewString()
	h.update(ctx, "start_of_agent", map[string]any{
		"agent_name":   agentName,
		"display_name": orNil(displayName),
		"agent_id":     agentID,
	})
	return agentID
}

// EndAgent emits end_of_agent.
func (h *Handler) EndAgent(ctx context.Context, agentName, agentID string) {
	h.update(ctx, "end_of_agent", map[string]any{
		"agent_name": agentName,
		"agent_id":   agentID,
	})
}

// StartLLM emits start_of_llm.
func (h *Handler) StartLLM(ctx context.Context, agentName, displayName string) {
	h.update(ctx, "start_of_llm", map[string]any{
		"agent_name":   agentName,
		"display_name": orNil(displayName),
	})
}

// EndLLM emits end_of_llm.
func (h *Handler) EndLLM(ctx context.Context, agentName string) {
	h.update(ctx, "end_of_llm", map[string]any{
		"agent_name": agentName,
	})
}

// Message emits a message event carrying one content delta.
func (h *Handler) Message(ctx context.Context, messageID, deltaContent string) {
	h.update(ctx, "message", map[string]any{
		"message_id": messageID,
		"delta": map[string]any{
			"content": deltaContent,
		},
	})
}

// ToolCall emits tool_call events for one call and returns its id,
// generating one when the caller has none. With streaming set, each payload
// key goes out as its own delta_input event; otherwise the whole payload
// travels in a single tool_input event.
func (h *Handler) ToolCall(ctx context.Context, toolName string, payload map[string]any, streaming bool, toolCallID string) string {
	if toolCallID == "" {
		toolCallID = uuid.NewString()
	}

	if streaming {
		for key, value := range payload {
			h.update(ctx, "tool_call", map[string]any{
				"tool_call_id": toolCallID,
				"tool_name":    toolName,
				"delta_input":  map[string]any{key: value},
			})
		}
		return toolCallID
	}

	h.update(ctx, "tool_call", map[string]any{
		"tool_call_id": toolCallID,
		"tool_name":    toolName,
		"tool_input":   payload,
	})
	return toolCallID
}

// End terminates the stream without an error.
func (h *Handler) End(ctx context.Context) {
	if h.Enabled() {
		h.bus.End(ctx)
	}
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
