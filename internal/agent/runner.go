// Package agent implements the turn-based orchestration loop. A Runner
// drives one agent: call the model, parse tool calls out of the response,
// execute them in emitted order, feed results back, and stop when the model
// answers directly or a budget runs out. The Orchestrator composes the main
// agent's runner with sub-agent runners exposed to the model as virtual
// delegation tools.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/llm"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/parser"
	"github.com/haasonsaas/conductor/internal/prompt"
	"github.com/haasonsaas/conductor/internal/stream"
	"github.com/haasonsaas/conductor/internal/tasklog"
	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/pkg/models"
)

// StopReason says why a loop ended.
type StopReason string

const (
	// StopModel means the model produced a response with no tool calls.
	StopModel StopReason = "model_stop"
	// StopMaxTurns means the turn budget ran out.
	StopMaxTurns StopReason = "max_turns"
	// StopMaxToolCalls means the tool call budget ran out.
	StopMaxToolCalls StopReason = "max_tool_calls"
	// StopWallClock means the wall clock budget ran out.
	StopWallClock StopReason = "wall_clock"
	// StopCancelled means the host cancelled the run.
	StopCancelled StopReason = "cancelled"
)

// Exhausted reports whether the loop was stopped by one of its budgets
// rather than by the model or the host.
func (s StopReason) Exhausted() bool {
	switch s {
	case StopMaxTurns, StopMaxToolCalls, StopWallClock:
		return true
	}
	return false
}

// errWallClockExhausted distinguishes wall clock expiry from host
// cancellation when the loop context ends.
var errWallClockExhausted = errors.New("wall clock budget exhausted")

// delegator diverts tool calls that target a virtual sub-agent tool.
// Delegation suspends the calling loop until the sub-agent session returns
// its summary.
type delegator interface {
	// Resolve maps a call to the sub-agent it targets, if any. It also
	// recognizes names mangled by the native dialect's server-tool split.
	Resolve(call models.ToolCall) (string, bool)

	// Delegate runs a full sub-agent session and returns its summary text.
	Delegate(ctx context.Context, subAgent string, call models.ToolCall) (string, error)
}

// RunnerOptions configures one agent loop.
type RunnerOptions struct {
	// Agent is the prompt role: prompt.AgentMain or a sub-agent name.
	Agent       string
	DisplayName string
	Profile     config.AgentProfile

	Client   llm.Client
	Tools    *tools.Manager
	Executor *Executor

	// ExtraTools are appended to the discovered definitions; the
	// orchestrator uses this to expose sub-agents as virtual tools.
	ExtraTools []models.ServerTools

	Stream  *stream.Handler
	TaskLog *tasklog.TaskLog
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Runner drives one agent's turn loop.
type Runner struct {
	agent       string
	displayName string
	profile     config.AgentProfile

	client   llm.Client
	tools    *tools.Manager
	executor *Executor
	extra    []models.ServerTools
	delegate delegator

	stream  *stream.Handler
	taskLog *tasklog.TaskLog
	logger  *slog.Logger
	metrics *observability.Metrics

	now func() time.Time
}

// NewRunner builds a runner from options. Stream, TaskLog, Logger, and
// Metrics may be nil; a nil Executor gets a sequential default over Tools.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("agent", opts.Agent)

	executor := opts.Executor
	if executor == nil {
		executor = NewExecutor(opts.Tools, nil, logger, nil)
	}
	taskLog := opts.TaskLog
	if taskLog == nil {
		taskLog = tasklog.New("detached", nil, "", logger)
	}

	return &Runner{
		agent:       opts.Agent,
		displayName: opts.DisplayName,
		profile:     opts.Profile,
		client:      opts.Client,
		tools:       opts.Tools,
		executor:    executor,
		extra:       opts.ExtraTools,
		stream:      opts.Stream,
		taskLog:     taskLog,
		logger:      logger,
		metrics:     opts.Metrics,
		now:         time.Now,
	}
}

// LoopResult is the terminal state of one loop.
type LoopResult struct {
	// History is the complete conversation, ending consistently: either a
	// terminal assistant message or a fully answered tool turn.
	History []models.Message

	// SystemPrompt is the prompt the loop ran under; answer generation
	// reuses it.
	SystemPrompt string

	Turns     int
	ToolCalls int
	Stop      StopReason
}

// Loop runs the turn loop to termination. record, when non-nil, receives
// the history after every consistent mutation so the task log always holds
// a well-formed conversation. The returned error is reserved for setup
// failures; model and tool errors are handled inside the loop.
func (r *Runner) Loop(ctx context.Context, task string, record func([]models.Message)) (*LoopResult, error) {
	definitions := r.discoverTools(ctx)
	systemPrompt, err := prompt.SystemPrompt(r.now(), definitions, r.agent)
	if err != nil {
		return nil, fmt.Errorf("build system prompt: %w", err)
	}
	nameIndex := parser.BuildNameIndex(systemPrompt)

	loopCtx := ctx
	cancel := context.CancelFunc(func() {})
	if r.profile.WallClockBudget > 0 {
		loopCtx, cancel = context.WithTimeoutCause(ctx, r.profile.WallClockBudget, errWallClockExhausted)
	}
	defer cancel()

	history := []models.Message{{Role: models.RoleUser, Content: task}}
	rec := func() {
		if record != nil {
			record(history)
		}
	}
	rec()

	res := &LoopResult{SystemPrompt: systemPrompt}
	for {
		if loopCtx.Err() != nil {
			res.Stop = r.stopForContext(loopCtx)
			r.logStop(res)
			break
		}

		res.Turns++
		if r.metrics != nil {
			r.metrics.RecordTurn(r.agent)
		}
		r.taskLog.LogStep("info", r.label()+" | Turn Start",
			fmt.Sprintf("Starting turn %d (max %d).", res.Turns, r.profile.MaxTurns),
			map[string]any{"turn": res.Turns})

		r.stream.StartLLM(loopCtx, r.agent, r.displayName)
		resp, err := r.client.CreateMessage(loopCtx, systemPrompt, history, definitions)
		if err != nil {
			r.stream.EndLLM(loopCtx, r.agent)
			if loopCtx.Err() != nil {
				res.Stop = r.stopForContext(loopCtx)
				r.logStop(res)
				break
			}
			// The turn is spent but no partial assistant message enters
			// the history; the next turn retries from the same state.
			r.taskLog.LogStep("error", r.label()+" | LLM Call Error", err.Error(),
				map[string]any{"turn": res.Turns})
			if stop, msg := r.budgetStop(res); stop != "" {
				res.Stop = stop
				r.taskLog.LogStep("warning", r.label()+" | Budget Exhausted", msg,
					map[string]any{"turns": res.Turns, "tool_calls": res.ToolCalls})
				break
			}
			continue
		}

		raw := resp.Content
		var calls []models.ToolCall
		if len(resp.NativeCalls) > 0 {
			calls = parser.ParseNativeToolCalls(resp.NativeCalls)
		} else {
			calls = parser.ParseFramedToolCalls(nameIndex.CorrectFrames(raw))
		}
		calls = r.canonicalizeDelegations(calls)

		if text := parser.ExtractText(raw); text != "" {
			r.stream.Message(loopCtx, uuid.NewString(), text)
		}
		r.stream.EndLLM(loopCtx, r.agent)

		mark := len(history)
		history = append(history, models.Message{
			Role:      models.RoleAssistant,
			Content:   raw,
			ToolCalls: calls,
		})

		if len(calls) == 0 {
			rec()
			r.taskLog.LogStep("info", r.label()+" | Terminal Turn",
				"Model emitted no tool calls.", map[string]any{"turn": res.Turns})
			res.Stop = StopModel
			break
		}

		var ok bool
		history, ok = r.executeTurn(loopCtx, history, calls)
		if !ok {
			// The context ended mid-turn. Roll the whole turn back so no
			// assistant message is left waiting for results.
			history = history[:mark]
			rec()
			res.Stop = r.stopForContext(loopCtx)
			r.logStop(res)
			break
		}
		res.ToolCalls += len(calls)
		rec()

		if stop, msg := r.budgetStop(res); stop != "" {
			res.Stop = stop
			r.taskLog.LogStep("warning", r.label()+" | Budget Exhausted", msg,
				map[string]any{"turns": res.Turns, "tool_calls": res.ToolCalls})
			break
		}
	}

	res.History = history
	return res, nil
}

// executeTurn runs every call of one assistant turn and appends one result
// message per call, preserving emitted order. It reports ok=false when the
// context ended before the turn completed; the caller rolls the turn back.
func (r *Runner) executeTurn(ctx context.Context, history []models.Message, calls []models.ToolCall) ([]models.Message, bool) {
	if r.executor.Concurrency() > 1 && !r.anyDelegated(calls) {
		return r.executeTurnParallel(ctx, history, calls)
	}

	for _, call := range calls {
		if ctx.Err() != nil {
			return history, false
		}

		eventID := r.stream.ToolCall(ctx, call.ToolName, call.Arguments, false, call.ID)

		var res models.ToolResult
		if sub, ok := r.resolveDelegate(call); ok {
			res = r.runDelegation(ctx, sub, call)
		} else {
			res = r.executor.Execute(ctx, call)
		}
		if ctx.Err() != nil {
			return history, false
		}

		formatted := tools.FormatResultForUser(&res)
		r.stream.ToolCall(ctx, call.ToolName, resultPayload(call.Arguments, formatted), false, eventID)
		history = append(history, resultMessage(call, formatted))
	}
	return history, true
}

// executeTurnParallel dispatches the whole turn through the executor at
// once. Events and result messages still follow emitted call order.
func (r *Runner) executeTurnParallel(ctx context.Context, history []models.Message, calls []models.ToolCall) ([]models.Message, bool) {
	eventIDs := make([]string, len(calls))
	for i, call := range calls {
		eventIDs[i] = r.stream.ToolCall(ctx, call.ToolName, call.Arguments, false, call.ID)
	}

	results := r.executor.ExecuteAll(ctx, calls)
	if ctx.Err() != nil {
		return history, false
	}

	for i, call := range calls {
		formatted := tools.FormatResultForUser(&results[i])
		r.stream.ToolCall(ctx, call.ToolName, resultPayload(call.Arguments, formatted), false, eventIDs[i])
		history = append(history, resultMessage(call, formatted))
	}
	return history, true
}

// runDelegation suspends the loop for one sub-agent session. Delegation
// failures are tool results like any other.
func (r *Runner) runDelegation(ctx context.Context, subAgent string, call models.ToolCall) models.ToolResult {
	summary, err := r.delegate.Delegate(ctx, subAgent, call)
	if err != nil {
		return models.ToolResult{ServerName: subAgent, ToolName: subAgent, Error: err.Error()}
	}
	return models.ToolResult{ServerName: subAgent, ToolName: subAgent, Result: summary}
}

// canonicalizeDelegations rewrites calls that target a virtual sub-agent
// tool to carry the sub-agent's name as both server and tool, undoing any
// mangling from the native dialect's name split.
func (r *Runner) canonicalizeDelegations(calls []models.ToolCall) []models.ToolCall {
	if r.delegate == nil {
		return calls
	}
	for i := range calls {
		if name, ok := r.delegate.Resolve(calls[i]); ok {
			calls[i].ServerName, calls[i].ToolName = name, name
		}
	}
	return calls
}

func (r *Runner) resolveDelegate(call models.ToolCall) (string, bool) {
	if r.delegate == nil {
		return "", false
	}
	return r.delegate.Resolve(call)
}

func (r *Runner) anyDelegated(calls []models.ToolCall) bool {
	for _, call := range calls {
		if _, ok := r.resolveDelegate(call); ok {
			return true
		}
	}
	return false
}

// discoverTools lists every configured server's tools and appends the
// virtual ones. Failed servers stay in the list as error entries so the
// rest still surface.
func (r *Runner) discoverTools(ctx context.Context) []models.ServerTools {
	var definitions []models.ServerTools
	if r.tools != nil {
		definitions = r.tools.GetAllToolDefinitions(ctx)
	}
	return append(definitions, r.extra...)
}

// budgetStop checks the turn and tool call budgets. Zero budgets are
// unlimited.
func (r *Runner) budgetStop(res *LoopResult) (StopReason, string) {
	if r.profile.MaxTurns > 0 && res.Turns >= r.profile.MaxTurns {
		return StopMaxTurns, fmt.Sprintf("Turn budget of %d exhausted.", r.profile.MaxTurns)
	}
	if r.profile.MaxToolCalls > 0 && res.ToolCalls >= r.profile.MaxToolCalls {
		return StopMaxToolCalls, fmt.Sprintf("Tool call budget of %d exhausted.", r.profile.MaxToolCalls)
	}
	return "", ""
}

// stopForContext resolves why the loop context ended: its own wall clock
// or a cancellation from outside.
func (r *Runner) stopForContext(ctx context.Context) StopReason {
	if errors.Is(context.Cause(ctx), errWallClockExhausted) {
		return StopWallClock
	}
	return StopCancelled
}

func (r *Runner) logStop(res *LoopResult) {
	meta := map[string]any{"turns": res.Turns, "tool_calls": res.ToolCalls}
	switch res.Stop {
	case StopWallClock:
		r.taskLog.LogStep("warning", r.label()+" | Budget Exhausted",
			fmt.Sprintf("Wall clock budget of %s exhausted.", r.profile.WallClockBudget), meta)
	default:
		r.taskLog.LogStep("warning", r.label()+" | Cancelled",
			"Run cancelled; skipping further turns.", meta)
	}
}

// label names this runner in step logs: "Main Agent" for the main loop,
// the agent name for sub-agents.
func (r *Runner) label() string {
	if r.agent == prompt.AgentMain {
		return "Main Agent"
	}
	return r.agent
}

// resultMessage wraps a formatted tool result as the history message the
// model will see: a tool message paired by id in the native dialect, a
// plain user message in the framed dialect.
func resultMessage(call models.ToolCall, formatted string) models.Message {
	if call.ID != "" {
		return models.Message{
			Role:       models.RoleTool,
			Content:    formatted,
			ToolCallID: call.ID,
			Name:       parser.JoinToolName(call.ServerName, call.ToolName),
		}
	}
	return models.Message{Role: models.RoleUser, Content: formatted}
}

// resultPayload is the tool_call event payload that carries the outcome:
// the original arguments plus the formatted result.
func resultPayload(arguments map[string]any, formatted string) map[string]any {
	payload := make(map[string]any, len(arguments)+1)
	for k, v := range arguments {
		payload[k] = v
	}
	payload["result"] = formatted
	return payload
}
