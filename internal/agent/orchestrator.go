package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/internal/answer"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/llm"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/prompt"
	"github.com/haasonsaas/conductor/internal/stream"
	"github.com/haasonsaas/conductor/internal/tasklog"
	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/pkg/models"
)

// SubAgent bundles one delegate: its runner, its summarizer, and the client
// whose usage accumulates across that delegate's sessions within a task.
type SubAgent struct {
	Name        string
	DisplayName string

	runner    *Runner
	generator *answer.Generator
	client    llm.Client
}

// SubAgentOptions configures one sub-agent.
type SubAgentOptions struct {
	Name        string
	DisplayName string
	Profile     config.AgentProfile

	Client llm.Client
	Tools  *tools.Manager

	Executor *ExecutorConfig

	Stream  *stream.Handler
	TaskLog *tasklog.TaskLog
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// NewSubAgent builds a sub-agent whose loop and summarizer share one client.
func NewSubAgent(opts SubAgentOptions) *SubAgent {
	runner := NewRunner(RunnerOptions{
		Agent:       opts.Name,
		DisplayName: opts.DisplayName,
		Profile:     opts.Profile,
		Client:      opts.Client,
		Tools:       opts.Tools,
		Executor:    NewExecutor(opts.Tools, opts.Executor, opts.Logger, opts.Tracer),
		Stream:      opts.Stream,
		TaskLog:     opts.TaskLog,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
	})
	return &SubAgent{
		Name:        opts.Name,
		DisplayName: opts.DisplayName,
		runner:      runner,
		generator:   answer.NewGenerator(opts.Client, opts.Logger),
		client:      opts.Client,
	}
}

// Client exposes the sub-agent's LLM client for usage reporting and
// shutdown.
func (s *SubAgent) Client() llm.Client {
	return s.client
}

// OrchestratorOptions configures the top-level run.
type OrchestratorOptions struct {
	Profile     config.AgentProfile
	DisplayName string

	Client llm.Client
	Tools  *tools.Manager

	SubAgents []*SubAgent
	Executor  *ExecutorConfig

	Stream  *stream.Handler
	TaskLog *tasklog.TaskLog
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Orchestrator drives the main agent and dispatches its delegations to
// sub-agents. The main agent sees each sub-agent as one virtual tool; a
// call to it suspends the main loop, runs a full sub-agent session, and
// splices the session's summary back in as the tool result.
type Orchestrator struct {
	main      *Runner
	client    llm.Client
	generator *answer.Generator

	subs  map[string]*SubAgent
	order []string

	displayName string
	stream      *stream.Handler
	taskLog     *tasklog.TaskLog
	logger      *slog.Logger
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	taskLog := opts.TaskLog
	if taskLog == nil {
		taskLog = tasklog.New("detached", nil, "", logger)
	}

	o := &Orchestrator{
		client:      opts.Client,
		generator:   answer.NewGenerator(opts.Client, logger),
		subs:        make(map[string]*SubAgent, len(opts.SubAgents)),
		displayName: opts.DisplayName,
		stream:      opts.Stream,
		taskLog:     taskLog,
		logger:      logger,
	}
	for _, sub := range opts.SubAgents {
		o.subs[sub.Name] = sub
		o.order = append(o.order, sub.Name)
	}

	o.main = NewRunner(RunnerOptions{
		Agent:       prompt.AgentMain,
		DisplayName: opts.DisplayName,
		Profile:     opts.Profile,
		Client:      opts.Client,
		Tools:       opts.Tools,
		Executor:    NewExecutor(opts.Tools, opts.Executor, logger, opts.Tracer),
		ExtraTools:  VirtualTools(opts.SubAgents),
		Stream:      opts.Stream,
		TaskLog:     taskLog,
		Logger:      logger,
		Metrics:     opts.Metrics,
	})
	o.main.delegate = o
	return o
}

// SubAgents returns the configured delegates in registration order.
func (o *Orchestrator) SubAgents() []*SubAgent {
	subs := make([]*SubAgent, 0, len(o.order))
	for _, name := range o.order {
		subs = append(subs, o.subs[name])
	}
	return subs
}

// RunResult is the outcome of one task run.
type RunResult struct {
	// Final is the generated answer; nil when the run was cancelled before
	// answer generation.
	Final *answer.Final

	Stop      StopReason
	Turns     int
	ToolCalls int

	// History is the main conversation including the summary exchange when
	// answer generation ran.
	History      []models.Message
	SystemPrompt string
}

// Run executes the main agent loop to termination and then generates the
// final answer. Budget exhaustion still flows into answer generation;
// cancellation skips it and emits a stopped marker instead.
func (o *Orchestrator) Run(ctx context.Context, task string) (*RunResult, error) {
	agentID := o.stream.StartAgent(ctx, prompt.AgentMain, o.displayName)

	res, err := o.main.Loop(ctx, task, o.taskLog.SetMainHistory)
	if err != nil {
		return nil, err
	}
	out := &RunResult{
		Stop:         res.Stop,
		Turns:        res.Turns,
		ToolCalls:    res.ToolCalls,
		History:      res.History,
		SystemPrompt: res.SystemPrompt,
	}

	if res.Stop == StopCancelled {
		flushCtx, cancel := flushContext(ctx)
		defer cancel()
		o.stream.Message(flushCtx, uuid.NewString(), "stopped")
		o.stream.EndAgent(flushCtx, prompt.AgentMain, agentID)
		return out, nil
	}

	// The loop context may have expired on its wall clock; answer
	// generation runs on the caller's context so it survives that.
	final, err := o.generator.Generate(ctx, task, res.SystemPrompt, res.History)
	if err != nil {
		o.taskLog.LogStep("error", "Main Agent | Answer Generation Error", err.Error(), nil)
		flushCtx, cancel := flushContext(ctx)
		defer cancel()
		o.stream.EndAgent(flushCtx, prompt.AgentMain, agentID)
		return out, fmt.Errorf("answer generation failed: %w", err)
	}

	o.taskLog.SetMainHistory(final.History)
	out.Final = final
	out.History = final.History

	if final.Text != "" {
		o.stream.Message(ctx, uuid.NewString(), final.Text)
	}
	o.stream.EndAgent(ctx, prompt.AgentMain, agentID)

	o.logger.Info("final answer generated",
		"boxed", final.Boxed, "turns", res.Turns, "tool_calls", res.ToolCalls, "usage", final.LogLine)
	return out, nil
}

// Resolve reports whether a call targets a configured sub-agent. A virtual
// tool shares its server and tool name, so the native dialect's server-tool
// split can shear the name apart; Resolve also recognizes the pieces and
// their reassembly.
func (o *Orchestrator) Resolve(call models.ToolCall) (string, bool) {
	if len(o.subs) == 0 {
		return "", false
	}
	for _, candidate := range []string{
		call.ServerName,
		call.ToolName,
		call.ServerName + "-" + call.ToolName,
	} {
		if _, ok := o.subs[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

// Delegate runs one sub-agent session: a fresh loop over the call's
// task_description, then the session summarize call. The sub-agent never
// sees the main conversation; the summary text is all that crosses back.
func (o *Orchestrator) Delegate(ctx context.Context, subAgent string, call models.ToolCall) (string, error) {
	sub, ok := o.subs[subAgent]
	if !ok {
		return "", fmt.Errorf("unknown sub-agent %q", subAgent)
	}
	task, err := taskDescription(call)
	if err != nil {
		return "", err
	}

	sessionID := o.taskLog.StartSubAgentSession(sub.Name, task)
	agentID := o.stream.StartAgent(ctx, sub.Name, sub.DisplayName)
	defer func() {
		o.taskLog.EndSubAgentSession(sub.Name)
		flushCtx, cancel := flushContext(ctx)
		defer cancel()
		o.stream.EndAgent(flushCtx, sub.Name, agentID)
	}()

	record := func(history []models.Message) {
		o.taskLog.SetSubAgentHistory(sessionID, history)
	}
	res, err := sub.runner.Loop(ctx, task, record)
	if err != nil {
		return "", err
	}
	if res.Stop == StopCancelled {
		return "", fmt.Errorf("sub-agent session interrupted: %w", context.Cause(ctx))
	}

	summary, extended, err := sub.generator.Summarize(ctx, sub.Name, task, res.SystemPrompt, res.History)
	if err != nil {
		return "", err
	}
	o.taskLog.SetSubAgentHistory(sessionID, extended)
	return summary, nil
}

// taskDescription pulls the required task_description argument out of a
// delegation call.
func taskDescription(call models.ToolCall) (string, error) {
	raw, ok := call.Arguments["task_description"]
	if !ok {
		return "", fmt.Errorf("sub-agent call is missing the task_description argument")
	}
	task, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("task_description must be a string, got %T", raw)
	}
	if strings.TrimSpace(task) == "" {
		return "", fmt.Errorf("task_description must not be empty")
	}
	return task, nil
}

// flushContext detaches from a possibly dead context so terminal events
// still reach the bus, bounded so a stalled consumer cannot hang the run.
func flushContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), time.Second)
}
