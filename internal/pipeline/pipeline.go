// Package pipeline wires configuration into runnable task components and
// drives one task end to end: normalization, the orchestrated agent run,
// the task log artifact, stream teardown, and the run store record.
//
// Components are built once and reused across tasks; tool manager sessions
// and the task log are single-tenant, so tasks execute one at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/answer"
	"github.com/haasonsaas/conductor/internal/cache"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/llm"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/prompt"
	"github.com/haasonsaas/conductor/internal/runstore"
	"github.com/haasonsaas/conductor/internal/stream"
	"github.com/haasonsaas/conductor/internal/tasklog"
	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/pkg/models"
)

// flushTimeout bounds terminal work (final events, run record) that runs on
// a detached context after the task context may already be dead.
const flushTimeout = 5 * time.Second

// Components holds everything a task run needs that outlives a single task:
// tool managers with their MCP sessions, the result cache, the tracer, the
// run store, and metrics. Build once with NewComponents, reuse for every
// task, and Close on shutdown.
type Components struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	tracer     *observability.Tracer
	stopTracer func(context.Context) error

	resultCache cache.Cache
	store       *runstore.Store

	mainTools *tools.Manager
	subTools  map[string]*tools.Manager

	// newClient is swapped in tests to avoid real provider clients.
	newClient func(config.LLMConfig) (llm.Client, error)

	// runMu serializes tasks: managers and the step logger are single-tenant.
	runMu sync.Mutex
}

// NewComponents builds the long-lived task components from configuration.
// The metrics handle is created by the caller so it is registered exactly
// once per process; nil disables instrumentation.
func NewComponents(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	traceCfg := observability.TraceConfig{
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
		Environment:    cfg.Observability.Tracing.Environment,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		Attributes:     cfg.Observability.Tracing.Attributes,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
	}
	if cfg.Observability.Tracing.Enabled {
		traceCfg.Endpoint = cfg.Observability.Tracing.Endpoint
	}
	tracer, stopTracer := observability.NewTracer(traceCfg)

	resultCache, err := cache.New(cfg.Cache, logger)
	if err != nil {
		// A dead redis should not keep tasks from running.
		logger.Warn("cache backend unavailable, falling back to memory",
			"backend", cfg.Cache.Backend, "error", err)
		fallback := cfg.Cache
		fallback.Backend = "memory"
		resultCache, err = cache.New(fallback, logger)
		if err != nil {
			return nil, fmt.Errorf("create cache: %w", err)
		}
	}

	var store *runstore.Store
	if cfg.Store.IsEnabled() {
		store, err = runstore.Open(cfg.Store.Path, logger, metrics)
		if err != nil {
			if resultCache != nil {
				_ = resultCache.Close()
			}
			return nil, fmt.Errorf("open run store: %w", err)
		}
	}

	subTools := make(map[string]*tools.Manager, len(cfg.Agent.SubAgents))
	for _, sub := range cfg.Agent.SubAgents {
		subTools[sub.Name] = tools.NewManager(cfg.Servers, sub, resultCache, logger, metrics)
	}

	return &Components{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
		stopTracer:  stopTracer,
		resultCache: resultCache,
		store:       store,
		mainTools:   tools.NewManager(cfg.Servers, cfg.Agent.MainAgent, resultCache, logger, metrics),
		subTools:    subTools,
		newClient: func(lc config.LLMConfig) (llm.Client, error) {
			return llm.New(lc, logger, metrics, tracer)
		},
	}, nil
}

// Close releases MCP sessions, the cache, the run store, and the tracer.
func (c *Components) Close() error {
	var errs []error
	if err := c.mainTools.Close(); err != nil {
		errs = append(errs, err)
	}
	for name, mgr := range c.subTools {
		if err := mgr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.resultCache != nil {
		if err := c.resultCache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.stopTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := c.stopTracer(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload rebuilds the components from cfg and swaps them in between tasks.
// The new set is built first; a build failure leaves the current components
// untouched. Tasks started before the swap finish on the old components,
// which are closed once the swap completes. Serve address changes are not
// picked up here and still require a restart.
func (c *Components) Reload(cfg *config.Config) error {
	next, err := NewComponents(cfg, c.logger, c.metrics)
	if err != nil {
		return err
	}

	c.runMu.Lock()
	old := &Components{
		tracer:      c.tracer,
		stopTracer:  c.stopTracer,
		resultCache: c.resultCache,
		store:       c.store,
		mainTools:   c.mainTools,
		subTools:    c.subTools,
	}
	c.cfg = next.cfg
	c.tracer = next.tracer
	c.stopTracer = next.stopTracer
	c.resultCache = next.resultCache
	c.store = next.store
	c.mainTools = next.mainTools
	c.subTools = next.subTools
	// Test client factories do not survive a reload; the default factory
	// builds real provider clients from the new config.
	c.newClient = next.newClient
	c.runMu.Unlock()

	if err := old.Close(); err != nil {
		c.logger.Warn("error closing replaced components", "error", err)
	}
	return nil
}

// TaskOptions parameterizes one task execution.
type TaskOptions struct {
	// TaskID names the run; empty generates one.
	TaskID string

	// Task is the raw task text; it is normalized before execution.
	Task string

	// LogDir overrides the configured artifact directory when non-empty.
	LogDir string

	// Bus receives workflow events; nil discards them.
	Bus *stream.Bus
}

// Result is the recorded outcome of one task execution.
type Result struct {
	TaskID string
	Status string

	// Final is nil when the run was cancelled or failed before answer
	// generation.
	Final *answer.Final

	Stop      agent.StopReason
	Turns     int
	ToolCalls int
	Usage     models.TokenUsage

	// LogPath is the saved task log artifact; empty when saving failed.
	LogPath string
	Log     *tasklog.TaskLog

	StartedAt  time.Time
	FinishedAt time.Time
}

// ExecuteTask runs one task to completion and records every artifact the
// run produces. The returned Result is non-nil whenever execution started;
// the error then reports an answer-generation failure that is already
// reflected in the Result's status. Cancellation is an outcome, not an
// error: the Result carries status cancelled and err is nil.
func (c *Components) ExecuteTask(ctx context.Context, opts TaskOptions) (*Result, error) {
	task, err := NormalizeTask(opts.Task)
	if err != nil {
		return nil, err
	}

	taskID := opts.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	// One task at a time. Serve mode queues here, matching the managers'
	// single-tenant sessions. Reload swaps c.cfg under the same mutex.
	c.runMu.Lock()
	defer c.runMu.Unlock()

	logDir := opts.LogDir
	if logDir == "" {
		logDir = c.cfg.Output.Dir
	}

	logger := c.logger.With("task_id", taskID)
	started := time.Now()

	ctx = observability.AddTaskID(ctx, taskID)
	ctx, span := c.tracer.TraceTask(ctx, taskID, prompt.AgentMain)
	defer span.End()

	if c.metrics != nil {
		c.metrics.TaskStarted()
	}

	taskLog := tasklog.New(taskID, task, logDir, logger)
	c.recordEnv(taskLog)
	taskLog.LogStep("info", "Pipeline Start", fmt.Sprintf("Executing task %s", taskID), nil)

	handler := stream.NewHandler(opts.Bus, logger)
	workflowID := handler.StartWorkflow(ctx, task)

	c.mainTools.SetStepLogger(taskLog)
	defer c.mainTools.SetStepLogger(nil)
	for _, mgr := range c.subTools {
		mgr.SetStepLogger(taskLog)
		defer mgr.SetStepLogger(nil)
	}

	var (
		out     *agent.RunResult
		clients []llm.Client
	)
	defer func() {
		for _, cl := range clients {
			if cerr := cl.Close(); cerr != nil {
				logger.Warn("failed to close llm client", "error", cerr)
			}
		}
	}()

	runErr := func() error {
		mainClient, err := c.newClient(c.cfg.LLM)
		if err != nil {
			return fmt.Errorf("create llm client: %w", err)
		}
		clients = append(clients, mainClient)

		subs := make([]*agent.SubAgent, 0, len(c.cfg.Agent.SubAgents))
		for _, profile := range c.cfg.Agent.SubAgents {
			subClient, err := c.newClient(c.cfg.LLM)
			if err != nil {
				return fmt.Errorf("create llm client for %s: %w", profile.Name, err)
			}
			clients = append(clients, subClient)
			subs = append(subs, agent.NewSubAgent(agent.SubAgentOptions{
				Name:    profile.Name,
				Profile: profile,
				Client:  subClient,
				Tools:   c.subTools[profile.Name],
				Stream:  handler,
				TaskLog: taskLog,
				Logger:  logger,
				Metrics: c.metrics,
				Tracer:  c.tracer,
			}))
		}

		orch := agent.NewOrchestrator(agent.OrchestratorOptions{
			Profile:     c.cfg.Agent.MainAgent,
			DisplayName: "Main Agent",
			Client:      mainClient,
			Tools:       c.mainTools,
			SubAgents:   subs,
			Stream:      handler,
			TaskLog:     taskLog,
			Logger:      logger,
			Metrics:     c.metrics,
			Tracer:      c.tracer,
		})

		var runErr error
		out, runErr = orch.Run(ctx, task)
		return runErr
	}()

	flushCtx, cancel := flushContext(ctx)
	defer cancel()

	switch {
	case runErr != nil && ctx.Err() != nil:
		// Host cancellation beat answer generation.
		handler.Message(flushCtx, uuid.NewString(), "stopped")
		taskLog.Finish(tasklog.StatusCancelled, "")
	case runErr != nil:
		taskLog.Fail(runErr.Error())
	case out.Stop == agent.StopCancelled:
		taskLog.Finish(tasklog.StatusCancelled, "")
	default:
		taskLog.Finish(tasklog.StatusSuccess, out.Final.Boxed)
	}

	usage := sumUsage(clients)
	c.recordTrace(ctx, taskLog, out, usage)

	level := "info"
	if taskLog.Status == tasklog.StatusError {
		level = "error"
	}
	taskLog.LogStep(level, "Pipeline End", fmt.Sprintf("Task finished with status %q", taskLog.Status), nil)

	switch {
	case taskLog.Status == tasklog.StatusCancelled:
		// No end_of_workflow after a cancel, only the end-of-stream marker.
		handler.End(flushCtx)
	case runErr != nil:
		// ShowError emits the error event and ends the stream.
		handler.ShowError(flushCtx, runErr.Error())
	default:
		handler.EndWorkflow(flushCtx, workflowID)
		handler.End(flushCtx)
	}

	res := &Result{
		TaskID:    taskID,
		Status:    taskLog.Status,
		Usage:     usage,
		Log:       taskLog,
		StartedAt: started,
	}
	if out != nil {
		res.Final = out.Final
		res.Stop = out.Stop
		res.Turns = out.Turns
		res.ToolCalls = out.ToolCalls
	}

	if path, serr := taskLog.Save(); serr != nil {
		logger.Error("failed to save task log", "error", serr)
	} else {
		res.LogPath = path
		logger.Info("task log saved", "path", path)
	}

	res.FinishedAt = time.Now()

	if c.store != nil {
		rec := &runstore.Record{
			TaskID:      taskID,
			Task:        task,
			Status:      res.Status,
			BoxedAnswer: taskLog.FinalBoxedAnswer,
			Turns:       res.Turns,
			ToolCalls:   res.ToolCalls,
			Usage:       usage,
			LogPath:     res.LogPath,
			StartedAt:   started,
			FinishedAt:  res.FinishedAt,
		}
		storeCtx, storeSpan := c.tracer.TraceStoreQuery(flushCtx, "insert")
		if serr := c.store.Save(storeCtx, rec); serr != nil {
			c.tracer.RecordError(storeSpan, serr)
			logger.Warn("failed to record run", "error", serr)
		}
		storeSpan.End()
	}

	if c.metrics != nil {
		c.metrics.TaskEnded(res.Status, res.FinishedAt.Sub(started).Seconds())
	}

	if res.Status == tasklog.StatusCancelled {
		runErr = nil
	}
	return res, runErr
}

// recordEnv captures the execution environment on the task log.
func (c *Components) recordEnv(t *tasklog.TaskLog) {
	t.SetEnv("provider", c.cfg.LLM.Provider)
	t.SetEnv("model_name", c.cfg.LLM.ModelName)
	t.SetEnv("max_turns", c.cfg.Agent.MainAgent.MaxTurns)
	t.SetEnv("max_tool_calls", c.cfg.Agent.MainAgent.MaxToolCalls)
	subs := make([]string, 0, len(c.cfg.Agent.SubAgents))
	for _, sub := range c.cfg.Agent.SubAgents {
		subs = append(subs, sub.Name)
	}
	t.SetEnv("sub_agents", subs)
	servers := make([]string, 0, len(c.cfg.Servers))
	for _, srv := range c.cfg.Servers {
		servers = append(servers, srv.Name)
	}
	t.SetEnv("servers", servers)
	if host, err := os.Hostname(); err == nil {
		t.SetEnv("hostname", host)
	}
	t.SetEnv("go_version", runtime.Version())
	t.SetEnv("os", runtime.GOOS)
}

// recordTrace attaches run outcome details to the task log's trace data.
func (c *Components) recordTrace(ctx context.Context, t *tasklog.TaskLog, out *agent.RunResult, usage models.TokenUsage) {
	if traceID := observability.GetTraceID(ctx); traceID != "" {
		t.SetTrace("trace_id", traceID)
		t.SetTrace("span_id", observability.GetSpanID(ctx))
	}
	if out != nil {
		t.SetTrace("stop_reason", string(out.Stop))
		t.SetTrace("turns", out.Turns)
		t.SetTrace("tool_calls", out.ToolCalls)
	}
	t.SetTrace("token_usage", map[string]any{
		"input_tokens":       usage.InputTokens,
		"output_tokens":      usage.OutputTokens,
		"cache_read_tokens":  usage.CacheReadInputTokens,
		"cache_write_tokens": usage.CacheWriteInputTokens,
	})
}

func sumUsage(clients []llm.Client) models.TokenUsage {
	var total models.TokenUsage
	for _, cl := range clients {
		total.Add(cl.Usage())
	}
	return total
}

// flushContext detaches from the task context so terminal work still runs
// after cancellation, while staying bounded.
func flushContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
}
