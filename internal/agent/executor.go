package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/pkg/models"
)

// ExecutorConfig configures tool dispatch behavior: how many calls of one
// assistant turn may run at once and how transport-level failures are
// retried.
type ExecutorConfig struct {
	// MaxConcurrency limits parallel dispatch of the calls emitted in one
	// assistant turn. Result order always matches call order regardless.
	// Default: 1 (sequential).
	MaxConcurrency int

	// MaxRetries is the number of additional attempts after a transport
	// failure. Tool-level errors are never retried; the model is expected
	// to see them.
	// Default: 2
	MaxRetries int

	// RetryBackoff is the initial backoff between attempts.
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff.
	// Default: 5s
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns the default executor configuration.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  1,
		MaxRetries:      2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

func sanitizeExecutorConfig(config *ExecutorConfig) *ExecutorConfig {
	if config == nil {
		return DefaultExecutorConfig()
	}
	cfg := *config
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = 5 * time.Second
	}
	return &cfg
}

// Dispatcher routes one tool call to its server and reports the outcome as
// data. The tool manager is the production implementation.
type Dispatcher interface {
	ExecuteToolCall(ctx context.Context, call models.ToolCall) models.ToolResult
}

// Executor runs tool calls through a Dispatcher with panic isolation,
// transport retries, and optional bounded parallelism within a turn.
type Executor struct {
	dispatcher Dispatcher
	config     *ExecutorConfig
	logger     *slog.Logger
	tracer     *observability.Tracer

	// Semaphore for concurrency limiting.
	sem chan struct{}

	metrics ExecutorMetrics
}

// ExecutorMetrics tracks dispatch counts since the executor was created.
type ExecutorMetrics struct {
	mu              sync.Mutex
	TotalDispatches int64
	TotalRetries    int64
	TotalFailures   int64
	TotalPanics     int64
}

// NewExecutor creates an executor over the given dispatcher. A nil config
// uses DefaultExecutorConfig; a nil tracer records no spans.
func NewExecutor(dispatcher Dispatcher, config *ExecutorConfig, logger *slog.Logger, tracer *observability.Tracer) *Executor {
	config = sanitizeExecutorConfig(config)
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &Executor{
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
		tracer:     tracer,
		sem:        make(chan struct{}, config.MaxConcurrency),
	}
}

// Concurrency returns the maximum parallel dispatch width.
func (e *Executor) Concurrency() int {
	return e.config.MaxConcurrency
}

// ExecuteAll runs every call and returns one result per call in the same
// order. Calls run in parallel up to the configured concurrency; with the
// default width of 1 execution is strictly sequential in emitted order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := make([]models.ToolResult, len(calls))
	if e.config.MaxConcurrency <= 1 || len(calls) == 1 {
		for i, call := range calls {
			results[i] = e.Execute(ctx, call)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs a single call, retrying transport failures with exponential
// backoff. Tool-level failures come back as error results on the first
// attempt; they are conversation data, not something to hide behind
// retries.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) (res models.ToolResult) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return models.ToolResult{
			ServerName: call.ServerName,
			ToolName:   call.ToolName,
			Error:      "Tool execution failed: " + ctx.Err().Error(),
		}
	}

	ctx, span := e.tracer.TraceToolCall(ctx, call.ServerName, call.ToolName)
	defer func() {
		if res.Failed() {
			e.tracer.RecordError(span, errors.New(res.Error))
		}
		span.End()
	}()

	backoff := e.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		res = e.dispatch(ctx, call)

		e.metrics.mu.Lock()
		e.metrics.TotalDispatches++
		if res.Failed() {
			e.metrics.TotalFailures++
		}
		e.metrics.mu.Unlock()

		if !res.Failed() || !isTransportFailure(res.Error) {
			return res
		}
		if attempt >= e.config.MaxRetries || ctx.Err() != nil {
			return res
		}

		e.metrics.mu.Lock()
		e.metrics.TotalRetries++
		e.metrics.mu.Unlock()
		e.logger.Warn("retrying tool call after transport failure",
			"server", call.ServerName, "tool", call.ToolName,
			"attempt", attempt+1, "error", res.Error)

		sleep := backoff * time.Duration(1<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return res
		}
	}
}

// dispatch invokes the dispatcher with panic isolation. A panicking
// transport turns into a failed result so the run stays alive.
func (e *Executor) dispatch(ctx context.Context, call models.ToolCall) (res models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.mu.Lock()
			e.metrics.TotalPanics++
			e.metrics.mu.Unlock()
			e.logger.Error("tool dispatch panicked",
				"server", call.ServerName, "tool", call.ToolName,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			res = models.ToolResult{
				ServerName: call.ServerName,
				ToolName:   call.ToolName,
				Error:      fmt.Sprintf("Tool execution failed: panic: %v", r),
			}
		}
	}()
	return e.dispatcher.ExecuteToolCall(ctx, call)
}

// Metrics returns a copy-safe snapshot of the dispatch counters.
func (e *Executor) Metrics() ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return ExecutorMetricsSnapshot{
		TotalDispatches: e.metrics.TotalDispatches,
		TotalRetries:    e.metrics.TotalRetries,
		TotalFailures:   e.metrics.TotalFailures,
		TotalPanics:     e.metrics.TotalPanics,
	}
}

// ExecutorMetricsSnapshot is a point-in-time copy of the dispatch counters.
type ExecutorMetricsSnapshot struct {
	TotalDispatches int64
	TotalRetries    int64
	TotalFailures   int64
	TotalPanics     int64
}

// isTransportFailure reports whether a result error describes a session or
// connection problem rather than the tool itself failing. Only these are
// worth a retry.
func isTransportFailure(errMsg string) bool {
	return strings.HasPrefix(errMsg, "MCP session error:")
}
