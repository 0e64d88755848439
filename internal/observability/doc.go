// Package observability provides metrics, structured logging, and distributed
// tracing for the conductor runtime.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Task execution counts and durations
//   - Agent turns per agent
//   - LLM API request latency and token usage
//   - Tool call performance per server and tool
//   - Cache hit rates
//   - Error rates by component and type
//   - HTTP request/response metrics in serve mode
//   - Run store query performance
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.TaskStarted()
//	defer metrics.TaskEnded("completed", time.Since(start).Seconds())
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", model, "success",
//	    time.Since(start).Seconds(), inputTokens, outputTokens, cacheRead, cacheWrite)
//
//	start = time.Now()
//	// ... call tool ...
//	metrics.RecordToolCall("searcher", "search_web", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic task/agent/server correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Logs default to stderr so that run mode can keep stdout clean for the
// final answer.
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx := observability.AddTaskID(ctx, taskID)
//	ctx = observability.AddAgent(ctx, "main")
//
//	// Structured logging with automatic context correlation
//	logger.Info(ctx, "turn completed",
//	    "turn", turn,
//	    "tool_calls", len(calls),
//	)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "llm request failed",
//	    "error", err,
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track a task across the
// orchestrator, sub-agents, LLM requests, and tool calls. When no collector
// endpoint is configured the tracer is a no-op.
//
// Example usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:  "conductor",
//	    Endpoint:     "localhost:4317",
//	    SamplingRate: 0.1,
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceTask(ctx, taskID, "main")
//	defer span.End()
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", model)
//	defer llmSpan.End()
//
//	ctx, toolSpan := tracer.TraceToolCall(ctx, "searcher", "search_web")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// The active trace and span IDs (GetTraceID, GetSpanID) are recorded in the
// task log artifact so a log file can be joined against the trace backend.
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Testing
//
// All components provide testable interfaces:
//   - Metrics can be verified using NewMetricsWithRegistry with an isolated
//     registry and prometheus/testutil
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works with no-op exporters in tests
package observability
