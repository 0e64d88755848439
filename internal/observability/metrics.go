package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Task throughput, duration, and turn counts
//   - LLM request performance and token usage
//   - Tool call patterns and latencies per server
//   - Tool result cache effectiveness
//   - Error rates categorized by type and component
//   - HTTP and stream activity in serve mode
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.TaskStarted()
//	defer metrics.TaskEnded("completed", time.Since(start).Seconds())
type Metrics struct {
	// TaskCounter counts finished tasks.
	// Labels: status (completed|failed|canceled)
	TaskCounter *prometheus.CounterVec

	// TaskDuration measures end-to-end task time in seconds.
	// Buckets: 1s .. 2h
	TaskDuration prometheus.Histogram

	// ActiveTasks is a gauge tracking tasks currently executing.
	ActiveTasks prometheus.Gauge

	// TurnCounter counts agent turns by agent name.
	// Labels: agent (main|sub-agent name)
	TurnCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output|cache_read|cache_write)
	LLMTokensUsed *prometheus.CounterVec

	// ToolCallCounter counts tool invocations.
	// Labels: server, tool, status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool call time in seconds.
	// Labels: server, tool
	ToolCallDuration *prometheus.HistogramVec

	// CacheCounter tracks tool result cache outcomes.
	// Labels: backend (memory|redis), outcome (hit|miss|error)
	CacheCounter *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (agent|llm|tools|server|store), error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency in serve mode.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// StreamClients tracks connected event stream consumers.
	// Labels: transport (sse|websocket)
	StreamClients *prometheus.GaugeVec

	// StoreQueryDuration measures run store query latency.
	// Labels: operation (insert|select|delete)
	StoreQueryDuration *prometheus.HistogramVec

	// StoreQueryCounter counts run store queries.
	// Labels: operation, status (success|error)
	StoreQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default
// registry. Call once at startup; they surface at the /metrics endpoint.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers all metrics with the given registerer.
// Tests use this with an isolated registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tasks_total",
				Help: "Total number of finished tasks by status",
			},
			[]string{"status"},
		),

		TaskDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conductor_task_duration_seconds",
				Help:    "End-to-end task duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
			},
		),

		ActiveTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "conductor_active_tasks",
				Help: "Number of tasks currently executing",
			},
		),

		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_turns_total",
				Help: "Total number of agent turns by agent",
			},
			[]string{"agent"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_calls_total",
				Help: "Total number of tool calls by server, tool, and status",
			},
			[]string{"server", "tool", "status"},
		),

		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"server", "tool"},
		),

		CacheCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_cache_total",
				Help: "Tool result cache outcomes by backend",
			},
			[]string{"backend", "outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		StreamClients: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conductor_stream_clients",
				Help: "Connected event stream consumers by transport",
			},
			[]string{"transport"},
		),

		StoreQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_store_query_duration_seconds",
				Help:    "Duration of run store queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		StoreQueryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_store_queries_total",
				Help: "Total number of run store queries",
			},
			[]string{"operation", "status"},
		),
	}
}

// TaskStarted increments the active task gauge.
func (m *Metrics) TaskStarted() {
	m.ActiveTasks.Inc()
}

// TaskEnded decrements the active task gauge and records the final status
// and duration.
func (m *Metrics) TaskEnded(status string, durationSeconds float64) {
	m.ActiveTasks.Dec()
	m.TaskCounter.WithLabelValues(status).Inc()
	m.TaskDuration.Observe(durationSeconds)
}

// RecordTurn increments the turn counter for an agent.
func (m *Metrics) RecordTurn(agent string) {
	m.TurnCounter.WithLabelValues(agent).Inc()
}

// RecordLLMRequest records metrics for one LLM API request including token
// usage deltas.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, input, output, cacheRead, cacheWrite int64) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if input > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(input))
	}
	if output > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(output))
	}
	if cacheRead > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "cache_read").Add(float64(cacheRead))
	}
	if cacheWrite > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "cache_write").Add(float64(cacheWrite))
	}
}

// RecordToolCall records metrics for one tool call.
func (m *Metrics) RecordToolCall(server, tool, status string, durationSeconds float64) {
	m.ToolCallCounter.WithLabelValues(server, tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(server, tool).Observe(durationSeconds)
}

// RecordCache records a tool result cache outcome.
func (m *Metrics) RecordCache(backend, outcome string) {
	m.CacheCounter.WithLabelValues(backend, outcome).Inc()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// StreamClientConnected increments the stream client gauge.
func (m *Metrics) StreamClientConnected(transport string) {
	m.StreamClients.WithLabelValues(transport).Inc()
}

// StreamClientDisconnected decrements the stream client gauge.
func (m *Metrics) StreamClientDisconnected(transport string) {
	m.StreamClients.WithLabelValues(transport).Dec()
}

// RecordStoreQuery records metrics for a run store query.
func (m *Metrics) RecordStoreQuery(operation, status string, durationSeconds float64) {
	m.StoreQueryCounter.WithLabelValues(operation, status).Inc()
	m.StoreQueryDuration.WithLabelValues(operation).Observe(durationSeconds)
}
