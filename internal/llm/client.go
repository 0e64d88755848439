// Package llm provides provider-backed chat completion clients behind a
// single interface. Each client owns one provider connection, accumulates
// token usage across calls, and applies the message retention policy before
// every request. Providers differ in how tool calls travel: Anthropic
// models emit framed calls inline in text, OpenAI-compatible models use
// native function calling unless framing is forced by configuration.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/parser"
	"github.com/haasonsaas/conductor/pkg/models"
)

// RequestTimeout bounds the wall-clock time of a single completion request,
// including retries of retryable failures.
const RequestTimeout = 600 * time.Second

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	defaultMaxTokens  = 4096
)

// Response is the provider-neutral result of one completion.
type Response struct {
	// Content is the full assistant text. For framed-dialect providers any
	// tool calls are still embedded in this text and must be parsed out.
	Content string

	// NativeCalls holds structured tool calls from native function calling.
	// Empty for framed-dialect providers.
	NativeCalls []parser.NativeCall

	// StopReason is the provider's finish reason, normalized to a string.
	StopReason string

	// Usage is the token usage of this single request.
	Usage models.TokenUsage
}

// Client is a chat completion client bound to one provider and model.
type Client interface {
	// CreateMessage runs one completion over the given history. The system
	// prompt travels out of band, never as a history message. tools is only
	// consulted by native-dialect clients; framed-dialect clients expect the
	// tool catalog to already be part of the system prompt.
	CreateMessage(ctx context.Context, systemPrompt string, history []models.Message, tools []models.ServerTools) (*Response, error)

	// Dialect reports how tool calls travel in this client's responses.
	Dialect() parser.Dialect

	// Usage returns the accumulated token usage across all calls.
	Usage() models.TokenUsage

	// FormatTokenUsageSummary renders the accumulated usage as display
	// lines plus a single compact log line.
	FormatTokenUsageSummary() ([]string, string)

	// Close releases provider resources.
	Close() error
}

// New builds a Client from the given configuration. The logger, metrics,
// and tracer are optional; a nil metrics handle disables instrumentation
// and a nil tracer records no spans.
func New(cfg config.LLMConfig, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	switch cfg.Provider {
	case "anthropic":
		return newAnthropicClient(cfg, logger, metrics, tracer)
	case "openai":
		return newOpenAIClient(cfg, logger, metrics, tracer)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}

// formatUsageSummary renders usage the same way for every provider.
func formatUsageSummary(u models.TokenUsage) ([]string, string) {
	header := strings.Repeat("-", 20) + " Token Usage " + strings.Repeat("-", 20)
	lines := append([]string{header}, u.SummaryLines()...)
	lines = append(lines, strings.Repeat("-", len(header)))
	return lines, u.LogLine()
}

// isRetryableError reports whether an API error is worth retrying. Provider
// SDKs surface transient failures with distinct messages rather than typed
// errors, so this matches on the usual substrings.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	retryable := []string{
		"rate limit",
		"rate_limit",
		"429",
		"500",
		"502",
		"503",
		"504",
		"overloaded",
		"timeout",
		"connection reset",
		"temporarily unavailable",
	}
	for _, s := range retryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
