package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/parser"
	"github.com/haasonsaas/conductor/pkg/models"
)

// anthropicClient talks to the Anthropic Messages API. Tool calls travel as
// framed XML inside the response text, so the client never sends native tool
// definitions; the catalog lives in the system prompt instead.
type anthropicClient struct {
	client     anthropic.Client
	cfg        config.LLMConfig
	keep       int
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	mu    sync.Mutex
	usage models.TokenUsage
}

func newAnthropicClient(cfg config.LLMConfig, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*anthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicClient{
		client:     anthropic.NewClient(opts...),
		cfg:        cfg,
		keep:       cfg.KeepToolResultValue(),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		logger:     logger.With("provider", "anthropic", "model", cfg.ModelName),
		metrics:    metrics,
		tracer:     tracer,
	}, nil
}

func (c *anthropicClient) Dialect() parser.Dialect { return parser.DialectFramed }

func (c *anthropicClient) CreateMessage(ctx context.Context, systemPrompt string, history []models.Message, tools []models.ServerTools) (*Response, error) {
	_ = tools // framed dialect: the catalog is already part of the system prompt

	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	retained := ApplyRetention(history, c.keep)

	maxTokens := int64(c.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.ModelName),
		Messages:  anthropicMessages(retained),
		MaxTokens: maxTokens,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: systemPrompt,
			},
		}
	}
	if c.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(c.cfg.Temperature)
	}
	if c.cfg.TopP > 0 {
		params.TopP = anthropic.Float(c.cfg.TopP)
	}
	if c.cfg.TopK > 0 {
		params.TopK = anthropic.Int(int64(c.cfg.TopK))
	}

	start := time.Now()
	ctx, span := c.tracer.TraceLLMRequest(ctx, "anthropic", c.cfg.ModelName)
	defer span.End()

	msg, err := c.callWithRetry(ctx, params)
	if err != nil {
		c.tracer.RecordError(span, err)
		if c.metrics != nil {
			c.metrics.RecordLLMRequest("anthropic", c.cfg.ModelName, "error", time.Since(start).Seconds(), 0, 0, 0, 0)
		}
		return nil, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	delta := models.TokenUsage{
		InputTokens:           msg.Usage.InputTokens,
		OutputTokens:          msg.Usage.OutputTokens,
		CacheReadInputTokens:  msg.Usage.CacheReadInputTokens,
		CacheWriteInputTokens: msg.Usage.CacheCreationInputTokens,
	}
	c.mu.Lock()
	c.usage.Add(delta)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordLLMRequest("anthropic", c.cfg.ModelName, "ok", time.Since(start).Seconds(),
			delta.InputTokens, delta.OutputTokens, delta.CacheReadInputTokens, delta.CacheWriteInputTokens)
	}
	c.logger.Debug("completion finished",
		"stop_reason", string(msg.StopReason),
		"input_tokens", delta.InputTokens,
		"output_tokens", delta.OutputTokens)

	return &Response{
		Content:    text.String(),
		StopReason: string(msg.StopReason),
		Usage:      delta,
	}, nil
}

func (c *anthropicClient) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying completion", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		msg, err := c.client.Messages.New(ctx, params)
		if err == nil {
			return msg, nil
		}
		if !isRetryableError(err) {
			return nil, fmt.Errorf("anthropic: completion failed: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("anthropic: max retries exceeded: %w", lastErr)
}

func (c *anthropicClient) Usage() models.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *anthropicClient) FormatTokenUsageSummary() ([]string, string) {
	return formatUsageSummary(c.Usage())
}

func (c *anthropicClient) Close() error { return nil }

// anthropicMessages converts a conversation history to the Messages API
// shape. Tool results travel as user turns in the framed dialect, so only
// the assistant role needs special handling.
func anthropicMessages(history []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out
}
