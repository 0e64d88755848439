package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/parser"
	"github.com/haasonsaas/conductor/pkg/models"
)

// openaiClient talks to OpenAI-compatible chat completion APIs, including
// self-hosted backends reached through base_url. Tool calls use native
// function calling unless force_framed_tools switches the client to the
// framed dialect for backends that cannot do function calling.
type openaiClient struct {
	client     *openai.Client
	cfg        config.LLMConfig
	dialect    parser.Dialect
	keep       int
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	mu    sync.Mutex
	usage models.TokenUsage
}

func newOpenAIClient(cfg config.LLMConfig, logger *slog.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*openaiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	dialect := parser.DialectNative
	if cfg.ForceFramedTools {
		dialect = parser.DialectFramed
	}

	return &openaiClient{
		client:     openai.NewClientWithConfig(clientCfg),
		cfg:        cfg,
		dialect:    dialect,
		keep:       cfg.KeepToolResultValue(),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		logger:     logger.With("provider", "openai", "model", cfg.ModelName),
		metrics:    metrics,
		tracer:     tracer,
	}, nil
}

func (c *openaiClient) Dialect() parser.Dialect { return c.dialect }

func (c *openaiClient) CreateMessage(ctx context.Context, systemPrompt string, history []models.Message, tools []models.ServerTools) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	retained := ApplyRetention(history, c.keep)

	req := openai.ChatCompletionRequest{
		Model:    c.cfg.ModelName,
		Messages: openaiMessages(systemPrompt, retained),
	}
	if c.cfg.MaxTokens > 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	if c.cfg.Temperature > 0 {
		req.Temperature = float32(c.cfg.Temperature)
	}
	if c.cfg.TopP > 0 {
		req.TopP = float32(c.cfg.TopP)
	}
	if c.dialect == parser.DialectNative {
		req.Tools = openaiTools(tools)
	}

	start := time.Now()
	ctx, span := c.tracer.TraceLLMRequest(ctx, "openai", c.cfg.ModelName)
	defer span.End()

	resp, err := c.callWithRetry(ctx, req)
	if err != nil {
		c.tracer.RecordError(span, err)
		if c.metrics != nil {
			c.metrics.RecordLLMRequest("openai", c.cfg.ModelName, "error", time.Since(start).Seconds(), 0, 0, 0, 0)
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response contained no choices")
	}
	choice := resp.Choices[0]

	var native []parser.NativeCall
	for _, tc := range choice.Message.ToolCalls {
		native = append(native, parser.NativeCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	delta := models.TokenUsage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	if d := resp.Usage.PromptTokensDetails; d != nil {
		delta.CacheReadInputTokens = int64(d.CachedTokens)
	}
	c.mu.Lock()
	c.usage.Add(delta)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordLLMRequest("openai", c.cfg.ModelName, "ok", time.Since(start).Seconds(),
			delta.InputTokens, delta.OutputTokens, delta.CacheReadInputTokens, 0)
	}
	c.logger.Debug("completion finished",
		"finish_reason", string(choice.FinishReason),
		"tool_calls", len(native),
		"input_tokens", delta.InputTokens,
		"output_tokens", delta.OutputTokens)

	return &Response{
		Content:     choice.Message.Content,
		NativeCalls: native,
		StopReason:  string(choice.FinishReason),
		Usage:       delta,
	}, nil
}

func (c *openaiClient) callWithRetry(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("retrying completion", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return openai.ChatCompletionResponse{}, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !isRetryableError(err) {
			return openai.ChatCompletionResponse{}, fmt.Errorf("openai: completion failed: %w", err)
		}
		lastErr = err
	}
	return openai.ChatCompletionResponse{}, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
}

func (c *openaiClient) Usage() models.TokenUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

func (c *openaiClient) FormatTokenUsageSummary() ([]string, string) {
	return formatUsageSummary(c.Usage())
}

func (c *openaiClient) Close() error { return nil }

// openaiMessages converts a history to chat completion messages, injecting
// the system prompt as the leading message.
func openaiMessages(systemPrompt string, history []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range history {
		msg := openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		switch m.Role {
		case models.RoleAssistant:
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      parser.JoinToolName(tc.ServerName, tc.ToolName),
						Arguments: string(args),
					},
				})
			}
		case models.RoleTool:
			msg.ToolCallID = m.ToolCallID
			msg.Name = m.Name
		}
		out = append(out, msg)
	}
	return out
}

// openaiTools flattens per-server tool listings into function definitions.
// Servers that failed discovery are skipped; a tool with an unparseable
// schema degrades to an empty object schema so the rest keep working.
func openaiTools(servers []models.ServerTools) []openai.Tool {
	var out []openai.Tool
	for _, srv := range servers {
		if srv.Err != "" {
			continue
		}
		for _, t := range srv.Tools {
			params := map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
			if len(t.InputSchema) > 0 {
				var schema map[string]any
				if err := json.Unmarshal(t.InputSchema, &schema); err == nil {
					params = schema
				}
			}
			out = append(out, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        parser.JoinToolName(srv.ServerName, t.ToolName),
					Description: t.Description,
					Parameters:  params,
				},
			})
		}
	}
	return out
}
