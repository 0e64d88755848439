package config

import "fmt"

// LLMConfig selects and parameterizes the model client.
type LLMConfig struct {
	// Provider is "anthropic" or "openai" (any OpenAI-compatible endpoint).
	Provider  string `yaml:"provider"`
	ModelName string `yaml:"model_name"`

	// Sampling parameters. Zero values are omitted from provider requests.
	Temperature       float64 `yaml:"temperature"`
	TopP              float64 `yaml:"top_p"`
	TopK              int     `yaml:"top_k"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`

	// MaxContextLength caps total context in tokens; 0 leaves pruning to the
	// provider.
	MaxContextLength int `yaml:"max_context_length"`
	MaxTokens        int `yaml:"max_tokens"`

	// KeepToolResult bounds how many full tool results stay in the history
	// sent to the model. -1 disables the rewrite, 0 keeps none. nil means
	// unset (defaults to -1).
	KeepToolResult *int `yaml:"keep_tool_result"`

	// BaseURL overrides the provider endpoint (required for OpenAI-compatible
	// gateways that are not api.openai.com).
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// ForceFramedTools makes the OpenAI-compatible provider use the framed
	// tool-call protocol instead of native function calling. Anthropic always
	// uses the framed protocol.
	ForceFramedTools bool `yaml:"force_framed_tools"`
}

// KeepToolResultValue returns the retention bound, -1 when unset.
func (c LLMConfig) KeepToolResultValue() int {
	if c.KeepToolResult == nil {
		return -1
	}
	return *c.KeepToolResult
}

func (c LLMConfig) validate() error {
	switch c.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider must be one of anthropic, openai (got %q)", c.Provider)
	}
	if c.ModelName == "" {
		return fmt.Errorf("llm.model_name is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens must be positive (got %d)", c.MaxTokens)
	}
	if keep := c.KeepToolResultValue(); keep < -1 {
		return fmt.Errorf("llm.keep_tool_result must be >= -1 (got %d)", keep)
	}
	return nil
}
