package models

import "fmt"

// TokenUsage accumulates token counts across the LLM calls of one client
// instance. Counters only grow; callers snapshot via value copy.
type TokenUsage struct {
	InputTokens           int64 `json:"total_input_tokens"`
	OutputTokens          int64 `json:"total_output_tokens"`
	CacheReadInputTokens  int64 `json:"total_cache_read_input_tokens"`
	CacheWriteInputTokens int64 `json:"total_cache_write_input_tokens"`
}

// Add folds another usage report into the totals.
func (u *TokenUsage) Add(delta TokenUsage) {
	u.InputTokens += delta.InputTokens
	u.OutputTokens += delta.OutputTokens
	u.CacheReadInputTokens += delta.CacheReadInputTokens
	u.CacheWriteInputTokens += delta.CacheWriteInputTokens
}

// Total returns the sum over all four counters.
func (u TokenUsage) Total() int64 {
	return u.InputTokens + u.OutputTokens + u.CacheReadInputTokens + u.CacheWriteInputTokens
}

// SummaryLines renders the totals for terminal display.
func (u TokenUsage) SummaryLines() []string {
	return []string{
		fmt.Sprintf("Total input tokens: %d", u.InputTokens),
		fmt.Sprintf("Total output tokens: %d", u.OutputTokens),
		fmt.Sprintf("Total cache read input tokens: %d", u.CacheReadInputTokens),
		fmt.Sprintf("Total cache write input tokens: %d", u.CacheWriteInputTokens),
	}
}

// LogLine renders the totals as a single structured log string.
func (u TokenUsage) LogLine() string {
	return fmt.Sprintf("token_usage input=%d output=%d cache_read=%d cache_write=%d",
		u.InputTokens, u.OutputTokens, u.CacheReadInputTokens, u.CacheWriteInputTokens)
}
