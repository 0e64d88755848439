package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/conductor/internal/llm"
	"github.com/haasonsaas/conductor/internal/prompt"
	"github.com/haasonsaas/conductor/pkg/models"
)

// Generator produces the final answer for an agent once its turn loop has
// terminated.
type Generator struct {
	client llm.Client
	logger *slog.Logger
}

func NewGenerator(client llm.Client, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, logger: logger}
}

// Summarize appends the agent's summarize instruction to the history and
// runs one completion with tools disabled. It returns the response text and
// the extended history including the summary exchange, so callers can
// persist the full conversation.
func (g *Generator) Summarize(ctx context.Context, agent, taskDescription, systemPrompt string, history []models.Message) (string, []models.Message, error) {
	instruction, err := prompt.SummarizeInstruction(agent, taskDescription)
	if err != nil {
		return "", history, err
	}

	extended := make([]models.Message, len(history), len(history)+2)
	copy(extended, history)
	extended = append(extended, models.Message{Role: models.RoleUser, Content: instruction})

	resp, err := g.client.CreateMessage(ctx, systemPrompt, extended, nil)
	if err != nil {
		return "", extended, fmt.Errorf("summarize call failed: %w", err)
	}

	extended = append(extended, models.Message{Role: models.RoleAssistant, Content: resp.Content})
	g.logger.Debug("summary generated", "agent", agent, "chars", len(resp.Content))
	return resp.Content, extended, nil
}

// Final is the outcome of the main agent's answer generation.
type Final struct {
	// Text is the complete final response.
	Text string

	// Boxed is the extracted answer, or FormatErrorMessage when Text is
	// non-empty but contains no usable \boxed{...}.
	Boxed string

	// Summary is the banner-formatted display block including token usage.
	Summary string

	// LogLine is the compact token usage line for structured logs.
	LogLine string

	// History includes the summary exchange appended to the input history.
	History []models.Message
}

// Generate runs the main agent's summarize call and resolves the boxed
// answer from its response.
func (g *Generator) Generate(ctx context.Context, taskDescription, systemPrompt string, history []models.Message) (*Final, error) {
	text, extended, err := g.Summarize(ctx, prompt.AgentMain, taskDescription, systemPrompt, history)
	if err != nil {
		return nil, err
	}

	summary, boxed, logLine := FormatFinalSummary(text, g.client)
	return &Final{
		Text:    text,
		Boxed:   boxed,
		Summary: summary,
		LogLine: logLine,
		History: extended,
	}, nil
}

// FormatFinalSummary renders the terminal summary block for a final
// response and resolves its boxed answer. A response with text but no
// usable boxed content resolves to FormatErrorMessage; an empty response
// resolves to "".
func FormatFinalSummary(finalText string, client llm.Client) (summary, boxed, logLine string) {
	var lines []string
	lines = append(lines, "\n"+strings.Repeat("=", 30)+" Final Answer "+strings.Repeat("=", 30))
	lines = append(lines, finalText)

	boxed = ExtractBoxed(finalText)

	lines = append(lines, "\n"+strings.Repeat("-", 20)+" Extracted Result "+strings.Repeat("-", 20))
	switch {
	case boxed != "":
		lines = append(lines, boxed)
	case finalText != "":
		lines = append(lines, "No \\boxed{} content found.")
		boxed = FormatErrorMessage
	}

	if client != nil {
		usageLines, log := client.FormatTokenUsageSummary()
		lines = append(lines, usageLines...)
		logLine = log
	} else {
		header := strings.Repeat("-", 20) + " Token Usage " + strings.Repeat("-", 20)
		lines = append(lines, "\n"+header, "Token usage information not available.", strings.Repeat("-", len(header)))
		logLine = "Token usage information not available."
	}

	return strings.Join(lines, "\n"), boxed, logLine
}
