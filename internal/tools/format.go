package tools

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/haasonsaas/conductor/pkg/models"
)

// MaxResultChars bounds how much tool output is carried back into the
// conversation. Roughly 25k tokens.
const MaxResultChars = 100_000

// TruncationNotice is appended when a result is cut at MaxResultChars.
const TruncationNotice = "\n... [Result truncated]"

// FormatResultForUser renders one tool result as the text spliced into the
// conversation as the tool's output. Failures become a concise error line,
// oversized results are truncated, and empty output becomes a fixed sentinel
// so the history never carries an empty message.
func FormatResultForUser(res *models.ToolResult) string {
	if res.Failed() {
		return fmt.Sprintf("Tool call to %s on %s failed. Error: %s", res.ToolName, res.ServerName, res.Error)
	}

	content := res.Result
	if utf8.RuneCountInString(content) > MaxResultChars {
		content = string([]rune(content)[:MaxResultChars]) + TruncationNotice
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Sprintf("Tool call to %s on %s completed, but produced no specific output or result.", res.ToolName, res.ServerName)
	}
	return content
}
