package llm

import "github.com/haasonsaas/conductor/pkg/models"

// OmittedToolResult replaces tool results dropped by the retention policy.
const OmittedToolResult = "Tool result is omitted to save tokens."

// ApplyRetention returns a copy of history with old tool results rewritten
// to a placeholder so long conversations stay inside the context window.
// keep is the number of most recent tool-result messages to preserve: -1
// disables the rewrite entirely and 0 keeps none. The first user message
// carries the task itself and is never rewritten; assistant messages are
// left untouched so the model keeps its own reasoning.
func ApplyRetention(history []models.Message, keep int) []models.Message {
	out := make([]models.Message, len(history))
	copy(out, history)
	if keep < 0 {
		return out
	}

	// Tool results arrive either as dedicated tool messages or as user
	// messages following an assistant turn, depending on the dialect.
	var resultIdx []int
	seenFirstUser := false
	for i, m := range out {
		if m.Role != models.RoleUser && m.Role != models.RoleTool {
			continue
		}
		if !seenFirstUser {
			seenFirstUser = true
			continue
		}
		resultIdx = append(resultIdx, i)
	}
	if len(resultIdx) == 0 {
		return out
	}

	kept := keep
	if kept > len(resultIdx) {
		kept = len(resultIdx)
	}
	for _, i := range resultIdx[:len(resultIdx)-kept] {
		out[i].Content = OmittedToolResult
	}
	return out
}
