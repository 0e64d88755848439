package llm

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/haasonsaas/conductor/pkg/models"
)

func TestAnthropicMessages(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleUser, Content: "the task"},
		{Role: models.RoleAssistant, Content: "thinking then a framed call"},
		{Role: models.RoleUser, Content: "tool result travels as user"},
		{Role: models.RoleTool, Content: "tool role also maps to user"},
	}

	msgs := anthropicMessages(history)

	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}

	wantRoles := []string{"user", "assistant", "user", "user"}
	for i, want := range wantRoles {
		if got := string(msgs[i].Role); got != want {
			t.Errorf("message %d role = %q, want %q", i, got, want)
		}
	}

	// The param unions are opaque; their wire form is not.
	for i, wantText := range []string{"the task", "thinking then a framed call", "tool result travels as user", "tool role also maps to user"} {
		raw, err := json.Marshal(msgs[i])
		if err != nil {
			t.Fatalf("marshal message %d: %v", i, err)
		}
		if !strings.Contains(string(raw), wantText) {
			t.Errorf("message %d wire form %s missing %q", i, raw, wantText)
		}
	}
}

func TestAnthropicMessagesEmpty(t *testing.T) {
	if got := anthropicMessages(nil); len(got) != 0 {
		t.Errorf("anthropicMessages(nil) = %v, want empty", got)
	}
}
