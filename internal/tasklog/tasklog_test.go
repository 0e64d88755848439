package tasklog

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

func newTestLog(taskID string) *TaskLog {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(taskID, "what is 2+2?", "logs", logger)
}

func TestNewTaskLog(t *testing.T) {
	tl := newTestLog("t-1")

	if tl.Status != StatusRunning {
		t.Errorf("status = %q, want %q", tl.Status, StatusRunning)
	}
	if tl.TaskID != "t-1" {
		t.Errorf("task id = %q", tl.TaskID)
	}
	if _, err := time.Parse(timestampLayout, tl.StartTime); err != nil {
		t.Errorf("start time %q does not match layout: %v", tl.StartTime, err)
	}
	if tl.EndTime != "" {
		t.Errorf("end time = %q, want empty", tl.EndTime)
	}
}

func TestStepIcon(t *testing.T) {
	tests := []struct {
		stepName string
		level    string
		want     string
	}{
		{"ToolManager | Tool Call Start", "info", "▶️ "},
		{"ToolManager | Tool Call Success", "info", "✅ "},
		{"ToolManager | Tool Call Error", "error", "❌ "},
		{"tool execution", "error", "❌ "},
		{"agent-browsing | Session Start", "info", "🤖 "},
		{"Main Agent | Turn 1", "info", "👑 "},
		{"Main Agent LLM Call", "info", "👑 "},
		{"LLM Call", "info", "🧠 "},
		{"ToolManager | startup", "info", "🔧 "},
		{"server tool-python ready", "info", "🐍 "},
		{"server tool-google-search ready", "info", "🔍 "},
		{"server tool-browser ready", "info", "🌐 "},
		{"playwright session", "info", "🌐 "},
		{"Pipeline Start", "info", ""},
	}

	for _, tt := range tests {
		t.Run(tt.stepName, func(t *testing.T) {
			if got := stepIcon(tt.stepName, tt.level); got != tt.want {
				t.Errorf("stepIcon(%q, %q) = %q, want %q", tt.stepName, tt.level, got, tt.want)
			}
		})
	}
}

func TestLogStep(t *testing.T) {
	tl := newTestLog("t-1")

	tl.LogStep("info", "Main Agent | Turn 1", "starting turn", map[string]any{"turn": 1})
	tl.LogStep("error", "ToolManager | Tool Call Error", "failed", map[string]any{
		"err": errors.New("boom"),
	})

	if len(tl.StepLogs) != 2 {
		t.Fatalf("got %d steps, want 2", len(tl.StepLogs))
	}

	first := tl.StepLogs[0]
	if first.StepName != "👑 Main Agent | Turn 1" {
		t.Errorf("step name = %q", first.StepName)
	}
	if first.InfoLevel != "info" || first.Message != "starting turn" {
		t.Errorf("step = %+v", first)
	}
	if first.Metadata["turn"] != 1 {
		t.Errorf("metadata = %v", first.Metadata)
	}

	// Error values in metadata are stringified for serialization.
	second := tl.StepLogs[1]
	if second.Metadata["err"] != "boom" {
		t.Errorf("error metadata = %#v", second.Metadata["err"])
	}
}

func TestSubAgentSessions(t *testing.T) {
	tl := newTestLog("t-1")

	s1 := tl.StartSubAgentSession("agent-browsing", "find the population of Oslo")
	if s1 != "agent-browsing_1" {
		t.Errorf("first session id = %q", s1)
	}
	if tl.CurrentSubAgentSession != s1 {
		t.Errorf("current session = %q", tl.CurrentSubAgentSession)
	}

	tl.SetSubAgentHistory(s1, []models.Message{
		{Role: models.RoleUser, Content: "subtask"},
	})
	tl.EndSubAgentSession("agent-browsing")
	if tl.CurrentSubAgentSession != "" {
		t.Errorf("current session after end = %q", tl.CurrentSubAgentSession)
	}

	s2 := tl.StartSubAgentSession("agent-browsing", "second subtask")
	if s2 != "agent-browsing_2" {
		t.Errorf("second session id = %q", s2)
	}

	if len(tl.SubAgentMessageHistorySessions[s1]) != 1 {
		t.Errorf("session %s history = %v", s1, tl.SubAgentMessageHistorySessions[s1])
	}
}

func TestSubAgentSessionTruncatesSubtask(t *testing.T) {
	tl := newTestLog("t-1")

	long := strings.Repeat("x", 150)
	tl.StartSubAgentSession("agent-browsing", long)

	step := tl.StepLogs[len(tl.StepLogs)-1]
	if !strings.Contains(step.Message, strings.Repeat("x", 100)+"...") {
		t.Errorf("message not truncated: %q", step.Message)
	}
	if strings.Contains(step.Message, strings.Repeat("x", 101)) {
		t.Errorf("message carries more than 100 chars of subtask: %q", step.Message)
	}
	// Full subtask still lives in metadata.
	if step.Metadata["subtask"] != long {
		t.Errorf("metadata subtask truncated")
	}
}

func TestFinishAndFail(t *testing.T) {
	tl := newTestLog("t-1")
	tl.Finish(StatusSuccess, "42")
	if tl.Status != StatusSuccess || tl.FinalBoxedAnswer != "42" || tl.EndTime == "" {
		t.Errorf("after Finish: %+v", tl)
	}

	tl2 := newTestLog("t-2")
	tl2.Fail("llm unreachable")
	if tl2.Status != StatusError || tl2.Error != "llm unreachable" || tl2.EndTime == "" {
		t.Errorf("after Fail: status=%q error=%q end=%q", tl2.Status, tl2.Error, tl2.EndTime)
	}
}

func TestToJSON(t *testing.T) {
	tl := newTestLog("t-1")
	tl.SetMainHistory([]models.Message{
		{Role: models.RoleUser, Content: "how many 中文 characters?"},
	})
	tl.SetEnv("hostname", "runner-1")
	tl.SetTrace("turns", 3)
	tl.Finish(StatusSuccess, "<two>")

	data, err := tl.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	for _, key := range []string{
		"status", "start_time", "end_time", "task_id", "input",
		"final_boxed_answer", "error", "env_info", "log_dir",
		"main_agent_message_history", "sub_agent_message_history_sessions",
		"step_logs", "trace_data",
	} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("serialized log missing key %q", key)
		}
	}

	// Non-ASCII must stay readable, and HTML escaping stays off.
	if !strings.Contains(string(data), "中文") {
		t.Error("non-ASCII text was escaped")
	}
	if !strings.Contains(string(data), "<two>") {
		t.Error("angle brackets were escaped")
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	tl := newTestLog("gaia-042")
	tl.LogDir = dir
	tl.StartTime = "2025-03-14 09:26:53"
	tl.Finish(StatusSuccess, "42")

	path, err := tl.Save()
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	want := filepath.Join(dir, "task_gaia-042_2025-03-14-09-26-53.json")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved log: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("saved log is not valid JSON: %v", err)
	}
	if decoded["final_boxed_answer"] != "42" {
		t.Errorf("final_boxed_answer = %v", decoded["final_boxed_answer"])
	}
}

func TestSaveCreatesLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	tl := newTestLog("t-1")
	tl.LogDir = dir

	if _, err := tl.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("log dir not created: %v", err)
	}
}

func TestSanitizeValue(t *testing.T) {
	if got := sanitizeValue(errors.New("kaput")); got != "kaput" {
		t.Errorf("error sanitized to %#v", got)
	}
	if got := sanitizeValue(make(chan int)); got == nil {
		t.Error("channel sanitized to nil")
	} else if _, ok := got.(string); !ok {
		t.Errorf("channel sanitized to %T, want string", got)
	}
	if got := sanitizeValue(nil); got != nil {
		t.Errorf("nil sanitized to %#v", got)
	}
	if got := sanitizeValue(map[string]any{"inner": errors.New("x")}); got.(map[string]any)["inner"] != "x" {
		t.Errorf("nested error sanitized to %#v", got)
	}
	if got := sanitizeValue([]any{errors.New("y")}); got.([]any)[0] != "y" {
		t.Errorf("error in slice sanitized to %#v", got)
	}
	if got := sanitizeValue(42); got != 42 {
		t.Errorf("int sanitized to %#v", got)
	}
}
