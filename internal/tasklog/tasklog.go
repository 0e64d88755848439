// Package tasklog accumulates the structured record of one task run: every
// step decision, the full message histories, tool and LLM call details, and
// the final outcome. The log is an explicit value threaded through the
// pipeline's components and serialized to disk exactly once when the run
// ends.
package tasklog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Task terminal states. A task starts as StatusRunning and ends as exactly
// one of the others.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// timestampLayout matches the on-disk format; Save derives the filename
// from it by replacing ':', '.' and ' ' with '-'.
const timestampLayout = "2006-01-02 15:04:05"

// LLMCallLog records the technical details of one LLM request.
type LLMCallLog struct {
	Provider            string `json:"provider"`
	Model               string `json:"model"`
	InputTokens         int64  `json:"input_tokens"`
	OutputTokens        int64  `json:"output_tokens"`
	CacheCreationTokens int64  `json:"cache_creation_tokens"`
	CacheReadTokens     int64  `json:"cache_read_tokens"`
	Error               string `json:"error,omitempty"`
}

// ToolCallLog records one tool execution.
type ToolCallLog struct {
	ServerName string         `json:"server_name"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CallTime   string         `json:"call_time,omitempty"`
}

// StepLog is one entry of the append-only execution trace, the primary
// post-mortem artifact of a run.
type StepLog struct {
	StepName  string         `json:"step_name"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	InfoLevel string         `json:"info_level"`
	Metadata  map[string]any `json:"metadata"`
}

// TaskLog is the root artifact of one task run.
type TaskLog struct {
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time

	Status    string `json:"status"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`

	TaskID           string `json:"task_id"`
	Input            any    `json:"input"`
	FinalBoxedAnswer string `json:"final_boxed_answer"`
	Error            string `json:"error"`

	SubAgentCounter        int    `json:"sub_agent_counter"`
	CurrentSubAgentSession string `json:"current_sub_agent_session_id,omitempty"`

	EnvInfo map[string]any `json:"env_info"`
	LogDir  string         `json:"log_dir"`

	MainAgentMessageHistory        []models.Message            `json:"main_agent_message_history"`
	SubAgentMessageHistorySessions map[string][]models.Message `json:"sub_agent_message_history_sessions"`

	StepLogs  []StepLog      `json:"step_logs"`
	TraceData map[string]any `json:"trace_data"`
}

// New creates a running TaskLog stamped with the current time. The logger
// echoes every step to the process log; nil uses the default logger.
func New(taskID string, input any, logDir string, logger *slog.Logger) *TaskLog {
	if logger == nil {
		logger = slog.Default()
	}
	t := &TaskLog{
		logger:                         logger.With("task_id", taskID),
		now:                            time.Now,
		Status:                         StatusRunning,
		TaskID:                         taskID,
		Input:                          input,
		EnvInfo:                        map[string]any{},
		LogDir:                         logDir,
		SubAgentMessageHistorySessions: map[string][]models.Message{},
		TraceData:                      map[string]any{},
	}
	t.StartTime = t.timestamp()
	return t
}

func (t *TaskLog) timestamp() string {
	return t.now().UTC().Format(timestampLayout)
}

// LogStep appends one step entry and echoes it to the process log. The
// step name is decorated with an icon picked from its content, matching
// the conventions of the rest of the tooling.
func (t *TaskLog) LogStep(level, stepName, message string, metadata map[string]any) {
	decorated := stepIcon(stepName, level) + stepName

	t.mu.Lock()
	t.StepLogs = append(t.StepLogs, StepLog{
		StepName:  decorated,
		Message:   message,
		Timestamp: t.timestamp(),
		InfoLevel: level,
		Metadata:  sanitizeMap(metadata),
	})
	t.mu.Unlock()

	logMsg := decorated + ": " + message
	switch level {
	case "error":
		t.logger.Error(logMsg)
	case "warning":
		t.logger.Warn(logMsg)
	case "debug":
		t.logger.Debug(logMsg)
	default:
		t.logger.Info(logMsg)
	}
}

// stepIcon picks the display icon for a step name. Order matters: the
// first matching rule wins.
func stepIcon(stepName, level string) string {
	lower := strings.ToLower(stepName)
	switch {
	case strings.Contains(stepName, "Tool Call Start"):
		return "▶️ "
	case strings.Contains(stepName, "Tool Call Success"):
		return "✅ "
	case strings.Contains(stepName, "Tool Call Error") || (level == "error" && strings.Contains(lower, "tool")):
		return "❌ "
	case strings.Contains(stepName, "agent-"):
		return "🤖 "
	case strings.Contains(stepName, "Main Agent"):
		return "👑 "
	case strings.Contains(stepName, "LLM"):
		return "🧠 "
	case strings.Contains(stepName, "ToolManager") || strings.Contains(stepName, "Tool Call"):
		return "🔧 "
	case strings.Contains(lower, "tool-python"):
		return "🐍 "
	case strings.Contains(lower, "tool-google-search"):
		return "🔍 "
	case strings.Contains(lower, "tool-browser") || strings.Contains(lower, "playwright"):
		return "🌐 "
	}
	return ""
}

// StartSubAgentSession allocates the next session id for a sub-agent run
// and records its start.
func (t *TaskLog) StartSubAgentSession(subAgentName, subtask string) string {
	t.mu.Lock()
	t.SubAgentCounter++
	sessionID := fmt.Sprintf("%s_%d", subAgentName, t.SubAgentCounter)
	t.CurrentSubAgentSession = sessionID
	t.mu.Unlock()

	t.LogStep("info", subAgentName+" | Session Start",
		fmt.Sprintf("Starting %s for subtask: %s", sessionID, truncate(subtask, 100)),
		map[string]any{"session_id": sessionID, "subtask": subtask})
	return sessionID
}

// EndSubAgentSession records the end of the current sub-agent session.
func (t *TaskLog) EndSubAgentSession(subAgentName string) {
	t.mu.Lock()
	sessionID := t.CurrentSubAgentSession
	t.CurrentSubAgentSession = ""
	t.mu.Unlock()

	t.LogStep("info", subAgentName+" | Session End",
		"Ending "+sessionID,
		map[string]any{"session_id": sessionID})
}

// SetMainHistory replaces the recorded main agent conversation.
func (t *TaskLog) SetMainHistory(history []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.MainAgentMessageHistory = append([]models.Message(nil), history...)
}

// SetSubAgentHistory records the conversation of one sub-agent session.
func (t *TaskLog) SetSubAgentHistory(sessionID string, history []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SubAgentMessageHistorySessions[sessionID] = append([]models.Message(nil), history...)
}

// SetTrace attaches one key of auxiliary trace data.
func (t *TaskLog) SetTrace(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.TraceData[key] = sanitizeValue(value)
}

// SetEnv attaches one key of environment information.
func (t *TaskLog) SetEnv(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.EnvInfo[key] = sanitizeValue(value)
}

// Finish marks the task complete with the given status and answer.
func (t *TaskLog) Finish(status, boxedAnswer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = status
	t.FinalBoxedAnswer = boxedAnswer
	t.EndTime = t.timestamp()
}

// Fail marks the task failed with an error message.
func (t *TaskLog) Fail(errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = StatusError
	t.Error = errMsg
	t.EndTime = t.timestamp()
}

// ToJSON serializes the log, keeping non-ASCII text readable.
func (t *TaskLog) ToJSON() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return nil, fmt.Errorf("serialize task log: %w", err)
	}
	return []byte(buf.String()), nil
}

// Save writes the log as a single JSON file named after the task id and
// start time and returns the path.
func (t *TaskLog) Save() (string, error) {
	if err := os.MkdirAll(t.LogDir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}

	data, err := t.ToJSON()
	if err != nil {
		return "", err
	}

	r := strings.NewReplacer(":", "-", ".", "-", " ", "-")
	filename := filepath.Join(t.LogDir, fmt.Sprintf("task_%s_%s.json", t.TaskID, r.Replace(t.StartTime)))
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return "", fmt.Errorf("write task log: %w", err)
	}
	return filename, nil
}

// sanitizeValue makes a value JSON-serializable, stringifying anything the
// encoder cannot represent.
func sanitizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case error:
		return val.Error()
	case map[string]any:
		return sanitizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprint(v)
	}
	return v
}

func sanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = sanitizeValue(v)
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
