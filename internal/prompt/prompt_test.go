package prompt

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/internal/parser"
	"github.com/haasonsaas/conductor/pkg/models"
)

var testDate = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testServers() []models.ServerTools {
	return []models.ServerTools{
		{
			ServerName: "tool-python",
			Tools: []models.ToolDefinition{
				{
					ServerName:  "tool-python",
					ToolName:    "run_python_code",
					Description: "Execute python code in a sandbox.",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"code":{"type":"string"}}}`),
				},
			},
		},
		{
			ServerName: "search_and_scrape_webpage",
			Tools: []models.ToolDefinition{
				{
					ServerName:  "search_and_scrape_webpage",
					ToolName:    "google_search",
					Description: "Search the web.",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
				},
			},
		},
		{
			ServerName: "broken",
			Err:        "connect refused",
		},
	}
}

func TestSystemPrompt(t *testing.T) {
	got, err := SystemPrompt(testDate, testServers(), AgentMain)
	if err != nil {
		t.Fatalf("SystemPrompt() error = %v", err)
	}

	for _, want := range []string{
		"Today is: 2025-06-01",
		"# Tool-Use Formatting Instructions",
		"<use_mcp_tool>",
		"## Server name: tool-python",
		"### Tool name: run_python_code",
		"Description: Execute python code in a sandbox.",
		`Input JSON schema: {"type":"object","properties":{"code":{"type":"string"}}}`,
		"## Server name: search_and_scrape_webpage",
		"### Tool name: google_search",
		"# General Objective",
		"# Agent Specific Objective",
		"You are a task-solving agent",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}

	if strings.Contains(got, "broken") {
		t.Error("failed server should not appear in catalog")
	}
	if strings.Count(got, "<use_mcp_tool>") != 2 {
		// One in the Usage example opening tag, one in the enclosure
		// description sentence.
		t.Errorf("expected exactly one usage example, got %d occurrences of the opening tag",
			strings.Count(got, "<use_mcp_tool>"))
	}
}

func TestSystemPromptDelegateObjective(t *testing.T) {
	// Every sub-agent name runs the delegate objective, not just the
	// canonical one.
	for _, agent := range []string{AgentBrowsing, "browsing-agent", "agent-math"} {
		got, err := SystemPrompt(testDate, testServers(), agent)
		if err != nil {
			t.Fatalf("SystemPrompt(%q) error = %v", agent, err)
		}
		if !strings.Contains(got, "searching and browsing the web") {
			t.Errorf("agent %q missing delegate objective", agent)
		}
		if strings.Contains(got, "task-solving agent") {
			t.Errorf("agent %q carries the main objective", agent)
		}
	}
}

func TestSystemPromptEmptyAgent(t *testing.T) {
	if _, err := SystemPrompt(testDate, nil, ""); err == nil {
		t.Error("expected error for empty agent name")
	}
}

func TestSystemPromptNoServers(t *testing.T) {
	tests := []struct {
		name    string
		servers []models.ServerTools
	}{
		{name: "nil list", servers: nil},
		{name: "all failed", servers: []models.ServerTools{{ServerName: "x", Err: "boom"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SystemPrompt(testDate, tt.servers, AgentMain)
			if err != nil {
				t.Fatalf("SystemPrompt() error = %v", err)
			}
			if strings.Contains(got, "## Server name:") {
				t.Error("tool catalog should be absent without usable servers")
			}
			if !strings.Contains(got, "Today is: 2025-06-01") {
				t.Error("date line missing")
			}
			if !strings.Contains(got, "# General Objective") {
				t.Error("general objective missing")
			}
		})
	}
}

// The heading forms feed the parser's name-correction index; this pins the
// contract between the two packages.
func TestSystemPromptHeadingsFeedNameIndex(t *testing.T) {
	got, err := SystemPrompt(testDate, testServers(), AgentMain)
	if err != nil {
		t.Fatalf("SystemPrompt() error = %v", err)
	}

	idx := parser.BuildNameIndex(got)
	if idx["run_python_code"] != "tool-python" {
		t.Errorf("index[run_python_code] = %q, want tool-python", idx["run_python_code"])
	}
	if idx["google_search"] != "search_and_scrape_webpage" {
		t.Errorf("index[google_search] = %q, want search_and_scrape_webpage", idx["google_search"])
	}
}

func TestSummarizeInstructionMain(t *testing.T) {
	got, err := SummarizeInstruction(AgentMain, "What is 2+2?")
	if err != nil {
		t.Fatalf("SummarizeInstruction() error = %v", err)
	}

	for _, want := range []string{
		`"What is 2+2?"`,
		`\boxed{}`,
		"FINAL ANSWER",
		"a comma-separated list of numbers and/or strings",
		"If you attempt to call any tool, it will be considered a mistake.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("main summarize missing %q", want)
		}
	}
}

func TestSummarizeInstructionDelegate(t *testing.T) {
	for _, agent := range []string{AgentBrowsing, "agent-math"} {
		got, err := SummarizeInstruction(agent, "Find the launch date.")
		if err != nil {
			t.Fatalf("SummarizeInstruction(%q) error = %v", agent, err)
		}

		for _, want := range []string{
			`"Find the launch date."`,
			"FINAL RESPONSE",
			"structured report",
			"You must NOT initiate any further tool use.",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("agent %q summarize missing %q", agent, want)
			}
		}
		if strings.Contains(got, `\boxed`) {
			t.Errorf("agent %q summarize must not ask for a boxed answer", agent)
		}
	}
}

func TestSummarizeInstructionEmptyAgent(t *testing.T) {
	if _, err := SummarizeInstruction("", "task"); err == nil {
		t.Error("expected error for empty agent name")
	}
}
