package parser

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestExtractText(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "no frame returns whole content",
			content: "  The answer is 42.  ",
			want:    "The answer is 42.",
		},
		{
			name:    "content before frame",
			content: "Let me check.\n\n<use_mcp_tool>\n<server_name>calc</server_name>\n<tool_name>add</tool_name>\n<arguments>{}</arguments>\n</use_mcp_tool>",
			want:    "Let me check.",
		},
		{
			name:    "frame at start yields empty",
			content: "<use_mcp_tool><server_name>a</server_name><tool_name>b</tool_name><arguments>{}</arguments></use_mcp_tool>",
			want:    "",
		},
		{
			name:    "empty content",
			content: "",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractText(tt.content); got != tt.want {
				t.Errorf("ExtractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractThink(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "no think block",
			content: "plain answer",
			want:    "",
		},
		{
			name:    "single block",
			content: "<think>\nreasoning here\n</think>\nanswer",
			want:    "reasoning here",
		},
		{
			name:    "first block wins",
			content: "<think>one</think> mid <think>two</think>",
			want:    "one",
		},
		{
			name:    "multiline body",
			content: "<think>line one\nline two</think>",
			want:    "line one\nline two",
		},
		{
			name:    "unterminated block ignored",
			content: "<think>never closed",
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractThink(tt.content); got != tt.want {
				t.Errorf("ExtractThink() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractSummary(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "empty",
			content: "",
			want:    "",
		},
		{
			name:    "content only",
			content: "the findings",
			want:    "the findings",
		},
		{
			name:    "think then content",
			content: "<think>hmm</think>\n\nthe findings",
			want:    "the findings",
		},
		{
			name:    "content empty falls back to think",
			content: "<think>only reasoning</think>\n\n",
			want:    "only reasoning",
		},
		{
			name:    "frame stripped from content",
			content: "<think>hmm</think>\nfindings\n<use_mcp_tool>...</use_mcp_tool>",
			want:    "findings",
		},
		{
			name:    "only a frame falls back to think",
			content: "<think>plan</think><use_mcp_tool>...</use_mcp_tool>",
			want:    "plan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractSummary(tt.content); got != tt.want {
				t.Errorf("ExtractSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFramedToolCalls(t *testing.T) {
	t.Run("single call", func(t *testing.T) {
		content := `I'll search for that.

<use_mcp_tool>
<server_name>search</server_name>
<tool_name>google_search</tool_name>
<arguments>
{"q": "golang context", "num": 5}
</arguments>
</use_mcp_tool>`

		calls := ParseFramedToolCalls(content)
		if len(calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(calls))
		}
		if calls[0].ServerName != "search" {
			t.Errorf("ServerName = %q", calls[0].ServerName)
		}
		if calls[0].ToolName != "google_search" {
			t.Errorf("ToolName = %q", calls[0].ToolName)
		}
		if calls[0].Arguments["q"] != "golang context" {
			t.Errorf("Arguments[q] = %v", calls[0].Arguments["q"])
		}
		if calls[0].Arguments["num"] != float64(5) {
			t.Errorf("Arguments[num] = %v", calls[0].Arguments["num"])
		}
	})

	t.Run("multiple calls keep order", func(t *testing.T) {
		content := `<use_mcp_tool><server_name>s1</server_name><tool_name>t1</tool_name><arguments>{"i": 1}</arguments></use_mcp_tool>
between
<use_mcp_tool><server_name>s2</server_name><tool_name>t2</tool_name><arguments>{"i": 2}</arguments></use_mcp_tool>`

		calls := ParseFramedToolCalls(content)
		if len(calls) != 2 {
			t.Fatalf("expected 2 calls, got %d", len(calls))
		}
		if calls[0].ToolName != "t1" || calls[1].ToolName != "t2" {
			t.Errorf("order not preserved: %v, %v", calls[0].ToolName, calls[1].ToolName)
		}
	})

	t.Run("no frames", func(t *testing.T) {
		if calls := ParseFramedToolCalls("just prose"); calls != nil {
			t.Errorf("expected nil, got %v", calls)
		}
	})

	t.Run("unparseable arguments preserved as error object", func(t *testing.T) {
		content := `<use_mcp_tool><server_name>s</server_name><tool_name>t</tool_name><arguments>not json at all {{{</arguments></use_mcp_tool>`
		calls := ParseFramedToolCalls(content)
		if len(calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(calls))
		}
		if calls[0].Arguments["error"] != "Failed to parse arguments" {
			t.Errorf("Arguments[error] = %v", calls[0].Arguments["error"])
		}
		if calls[0].Arguments["raw"] != "not json at all {{{" {
			t.Errorf("Arguments[raw] = %v", calls[0].Arguments["raw"])
		}
	})

	t.Run("empty arguments", func(t *testing.T) {
		content := `<use_mcp_tool><server_name>s</server_name><tool_name>t</tool_name><arguments></arguments></use_mcp_tool>`
		calls := ParseFramedToolCalls(content)
		if len(calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(calls))
		}
		if len(calls[0].Arguments) != 0 {
			t.Errorf("expected empty arguments, got %v", calls[0].Arguments)
		}
	})

	t.Run("code in arguments with embedded braces", func(t *testing.T) {
		content := `<use_mcp_tool>
<server_name>tool-python</server_name>
<tool_name>run_python_code</tool_name>
<arguments>
{"code": "d = {'a': 1}\nprint(d)"}
</arguments>
</use_mcp_tool>`
		calls := ParseFramedToolCalls(content)
		if len(calls) != 1 {
			t.Fatalf("expected 1 call, got %d", len(calls))
		}
		if _, ok := calls[0].Arguments["code"]; !ok {
			t.Errorf("expected code argument, got %v", calls[0].Arguments)
		}
	})
}

func TestParseNativeToolCalls(t *testing.T) {
	tests := []struct {
		name       string
		raw        []NativeCall
		wantServer string
		wantTool   string
	}{
		{
			name:       "split on last dash",
			raw:        []NativeCall{{ID: "c1", Name: "search-server-google_search", Arguments: `{"q":"x"}`}},
			wantServer: "search-server",
			wantTool:   "google_search",
		},
		{
			name:       "no dash falls back to unknown",
			raw:        []NativeCall{{ID: "c2", Name: "google_search", Arguments: `{}`}},
			wantServer: UnknownServer,
			wantTool:   "google_search",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := ParseNativeToolCalls(tt.raw)
			if len(calls) != 1 {
				t.Fatalf("expected 1 call, got %d", len(calls))
			}
			if calls[0].ServerName != tt.wantServer {
				t.Errorf("ServerName = %q, want %q", calls[0].ServerName, tt.wantServer)
			}
			if calls[0].ToolName != tt.wantTool {
				t.Errorf("ToolName = %q, want %q", calls[0].ToolName, tt.wantTool)
			}
			if calls[0].ID == "" {
				t.Error("expected call ID to survive")
			}
		})
	}

	t.Run("empty input", func(t *testing.T) {
		if calls := ParseNativeToolCalls(nil); calls != nil {
			t.Errorf("expected nil, got %v", calls)
		}
	})

	t.Run("null arguments dropped", func(t *testing.T) {
		calls := ParseNativeToolCalls([]NativeCall{
			{ID: "c", Name: "s-t", Arguments: `{"q": "go", "filter": null}`},
		})
		if _, ok := calls[0].Arguments["filter"]; ok {
			t.Error("null-valued key should be filtered")
		}
		if calls[0].Arguments["q"] != "go" {
			t.Errorf("Arguments[q] = %v", calls[0].Arguments["q"])
		}
	})
}

const sampleSystemPrompt = `You are an agent.

## Server name: tool-python
### Tool name: run_python_code
Description: Run python code.
Input JSON schema: {"type":"object"}

## Server name: search_and_scrape_webpage
### Tool name: google_search
Description: Search the web.
Input JSON schema: {"type":"object"}
### Tool name: scrape_and_extract_info
Description: Scrape a page.
Input JSON schema: {"type":"object"}

## Server name: misc
### Tool name: do_other_thing
Description: Not correctable.
Input JSON schema: {"type":"object"}
`

func TestBuildNameIndex(t *testing.T) {
	idx := BuildNameIndex(sampleSystemPrompt)

	want := NameIndex{
		"run_python_code":         "tool-python",
		"google_search":           "search_and_scrape_webpage",
		"scrape_and_extract_info": "search_and_scrape_webpage",
	}
	if !reflect.DeepEqual(idx, want) {
		t.Errorf("BuildNameIndex() = %v, want %v", idx, want)
	}
}

func TestBuildNameIndexIgnoresOrphanTools(t *testing.T) {
	idx := BuildNameIndex("### Tool name: google_search\n## Server name: s\n")
	if len(idx) != 0 {
		t.Errorf("tool heading before any server should be ignored, got %v", idx)
	}
}

func TestCorrectFrames(t *testing.T) {
	idx := BuildNameIndex(sampleSystemPrompt)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "python renamed to run_python_code",
			in:   "<server_name>tool-python</server_name>\n<tool_name>python</tool_name>",
			want: "<server_name>tool-python</server_name>\n<tool_name>run_python_code</tool_name>",
		},
		{
			name: "python_code renamed too",
			in:   "<server_name>tool-python</server_name>\n<tool_name>python_code</tool_name>",
			want: "<server_name>tool-python</server_name>\n<tool_name>run_python_code</tool_name>",
		},
		{
			name: "wrong server replaced",
			in:   "<server_name>browser</server_name>\n<tool_name>google_search</tool_name>",
			want: "<server_name>search_and_scrape_webpage</server_name>\n<tool_name>google_search</tool_name>",
		},
		{
			name: "correct server untouched",
			in:   "<server_name>search_and_scrape_webpage</server_name>\n<tool_name>google_search</tool_name>",
			want: "<server_name>search_and_scrape_webpage</server_name>\n<tool_name>google_search</tool_name>",
		},
		{
			name: "non-correctable tool untouched",
			in:   "<server_name>wrong</server_name>\n<tool_name>do_other_thing</tool_name>",
			want: "<server_name>wrong</server_name>\n<tool_name>do_other_thing</tool_name>",
		},
		{
			name: "prose untouched",
			in:   "no frames here",
			want: "no frames here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := idx.CorrectFrames(tt.in); got != tt.want {
				t.Errorf("CorrectFrames() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCorrectFramesEmptyIndex(t *testing.T) {
	in := "<server_name>x</server_name><tool_name>google_search</tool_name>"
	if got := (NameIndex{}).CorrectFrames(in); got != in {
		t.Errorf("empty index must be a no-op, got %q", got)
	}
}

func TestCorrectFramesThenParse(t *testing.T) {
	idx := BuildNameIndex(sampleSystemPrompt)
	content := `<use_mcp_tool>
<server_name>python</server_name>
<tool_name>python</tool_name>
<arguments>{"code": "print(1)"}</arguments>
</use_mcp_tool>`

	calls := ParseFramedToolCalls(idx.CorrectFrames(content))
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ServerName != "tool-python" {
		t.Errorf("ServerName = %q, want tool-python", calls[0].ServerName)
	}
	if calls[0].ToolName != "run_python_code" {
		t.Errorf("ToolName = %q, want run_python_code", calls[0].ToolName)
	}
}

func TestSplitToolName(t *testing.T) {
	tests := []struct {
		in         string
		wantServer string
		wantTool   string
	}{
		{"server-tool", "server", "tool"},
		{"multi-part-server-tool", "multi-part-server", "tool"},
		{"plain", UnknownServer, "plain"},
		{"-leading", "", "leading"},
		{"trailing-", "trailing", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			server, tool := SplitToolName(tt.in)
			if server != tt.wantServer || tool != tt.wantTool {
				t.Errorf("SplitToolName(%q) = (%q, %q), want (%q, %q)",
					tt.in, server, tool, tt.wantServer, tt.wantTool)
			}
		})
	}
}

// TestFramedExtractionComplete checks that however many frames a response
// carries, all of them come back, in emission order, with their arguments.
func TestFramedExtractionComplete(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every emitted frame is parsed in order", prop.ForAll(
		func(tools []string) bool {
			var b strings.Builder
			b.WriteString("Working on it.\n")
			for i, tool := range tools {
				fmt.Fprintf(&b, "<use_mcp_tool>\n<server_name>srv%d</server_name>\n<tool_name>%s</tool_name>\n<arguments>{\"i\": %d}</arguments>\n</use_mcp_tool>\nprose between calls\n", i, tool, i)
			}
			calls := ParseFramedToolCalls(b.String())
			if len(calls) != len(tools) {
				return false
			}
			for i, call := range calls {
				if call.ServerName != fmt.Sprintf("srv%d", i) {
					return false
				}
				if call.ToolName != tools[i] {
					return false
				}
				if call.Arguments["i"] != float64(i) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}

func ExampleParseFramedToolCalls() {
	content := `<use_mcp_tool>
<server_name>calc</server_name>
<tool_name>add</tool_name>
<arguments>{"a": 2, "b": 2}</arguments>
</use_mcp_tool>`

	for _, call := range ParseFramedToolCalls(content) {
		fmt.Printf("%s/%s a=%v b=%v\n", call.ServerName, call.ToolName, call.Arguments["a"], call.Arguments["b"])
	}
	// Output: calc/add a=2 b=2
}
