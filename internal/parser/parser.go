// Package parser turns raw LLM responses into structured tool calls. It
// understands two dialects: native function calling, where the provider
// returns a structured call list, and the framed dialect, where calls are
// embedded in the response text as <use_mcp_tool> blocks. Malformed
// arguments are repaired rather than dropped; a call the model emitted is
// never silently lost.
package parser

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Dialect identifies how a provider surfaces tool calls in its responses.
type Dialect string

const (
	// DialectNative uses the provider's structured function-calling API.
	DialectNative Dialect = "native"
	// DialectFramed embeds tool calls as <use_mcp_tool> blocks in the
	// response text.
	DialectFramed Dialect = "framed"
)

// UnknownServer is assigned to native calls whose function name carries no
// server prefix. Dispatch on it fails with a tool-level error, which keeps
// the run alive.
const UnknownServer = "unknown"

const frameOpen = "<use_mcp_tool>"

var (
	framedCallRE = regexp.MustCompile(`(?s)<use_mcp_tool>\s*<server_name>(.*?)</server_name>\s*<tool_name>(.*?)</tool_name>\s*<arguments>\s*(.*?)\s*</arguments>\s*</use_mcp_tool>`)
	thinkRE      = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

	serverHeadingRE = regexp.MustCompile(`^## Server name:\s*(.+)`)
	toolHeadingRE   = regexp.MustCompile(`^### Tool name:\s*(.+)`)
)

// ExtractText returns the response content preceding the first tool-call
// frame, trimmed. Content without a frame is returned whole.
func ExtractText(content string) string {
	if i := strings.Index(content, frameOpen); i >= 0 {
		return strings.TrimSpace(content[:i])
	}
	return strings.TrimSpace(content)
}

// ExtractThink returns the body of the first <think> block, trimmed, or ""
// when the response carries none.
func ExtractThink(content string) string {
	m := thinkRE.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractSummary returns the visible prose of a response: the text between
// the think block and the first tool-call frame when non-empty, otherwise
// the think body itself.
func ExtractSummary(content string) string {
	if content == "" {
		return ""
	}
	after := content
	think := ""
	if loc := thinkRE.FindStringSubmatchIndex(content); loc != nil {
		think = strings.TrimSpace(content[loc[2]:loc[3]])
		after = content[loc[1]:]
	}
	body := after
	if i := strings.Index(after, frameOpen); i >= 0 {
		body = after[:i]
	}
	if body = strings.TrimSpace(body); body != "" {
		return body
	}
	return think
}

// ParseFramedToolCalls extracts every tool-call frame from response content
// in emission order. Arguments go through the tolerant JSON pipeline; a
// frame is never discarded because its arguments failed to parse.
func ParseFramedToolCalls(content string) []models.ToolCall {
	matches := framedCallRE.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	calls := make([]models.ToolCall, 0, len(matches))
	for _, m := range matches {
		calls = append(calls, models.ToolCall{
			ServerName: strings.TrimSpace(m[1]),
			ToolName:   strings.TrimSpace(m[2]),
			Arguments:  FilterNulls(RepairParse(strings.TrimSpace(m[3]))),
		})
	}
	return calls
}

// NativeCall is one structured tool call as surfaced by a provider's
// function-calling API, before the combined name is resolved into a
// (server, tool) pair.
type NativeCall struct {
	ID        string
	Name      string
	Arguments string
}

// ParseNativeToolCalls resolves structured calls into server and tool
// names and parses their arguments. Order follows the provider's call
// order.
func ParseNativeToolCalls(raw []NativeCall) []models.ToolCall {
	if len(raw) == 0 {
		return nil
	}
	calls := make([]models.ToolCall, 0, len(raw))
	for _, rc := range raw {
		server, tool := SplitToolName(rc.Name)
		calls = append(calls, models.ToolCall{
			ID:         rc.ID,
			ServerName: server,
			ToolName:   tool,
			Arguments:  FilterNulls(RepairParse(rc.Arguments)),
		})
	}
	return calls
}

// SplitToolName splits a combined function name on its last '-' into
// server and tool parts. Names without a '-' belong to UnknownServer.
func SplitToolName(name string) (server, tool string) {
	if i := strings.LastIndex(name, "-"); i >= 0 {
		return name[:i], name[i+1:]
	}
	return UnknownServer, name
}

// JoinToolName combines a server and tool name into the single function
// name used by native function calling. SplitToolName inverts it as long
// as the tool name itself contains no '-'. Virtual sub-agent tools are
// named after their server, so the identical pair collapses to one name
// instead of doubling it.
func JoinToolName(server, tool string) string {
	if server == tool {
		return tool
	}
	return server + "-" + tool
}

// correctableTools are the tools models most often attribute to the wrong
// server. Only these ever have their frames rewritten; every other name
// passes through untouched.
var correctableTools = map[string]bool{
	"run_python_code":         true,
	"google_search":           true,
	"scrape_and_extract_info": true,
}

// NameIndex maps correctable tool names to the server that declares them,
// derived from the system prompt's server and tool headings.
type NameIndex map[string]string

// BuildNameIndex scans a system prompt for `## Server name:` and
// `### Tool name:` headings and records the declaring server for each
// correctable tool. Tool headings before the first server heading are
// ignored.
func BuildNameIndex(systemPrompt string) NameIndex {
	idx := NameIndex{}
	current := ""
	for _, line := range strings.Split(systemPrompt, "\n") {
		if m := serverHeadingRE.FindStringSubmatch(line); m != nil {
			current = strings.TrimSpace(m[1])
			continue
		}
		if m := toolHeadingRE.FindStringSubmatch(line); m != nil && current != "" {
			tool := strings.TrimSpace(m[1])
			if correctableTools[tool] {
				idx[tool] = current
			}
		}
	}
	return idx
}

// CorrectFrames rewrites misnamed tags in framed response text before
// parsing. python and python_code become run_python_code when the prompt
// declares it, and a correctable tool paired with the wrong server gets
// the declaring server from the index.
func (idx NameIndex) CorrectFrames(text string) string {
	if len(idx) == 0 {
		return text
	}
	if _, ok := idx["run_python_code"]; ok {
		for _, wrong := range []string{"python", "python_code"} {
			tag := "<tool_name>" + wrong + "</tool_name>"
			if strings.Contains(text, tag) {
				text = strings.ReplaceAll(text, tag, "<tool_name>run_python_code</tool_name>")
			}
		}
	}
	for tool, server := range idx {
		toolTag := "<tool_name>" + tool + "</tool_name>"
		if !strings.Contains(text, toolTag) {
			continue
		}
		serverTag := "<server_name>" + server + "</server_name>"
		if strings.Contains(text, serverTag) {
			continue
		}
		re := regexp.MustCompile(`<server_name>[^<]+</server_name>(\s*` + regexp.QuoteMeta(toolTag) + `)`)
		text = re.ReplaceAllString(text, strings.ReplaceAll(serverTag, "$", "$$")+"${1}")
	}
	return text
}
