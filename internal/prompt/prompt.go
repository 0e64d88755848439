// Package prompt renders the system prompts and terminal summarize
// instructions for conductor agents. The `## Server name:` and
// `### Tool name:` heading forms are load-bearing: the parser derives its
// tool-to-server correction index from them, so they must not change.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/conductor/pkg/models"
)

// AgentMain is the orchestrating agent; every other non-empty agent name
// is a delegate and runs the delegate-role prompts. AgentBrowsing is the
// canonical delegate name.
const (
	AgentMain     = "main"
	AgentBrowsing = "agent-browsing"
)

const protocolPreamble = `In this environment you have access to a set of tools you can use to answer the user's question.

You only have access to the tools provided below. You can only use one tool per message, and will receive the result of that tool in the user's next response. You use tools step-by-step to accomplish a given task, with each tool-use informed by the result of the previous tool-use. Today is: %s

# Tool-Use Formatting Instructions

Tool-use is formatted using XML-style tags. The tool-use is enclosed in <use_mcp_tool></use_mcp_tool> and each parameter is similarly enclosed within its own set of tags.

The Model Context Protocol (MCP) connects to servers that provide additional tools and resources to extend your capabilities. You can use the server's tools via the ` + "`use_mcp_tool`" + `.

Description:
Request to use a tool provided by a MCP server. Each MCP server can provide multiple tools with different capabilities. Tools have defined input schemas that specify required and optional parameters.

Parameters:
- server_name: (required) The name of the MCP server providing the tool
- tool_name: (required) The name of the tool to execute
- arguments: (required) A JSON object containing the tool's input parameters, following the tool's input schema, quotes within string must be properly escaped, ensure it's valid JSON

Usage:
<use_mcp_tool>
<server_name>server name here</server_name>
<tool_name>tool name here</tool_name>
<arguments>
{
"param1": "value1",
"param2": "value2 \"escaped string\""
}
</arguments>
</use_mcp_tool>

Important Notes:
- Tool-use must be placed **at the end** of your response, **top-level**, and not nested within other tags.
- Always adhere to this format for the tool use to ensure proper parsing and execution.

String and scalar parameters should be specified as is, while lists and objects should use JSON format. Note that spaces for string values are not stripped. The output is not expected to be valid XML and is parsed with regular expressions.
Here are the functions available in JSONSchema format:

`

const noToolsPreamble = `In this environment you have access to a set of tools you can use to answer the user's question.  Today is: %s

Important Notes:
- Tool-use must be placed **at the end** of your response, **top-level**, and not nested within other tags.
- Always adhere to this format for the tool use to ensure proper parsing and execution.

String and scalar parameters should be specified as is, while lists and objects should use JSON format. Note that spaces for string values are not stripped. The output is not expected to be valid XML and is parsed with regular expressions.
`

const generalObjective = `
# General Objective

You accomplish a given task iteratively, breaking it down into clear steps and working through them methodically.

`

const mainObjective = `# Agent Specific Objective

You are a task-solving agent that uses tools step-by-step to answer the user's question. Your goal is to provide complete, accurate and well-reasoned answers using additional tools.`

const browsingObjective = `# Agent Specific Objective

You are an agent that performs the task of searching and browsing the web for specific information and generating the desired answer. Your task is to retrieve reliable, factual, and verifiable information that fills in knowledge gaps.
Do not infer, speculate, summarize broadly, or attempt to fill in missing parts yourself. Only return factual content.`

// SystemPrompt renders the full system prompt for one agent: the tool-use
// protocol declaration with its single usage example, the per-server tool
// catalog, the general objective, and the agent's role objective — the
// task-solving objective for the main agent, the delegate objective for
// every sub-agent. Servers that failed discovery are left out of the
// catalog so the rest still surface. With no usable servers the protocol
// catalog is omitted entirely.
func SystemPrompt(date time.Time, servers []models.ServerTools, agent string) (string, error) {
	objective, err := agentObjective(agent)
	if err != nil {
		return "", err
	}

	usable := usableServers(servers)
	var b strings.Builder
	if len(usable) == 0 {
		fmt.Fprintf(&b, noToolsPreamble, date.Format("2006-01-02"))
	} else {
		fmt.Fprintf(&b, protocolPreamble, date.Format("2006-01-02"))
		for _, server := range usable {
			fmt.Fprintf(&b, "\n## Server name: %s\n", server.ServerName)
			for _, tool := range server.Tools {
				fmt.Fprintf(&b, "### Tool name: %s\n", tool.ToolName)
				fmt.Fprintf(&b, "Description: %s\n", tool.Description)
				fmt.Fprintf(&b, "Input JSON schema: %s\n", string(tool.InputSchema))
			}
		}
	}
	b.WriteString(generalObjective)
	b.WriteString(objective)
	b.WriteString("\n")
	return b.String(), nil
}

func usableServers(servers []models.ServerTools) []models.ServerTools {
	usable := make([]models.ServerTools, 0, len(servers))
	for _, s := range servers {
		if s.Err != "" || len(s.Tools) == 0 {
			continue
		}
		usable = append(usable, s)
	}
	return usable
}

func agentObjective(agent string) (string, error) {
	switch agent {
	case AgentMain:
		return mainObjective, nil
	case "":
		return "", errors.New("agent name is empty")
	default:
		return browsingObjective, nil
	}
}

// SummarizeInstruction renders the terminal user message appended before
// the final LLM call. The main agent is steered into a boxed answer with
// strict formatting rules; sub-agents produce a structured report for the
// caller to splice in as a tool result.
func SummarizeInstruction(agent, taskDescription string) (string, error) {
	switch agent {
	case AgentMain:
		return mainSummarize(taskDescription), nil
	case "":
		return "", errors.New("agent name is empty")
	default:
		return browsingSummarize(taskDescription), nil
	}
}

func mainSummarize(taskDescription string) string {
	return "Summarize the above conversation, and output the FINAL ANSWER to the original question.\n\n" +
		"If a clear answer has already been provided earlier in the conversation, do not rethink or recalculate it — " +
		"simply extract that answer and reformat it to match the required format below.\n" +
		"If a definitive answer could not be determined, make a well-informed educated guess based on the conversation.\n\n" +
		"The original question is repeated here for reference:\n\n" +
		"\"" + taskDescription + "\"\n\n" +
		"Wrap your final answer in \\boxed{}.\n" +
		"Your final answer should be:\n" +
		"- a number, OR\n" +
		"- as few words as possible, OR\n" +
		"- a comma-separated list of numbers and/or strings.\n\n" +
		"ADDITIONALLY, your final answer MUST strictly follow any formatting instructions in the original question — " +
		"such as alphabetization, sequencing, units, rounding, decimal places, etc.\n" +
		"If you are asked for a number, express it numerically (i.e., with digits rather than words), don't use commas, and DO NOT INCLUDE UNITS such as $ or USD or percent signs unless specified otherwise.\n" +
		"If you are asked for a string, don't use articles or abbreviations (e.g. for cities), unless specified otherwise. Don't output any final sentence punctuation such as '.', '!', or '?'.\n" +
		"If you are asked for a comma-separated list, apply the above rules depending on whether the elements are numbers or strings.\n" +
		"Do NOT include any punctuation such as '.', '!', or '?' at the end of the answer.\n" +
		"Do NOT include any invisible or non-printable characters in the answer output.\n\n" +
		"You must absolutely not perform any MCP tool call, tool invocation, search, scrape, code execution, or similar actions.\n" +
		"You can only answer the original question based on the information already retrieved and your own internal knowledge.\n" +
		"If you attempt to call any tool, it will be considered a mistake."
}

func browsingSummarize(taskDescription string) string {
	return "This is a direct instruction to you (the assistant), not the result of a tool call.\n\n" +
		"We are now ending this session, and your conversation history will be deleted. " +
		"You must NOT initiate any further tool use. This is your final opportunity to report " +
		"*all* of the information gathered during the session.\n\n" +
		"The original task is repeated here for reference:\n\n" +
		"\"" + taskDescription + "\"\n\n" +
		"Summarize the above search and browsing history. Output the FINAL RESPONSE and detailed supporting information of the task given to you.\n\n" +
		"If you found any useful facts, data, quotes, or answers directly relevant to the original task, include them clearly and completely.\n" +
		"If you reached a conclusion or answer, include it as part of the response.\n" +
		"If the task could not be fully answered, do NOT make up any content. Instead, return all partially relevant findings, " +
		"Search results, quotes, and observations that might help a downstream agent solve the problem.\n" +
		"If partial, conflicting, or inconclusive information was found, clearly indicate this in your response.\n\n" +
		"Your final response should be a clear, complete, and structured report.\n" +
		"Organize the content into logical sections with appropriate headings.\n" +
		"Do NOT include any tool call instructions, speculative filler, or vague summaries.\n" +
		"Focus on factual, specific, and well-organized information."
}
