package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig describes the main agent and any sub-agents it can delegate to.
type AgentConfig struct {
	MainAgent AgentProfile   `yaml:"main_agent"`
	SubAgents []AgentProfile `yaml:"sub_agents"`
}

// AgentProfile parameterizes one orchestrator loop: which tool servers it
// sees and its budgets. The main agent leaves Name empty; sub-agents are
// addressed by Name when the main agent delegates.
type AgentProfile struct {
	Name          string    `yaml:"name"`
	Tools         []string  `yaml:"tools"`
	ToolBlacklist []ToolRef `yaml:"tool_blacklist"`

	MaxTurns     int `yaml:"max_turns"`
	MaxToolCalls int `yaml:"max_tool_calls"`

	// WallClockBudget bounds the loop in real time; 0 means unlimited.
	WallClockBudget time.Duration `yaml:"wall_clock_budget"`
}

// ToolRef names one tool on one server, used for blacklisting.
//
// YAML accepts both the pair form and the map form:
//
//	tool_blacklist:
//	  - [searcher, create_session]
//	  - server: python
//	    tool: install_package
type ToolRef struct {
	Server string `yaml:"server"`
	Tool   string `yaml:"tool"`
}

func (r *ToolRef) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var pair []string
		if err := value.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("tool blacklist pair must have exactly 2 entries, got %d", len(pair))
		}
		r.Server, r.Tool = pair[0], pair[1]
		return nil
	}

	type plain ToolRef
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*r = ToolRef(p)
	return nil
}

func (r ToolRef) String() string {
	return r.Server + "/" + r.Tool
}

func (a *AgentConfig) validate(serverNames map[string]bool) error {
	if err := a.MainAgent.validate("agent.main_agent", serverNames); err != nil {
		return err
	}

	seen := make(map[string]bool, len(a.SubAgents))
	for i := range a.SubAgents {
		sub := &a.SubAgents[i]
		field := fmt.Sprintf("agent.sub_agents[%d]", i)
		if sub.Name == "" {
			return fmt.Errorf("%s: name is required", field)
		}
		if sub.Name == "main" {
			return fmt.Errorf("%s: name %q is reserved", field, sub.Name)
		}
		if seen[sub.Name] {
			return fmt.Errorf("%s: duplicate sub-agent name %q", field, sub.Name)
		}
		seen[sub.Name] = true
		if err := sub.validate(field, serverNames); err != nil {
			return err
		}
	}
	return nil
}

func (p *AgentProfile) validate(field string, serverNames map[string]bool) error {
	for _, server := range p.Tools {
		if !serverNames[server] {
			return fmt.Errorf("%s: tools references unknown server %q", field, server)
		}
	}
	for _, ref := range p.ToolBlacklist {
		if ref.Server == "" || ref.Tool == "" {
			return fmt.Errorf("%s: tool_blacklist entries need both server and tool", field)
		}
	}
	if p.MaxTurns < 0 {
		return fmt.Errorf("%s: max_turns must be positive (got %d)", field, p.MaxTurns)
	}
	if p.MaxToolCalls < 0 {
		return fmt.Errorf("%s: max_tool_calls must be positive (got %d)", field, p.MaxToolCalls)
	}
	return nil
}
