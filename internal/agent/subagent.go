package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/haasonsaas/conductor/pkg/models"
)

// DelegationArgs is the argument schema shared by every virtual sub-agent
// tool. The description must stand alone: a sub-agent session starts fresh
// and never sees the delegating conversation.
type DelegationArgs struct {
	TaskDescription string `json:"task_description" jsonschema:"required,description=Standalone description of the task for the sub-agent. Include every fact and constraint it needs because it cannot see the delegating conversation."`
}

var (
	delegationSchemaOnce sync.Once
	delegationSchemaJSON json.RawMessage
)

// delegationSchema reflects DelegationArgs into the JSON schema attached to
// each virtual tool definition.
func delegationSchema() json.RawMessage {
	delegationSchemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{
			RequiredFromJSONSchemaTags: true,
			ExpandedStruct:             true,
			DoNotReference:             true,
		}
		sch := reflector.Reflect(&DelegationArgs{})
		sch.Version = ""

		raw, err := json.Marshal(sch)
		if err != nil {
			raw = []byte(`{"type":"object","properties":{"task_description":{"type":"string"}},"required":["task_description"]}`)
		}
		delegationSchemaJSON = raw
	})
	return delegationSchemaJSON
}

// VirtualTools renders sub-agents as tool servers for the delegating
// agent's prompt and native tool list: one server per sub-agent carrying a
// single tool of the same name.
func VirtualTools(subs []*SubAgent) []models.ServerTools {
	if len(subs) == 0 {
		return nil
	}
	servers := make([]models.ServerTools, 0, len(subs))
	for _, sub := range subs {
		servers = append(servers, models.ServerTools{
			ServerName: sub.Name,
			Tools: []models.ToolDefinition{{
				ServerName:  sub.Name,
				ToolName:    sub.Name,
				Description: delegationDescription(sub),
				InputSchema: delegationSchema(),
			}},
		})
	}
	return servers
}

func delegationDescription(sub *SubAgent) string {
	display := sub.DisplayName
	if display == "" {
		display = sub.Name
	}
	return fmt.Sprintf("Delegate a task to the %s sub-agent. It runs its own tool-using session over the given task_description and returns a structured report of everything it found. It cannot see this conversation, so the task_description must carry all necessary context.", display)
}
