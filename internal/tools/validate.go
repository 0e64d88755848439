package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var schemaCache sync.Map

// validateArguments checks tool arguments against the tool's declared input
// schema before the call leaves the process. A missing or malformed schema
// validates everything: servers stay the source of truth for their own
// contracts. Arguments are round-tripped through JSON so Go-typed values
// validate the same as decoded wire data.
func validateArguments(schema json.RawMessage, arguments map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	compiled := compileSchema(schema)
	if compiled == nil {
		return nil
	}

	if arguments == nil {
		arguments = map[string]any{}
	}
	payload, err := json.Marshal(arguments)
	if err != nil {
		return fmt.Errorf("arguments are not JSON-encodable: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	return compiled.Validate(decoded)
}

// compileSchema compiles a tool input schema, caching by schema text.
// Schemas that fail to compile are cached as nil so the attempt happens once.
func compileSchema(schema json.RawMessage) *jsonschema.Schema {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		compiled, _ := cached.(*jsonschema.Schema)
		return compiled
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		compiled = nil
	}
	schemaCache.Store(key, compiled)
	return compiled
}
