package parser

import (
	"encoding/json"
	"strings"
)

// RepairParse parses a JSON object with fallbacks for the malformed output
// models actually produce. Strict parsing is tried first, then a pass that
// rewrites single quotes and Python literals, then one more with invalid
// backslash escapes doubled. When nothing parses, the raw string is
// preserved under an error object instead of being dropped.
func RepairParse(s string) map[string]any {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}
	}
	if args, ok := parseObject(s); ok {
		return args
	}
	repaired := replaceLiterals(s)
	if args, ok := parseObject(repaired); ok {
		return args
	}
	if args, ok := parseObject(fixBackslashEscapes(repaired)); ok {
		return args
	}
	return map[string]any{
		"error": "Failed to parse arguments",
		"raw":   s,
	}
}

// FilterNulls drops top-level null-valued keys from parsed arguments.
// Models emit explicit nulls for optional parameters they mean to omit,
// and forwarding those trips schema validation on strict servers.
func FilterNulls(args map[string]any) map[string]any {
	filtered := make(map[string]any, len(args))
	for k, v := range args {
		if v == nil {
			continue
		}
		filtered[k] = v
	}
	return filtered
}

func parseObject(s string) (map[string]any, bool) {
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil {
		return nil, false
	}
	return args, true
}

// replaceLiterals rewrites Python dict syntax into JSON: single-quoted
// strings and the None/True/False literals.
func replaceLiterals(s string) string {
	s = strings.ReplaceAll(s, "'", `"`)
	s = strings.ReplaceAll(s, "None", "null")
	s = strings.ReplaceAll(s, "True", "true")
	s = strings.ReplaceAll(s, "False", "false")
	return s
}

// fixBackslashEscapes doubles backslashes that do not begin a valid JSON
// escape sequence (\\ \" \/ \b \f \n \r \t \u). The usual culprits are
// Windows paths and regex fragments pasted into string values.
func fixBackslashEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			b.WriteByte(c)
			break
		}
		next := s[i+1]
		switch next {
		case '\\', '"', '/', 'b', 'f', 'n', 'r', 't', 'u':
			b.WriteByte(c)
			b.WriteByte(next)
		default:
			b.WriteString(`\\`)
			b.WriteByte(next)
		}
		i++
	}
	return b.String()
}
