package parser

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestRepairParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{
			name: "strict json passes through",
			in:   `{"q": "golang", "num": 3}`,
			want: map[string]any{"q": "golang", "num": float64(3)},
		},
		{
			name: "single quotes repaired",
			in:   `{'q': 'golang'}`,
			want: map[string]any{"q": "golang"},
		},
		{
			name: "python literals repaired",
			in:   `{"a": None, "b": True, "c": False}`,
			want: map[string]any{"a": nil, "b": true, "c": false},
		},
		{
			name: "windows path backslashes repaired",
			in:   `{"path": "C:\Windows\System32"}`,
			want: map[string]any{"path": `C:\Windows\System32`},
		},
		{
			name: "backslash before digit repaired",
			in:   `{"pattern": "group \1"}`,
			want: map[string]any{"pattern": `group \1`},
		},
		{
			name: "valid escapes survive",
			in:   `{"s": "line\nbreak\ttab"}`,
			want: map[string]any{"s": "line\nbreak\ttab"},
		},
		{
			name: "empty string is an empty object",
			in:   "",
			want: map[string]any{},
		},
		{
			name: "whitespace only is an empty object",
			in:   "  \n\t ",
			want: map[string]any{},
		},
		{
			name: "hopeless input keeps the raw string",
			in:   "not json {{{",
			want: map[string]any{"error": "Failed to parse arguments", "raw": "not json {{{"},
		},
		{
			name: "bare array is not an object",
			in:   `[1, 2, 3]`,
			want: map[string]any{"error": "Failed to parse arguments", "raw": `[1, 2, 3]`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RepairParse(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RepairParse() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestFilterNulls(t *testing.T) {
	got := FilterNulls(map[string]any{"keep": 1, "drop": nil, "also": "x"})
	want := map[string]any{"keep": 1, "also": "x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilterNulls() = %v, want %v", got, want)
	}

	if got := FilterNulls(nil); len(got) != 0 {
		t.Errorf("FilterNulls(nil) = %v, want empty", got)
	}
}

func TestFixBackslashEscapes(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`\n`, `\n`},
		{`\\`, `\\`},
		{`\"`, `\"`},
		{`\u0041`, `\u0041`},
		{`\U`, `\\U`},
		{`\1`, `\\1`},
		{`\d+`, `\\d+`},
		{`no backslash`, `no backslash`},
		{`trailing\`, `trailing\`},
	}

	for _, tt := range tests {
		if got := fixBackslashEscapes(tt.in); got != tt.want {
			t.Errorf("fixBackslashEscapes(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestRepairParseTotal checks that arbitrary input can never crash argument
// parsing or return nothing: every string maps to a usable object.
func TestRepairParseTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("any string yields a non-nil object", prop.ForAll(
		func(s string) bool {
			return RepairParse(s) != nil
		},
		gen.AnyString(),
	))

	properties.Property("failure keeps the raw input", prop.ForAll(
		func(s string) bool {
			args := RepairParse(s)
			if args["error"] == "Failed to parse arguments" {
				return args["raw"] == s
			}
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestRepairParseRoundTrip checks that well-formed objects survive the
// tolerant pipeline with their keys intact.
func TestRepairParseRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	objGen := gen.MapOf(gen.Identifier(), gen.AlphaString())

	properties.Property("valid objects keep every key", prop.ForAll(
		func(obj map[string]string) bool {
			raw, err := json.Marshal(obj)
			if err != nil {
				return false
			}
			parsed := RepairParse(string(raw))
			if len(parsed) != len(obj) {
				return false
			}
			for k, v := range obj {
				if parsed[k] != v {
					return false
				}
			}
			return true
		},
		objGen,
	))

	properties.TestingRun(t)
}
