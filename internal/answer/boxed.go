// Package answer turns a finished conversation into a final answer: it runs
// the summarize call with tools disabled, extracts the \boxed{...} result
// from the response, and renders the terminal summary block.
package answer

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FormatErrorMessage is the reserved answer used when the final response has
// text but no usable \boxed{...} content.
const FormatErrorMessage = "Model response does not contain a valid \\boxed{} answer."

var boxedRE = regexp.MustCompile(`\\boxed\b`)

// boxedBlacklist rejects non-answers models sometimes box. Matching is
// against the raw brace content, before whitespace stripping.
var boxedBlacklist = map[string]bool{
	"?":       true,
	"??":      true,
	"???":     true,
	"？":       true,
	"……":      true,
	"…":       true,
	"...":     true,
	"unknown": true,
}

// ExtractBoxed returns the content of the last \boxed{...} occurrence in
// text, trimmed of surrounding whitespace. Nested braces and \{ \} escapes
// are honored, whitespace may separate \boxed from its opening brace, and
// an unterminated \boxed{ extracts to the end of the string. Returns ""
// when nothing usable is found or the content is blacklisted.
func ExtractBoxed(text string) string {
	if text == "" {
		return ""
	}

	var last string
	found := false

	n := len(text)
	i := 0
	for {
		loc := boxedRE.FindStringIndex(text[i:])
		if loc == nil {
			break
		}
		j := i + loc[1]

		for j < n {
			r, size := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r) {
				break
			}
			j += size
		}
		if j >= n || text[j] != '{' {
			i = j
			continue
		}

		// Scan braces manually; escapes hide the next character from the
		// depth count.
		depth := 0
		escaped := false
		closed := false
		k := j
		for k < n {
			switch {
			case escaped:
				escaped = false
			case text[k] == '\\':
				escaped = true
			case text[k] == '{':
				depth++
			case text[k] == '}':
				depth--
				if depth == 0 {
					last = text[j+1 : k]
					found = true
					closed = true
				}
			}
			if closed {
				break
			}
			k++
		}
		if closed {
			i = k + 1
			continue
		}
		// Unterminated: take everything after the brace and stop scanning.
		last = text[j+1:]
		found = true
		i = n
	}

	if !found || boxedBlacklist[last] {
		return ""
	}
	return strings.TrimSpace(last)
}
