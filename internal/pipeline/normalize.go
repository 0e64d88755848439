package pipeline

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyTask rejects tasks that are empty after normalization.
var ErrEmptyTask = errors.New("task is empty")

// ErrChineseInput rejects tasks that still contain Chinese text after
// punctuation normalization. The message is surfaced verbatim to callers.
var ErrChineseInput = errors.New("Chinese input is currently unsupported.")

// punctuationReplacer maps full-width CJK punctuation to ASCII. The
// multi-rune ellipsis is listed first so it wins over any single-rune rule.
var punctuationReplacer = strings.NewReplacer(
	"……", "...",
	"，", ",",
	"。", ".",
	"！", "!",
	"？", "?",
	"；", ";",
	"：", ":",
	"“", `"`,
	"”", `"`,
	"‘", "'",
	"’", "'",
	"（", "(",
	"）", ")",
	"【", "[",
	"】", "]",
	"《", "<",
	"》", ">",
	"、", ",",
	"—", "-",
)

// cjkRanges covers CJK unified ideographs (base and extension A),
// compatibility ideographs, CJK symbols and punctuation, and the
// half-width/full-width forms block.
var cjkRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x3000, Hi: 0x303f, Stride: 1},
		{Lo: 0x3400, Hi: 0x4dbf, Stride: 1},
		{Lo: 0x4e00, Hi: 0x9fff, Stride: 1},
		{Lo: 0xf900, Hi: 0xfaff, Stride: 1},
		{Lo: 0xff00, Hi: 0xffef, Stride: 1},
	},
}

// ReplacePunctuation rewrites full-width CJK punctuation as its ASCII
// equivalent so that punctuation alone never trips the Chinese-input check.
func ReplacePunctuation(text string) string {
	return punctuationReplacer.Replace(text)
}

// ContainsCJK reports whether text carries CJK characters or full-width
// forms.
func ContainsCJK(text string) bool {
	for _, r := range text {
		if unicode.Is(cjkRanges, r) {
			return true
		}
	}
	return false
}

// NormalizeTask prepares raw task text for execution: full-width
// punctuation becomes ASCII, surrounding whitespace is trimmed, and
// remaining Chinese text is rejected with ErrChineseInput.
func NormalizeTask(text string) (string, error) {
	task := strings.TrimSpace(ReplacePunctuation(text))
	if task == "" {
		return "", ErrEmptyTask
	}
	if ContainsCJK(task) {
		return "", ErrChineseInput
	}
	return task, nil
}
