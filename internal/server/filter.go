package server

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"github.com/haasonsaas/conductor/internal/stream"
)

// scrapeResultLimit caps scrape payloads relayed to feed consumers.
const scrapeResultLimit = 5000

// FilterEvent sanitizes tool_call payloads before they reach feed
// consumers: search results shrink to title+link pairs, oversized scrape
// results are truncated, and non-JSON scrape output is wrapped as an error.
// Events are shared between subscribers, so filtering copies instead of
// mutating; anything that needs no trimming passes through unchanged.
func FilterEvent(e *stream.Event) *stream.Event {
	if e == nil || e.Event != "tool_call" {
		return e
	}
	toolName, _ := e.Data["tool_name"].(string)
	input, ok := e.Data["tool_input"].(map[string]any)
	if !ok {
		return e
	}

	var filtered map[string]any
	switch toolName {
	case "google_search":
		filtered = filterSearchInput(input)
	case "scrape", "scrape_website":
		filtered = filterScrapeInput(input)
	}
	if filtered == nil {
		return e
	}

	data := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		data[k] = v
	}
	data["tool_input"] = filtered
	return &stream.Event{Event: e.Event, Data: data}
}

// filterSearchInput trims each organic search hit down to title and link.
// Returns nil when the payload needs no rewriting.
func filterSearchInput(input map[string]any) map[string]any {
	raw, ok := input["result"].(string)
	if !ok {
		return nil
	}
	var res map[string]any
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil
	}
	organic, ok := res["organic"].([]any)
	if !ok {
		return nil
	}

	trimmed := make([]any, 0, len(organic))
	for _, item := range organic {
		entry, _ := item.(map[string]any)
		title, _ := entry["title"].(string)
		link, _ := entry["link"].(string)
		trimmed = append(trimmed, map[string]any{"title": title, "link": link})
	}
	res["organic"] = trimmed

	// Links carry query strings, so keep & and friends unescaped.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(res); err != nil {
		return nil
	}
	out := copyMap(input)
	out["result"] = string(bytes.TrimRight(buf.Bytes(), "\n"))
	return out
}

// filterScrapeInput truncates long scrape output. Output that is not JSON is
// the scraper's error text and is surfaced as such. Returns nil when the
// payload needs no rewriting.
func filterScrapeInput(input map[string]any) map[string]any {
	raw, ok := input["result"].(string)
	if !ok {
		return nil
	}
	if !json.Valid([]byte(raw)) {
		return map[string]any{"error": raw}
	}
	if utf8.RuneCountInString(raw) <= scrapeResultLimit {
		return nil
	}
	out := copyMap(input)
	out["result"] = string([]rune(raw)[:scrapeResultLimit]) + "... [truncated]"
	return out
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
