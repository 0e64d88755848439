package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/haasonsaas/conductor/internal/cache"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/pkg/models"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// toolServer is a minimal streamable HTTP tool server for manager tests.
type toolServer struct {
	srv       *httptest.Server
	tools     []map[string]any
	callCount atomic.Int64

	mu       sync.Mutex
	lastArgs map[string]any

	// call decides what tools/call answers. Nil means echo the tool name.
	call func(name string, args map[string]any) (any, *string)

	// listErr makes tools/list answer with a JSON-RPC error.
	listErr string
}

func startToolServer(t *testing.T, tools []map[string]any) *toolServer {
	t.Helper()

	ts := &toolServer{tools: tools}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		// Notifications get acknowledged without a body.
		if req.ID == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		writeResult := func(result any) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result":  result,
			})
		}
		writeError := func(msg string) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32000, "message": msg},
			})
		}

		switch req.Method {
		case "initialize":
			writeResult(map[string]any{
				"protocolVersion": "2024-11-05",
				"serverInfo":      map[string]any{"name": "test-server", "version": "0.1.0"},
			})
		case "tools/list":
			if ts.listErr != "" {
				writeError(ts.listErr)
				return
			}
			writeResult(map[string]any{"tools": ts.tools})
		case "tools/call":
			ts.callCount.Add(1)
			var params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			json.Unmarshal(req.Params, &params)
			ts.mu.Lock()
			ts.lastArgs = params.Arguments
			ts.mu.Unlock()

			if ts.call != nil {
				result, rpcErr := ts.call(params.Name, params.Arguments)
				if rpcErr != nil {
					writeError(*rpcErr)
					return
				}
				writeResult(result)
				return
			}
			writeResult(map[string]any{
				"content": []map[string]any{{"type": "text", "text": "called " + params.Name}},
			})
		default:
			writeError("method not found: " + req.Method)
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *toolServer) entry(name string) config.ServerEntry {
	return config.ServerEntry{Name: name, Kind: "streamable_http", URL: ts.srv.URL}
}

func searchTools() []map[string]any {
	return []map[string]any{
		{
			"name":        "google_search",
			"description": "Search the web.",
			"inputSchema": map[string]any{
				"type":       "object",
				"properties": map[string]any{"q": map[string]any{"type": "string"}},
				"required":   []string{"q"},
			},
		},
		{
			"name":        "create_session",
			"description": "Open a browsing session.",
			"inputSchema": map[string]any{"type": "object"},
		},
	}
}

func TestManagerGetAllToolDefinitions(t *testing.T) {
	ts := startToolServer(t, searchTools())
	profile := config.AgentProfile{
		Tools:         []string{"searcher"},
		ToolBlacklist: []config.ToolRef{{Server: "searcher", Tool: "create_session"}},
	}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)
	defer m.Close()

	defs := m.GetAllToolDefinitions(context.Background())
	if len(defs) != 1 {
		t.Fatalf("expected 1 server entry, got %d", len(defs))
	}
	if defs[0].ServerName != "searcher" || defs[0].Err != "" {
		t.Fatalf("unexpected server entry: %+v", defs[0])
	}
	if len(defs[0].Tools) != 1 {
		t.Fatalf("blacklist should leave 1 tool, got %d", len(defs[0].Tools))
	}
	tool := defs[0].Tools[0]
	if tool.ToolName != "google_search" || tool.ServerName != "searcher" {
		t.Errorf("unexpected tool: %+v", tool)
	}
	if tool.Description != "Search the web." {
		t.Errorf("description not carried: %q", tool.Description)
	}
	if !strings.Contains(string(tool.InputSchema), `"q"`) {
		t.Errorf("input schema not carried: %s", tool.InputSchema)
	}
}

func TestManagerGetAllToolDefinitionsServerDown(t *testing.T) {
	ts := startToolServer(t, nil)
	ts.srv.Close()

	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)

	defs := m.GetAllToolDefinitions(context.Background())
	if len(defs) != 1 {
		t.Fatalf("expected 1 server entry, got %d", len(defs))
	}
	if defs[0].Err == "" || !strings.HasPrefix(defs[0].Err, "MCP session error: ") {
		t.Errorf("expected MCP session error, got %q", defs[0].Err)
	}
	if len(defs[0].Tools) != 0 {
		t.Errorf("failed server should carry no tools, got %d", len(defs[0].Tools))
	}
}

func TestManagerGetAllToolDefinitionsListFails(t *testing.T) {
	ts := startToolServer(t, nil)
	ts.listErr = "catalog unavailable"

	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)
	defer m.Close()

	defs := m.GetAllToolDefinitions(context.Background())
	if !strings.HasPrefix(defs[0].Err, "Unable to fetch tools: ") {
		t.Errorf("expected fetch error, got %q", defs[0].Err)
	}
	if !strings.Contains(defs[0].Err, "catalog unavailable") {
		t.Errorf("error should carry the server message, got %q", defs[0].Err)
	}
}

func TestManagerGetAllToolDefinitionsPartialFailure(t *testing.T) {
	healthy := startToolServer(t, searchTools())
	down := startToolServer(t, nil)
	down.srv.Close()

	profile := config.AgentProfile{Tools: []string{"searcher", "broken"}}
	servers := []config.ServerEntry{healthy.entry("searcher"), down.entry("broken")}
	m := NewManager(servers, profile, nil, nil, nil)
	defer m.Close()

	defs := m.GetAllToolDefinitions(context.Background())
	if len(defs) != 2 {
		t.Fatalf("expected 2 server entries, got %d", len(defs))
	}
	if defs[0].ServerName != "searcher" || defs[0].Err != "" || len(defs[0].Tools) == 0 {
		t.Errorf("healthy server should still list: %+v", defs[0])
	}
	if defs[1].ServerName != "broken" || defs[1].Err == "" {
		t.Errorf("broken server should report its error: %+v", defs[1])
	}
}

func TestManagerExecuteToolCall(t *testing.T) {
	ts := startToolServer(t, searchTools())
	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)
	defer m.Close()

	res := m.ExecuteToolCall(context.Background(), models.ToolCall{
		ServerName: "searcher",
		ToolName:   "google_search",
		Arguments:  map[string]any{"q": "golang"},
	})
	if res.Failed() {
		t.Fatalf("unexpected failure: %q", res.Error)
	}
	if res.Result != "called google_search" {
		t.Errorf("Result = %q", res.Result)
	}
	if res.ServerName != "searcher" || res.ToolName != "google_search" {
		t.Errorf("result should identify the call: %+v", res)
	}

	ts.mu.Lock()
	gotArgs := ts.lastArgs
	ts.mu.Unlock()
	if gotArgs["q"] != "golang" {
		t.Errorf("arguments not forwarded: %v", gotArgs)
	}
}

func TestManagerExecuteUnknownServer(t *testing.T) {
	m := NewManager(nil, config.AgentProfile{}, nil, nil, nil)

	res := m.ExecuteToolCall(context.Background(), models.ToolCall{ServerName: "ghost", ToolName: "x"})
	if res.Error != "Server 'ghost' not found." {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestManagerExecuteBlacklisted(t *testing.T) {
	ts := startToolServer(t, searchTools())
	profile := config.AgentProfile{
		Tools:         []string{"searcher"},
		ToolBlacklist: []config.ToolRef{{Server: "searcher", Tool: "create_session"}},
	}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)
	defer m.Close()

	res := m.ExecuteToolCall(context.Background(), models.ToolCall{
		ServerName: "searcher",
		ToolName:   "create_session",
	})
	if res.Error != "Tool 'create_session' on server 'searcher' is blacklisted." {
		t.Errorf("Error = %q", res.Error)
	}
	if ts.callCount.Load() != 0 {
		t.Error("blacklisted call must not reach the server")
	}
}

func TestManagerExecuteToolReportsError(t *testing.T) {
	ts := startToolServer(t, searchTools())
	ts.call = func(name string, args map[string]any) (any, *string) {
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": "quota exceeded"}},
			"isError": true,
		}, nil
	}

	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)
	defer m.Close()

	res := m.ExecuteToolCall(context.Background(), models.ToolCall{
		ServerName: "searcher",
		ToolName:   "google_search",
		Arguments:  map[string]any{"q": "golang"},
	})
	if res.Error != "Tool execution failed: quota exceeded" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestManagerExecuteRPCError(t *testing.T) {
	ts := startToolServer(t, searchTools())
	ts.call = func(name string, args map[string]any) (any, *string) {
		msg := "tool exploded"
		return nil, &msg
	}

	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)
	defer m.Close()

	res := m.ExecuteToolCall(context.Background(), models.ToolCall{
		ServerName: "searcher",
		ToolName:   "google_search",
		Arguments:  map[string]any{"q": "golang"},
	})
	if !strings.HasPrefix(res.Error, "Tool execution failed: ") {
		t.Errorf("Error = %q", res.Error)
	}
	if !strings.Contains(res.Error, "tool exploded") {
		t.Errorf("error should carry the server message: %q", res.Error)
	}
}

func TestManagerExecuteSessionError(t *testing.T) {
	ts := startToolServer(t, nil)
	ts.srv.Close()

	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)

	res := m.ExecuteToolCall(context.Background(), models.ToolCall{
		ServerName: "searcher",
		ToolName:   "google_search",
		Arguments:  map[string]any{"q": "golang"},
	})
	if !strings.HasPrefix(res.Error, "MCP session error: ") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestManagerExecuteInvalidArguments(t *testing.T) {
	ts := startToolServer(t, searchTools())
	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)
	defer m.Close()

	// Catalog fetch caches the schemas the dispatcher validates against.
	m.GetAllToolDefinitions(context.Background())

	res := m.ExecuteToolCall(context.Background(), models.ToolCall{
		ServerName: "searcher",
		ToolName:   "google_search",
		Arguments:  map[string]any{"query": "golang"},
	})
	if !strings.HasPrefix(res.Error, "Invalid arguments for tool 'google_search' on server 'searcher': ") {
		t.Errorf("Error = %q", res.Error)
	}
	if ts.callCount.Load() != 0 {
		t.Error("invalid arguments must not reach the server")
	}
}

func TestManagerExecuteUnknownToolPassesThrough(t *testing.T) {
	ts := startToolServer(t, searchTools())
	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)
	defer m.Close()

	m.GetAllToolDefinitions(context.Background())

	// Tools missing from the catalog are the server's call to reject.
	res := m.ExecuteToolCall(context.Background(), models.ToolCall{
		ServerName: "searcher",
		ToolName:   "nonexistent",
	})
	if res.Failed() {
		t.Fatalf("unexpected failure: %q", res.Error)
	}
	if res.Result != "called nonexistent" {
		t.Errorf("Result = %q", res.Result)
	}
}

func TestManagerResultCache(t *testing.T) {
	ts := startToolServer(t, searchTools())
	resultCache, err := cache.New(config.CacheConfig{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}

	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, resultCache, nil, nil)
	defer m.Close()

	call := models.ToolCall{
		ServerName: "searcher",
		ToolName:   "google_search",
		Arguments:  map[string]any{"q": "golang"},
	}

	first := m.ExecuteToolCall(context.Background(), call)
	second := m.ExecuteToolCall(context.Background(), call)

	if first.Result != second.Result {
		t.Errorf("cached result differs: %q vs %q", first.Result, second.Result)
	}
	if got := ts.callCount.Load(); got != 1 {
		t.Errorf("server called %d times, want 1", got)
	}

	// New arguments miss the cache.
	m.ExecuteToolCall(context.Background(), models.ToolCall{
		ServerName: "searcher",
		ToolName:   "google_search",
		Arguments:  map[string]any{"q": "rust"},
	})
	if got := ts.callCount.Load(); got != 2 {
		t.Errorf("server called %d times, want 2", got)
	}
}

func TestManagerFailedCallsNotCached(t *testing.T) {
	ts := startToolServer(t, searchTools())
	ts.call = func(name string, args map[string]any) (any, *string) {
		msg := "flaky"
		return nil, &msg
	}

	resultCache, err := cache.New(config.CacheConfig{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, resultCache, nil, nil)
	defer m.Close()

	call := models.ToolCall{
		ServerName: "searcher",
		ToolName:   "google_search",
		Arguments:  map[string]any{"q": "golang"},
	}
	m.ExecuteToolCall(context.Background(), call)
	m.ExecuteToolCall(context.Background(), call)

	if got := ts.callCount.Load(); got != 2 {
		t.Errorf("failed calls must not be served from cache, server called %d times", got)
	}
}

type recordingSteps struct {
	mu    sync.Mutex
	steps []string
}

func (r *recordingSteps) LogStep(level, stepName, message string, metadata map[string]any) {
	r.mu.Lock()
	r.steps = append(r.steps, stepName)
	r.mu.Unlock()
}

func TestManagerStepLogging(t *testing.T) {
	ts := startToolServer(t, searchTools())
	profile := config.AgentProfile{Tools: []string{"searcher"}}
	m := NewManager([]config.ServerEntry{ts.entry("searcher")}, profile, nil, nil, nil)
	defer m.Close()

	rec := &recordingSteps{}
	m.SetStepLogger(rec)

	m.ExecuteToolCall(context.Background(), models.ToolCall{
		ServerName: "searcher",
		ToolName:   "google_search",
		Arguments:  map[string]any{"q": "golang"},
	})

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []string{"ToolManager | Tool Call Start", "ToolManager | Tool Call Success"}
	if len(rec.steps) != len(want) {
		t.Fatalf("steps = %v, want %v", rec.steps, want)
	}
	for i := range want {
		if rec.steps[i] != want[i] {
			t.Errorf("step[%d] = %q, want %q", i, rec.steps[i], want[i])
		}
	}
}

func TestManagerServerNames(t *testing.T) {
	first := startToolServer(t, nil)
	second := startToolServer(t, nil)

	profile := config.AgentProfile{Tools: []string{"alpha", "beta"}}
	servers := []config.ServerEntry{first.entry("alpha"), second.entry("beta")}
	m := NewManager(servers, profile, nil, nil, nil)
	defer m.Close()

	names := m.ServerNames()
	if fmt.Sprint(names) != "[alpha beta]" {
		t.Errorf("ServerNames = %v", names)
	}
	if !m.HasServer("alpha") || m.HasServer("gamma") {
		t.Error("HasServer misreports membership")
	}
}
