package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// sessionHeader carries the server-assigned session across requests on the
// streamable HTTP transport.
const sessionHeader = "Mcp-Session-Id"

// StreamableHTTPTransport implements the streamable HTTP transport: every
// request is a POST to a single endpoint, and the server may answer with
// plain JSON or with an SSE stream carrying the response.
type StreamableHTTPTransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	sessionMu sync.Mutex
	sessionID string

	connected atomic.Bool
}

// NewStreamableHTTPTransport creates a streamable HTTP transport.
func NewStreamableHTTPTransport(cfg *ServerConfig) *StreamableHTTPTransport {
	return &StreamableHTTPTransport{
		config: cfg,
		logger: slog.Default().With("server", cfg.Name, "transport", "streamable_http"),
		client: &http.Client{
			Timeout: cfg.CallTimeout(),
		},
	}
}

// Connect marks the transport ready. The endpoint is only exercised once the
// client sends initialize.
func (t *StreamableHTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for streamable HTTP transport")
	}

	t.connected.Store(true)
	t.logger.Debug("streamable HTTP transport ready", "url", t.config.URL)
	return nil
}

// Close marks the transport disconnected.
func (t *StreamableHTTPTransport) Close() error {
	t.connected.Store(false)
	return nil
}

// Call sends a request and decodes the response, whether the server framed
// it as JSON or as an SSE stream.
func (t *StreamableHTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
	}

	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	body, _ := json.Marshal(req)

	resp, err := t.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	t.captureSession(resp)

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp *JSONRPCResponse
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		rpcResp, err = readSSEResponse(resp.Body)
	} else {
		rpcResp = &JSONRPCResponse{}
		err = json.NewDecoder(resp.Body).Decode(rpcResp)
	}
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, fmt.Errorf("server error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return rpcResp.Result, nil
}

// Notify sends a notification. Servers acknowledge with 200 or 202 and no
// meaningful body.
func (t *StreamableHTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	notif := JSONRPCNotification{
		JSONRPC: "2.0",
		Method:  method,
	}

	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	body, _ := json.Marshal(notif)

	resp, err := t.post(ctx, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	t.captureSession(resp)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted &&
		resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Connected reports whether the transport is connected.
func (t *StreamableHTTPTransport) Connected() bool {
	return t.connected.Load()
}

func (t *StreamableHTTPTransport) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}

	t.sessionMu.Lock()
	if t.sessionID != "" {
		httpReq.Header.Set(sessionHeader, t.sessionID)
	}
	t.sessionMu.Unlock()

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	return resp, nil
}

// captureSession records the session ID the server assigns on initialize so
// later requests carry it.
func (t *StreamableHTTPTransport) captureSession(resp *http.Response) {
	id := resp.Header.Get(sessionHeader)
	if id == "" {
		return
	}
	t.sessionMu.Lock()
	t.sessionID = id
	t.sessionMu.Unlock()
}

// readSSEResponse reads an SSE-framed body until a complete JSON-RPC
// response has been accumulated from data lines.
func readSSEResponse(body io.Reader) (*JSONRPCResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var data strings.Builder
	flush := func() (*JSONRPCResponse, bool) {
		if data.Len() == 0 {
			return nil, false
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal([]byte(data.String()), &resp); err != nil {
			data.Reset()
			return nil, false
		}
		if resp.ID == nil && resp.Result == nil && resp.Error == nil {
			// Notification or keepalive event, keep reading
			data.Reset()
			return nil, false
		}
		return &resp, true
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if resp, ok := flush(); ok {
				return resp, nil
			}
			continue
		}

		if after, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimSpace(after))
		}
		// event:/id:/retry: lines carry no payload we need
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event stream: %w", err)
	}

	if resp, ok := flush(); ok {
		return resp, nil
	}
	return nil, fmt.Errorf("event stream ended without a response")
}
