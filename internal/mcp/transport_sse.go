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
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SSETransport implements the HTTP+SSE transport: a long-lived GET stream
// delivers an endpoint event and then all responses, while requests are
// POSTed to the advertised endpoint.
type SSETransport struct {
	config *ServerConfig
	logger *slog.Logger

	// streamClient has no timeout so the event stream can stay open.
	streamClient *http.Client
	postClient   *http.Client

	endpointMu  sync.Mutex
	endpointURL string
	endpointCh  chan struct{}
	endpointSet sync.Once

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	cancel    context.CancelFunc
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewSSETransport creates an SSE transport for the given server.
func NewSSETransport(cfg *ServerConfig) *SSETransport {
	return &SSETransport{
		config:       cfg,
		logger:       slog.Default().With("server", cfg.Name, "transport", "sse"),
		streamClient: &http.Client{},
		postClient:   &http.Client{Timeout: cfg.CallTimeout()},
		endpointCh:   make(chan struct{}),
		pending:      make(map[int64]chan *JSONRPCResponse),
		stopChan:     make(chan struct{}),
	}
}

// Connect opens the event stream and waits for the server to advertise its
// message endpoint.
func (t *SSETransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("URL is required for SSE transport")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	req, err := http.NewRequestWithContext(streamCtx, "GET", t.config.URL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("create stream request: %w", err)
	}

	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.streamClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("open event stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return fmt.Errorf("event stream HTTP %d: %s", resp.StatusCode, string(body))
	}

	t.connected.Store(true)

	t.wg.Add(1)
	go t.readLoop(resp.Body)

	// The server must advertise its message endpoint before any request
	// can be posted.
	select {
	case <-t.endpointCh:
	case <-ctx.Done():
		t.Close()
		return ctx.Err()
	case <-time.After(ConnectTimeout):
		t.Close()
		return fmt.Errorf("no endpoint event after %v", ConnectTimeout)
	}

	t.logger.Debug("SSE transport connected", "endpoint", t.endpoint())
	return nil
}

// Close shuts down the event stream.
func (t *SSETransport) Close() error {
	if !t.connected.Swap(false) {
		return nil
	}
	close(t.stopChan)
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	return nil
}

// Call posts a request to the message endpoint and waits for the response
// to arrive on the event stream.
func (t *SSETransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := t.nextID.Add(1)

	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
	}

	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	body, _ := json.Marshal(req)
	if err := t.post(ctx, body); err != nil {
		return nil, err
	}

	timeout := t.config.CallTimeout()

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, fmt.Errorf("server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

// Notify posts a notification to the message endpoint.
func (t *SSETransport) Notify(ctx context.Context, method string, params any) error {
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
	return t.post(ctx, body)
}

// Connected reports whether the transport is connected.
func (t *SSETransport) Connected() bool {
	return t.connected.Load()
}

func (t *SSETransport) post(ctx context.Context, body []byte) error {
	endpoint := t.endpoint()
	if endpoint == "" {
		return fmt.Errorf("no message endpoint")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.postClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func (t *SSETransport) endpoint() string {
	t.endpointMu.Lock()
	defer t.endpointMu.Unlock()
	return t.endpointURL
}

// setEndpoint resolves the advertised endpoint against the stream URL, so
// servers can send either a relative path or a full URL.
func (t *SSETransport) setEndpoint(raw string) {
	base, err := url.Parse(t.config.URL)
	if err != nil {
		t.logger.Warn("invalid base URL", "error", err)
		return
	}
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		t.logger.Warn("invalid endpoint event", "data", raw, "error", err)
		return
	}

	t.endpointMu.Lock()
	t.endpointURL = base.ResolveReference(ref).String()
	t.endpointMu.Unlock()

	t.endpointSet.Do(func() { close(t.endpointCh) })
}

// readLoop parses SSE events off the stream and routes responses to pending
// calls.
func (t *SSETransport) readLoop(body io.ReadCloser) {
	defer t.wg.Done()
	defer t.connected.Store(false)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	eventType := "message"
	var data strings.Builder

	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}

		line := scanner.Text()

		if line == "" {
			if data.Len() > 0 {
				t.dispatchEvent(eventType, data.String())
			}
			eventType = "message"
			data.Reset()
			continue
		}

		if after, ok := strings.CutPrefix(line, "event:"); ok {
			eventType = strings.TrimSpace(after)
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimSpace(after))
			continue
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Debug("event stream closed", "error", err)
	}
}

func (t *SSETransport) dispatchEvent(eventType, data string) {
	if eventType == "endpoint" {
		t.setEndpoint(data)
		return
	}

	var resp JSONRPCResponse
	if err := json.Unmarshal([]byte(data), &resp); err == nil && resp.ID != nil {
		var id int64
		switch v := resp.ID.(type) {
		case float64:
			id = int64(v)
		case int64:
			id = v
		case int:
			id = int64(v)
		default:
			t.logger.Warn("unexpected response ID type", "id", resp.ID)
			return
		}

		t.pendingMu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		return
	}

	var notif JSONRPCNotification
	if err := json.Unmarshal([]byte(data), &notif); err == nil && notif.Method != "" {
		t.logger.Debug("server notification", "method", notif.Method)
	}
}
