// Package server exposes the task pipeline over HTTP: task submission,
// per-task SSE and websocket event feeds, health, and Prometheus metrics.
// Tasks run in the background against a shared pipeline; every task keeps an
// event feed that replays history to late subscribers and then follows live.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/conductor/internal/cache"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/pipeline"
	"github.com/haasonsaas/conductor/internal/stream"
)

const (
	dedupeTTL    = 10 * time.Minute
	dedupeMax    = 1024
	maxKeptTasks = 128
	wsWriteWait  = 10 * time.Second
)

// Options configures a Server. Config and Components are required.
type Options struct {
	Config     *config.Config
	Components *pipeline.Components
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// taskExecutor is the slice of the pipeline the server drives.
type taskExecutor interface {
	ExecuteTask(ctx context.Context, opts pipeline.TaskOptions) (*pipeline.Result, error)
}

// Server is the serve-mode HTTP front end. It owns the task registry and the
// lifecycle of every task it starts; Shutdown cancels running tasks and waits
// for them to finish flushing.
type Server struct {
	cfg     *config.Config
	exec    taskExecutor
	logger  *slog.Logger
	metrics *observability.Metrics

	dedupe   *cache.DedupeCache
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*taskEntry
	order []string
}

// taskEntry tracks one submitted task for the feed endpoints.
type taskEntry struct {
	id     string
	feed   *stream.Feed
	cancel context.CancelFunc
}

// New builds a Server around already-constructed pipeline components.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Components == nil {
		return nil, errors.New("pipeline components are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return newServer(opts.Config, opts.Components, logger, opts.Metrics), nil
}

func newServer(cfg *config.Config, exec taskExecutor, logger *slog.Logger, metrics *observability.Metrics) *Server {
	baseCtx, stop := context.WithCancel(context.Background())
	return &Server{
		cfg:     cfg,
		exec:    exec,
		logger:  logger,
		metrics: metrics,
		dedupe: cache.NewDedupeCache(cache.DedupeCacheOptions{
			TTL:     dedupeTTL,
			MaxSize: dedupeMax,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		baseCtx: baseCtx,
		stop:    stop,
		tasks:   make(map[string]*taskEntry),
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	addr := s.cfg.Serve.Addr()

	server := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when the port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown cancels running tasks, stops accepting requests, and waits for
// task goroutines to flush. The context bounds the HTTP drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()

	var err error
	if s.httpServer != nil {
		if e := s.httpServer.Shutdown(ctx); e != nil {
			err = e
		}
	}
	s.wg.Wait()
	return err
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/tasks", s.instrument("/api/tasks", s.handleTasks))
	mux.HandleFunc("/api/tasks/", s.instrument("/api/tasks/{id}", s.handleTask))
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck
}

type taskRequest struct {
	Task           string `json:"task"`
	TaskID         string `json:"task_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// handleTasks accepts a task submission and starts it in the background.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Validate up front so a bad task fails the request instead of the
	// background run. The pipeline normalizes again before executing.
	if _, err := pipeline.NormalizeTask(req.Task); err != nil {
		s.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.dedupe.Check(cache.TaskDedupeKey("api", req.IdempotencyKey)) {
		s.jsonError(w, "Duplicate submission", http.StatusConflict)
		return
	}

	taskID := req.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	bus := stream.NewBus(0)
	feed := stream.NewFeed()
	entry := &taskEntry{id: taskID, feed: feed, cancel: cancel}

	s.mu.Lock()
	if _, exists := s.tasks[taskID]; exists {
		s.mu.Unlock()
		cancel()
		s.jsonError(w, "Task ID already in use", http.StatusConflict)
		return
	}
	s.tasks[taskID] = entry
	s.order = append(s.order, taskID)
	s.pruneLocked()
	s.mu.Unlock()

	go feed.Run(bus)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		// The pipeline ends the bus on every path it reaches; this covers
		// failures before the stream handler exists.
		defer bus.End(context.Background())

		res, err := s.exec.ExecuteTask(ctx, pipeline.TaskOptions{
			TaskID: taskID,
			Task:   req.Task,
			Bus:    bus,
		})
		if err != nil {
			s.logger.Error("task failed", "task_id", taskID, "error", err)
			return
		}
		s.logger.Info("task finished", "task_id", taskID, "status", res.Status)
	}()

	s.jsonResponse(w, http.StatusAccepted, taskResponse{TaskID: taskID, Status: "running"})
}

// handleTask dispatches /api/tasks/{id}/... sub-resources.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(path, "/")
	if len(parts) < 1 || parts[0] == "" {
		s.jsonError(w, "Task ID required", http.StatusBadRequest)
		return
	}
	taskID := parts[0]

	if len(parts) != 2 {
		s.jsonError(w, "Not found", http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "events":
		if r.Method != http.MethodGet {
			s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleTaskEvents(w, r, taskID)
	case "ws":
		if r.Method != http.MethodGet {
			s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleTaskWS(w, r, taskID)
	case "cancel":
		if r.Method != http.MethodPost {
			s.jsonError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleTaskCancel(w, taskID)
	default:
		s.jsonError(w, "Not found", http.StatusNotFound)
	}
}

// handleTaskEvents streams the task's feed as server-sent events. The stream
// replays from the beginning and closes once the task's bus ends.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request, taskID string) {
	entry := s.task(taskID)
	if entry == nil {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if s.metrics != nil {
		s.metrics.StreamClientConnected("sse")
		defer s.metrics.StreamClientDisconnected("sse")
	}

	for e := range entry.feed.Subscribe(r.Context()) {
		payload, err := json.Marshal(FilterEvent(e))
		if err != nil {
			s.logger.Warn("drop unencodable event", "task_id", taskID, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleTaskWS mirrors the SSE feed over a websocket. The connection closes
// normally when the feed ends; a client read error cancels delivery.
func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request, taskID string) {
	entry := s.task(taskID)
	if entry == nil {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.StreamClientConnected("websocket")
		defer s.metrics.StreamClientDisconnected("websocket")
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for e := range entry.feed.Subscribe(ctx) {
		payload, err := json.Marshal(FilterEvent(e))
		if err != nil {
			s.logger.Warn("drop unencodable event", "task_id", taskID, "error", err)
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}

	if entry.feed.Done() {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait)) //nolint:errcheck
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

// handleTaskCancel requests cancellation of a running task. Cancellation is
// asynchronous; the feed reports the final state.
func (s *Server) handleTaskCancel(w http.ResponseWriter, taskID string) {
	entry := s.task(taskID)
	if entry == nil {
		s.jsonError(w, "Task not found", http.StatusNotFound)
		return
	}
	entry.cancel()
	s.jsonResponse(w, http.StatusOK, taskResponse{TaskID: taskID, Status: "cancelling"})
}

func (s *Server) task(id string) *taskEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

// pruneLocked evicts the oldest finished tasks beyond maxKeptTasks. Running
// tasks are never evicted. Caller holds mu.
func (s *Server) pruneLocked() {
	for len(s.order) > maxKeptTasks {
		evicted := false
		for i, id := range s.order {
			entry := s.tasks[id]
			if entry == nil || entry.feed.Done() {
				delete(s.tasks, id)
				s.order = append(s.order[:i], s.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

// instrument wraps a handler with request metrics keyed by route pattern.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, route,
			strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

// statusRecorder captures the response status while forwarding the flush and
// hijack capabilities the streaming handlers depend on.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacking unsupported")
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}
