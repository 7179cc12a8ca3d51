// Package server is the live view: an HTTP API over the result sink with push
// updates, rendered reports and control of the model checker process.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tlcrun/internal/auth"
	"tlcrun/internal/check"
	"tlcrun/internal/report"
	"tlcrun/internal/runner"
	"tlcrun/internal/sink"
	"tlcrun/internal/sse"
)

// RunOptionsFunc derives the options of a run started through the API.
type RunOptionsFunc func(files check.SpecFiles, ignoreDeadlock bool) runner.Options

type Server struct {
	sink       *sink.Sink
	manager    *runner.Manager
	hub        *sse.Hub
	auth       *auth.Auth
	logger     *slog.Logger
	runOptions RunOptionsFunc
	interval   time.Duration
	page       *template.Template

	// baseCtx outlives requests; runs started through the API use it.
	baseCtx context.Context
	detach  func()
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithAuth requires a token on every route.
func WithAuth(a *auth.Auth) Option {
	return func(s *Server) { s.auth = a }
}

// WithUpdateInterval limits how often progress updates are pushed.
func WithUpdateInterval(d time.Duration) Option {
	return func(s *Server) { s.interval = d }
}

// WithRunOptions sets how runs started through the API are configured.
func WithRunOptions(fn RunOptionsFunc) Option {
	return func(s *Server) { s.runOptions = fn }
}

// New creates a server over results. manager may be nil for a read-only view.
func New(results *sink.Sink, manager *runner.Manager, opts ...Option) *Server {
	s := &Server{
		sink:     results,
		manager:  manager,
		logger:   slog.Default(),
		interval: 500 * time.Millisecond,
		baseCtx:  context.Background(),
		page:     template.Must(template.New("report").Parse(reportPage)),
		runOptions: func(_ check.SpecFiles, ignoreDeadlock bool) runner.Options {
			return runner.Options{IgnoreDeadlock: ignoreDeadlock}
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = sse.NewHub(s.logger, s.interval)
	return s
}

// Follow attaches the server to the sink as the consumer of source.
func (s *Server) Follow(source check.Source) {
	s.detach = s.sink.Attach(source, s.Push)
}

// Push sends an update of r to connected clients. It is a sink consumer for
// callers that share the sink's single consumer slot.
func (s *Server) Push(r *check.Result) {
	if s.hub.ShouldSend(r.Source, r.Status.IsFinal()) {
		s.hub.Broadcast(r.Source, sse.ResultEvent(r))
	}
}

// Close detaches from the sink.
func (s *Server) Close() {
	if s.detach != nil {
		s.detach()
	}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.wrapHandler(s.handleReport))
	mux.HandleFunc("GET /report", s.wrapHandler(s.handleReport))
	mux.HandleFunc("GET /report.md", s.wrapHandler(s.handleReportMarkdown))
	mux.HandleFunc("GET /api/result", s.wrapHandler(s.handleResult))
	mux.HandleFunc("GET /api/values/{id}", s.wrapHandler(s.handleValue))
	mux.HandleFunc("GET /api/usage", s.wrapHandler(s.handleUsage))
	mux.HandleFunc("POST /api/check", s.wrapHandler(s.handleCheck))
	mux.HandleFunc("POST /api/again", s.wrapHandler(s.handleAgain))
	mux.HandleFunc("POST /api/stop", s.wrapHandler(s.handleStop))
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", promhttp.Handler())

	var h http.Handler = mux
	if s.auth != nil {
		h = s.auth.Middleware(h)
	}
	return s.loggingMiddleware(h)
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("Live view listening", "url", "http://"+ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down the live view: %w", err)
	}
	return nil
}

// handlerFunc returns the response body or an error. The content type is set by
// the handler.
type handlerFunc func(w http.ResponseWriter, r *http.Request) ([]byte, error)

// httpError carries a status code to wrapHandler.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func errorf(status int, format string, args ...any) error {
	return &httpError{status: status, msg: fmt.Sprintf(format, args...)}
}

func (s *Server) wrapHandler(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := h(w, r)
		if err != nil {
			var he *httpError
			if errors.As(err, &he) {
				http.Error(w, he.msg, he.status)
				return
			}
			s.logger.Error("HTTP handler error",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(data) > 0 {
			_, _ = w.Write(data)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return data, nil
}

// latest returns the snapshot selected by the source query parameter, or the
// source that published last.
func (s *Server) latest(r *http.Request) (*check.Result, error) {
	q := r.URL.Query().Get("source")
	if q == "" {
		if _, res, ok := s.sink.Current(); ok {
			return res, nil
		}
		return nil, errorf(http.StatusNotFound, "no result yet")
	}
	source, err := check.ParseSource(q)
	if err != nil {
		return nil, errorf(http.StatusBadRequest, "%v", err)
	}
	res, ok := s.sink.Latest(source)
	if !ok {
		return nil, errorf(http.StatusNotFound, "no %s result yet", source)
	}
	return res, nil
}

func reportOptions(r *http.Request) report.Options {
	opts := report.Options{OutputTail: 200}
	q := r.URL.Query()
	if v, err := strconv.ParseBool(q.Get("expand")); err == nil {
		opts.ExpandValues = v
	}
	if n, err := strconv.Atoi(q.Get("tail")); err == nil && n >= 0 {
		opts.OutputTail = n
	}
	return opts
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	res, err := s.latest(r)
	if err != nil {
		return nil, err
	}
	return writeJSON(w, http.StatusOK, res.View())
}

func (s *Server) handleValue(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	id, ok := check.ParseValueID(r.PathValue("id"))
	if !ok {
		return nil, errorf(http.StatusBadRequest, "invalid value id %q", r.PathValue("id"))
	}
	text, ok := s.sink.ResolveValue(id)
	if !ok {
		return nil, errorf(http.StatusNotFound, "value %s is not available", id)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	return []byte(text), nil
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	res, err := s.latest(r)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	err = s.page.Execute(&buf, map[string]any{
		"Title":   res.Files.SpecName(),
		"Running": !res.Status.IsFinal(),
		"Body":    template.HTML(report.HTML(res, reportOptions(r))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return buf.Bytes(), nil
}

func (s *Server) handleReportMarkdown(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	res, err := s.latest(r)
	if err != nil {
		return nil, err
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	return []byte(report.Markdown(res, reportOptions(r))), nil
}

func (s *Server) requireManager() error {
	if s.manager == nil {
		return errorf(http.StatusNotImplemented, "this server does not run the model checker")
	}
	return nil
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if err := s.requireManager(); err != nil {
		return nil, err
	}
	run := s.manager.Active()
	if run == nil {
		return nil, errorf(http.StatusNotFound, "no model check is running")
	}
	u, err := run.Usage()
	if errors.Is(err, runner.ErrFinished) {
		return nil, errorf(http.StatusNotFound, "no model check is running")
	}
	if err != nil {
		return nil, err
	}
	return writeJSON(w, http.StatusOK, u)
}

type checkRequest struct {
	Path           string `json:"path"`
	Cfg            string `json:"cfg"`
	IgnoreDeadlock bool   `json:"ignore_deadlock"`
}

type runResponse struct {
	RunID       string `json:"run_id"`
	CommandLine string `json:"command_line"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if err := s.requireManager(); err != nil {
		return nil, err
	}
	var req checkRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		return nil, errorf(http.StatusBadRequest, "invalid request: %v", err)
	}
	files, err := check.SpecFilesWithConfig(req.Path, req.Cfg)
	if err != nil {
		return nil, errorf(http.StatusBadRequest, "%v", err)
	}
	run, err := s.manager.Start(s.baseCtx, files, s.runOptions(files, req.IgnoreDeadlock))
	return s.started(w, run, err)
}

func (s *Server) handleAgain(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if err := s.requireManager(); err != nil {
		return nil, err
	}
	run, err := s.manager.Again(s.baseCtx)
	return s.started(w, run, err)
}

func (s *Server) started(w http.ResponseWriter, run *runner.Run, err error) ([]byte, error) {
	switch {
	case errors.Is(err, runner.ErrBusy):
		return nil, errorf(http.StatusConflict, "%v", err)
	case errors.Is(err, runner.ErrNoPrevious):
		return nil, errorf(http.StatusNotFound, "%v", err)
	case runner.IsToolingError(err):
		return nil, errorf(http.StatusUnprocessableEntity, "%v", err)
	case err != nil:
		return nil, err
	}
	s.logger.Info("Started model check", "run", run.ID(), "spec", run.Files().TLAPath)
	return writeJSON(w, http.StatusAccepted, runResponse{RunID: run.ID(), CommandLine: run.CommandLine()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if err := s.requireManager(); err != nil {
		return nil, err
	}
	return writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.manager.Stop()})
}

func clientSource(r *http.Request) (check.Source, error) {
	source, err := check.ParseSource(r.URL.Query().Get("source"))
	if err != nil {
		return "", errorf(http.StatusBadRequest, "%v", err)
	}
	return source, nil
}

// handleEvents streams result summaries. The latest summary is sent first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	source, err := clientSource(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := sse.NewClient(fmt.Sprintf("sse-%d", time.Now().UnixNano()), source)
	s.hub.Register(client)
	defer s.hub.Unregister(client.ID)
	defer close(client.Done)

	send := func(ev sse.Event) bool {
		data, err := sse.FormatSSE(ev)
		if err != nil {
			s.logger.Error("Failed to format event", "error", err)
			return true
		}
		if _, err := w.Write(data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if res, ok := s.sink.Latest(source); ok {
		send(sse.ResultEvent(res))
	} else {
		flusher.Flush()
	}

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-client.Events:
			if !send(ev) {
				return
			}
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// handleWS pushes the same events as handleEvents over a WebSocket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	source, err := clientSource(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("Failed to close WebSocket connection", "error", err)
		}
	}()

	client := sse.NewClient(fmt.Sprintf("ws-%d", time.Now().UnixNano()), source)
	s.hub.Register(client)
	defer s.hub.Unregister(client.ID)

	// The read loop only notices the peer closing the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	defer close(client.Done)

	if res, ok := s.sink.Latest(source); ok {
		ev := sse.ResultEvent(res)
		if err := conn.WriteJSON(wsMessage{Type: ev.Type, Data: ev.Data}); err != nil {
			return
		}
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev := <-client.Events:
			if err := conn.WriteJSON(wsMessage{Type: ev.Type, Data: ev.Data}); err != nil {
				s.logger.Debug("Failed to write WebSocket message", "error", err)
				return
			}
		}
	}
}

// loggingMiddleware logs each HTTP request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker to support WebSocket upgrades
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
}

// Flush implements http.Flusher to support streaming
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

const reportPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} - tlcrun</title>
{{if .Running}}<meta http-equiv="refresh" content="2">{{end}}
<style>
body { font-family: sans-serif; max-width: 70em; margin: 1em auto; }
pre { background: #f4f4f4; padding: .5em; overflow-x: auto; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: .2em .5em; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`
