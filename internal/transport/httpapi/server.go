// Package httpapi serves the dashboard: a JSON API over the control
// surface, a server-sent-events stream of queue snapshots and a small HTML
// page.
package httpapi

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"foxq/internal/control"
	"foxq/internal/eventbus"
	"foxq/pkg/logx"
)

//go:embed index.html
var staticFS embed.FS

const maxBodyBytes = 1 << 20

type Config struct {
	Addr              string
	BroadcastInterval time.Duration
	AllowOrigin       string
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool
	// Runtime feeds GET /runtime; nil leaves the route answering 404.
	Runtime func() any
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = "127.0.0.1:9674"
	}
	if c.BroadcastInterval <= 0 {
		c.BroadcastInterval = time.Second
	}
	if c.AllowOrigin == "" {
		c.AllowOrigin = "*"
	}
	return c
}

type Server[T any] struct {
	cfg Config
	ctl *control.Surface[T]
	bus eventbus.Bus
	log logx.Logger

	mu         sync.Mutex
	srv        *http.Server
	ln         net.Listener
	cancelBase context.CancelFunc
	served     chan struct{}
}

func New[T any](cfg Config, ctl *control.Surface[T], bus eventbus.Bus, log logx.Logger) *Server[T] {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server[T]{
		cfg: cfg.withDefaults(),
		ctl: ctl,
		bus: bus,
		log: log.With(logx.String("comp", "httpapi")),
	}
}

// Handler returns the routed handler without listening.
func (s *Server[T]) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /tasks", s.handleTasks)
	mux.HandleFunc("POST /tasks", s.handleAdd)
	mux.HandleFunc("POST /tasks/restart-failed", s.handleRestartFailed)
	mux.HandleFunc("POST /tasks/pause", s.handlePause)
	mux.HandleFunc("POST /tasks/resume", s.handleResume)
	mux.HandleFunc("POST /tasks/checkpoint", s.handleCheckpoint)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.HandleFunc("POST /jobs/{name}/run", s.handleRunJob)
	mux.HandleFunc("GET /runtime", s.handleRuntime)
	mux.HandleFunc("GET /events", s.handleEvents)
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return s.withLogging(s.withCORS(mux))
}

// Start listens and serves in the background. Starting twice is a no-op.
func (s *Server[T]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dashboard listen %s: %w", s.cfg.Addr, err)
	}
	// SSE streams never go idle, so they are tied to a base context that
	// Stop cancels before Shutdown.
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("dashboard server stopped with error", logx.Err(err))
		}
	}()

	s.srv, s.ln, s.cancelBase, s.served = srv, ln, cancel, served
	s.log.Info("dashboard started", logx.String("url", "http://"+ln.Addr().String()+"/"))
	return nil
}

// Addr is the bound address, or "" when not listening.
func (s *Server[T]) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// URL is the dashboard URL shown to operators.
func (s *Server[T]) URL() string {
	if addr := s.Addr(); addr != "" {
		return "http://" + addr + "/"
	}
	return "http://" + s.cfg.Addr + "/"
}

func (s *Server[T]) Stop(ctx context.Context) {
	s.mu.Lock()
	srv, cancel, served := s.srv, s.cancelBase, s.served
	s.srv, s.ln, s.cancelBase, s.served = nil, nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	cancel()
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	select {
	case <-served:
	case <-ctx.Done():
	}
	s.log.Info("dashboard stopped")
}

func (s *Server[T]) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server[T]) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", rec.status),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
