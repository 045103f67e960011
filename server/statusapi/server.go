// Package statusapi serves Prometheus metrics, a liveness check and the
// outcome of the most recent scan run over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playlistbot/playlistbot/logger"
	"github.com/playlistbot/playlistbot/responder"
)

const shutdownTimeout = 5 * time.Second

// Server represents the status HTTP server
type Server struct {
	addr    string
	started time.Time
	server  *http.Server

	mu      sync.RWMutex
	last    *responder.Report
	running bool
}

// New creates a new status server listening on addr
func New(addr string) *Server {
	return &Server{addr: addr, started: time.Now()}
}

// Start runs the server until ctx is cancelled. Errors other than a clean
// shutdown are sent to errChan.
func (s *Server) Start(ctx context.Context, errChan chan<- error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errChan <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		return
	}
	logger.Info("[STATUS] starting HTTP server", "addr", ln.Addr().String())
	if err := s.Serve(ctx, ln); err != nil {
		errChan <- fmt.Errorf("status server failed: %w", err)
	}
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("[STATUS] shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("[STATUS] error shutting down HTTP server", "error", err)
		}
	}()

	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-shutdownDone
		return nil
	}
	return err
}

// Handler returns the routed handler with logging middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.HandleFunc("/status", s.handleStatus).Methods("GET")
	return router
}

// RunStarted marks a run as in progress.
func (s *Server) RunStarted() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
}

// RecordRun stores the report of a finished run.
func (s *Server) RecordRun(r responder.Report) {
	s.mu.Lock()
	s.last = &r
	s.running = false
	s.mu.Unlock()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("[STATUS] request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "elapsed", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Uptime  string            `json:"uptime"`
	Running bool              `json:"running"`
	LastRun *responder.Report `json:"last_run,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	resp := StatusResponse{
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
		Running: s.running,
		LastRun: s.last,
	}
	s.mu.RUnlock()
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("[STATUS] error encoding JSON response", "error", err)
	}
}
