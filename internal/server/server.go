package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/thruflo/tasksync/internal/logging"
	"github.com/thruflo/tasksync/internal/loop"
	"github.com/thruflo/tasksync/internal/state"
)

// Config holds server configuration options.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8090". Port 0 picks a
	// free port.
	Addr string
	// Token, when set, is required as a bearer token on /status.
	Token string
	// FailureThreshold is the number of consecutive failed cycles after
	// which /healthz reports unhealthy. Defaults to loop.DefaultFailureThreshold.
	FailureThreshold int
}

// Server exposes the state of a running sync loop over HTTP.
type Server struct {
	addr      string
	token     string
	threshold int
	store     *state.Store
	log       *logging.Logger

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	started  bool
	history  []loop.CycleStats
}

// New creates a Server reading task counts from store.
func New(cfg Config, store *state.Store, log *logging.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if log == nil {
		log = logging.Default()
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = loop.DefaultFailureThreshold
	}
	return &Server{
		addr:      cfg.Addr,
		token:     cfg.Token,
		threshold: threshold,
		store:     store,
		log:       log,
	}, nil
}

// Start serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.server
	s.started = true
	s.mu.Unlock()

	s.log.Info("status server listening", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		if err := s.Stop(); err != nil {
			s.log.Warn("status server shutdown failed", "error", err)
		}
	}()

	err = srv.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.started = false
	return nil
}

// ListenAddr returns the address the server is listening on, or "" if it
// has not started.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Record keeps the stats of a finished cycle. It is meant to be passed to
// the loop as loop.Options.OnCycle.
func (s *Server) Record(stats loop.CycleStats) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, stats)
	if len(s.history) > s.threshold {
		s.history = s.history[len(s.history)-s.threshold:]
	}
}

func (s *Server) lastCycle() (last *loop.CycleStats, streak int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return nil, 0
	}
	stats := s.history[len(s.history)-1]
	return &stats, loop.FailureStreak(s.history)
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.withAuth(s.handleStatus))
	return mux
}

// withAuth requires the configured bearer token, if any.
func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			handler(w, r)
			return
		}

		const bearerPrefix = "Bearer "
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(authHeader, bearerPrefix)
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		handler(w, r)
	}
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string `json:"status"`
	FailureStreak int    `json:"failure_streak"`
	Error         string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	last, streak := s.lastCycle()
	resp := HealthResponse{Status: "ok", FailureStreak: streak}
	code := http.StatusOK
	if streak >= s.threshold {
		resp.Status = "failing"
		resp.Error = last.Err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// CycleResponse describes the last finished cycle.
type CycleResponse struct {
	ID          string    `json:"id"`
	Started     time.Time `json:"started"`
	DurationMS  int64     `json:"duration_ms"`
	Pulled      int       `json:"pulled"`
	Rejected    int       `json:"rejected"`
	Transitions int       `json:"transitions"`
	Created     int       `json:"created"`
	Errors      int       `json:"errors"`
	Error       string    `json:"error,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Tasks         map[state.State]int `json:"tasks"`
	Total         int                 `json:"total"`
	Cursor        string              `json:"cursor,omitempty"`
	FailureStreak int                 `json:"failure_streak"`
	LastCycle     *CycleResponse      `json:"last_cycle,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts, err := s.store.CountByState()
	if err != nil {
		s.log.Error("status: failed to count tasks", "error", err)
		http.Error(w, "failed to read sync cache", http.StatusInternalServerError)
		return
	}
	cursor, err := s.store.Cursor()
	if err != nil {
		s.log.Error("status: failed to read cursor", "error", err)
		http.Error(w, "failed to read sync cache", http.StatusInternalServerError)
		return
	}

	resp := StatusResponse{Tasks: make(map[state.State]int, len(state.AllStates)), Cursor: cursor}
	for _, st := range state.AllStates {
		resp.Tasks[st] = counts[st]
		resp.Total += counts[st]
	}

	last, streak := s.lastCycle()
	resp.FailureStreak = streak
	if last != nil {
		resp.LastCycle = &CycleResponse{
			ID:          last.ID,
			Started:     last.Started.UTC(),
			DurationMS:  last.Duration.Milliseconds(),
			Pulled:      last.Pulled,
			Rejected:    last.Rejected,
			Transitions: last.Transitions,
			Created:     last.Created,
			Errors:      last.Errors,
		}
		if last.Err != nil {
			resp.LastCycle.Error = last.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
