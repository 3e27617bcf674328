// Package server exposes the engine to front-ends: JSON control endpoints
// over HTTP and the event bus as a websocket stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Iron-Ham/friendflow/internal/config"
	"github.com/Iron-Ham/friendflow/internal/engine"
	"github.com/Iron-Ham/friendflow/internal/event"
	"github.com/Iron-Ham/friendflow/internal/logging"
	"github.com/Iron-Ham/friendflow/internal/welcome"
)

// Engine is the part of *engine.Engine the server drives.
type Engine interface {
	Start(ctx context.Context) error
	Stop() error
	Pause() bool
	Resume() bool
	State() engine.State
	RunID() string
	Counters() engine.Counters

	SetActiveInterval(time.Duration) time.Duration
	SetPassiveInterval(time.Duration) time.Duration
	SetJitter(time.Duration) time.Duration
	ActiveInterval() time.Duration
	PassiveInterval() time.Duration
	Jitter() time.Duration

	ToggleWelcome(enabled bool)
	WelcomeEnabled() bool
	WelcomeSteps() []welcome.Step

	Bus() *event.Bus
}

var _ Engine = (*engine.Engine)(nil)

// Server serves the control API and the event stream.
type Server struct {
	cfg    config.ServerConfig
	engine Engine
	logger *logging.Logger
	hub    *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a server for e. Call Start to listen.
func New(cfg config.ServerConfig, e Engine, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithComponent("server")
	return &Server{
		cfg:    cfg,
		engine: e,
		logger: logger,
		hub:    NewHub(e.Bus(), cfg.AllowedOrigins, logger),
	}
}

// Handler returns the routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/pause", s.handlePause)
	mux.HandleFunc("POST /api/resume", s.handleResume)
	mux.HandleFunc("GET /api/counters", s.handleCounters)
	mux.HandleFunc("GET /api/intervals", s.handleGetIntervals)
	mux.HandleFunc("PUT /api/intervals", s.handleSetIntervals)
	mux.HandleFunc("GET /api/welcome", s.handleGetWelcome)
	mux.HandleFunc("PUT /api/welcome", s.handleSetWelcome)
	mux.Handle("GET /events", s.hub)
	return mux
}

// Start binds the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("server: already started")
	}
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.listener = listener
	s.server = server
	s.hub.Start()
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "error", err)
		}
	}()
	s.logger.Info("listening", "addr", listener.Addr().String())
	return nil
}

// Shutdown stops accepting requests, closes every event stream and waits
// for in-flight requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	s.hub.Close()
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	return err
}

// Addr is the bound address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type stateResponse struct {
	State    string          `json:"state"`
	RunID    string          `json:"run_id,omitempty"`
	Counters engine.Counters `json:"counters"`
}

type intervals struct {
	ActiveSeconds  *float64 `json:"active_seconds,omitempty"`
	PassiveSeconds *float64 `json:"passive_seconds,omitempty"`
	JitterSeconds  *float64 `json:"jitter_seconds,omitempty"`
}

type welcomeRequest struct {
	Enabled *bool `json:"enabled"`
}

type welcomeResponse struct {
	Enabled bool       `json:"enabled"`
	Steps   []stepView `json:"steps"`
}

type stepView struct {
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
	Path    string `json:"path,omitempty"`
	URL     string `json:"url,omitempty"`
	Title   string `json:"title,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) state() stateResponse {
	return stateResponse{
		State:    string(s.engine.State()),
		RunID:    s.engine.RunID(),
		Counters: s.engine.Counters(),
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(r.Context()); err != nil {
		s.logger.Warn("start requested but failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Stop(); err != nil && !errors.Is(err, engine.ErrStopTimeout) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if s.engine.State() == engine.StateStopped {
		writeError(w, http.StatusConflict, "engine is not running")
		return
	}
	s.engine.Pause()
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if s.engine.State() == engine.StateStopped {
		writeError(w, http.StatusConflict, "engine is not running")
		return
	}
	s.engine.Resume()
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) handleCounters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Counters())
}

func (s *Server) handleGetIntervals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.intervals())
}

func (s *Server) handleSetIntervals(w http.ResponseWriter, r *http.Request) {
	var req intervals
	if !decode(w, r, &req) {
		return
	}
	for _, v := range []*float64{req.ActiveSeconds, req.PassiveSeconds, req.JitterSeconds} {
		if v != nil && *v < 0 {
			writeError(w, http.StatusBadRequest, "intervals must not be negative")
			return
		}
		if v != nil && *v > engine.MaxInterval.Seconds() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("intervals must not exceed %.0f seconds", engine.MaxInterval.Seconds()))
			return
		}
	}
	if req.ActiveSeconds != nil {
		s.engine.SetActiveInterval(seconds(*req.ActiveSeconds))
	}
	if req.PassiveSeconds != nil {
		s.engine.SetPassiveInterval(seconds(*req.PassiveSeconds))
	}
	if req.JitterSeconds != nil {
		s.engine.SetJitter(seconds(*req.JitterSeconds))
	}
	writeJSON(w, http.StatusOK, s.intervals())
}

func (s *Server) intervals() intervals {
	a := s.engine.ActiveInterval().Seconds()
	p := s.engine.PassiveInterval().Seconds()
	j := s.engine.Jitter().Seconds()
	return intervals{ActiveSeconds: &a, PassiveSeconds: &p, JitterSeconds: &j}
}

func (s *Server) handleGetWelcome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.welcome())
}

func (s *Server) handleSetWelcome(w http.ResponseWriter, r *http.Request) {
	var req welcomeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}
	s.engine.ToggleWelcome(*req.Enabled)
	writeJSON(w, http.StatusOK, s.welcome())
}

func (s *Server) welcome() welcomeResponse {
	steps := s.engine.WelcomeSteps()
	resp := welcomeResponse{Enabled: s.engine.WelcomeEnabled(), Steps: make([]stepView, 0, len(steps))}
	for _, st := range steps {
		resp.Steps = append(resp.Steps, stepView{
			Kind:    st.Kind.String(),
			Content: st.Content,
			Path:    st.Path,
			URL:     st.URL,
			Title:   st.Title,
		})
	}
	return resp
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

const maxBodyBytes = 64 << 10

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
