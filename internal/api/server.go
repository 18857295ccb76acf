// Package api serves engine control and snapshots over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/engine"
	"firestige.xyz/netdash/internal/publisher"
	"firestige.xyz/netdash/internal/source"
)

// Controller is the engine surface the API drives.
type Controller interface {
	Start(cfg engine.Config) error
	Stop() error
	Health() engine.Health
	Latest() *publisher.Snapshot
	Subscribe() (*publisher.Subscription, *publisher.Snapshot)
}

// StartRequest overrides the configured capture target. Empty fields
// keep the configured value.
type StartRequest struct {
	Interface string `json:"interface,omitempty"`
	Filter    string `json:"filter,omitempty"`
	Backend   string `json:"backend,omitempty"`
	File      string `json:"file,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Server is the HTTP control plane.
type Server struct {
	addr       string
	ctrl       Controller
	interfaces func() ([]source.Interface, error)

	mu       sync.Mutex
	defaults engine.Config

	server   *http.Server
	listener net.Listener
}

// Option configures a Server.
type Option func(*Server)

// WithInterfaceLister replaces the device listing used by
// GET /api/v1/interfaces.
func WithInterfaceLister(fn func() ([]source.Interface, error)) Option {
	return func(s *Server) {
		s.interfaces = fn
	}
}

// NewServer creates a Server. defaults is the engine configuration used
// by POST /api/v1/start before request overrides.
func NewServer(addr string, ctrl Controller, defaults engine.Config, opts ...Option) *Server {
	s := &Server{
		addr:       addr,
		ctrl:       ctrl,
		defaults:   defaults,
		interfaces: source.Interfaces,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDefaults replaces the configuration used by later start requests.
func (s *Server) SetDefaults(cfg engine.Config) {
	s.mu.Lock()
	s.defaults = cfg
	s.mu.Unlock()
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/snapshot/stream", s.handleStream).Methods(http.MethodGet)
	v1.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	v1.HandleFunc("/stop", s.handleStop).Methods(http.MethodPost)
	v1.HandleFunc("/interfaces", s.handleInterfaces).Methods(http.MethodGet)
	return r
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("api server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down. Open snapshot streams end when ctx does.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.server.Close()
		return fmt.Errorf("api server shutdown: %w", err)
	}
	slog.Info("api server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Health())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.ctrl.Latest()
	if snap == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStream sends every published snapshot as a server-sent event.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sub, latest := s.ctrl.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if latest != nil {
		if err := writeEvent(w, latest); err != nil {
			return
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, snap); err != nil {
				slog.Debug("snapshot stream closed", "remote", r.RemoteAddr, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: decode request: %v", core.ErrConfigInvalid, err))
			return
		}
	}

	s.mu.Lock()
	cfg := s.defaults
	s.mu.Unlock()
	if req.Interface != "" {
		cfg.Capture.Interface = req.Interface
		cfg.Capture.File = ""
	}
	if req.Filter != "" {
		cfg.Capture.Filter = req.Filter
	}
	if req.Backend != "" {
		cfg.Capture.Backend = req.Backend
	}
	if req.File != "" {
		cfg.Capture.File = req.File
		cfg.Capture.Backend = source.BackendFile
	}

	if err := s.ctrl.Start(cfg); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.ctrl.Health())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Stop(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Health())
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	ifaces, err := s.interfaces()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ifaces)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: codeFor(err)})
}

func writeEvent(w http.ResponseWriter, snap *publisher.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Seq, data)
	return err
}
