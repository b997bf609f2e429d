// Package server exposes the watcher's control surface over HTTP:
// health, engine status, Prometheus metrics, and the maintenance-mode
// toggle.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/bluegreenops/poolwatch/internal/engine"
	"github.com/bluegreenops/poolwatch/internal/maintenance"
)

// Config holds the HTTP server settings.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the control-surface HTTP server.
type Server struct {
	httpServer *http.Server
	engine     *engine.Engine
	maint      *maintenance.Store
}

// New creates the server and registers routes.
func New(cfg Config, eng *engine.Engine, maint *maintenance.Store) *Server {
	s := &Server{engine: eng, maint: maint}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/maintenance", s.handleGetMaintenance).Methods(http.MethodGet)
	r.HandleFunc("/maintenance", s.handleSetMaintenance).Methods(http.MethodPut, http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the route handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("control server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleGetMaintenance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.maint.Enabled()})
}

// handleSetMaintenance flips the suppression flag. The change is
// visible to the decision path on its very next read.
func (s *Server) handleSetMaintenance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "body must be {\"enabled\": true|false}"})
		return
	}

	s.maint.Set(*body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.maint.Enabled()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
