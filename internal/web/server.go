// Package web serves the read-only observability API: stage status,
// trace snapshots and a host resource snapshot. It never mutates
// autopilot state.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/endorhq/rover/internal/autopilot"
	"github.com/endorhq/rover/internal/core"
	"github.com/endorhq/rover/internal/diagnostics"
	"github.com/endorhq/rover/internal/logging"
)

// Server exposes the autopilot over HTTP.
type Server struct {
	pilot      *autopilot.Autopilot
	diag       *diagnostics.Collector
	logger     *logging.Logger
	httpServer *http.Server
}

// New creates the status server on addr.
func New(addr string, pilot *autopilot.Autopilot, diag *diagnostics.Collector, logger *logging.Logger) *Server {
	s := &Server{
		pilot:  pilot,
		diag:   diag,
		logger: logger.With("component", "web"),
	}
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
	r.Use(c.Handler)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/traces", s.handleTraces)
		r.Get("/traces/{id}", s.handleTrace)
	})
	return r
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.Info("status server listening", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Autopilot autopilot.StatusView `json:"autopilot"`
		Host      diagnostics.Snapshot `json:"host"`
	}{
		Autopilot: s.pilot.Status(),
		Host:      s.diag.Collect(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTraces(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.pilot.Traces().Snapshot()
	out := make([]core.TraceSnapshot, 0, len(snapshot))
	for _, t := range snapshot {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snapshot := s.pilot.Traces().Snapshot()
	t, ok := snapshot[id]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "trace not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encoding response", "error", err)
	}
}
