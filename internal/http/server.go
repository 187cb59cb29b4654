// Package http implements the engine's read-only admin/introspection
// surface: a health check and a per-level shape report, in the style of
// the teacher's internal/http/server.go chi router (the teacher's raft
// and sharding endpoints are out of scope here — this surface never
// touches the write path).
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lsmdb/pkg/store"
)

const (
	contentTypeJSON        = "application/json"
	defaultPort            = "8080"
	defaultShutdownTimeout = 5 * time.Second
)

// Server is the admin HTTP surface over one engine instance.
type Server struct {
	store      *store.Store
	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer builds a Server bound to port (default 8080 if empty).
func NewServer(s *store.Store, port string) *Server {
	if port == "" {
		port = defaultPort
	}
	return &Server{
		store: s,
		URL:   "http://localhost:" + port,
		addr:  ":" + port,
	}
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin http: server error", "error", err)
		}
	}()
	slog.Info("admin http: started", "addr", s.URL)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin http: shutdown: %w", err)
	}
	return nil
}

func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("admin http: failed to encode response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	levels := make([]LevelStats, len(stats))
	for i, st := range stats {
		levels[i] = LevelStats{Level: st.Level, NumTables: st.NumTables, TotalBytes: st.TotalBytes}
	}
	s.writeJSON(w, http.StatusOK, StatsResponse{
		InstanceID: s.store.InstanceID().String(),
		Levels:     levels,
	})
}
