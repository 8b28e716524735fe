// Package monitor serves the operational HTTP surface: health, metrics,
// and read-only views of the portfolio state.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/journal"
	"github.com/sawpanic/equityrun/internal/metrics"
	"github.com/sawpanic/equityrun/internal/state"
)

// SnapshotFunc returns the current state snapshot. The monitor treats the
// result as read-only.
type SnapshotFunc func() *state.Snapshot

type Server struct {
	srv     *http.Server
	snap    SnapshotFunc
	journal *journal.Journal
	started time.Time
}

func New(addr string, reg *metrics.Registry, snap SnapshotFunc, j *journal.Journal) *Server {
	s := &Server{snap: snap, journal: j, started: time.Now().UTC()}

	r := mux.NewRouter()
	r.Handle("/metrics", reg.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	r.HandleFunc("/closes", s.handleCloses).Methods(http.MethodGet)
	r.HandleFunc("/risk", s.handleRisk).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() {
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("monitor listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("monitor server failed")
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.snap()
	writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"open_positions": len(snap.Positions),
		"last_saved":     snap.LastSaved,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snap().Positions)
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snap().Risk)
}

func (s *Server) handleCloses(w http.ResponseWriter, r *http.Request) {
	// Journal is authoritative when enabled; otherwise fall back to the
	// snapshot's in-memory closed list.
	if s.journal != nil {
		rows, err := s.journal.RecentCloses(r.Context(), 50)
		if err == nil {
			writeJSON(w, rows)
			return
		}
		log.Error().Err(err).Msg("journal query failed, serving snapshot closes")
	}
	writeJSON(w, s.snap().Closed)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
