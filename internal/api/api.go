// Package api exposes the read-only HTTP status surface consumed by the
// hosting shell: engine snapshot, per-target status, recent alerts and
// events. It never mutates engine state.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/guet/internal/events"
	"github.com/hazyhaar/guet/internal/store"
	"github.com/hazyhaar/guet/internal/watcher"
)

// StatusSource is the supervisor view the API reads from.
type StatusSource interface {
	Statuses() []watcher.Status
	Status(targetID string) (watcher.Status, bool)
}

// Server serves the status routes. It implements http.Handler.
type Server struct {
	src     StatusSource
	store   *store.Store
	events  *events.Log
	started time.Time
	router  chi.Router
}

// New builds the status server over a supervisor view and the store.
func New(src StatusSource, st *store.Store, ev *events.Log) *Server {
	s := &Server{
		src:     src,
		store:   st,
		events:  ev,
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/status/{targetID}", s.handleTargetStatus)
	r.Get("/alerts/recent", s.handleRecentAlerts)
	r.Get("/events/recent", s.handleRecentEvents)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

// engineStatus is the /status payload.
type engineStatus struct {
	Uptime        string           `json:"uptime"`
	Targets       []watcher.Status `json:"targets"`
	PendingAlerts int              `json:"pending_alerts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.PendingAlerts(r.Context())
	if err != nil {
		writeError(w, 500, err)
		return
	}

	statuses := s.src.Statuses()
	if statuses == nil {
		statuses = []watcher.Status{}
	}
	writeJSON(w, 200, engineStatus{
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Targets:       statuses,
		PendingAlerts: pending,
	})
}

func (s *Server) handleTargetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "targetID")
	st, ok := s.src.Status(id)
	if !ok {
		writeError(w, 404, errors.New("unknown target: "+id))
		return
	}
	writeJSON(w, 200, st)
}

func (s *Server) handleRecentAlerts(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	alerts, err := s.store.RecentAlerts(r.Context(), limit)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if alerts == nil {
		alerts = []*store.AlertEvent{}
	}
	writeJSON(w, 200, alerts)
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	evs, err := s.events.Recent(r.Context(), r.URL.Query().Get("target"), limit)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	if evs == nil {
		evs = []*events.Event{}
	}
	writeJSON(w, 200, evs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
