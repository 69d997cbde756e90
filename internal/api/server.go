// Package api serves the read-only status endpoints of a node.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"taskfleet/internal/lease"
	"taskfleet/internal/scheduler"
)

const (
	defaultLeaseLimit = 50
	maxLeaseLimit     = 1000
)

// Scheduler is the part of the scheduler the API reads.
type Scheduler interface {
	Snapshot() []scheduler.TaskStatus
	Node() string
}

type Options struct {
	Gatherer    prometheus.Gatherer
	EnableDebug bool
	Logger      zerolog.Logger
}

type Server struct {
	sched Scheduler
	store lease.Store
	log   zerolog.Logger
}

func NewServer(sched Scheduler, store lease.Store, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	s := &Server{sched: sched, store: store, log: opts.Logger}

	r.Get("/health", s.health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/leases", s.listLeases)
	r.Get("/api/leases/{profile}/{task}", s.latestLease)

	if opts.EnableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"node":   s.sched.Node(),
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Snapshot())
}

func (s *Server) listLeases(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaseLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxLeaseLimit)
	}

	recs, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list leases")
		http.Error(w, "lease store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) latestLease(w http.ResponseWriter, r *http.Request) {
	profile := chi.URLParam(r, "profile")
	task := chi.URLParam(r, "task")

	rec, err := s.store.Latest(r.Context(), task, profile)
	if errors.Is(err, lease.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("task", task).Str("profile", profile).Msg("read lease")
		http.Error(w, "lease store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
