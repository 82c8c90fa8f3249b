// Package statusapi exposes a read-only HTTP surface over the sync engine:
// health, cache statistics, duplicate groups, checkpoint journal, and the
// operation log. It never mutates state; the CLI owns all writes.
package statusapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/kbsync/cache"
	"github.com/hazyhaar/kbsync/checkpoint"
	"github.com/hazyhaar/kbsync/embedstore"
)

// Config configures the status API.
type Config struct {
	Cache       *cache.Cache        // Required.
	Store       *embedstore.Store   // Optional; /stats omits embedding counts without it.
	Checkpoints *checkpoint.Manager // Optional; /checkpoints returns 404 without it.
	Logger      *slog.Logger        // Default: slog.Default().
}

// Service serves the status endpoints.
type Service struct {
	cache *cache.Cache
	store *embedstore.Store
	ckpt  *checkpoint.Manager
	log   *slog.Logger
}

// New builds the service. Cache is required.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		cache: cfg.Cache,
		store: cfg.Store,
		ckpt:  cfg.Checkpoints,
		log:   cfg.Logger,
	}
}

// Router returns the chi router for the status endpoints.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/duplicates", s.handleDuplicates)
	r.Get("/checkpoints", s.handleCheckpoints)
	r.Get("/logs", s.handleLogs)
	return r
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats returns cache statistics, plus the remote embedding count when
// a store is configured.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Statistics(r.Context())
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	resp := map[string]any{"cache": stats}
	if s.store != nil {
		if n, err := s.store.Count(r.Context()); err != nil {
			resp["embeddings_error"] = err.Error()
		} else {
			resp["embeddings"] = n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDuplicates returns the duplicate summary. ?top= bounds the group
// list, default 10.
func (s *Service) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	top, _ := strconv.Atoi(r.URL.Query().Get("top"))
	sum, err := s.cache.DuplicateSummary(r.Context(), top)
	if err != nil {
		s.fail(w, "duplicates", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleCheckpoints returns the checkpoint journal. ?run= filters to one run,
// ?source= to one source, ?latest=1 returns only the last matching entry.
func (s *Service) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if s.ckpt == nil {
		http.Error(w, "checkpoint journal not configured", http.StatusNotFound)
		return
	}
	source := r.URL.Query().Get("source")
	if r.URL.Query().Get("latest") == "1" {
		var (
			cp  *checkpoint.Checkpoint
			err error
		)
		if source != "" {
			cp, err = s.ckpt.LatestStatus(source)
		} else {
			cp, err = s.ckpt.Latest()
		}
		if err != nil {
			s.fail(w, "checkpoints", err)
			return
		}
		writeJSON(w, http.StatusOK, cp)
		return
	}
	var (
		cps []checkpoint.Checkpoint
		err error
	)
	switch {
	case source != "":
		cps, err = s.ckpt.ForSource(source)
	case r.URL.Query().Get("run") != "":
		cps, err = s.ckpt.ForRun(r.URL.Query().Get("run"))
	default:
		cps, err = s.ckpt.Read()
	}
	if err != nil {
		s.fail(w, "checkpoints", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"checkpoints": cps, "count": len(cps)})
}

// handleLogs returns operation log entries, most recent first. ?source=
// filters by source id, ?limit= caps the result (default 100).
func (s *Service) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.cache.ReadLogs(r.Context(), r.URL.Query().Get("source"), limit)
	if err != nil {
		s.fail(w, "logs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries, "count": len(entries)})
}

func (s *Service) fail(w http.ResponseWriter, op string, err error) {
	s.log.Error("status api request failed", "op", op, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
