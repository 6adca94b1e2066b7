package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"callguard/internal/handler/http/respond"
	"callguard/internal/resilience/circuitbreaker"
	"callguard/internal/resilience/metrics"
	"callguard/internal/resilience/ratelimiter"
)

// DestinationView is the combined status of one destination.
type DestinationView struct {
	Name    string                  `json:"name"`
	Metrics metrics.Snapshot        `json:"metrics"`
	Queue   ratelimiter.QueueStatus `json:"queue"`
	Circuit circuitbreaker.Snapshot `json:"circuit"`
}

func (s *Server) view(name string) (DestinationView, bool) {
	m, ok := s.deps.Limiter.GetMetrics(name)
	if !ok {
		return DestinationView{}, false
	}
	q, _ := s.deps.Limiter.GetQueueStatus(name)
	c, _ := s.deps.Limiter.CircuitState(name)
	return DestinationView{Name: name, Metrics: m, Queue: q, Circuit: c}, true
}

func (s *Server) listDestinations(w http.ResponseWriter, r *http.Request) {
	names := s.deps.Limiter.Destinations()
	out := make([]DestinationView, 0, len(names))
	for _, name := range names {
		if v, ok := s.view(name); ok {
			out = append(out, v)
		}
	}
	respond.JSON(w, http.StatusOK, map[string]any{"destinations": out})
}

func (s *Server) destinationMetrics(w http.ResponseWriter, r *http.Request) {
	m, ok := s.deps.Limiter.GetMetrics(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, ratelimiter.ErrUnknownDestination)
		return
	}
	respond.JSON(w, http.StatusOK, m)
}

func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	q, ok := s.deps.Limiter.GetQueueStatus(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, ratelimiter.ErrUnknownDestination)
		return
	}
	respond.JSON(w, http.StatusOK, q)
}

func (s *Server) circuitState(w http.ResponseWriter, r *http.Request) {
	c, ok := s.deps.Limiter.CircuitState(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, ratelimiter.ErrUnknownDestination)
		return
	}
	respond.JSON(w, http.StatusOK, c)
}

func (s *Server) resetCircuit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.deps.Limiter.ResetCircuitBreaker(name); err != nil {
		writeError(w, err)
		return
	}
	c, _ := s.deps.Limiter.CircuitState(name)
	respond.JSON(w, http.StatusOK, c)
}

func (s *Server) resetMetrics(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Limiter.ResetMetrics(chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) dedupStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Dedup == nil {
		respond.JSON(w, http.StatusOK, map[string]any{})
		return
	}
	respond.JSON(w, http.StatusOK, s.deps.Dedup.Stats())
}
