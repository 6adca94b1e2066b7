package http

import (
	"net/http"
	"time"

	"callguard/internal/handler/http/respond"
	"callguard/internal/resilience/circuitbreaker"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string                 `json:"status"` // "healthy" or "degraded"
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version,omitempty"`
	Circuits  map[string]CheckStatus `json:"circuits"`
}

// CheckStatus is the health of one destination circuit.
type CheckStatus struct {
	State           string     `json:"state"`
	NextAttemptTime *time.Time `json:"next_attempt_time,omitempty"`
}

// health always answers 200 while the process serves; an open circuit marks
// the gateway degraded, not down.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	circuits := make(map[string]CheckStatus)

	for _, name := range s.deps.Limiter.Destinations() {
		snap, ok := s.deps.Limiter.CircuitState(name)
		if !ok {
			continue
		}
		check := CheckStatus{State: snap.State.String()}
		if snap.State != circuitbreaker.StateClosed {
			status = "degraded"
		}
		if !snap.NextAttemptTime.IsZero() {
			next := snap.NextAttemptTime.UTC()
			check.NextAttemptTime = &next
		}
		circuits[name] = check
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	respond.JSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Version:   s.deps.Version,
		Circuits:  circuits,
	})
}
