// Package http exposes the gateway's admin and completion API over chi.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"callguard/internal/handler/http/requestid"
	"callguard/internal/infra/llm"
	obsmetrics "callguard/internal/observability/metrics"
	"callguard/internal/observability/tracing"
	"callguard/internal/resilience/circuitbreaker"
	"callguard/internal/resilience/dedup"
	"callguard/internal/resilience/metrics"
	"callguard/internal/resilience/ratelimiter"
)

// maxBodyBytes bounds completion request bodies.
const maxBodyBytes = 1 << 20

// Limiter is the orchestrator surface the API reads and administers.
type Limiter interface {
	Destinations() []string
	GetMetrics(destination string) (metrics.Snapshot, bool)
	GetQueueStatus(destination string) (ratelimiter.QueueStatus, bool)
	CircuitState(destination string) (circuitbreaker.Snapshot, bool)
	ResetCircuitBreaker(destination string) error
	ResetMetrics(destination string) error
}

// DedupStats reports deduplication counters.
type DedupStats interface {
	Stats() dedup.Stats
}

// Deps are the collaborators served by the router.
type Deps struct {
	Limiter   Limiter
	Dedup     DedupStats
	Completer llm.Completer // nil disables POST /v1/completions
	Gatherer  prometheus.Gatherer
	Metrics   *obsmetrics.HTTP // nil disables HTTP metrics
	Logger    *slog.Logger
	Version   string
}

// Server holds the handlers.
type Server struct {
	deps    Deps
	started time.Time
}

// NewRouter builds the HTTP handler.
//
//	GET  /health
//	GET  /metrics
//	GET  /v1/destinations
//	GET  /v1/destinations/{name}/metrics
//	GET  /v1/destinations/{name}/queue
//	GET  /v1/destinations/{name}/circuit
//	POST /v1/destinations/{name}/circuit/reset
//	POST /v1/destinations/{name}/metrics/reset
//	GET  /v1/dedup/stats
//	POST /v1/completions
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps, started: time.Now()}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(tracing.Middleware)
	r.Use(Logging(deps.Logger))
	r.Use(Recover(deps.Logger))
	if deps.Metrics != nil {
		r.Use(Metrics(deps.Metrics))
	}

	r.Get("/health", s.health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/destinations", s.listDestinations)
		r.Route("/destinations/{name}", func(r chi.Router) {
			r.Get("/metrics", s.destinationMetrics)
			r.Get("/queue", s.queueStatus)
			r.Get("/circuit", s.circuitState)
			r.Post("/circuit/reset", s.resetCircuit)
			r.Post("/metrics/reset", s.resetMetrics)
		})
		r.Get("/dedup/stats", s.dedupStats)
		if deps.Completer != nil {
			r.With(LimitRequestBody(maxBodyBytes)).Post("/completions", s.complete)
		}
	})

	return r
}
