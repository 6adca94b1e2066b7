package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Completion outcome label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Completions tracks LLM completion calls made through the gateway.
type Completions struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
}

// NewCompletions creates completion metrics and registers them with reg.
func NewCompletions(reg prometheus.Registerer) *Completions {
	m := &Completions{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_completions_total",
				Help: "Total number of completion requests by provider and status",
			},
			[]string{"provider", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_completion_duration_seconds",
				Help:    "End-to-end completion duration including queueing and retries",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Tokens consumed by direction",
			},
			[]string{"provider", "direction"},
		),
	}

	reg.MustRegister(m.total, m.duration, m.tokens)
	return m
}

// RecordCompletion records one completion call.
func (m *Completions) RecordCompletion(provider string, success bool, duration time.Duration) {
	status := StatusSuccess
	if !success {
		status = StatusFailure
	}
	m.total.WithLabelValues(provider, status).Inc()
	m.duration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordTokens records token usage reported by the provider.
func (m *Completions) RecordTokens(provider string, input, output int64) {
	if input > 0 {
		m.tokens.WithLabelValues(provider, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokens.WithLabelValues(provider, "output").Add(float64(output))
	}
}
