package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements the Recorder interface using Prometheus.
//
// Series (all labelled by destination):
//   - callguard_attempts_total{outcome}
//   - callguard_attempt_duration_seconds
//   - callguard_errors_total{category}
//   - callguard_retries_total
//   - callguard_circuit_trips_total
//   - callguard_circuit_state (0=closed, 1=open, 2=half-open)
//   - callguard_queue_length
//   - callguard_queue_wait_seconds
//   - callguard_queue_rejected_total
//   - callguard_dedup_requests_total{result}
//
// All metrics use a custom registry for better testability and isolation.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	attemptsTotal   *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	tripsTotal      *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
	queueLength     *prometheus.GaugeVec
	queueWait       *prometheus.HistogramVec
	queueRejected   *prometheus.CounterVec
	dedupTotal      *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new PrometheusRecorder with a custom registry.
//
// The registry can be passed to promhttp.HandlerFor() to expose metrics.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	r := &PrometheusRecorder{
		registry: registry,
		attemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_attempts_total",
				Help: "Total operation attempts by destination and outcome",
			},
			[]string{"destination", "outcome"},
		),
		// LLM calls run from hundreds of milliseconds to minutes.
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callguard_attempt_duration_seconds",
				Help:    "Duration of operation attempts",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"destination"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_errors_total",
				Help: "Total classified failures by destination and category",
			},
			[]string{"destination", "category"},
		),
		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_retries_total",
				Help: "Total scheduled retries by destination",
			},
			[]string{"destination"},
		),
		tripsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_circuit_trips_total",
				Help: "Total calls rejected by an open circuit",
			},
			[]string{"destination"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "callguard_circuit_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"destination"},
		),
		queueLength: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "callguard_queue_length",
				Help: "Current number of queued entries by destination",
			},
			[]string{"destination"},
		),
		queueWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callguard_queue_wait_seconds",
				Help:    "Time entries waited in the queue before dispatch",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
			},
			[]string{"destination"},
		),
		queueRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_queue_rejected_total",
				Help: "Total entries rejected because the queue was full",
			},
			[]string{"destination"},
		),
		dedupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_dedup_requests_total",
				Help: "Total deduplicator requests by destination and result",
			},
			[]string{"destination", "result"},
		),
	}

	registry.MustRegister(
		r.attemptsTotal,
		r.attemptDuration,
		r.errorsTotal,
		r.retriesTotal,
		r.tripsTotal,
		r.circuitState,
		r.queueLength,
		r.queueWait,
		r.queueRejected,
		r.dedupTotal,
	)

	return r
}

// Registry returns the custom Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordAttempt records one operation attempt and its latency.
func (r *PrometheusRecorder) RecordAttempt(destination, outcome string, latency time.Duration) {
	r.attemptsTotal.WithLabelValues(destination, outcome).Inc()
	r.attemptDuration.WithLabelValues(destination).Observe(latency.Seconds())
}

// RecordError records a classified failure.
func (r *PrometheusRecorder) RecordError(destination, category string) {
	r.errorsTotal.WithLabelValues(destination, category).Inc()
}

// RecordRetry records a scheduled retry.
func (r *PrometheusRecorder) RecordRetry(destination string) {
	r.retriesTotal.WithLabelValues(destination).Inc()
}

// RecordCircuitTrip records a call rejected by an open circuit.
func (r *PrometheusRecorder) RecordCircuitTrip(destination string) {
	r.tripsTotal.WithLabelValues(destination).Inc()
}

// SetCircuitState records the circuit state.
func (r *PrometheusRecorder) SetCircuitState(destination string, state int) {
	r.circuitState.WithLabelValues(destination).Set(float64(state))
}

// SetQueueLength records the current queue length.
func (r *PrometheusRecorder) SetQueueLength(destination string, length int) {
	r.queueLength.WithLabelValues(destination).Set(float64(length))
}

// RecordQueueWait records how long an entry waited before dispatch.
func (r *PrometheusRecorder) RecordQueueWait(destination string, wait time.Duration) {
	r.queueWait.WithLabelValues(destination).Observe(wait.Seconds())
}

// RecordQueueRejected records an entry rejected by a full queue.
func (r *PrometheusRecorder) RecordQueueRejected(destination string) {
	r.queueRejected.WithLabelValues(destination).Inc()
}

// RecordDedup records a deduplicator decision.
func (r *PrometheusRecorder) RecordDedup(destination, result string) {
	r.dedupTotal.WithLabelValues(destination, result).Inc()
}
