package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks background job execution.
type Metrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	swept       prometheus.Counter
}

// NewMetrics creates job metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "worker_job_runs_total",
				Help: "Total number of background job runs by job and status",
			},
			[]string{"job", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "worker_job_duration_seconds",
				Help:    "Duration of background job runs",
				Buckets: []float64{.0001, .001, .01, .1, 1},
			},
			[]string{"job"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "worker_job_last_success_timestamp",
				Help: "Unix timestamp of the last successful run",
			},
			[]string{"job"},
		),
		swept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "worker_dedup_entries_swept_total",
				Help: "Stale deduplication entries released by the sweep job",
			},
		),
	}

	reg.MustRegister(m.jobRuns, m.jobDuration, m.lastSuccess, m.swept)
	return m
}

func (m *Metrics) recordRun(job string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err == nil {
		m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}
