// Package worker runs the gateway's cron-driven background jobs: the stale
// deduplication sweep and the periodic metrics summary.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"callguard/internal/observability/slo"
	"callguard/internal/resilience/metrics"
)

// Job names used in logs and metrics.
const (
	JobDedupSweep = "dedup_sweep"
	JobMetricsLog = "metrics_log"
)

// StaleSweeper releases in-flight deduplication entries older than maxAge.
type StaleSweeper interface {
	CleanupStale(maxAge time.Duration) int
}

// MetricsSource provides per-destination snapshots.
type MetricsSource interface {
	GetAllMetrics() map[string]metrics.Snapshot
}

// Config holds job schedules in standard cron syntax or @every descriptors.
type Config struct {
	SweepSchedule      string
	MetricsLogSchedule string
	DedupStaleTimeout  time.Duration
}

// Scheduler owns the cron instance and its jobs.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	sweeper StaleSweeper
	source  MetricsSource
	slo     *slo.Tracker
	metrics *Metrics
	logger  *slog.Logger
}

// New registers both jobs. tracker and m may be nil.
func New(cfg Config, sweeper StaleSweeper, source MetricsSource, tracker *slo.Tracker, m *Metrics, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}

	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		), cron.WithLogger(cl)),
		cfg:     cfg,
		sweeper: sweeper,
		source:  source,
		slo:     tracker,
		metrics: m,
		logger:  logger,
	}

	if _, err := s.cron.AddFunc(cfg.SweepSchedule, func() { s.run(JobDedupSweep, s.SweepStale) }); err != nil {
		return nil, fmt.Errorf("add %s job: %w", JobDedupSweep, err)
	}
	if _, err := s.cron.AddFunc(cfg.MetricsLogSchedule, func() { s.run(JobMetricsLog, s.LogMetrics) }); err != nil {
		return nil, fmt.Errorf("add %s job: %w", JobMetricsLog, err)
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("worker started",
		slog.String("sweep_schedule", s.cfg.SweepSchedule),
		slog.String("metrics_log_schedule", s.cfg.MetricsLogSchedule))
}

// Stop prevents new runs and waits for running jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		s.logger.Info("worker stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(job string, fn func() error) {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	if s.metrics != nil {
		s.metrics.recordRun(job, duration, err)
	}
	if err != nil {
		s.logger.Error("job failed", slog.String("job", job), slog.Any("error", err))
	}
}

// SweepStale releases deduplication entries in flight longer than DedupStaleTimeout.
func (s *Scheduler) SweepStale() error {
	removed := s.sweeper.CleanupStale(s.cfg.DedupStaleTimeout)
	if removed > 0 && s.metrics != nil {
		s.metrics.swept.Add(float64(removed))
	}
	return nil
}

// LogMetrics logs one summary line per destination and refreshes SLO gauges.
func (s *Scheduler) LogMetrics() error {
	for name, snap := range s.source.GetAllMetrics() {
		s.logger.Info("destination metrics",
			slog.String("destination", name),
			slog.Int64("total_requests", snap.TotalRequests),
			slog.Int64("failed_requests", snap.FailedRequests),
			slog.Int64("total_retries", snap.TotalRetries),
			slog.Int64("circuit_breaker_trips", snap.CircuitBreakerTrips),
			slog.Float64("success_rate", snap.SuccessRate),
			slog.Float64("requests_per_minute", snap.RequestsPerMinute),
			slog.Duration("p95", snap.Latency.P95),
			slog.Int64("queue_rejected", snap.Queue.Rejected))

		if s.slo == nil {
			continue
		}
		for _, b := range s.slo.Update(snap) {
			s.logger.Warn("slo breached",
				slog.String("destination", b.Destination),
				slog.String("objective", b.Objective),
				slog.Float64("value", b.Value),
				slog.Float64("target", b.Target))
		}
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}
