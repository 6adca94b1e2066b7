package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callguard/internal/observability/slo"
	"callguard/internal/resilience/metrics"
)

type fakeSweeper struct {
	calls   atomic.Int32
	maxAge  atomic.Int64
	removed int
}

func (f *fakeSweeper) CleanupStale(maxAge time.Duration) int {
	f.calls.Add(1)
	f.maxAge.Store(int64(maxAge))
	return f.removed
}

type fakeSource map[string]metrics.Snapshot

func (f fakeSource) GetAllMetrics() map[string]metrics.Snapshot { return f }

func testConfig() Config {
	return Config{
		SweepSchedule:      "@every 1s",
		MetricsLogSchedule: "@every 1h",
		DedupStaleTimeout:  time.Minute,
	}
}

func TestNew_InvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.SweepSchedule = "whenever"

	_, err := New(cfg, &fakeSweeper{}, fakeSource{}, nil, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobDedupSweep)
}

func TestSweepStale(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	sweeper := &fakeSweeper{removed: 3}

	s, err := New(testConfig(), sweeper, fakeSource{}, nil, m, nil)
	require.NoError(t, err)

	s.run(JobDedupSweep, s.SweepStale)

	assert.Equal(t, int32(1), sweeper.calls.Load())
	assert.Equal(t, int64(time.Minute), sweeper.maxAge.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.swept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues(JobDedupSweep, "success")))
}

func TestLogMetrics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	tracker := slo.NewTracker(prometheus.NewRegistry())

	source := fakeSource{
		"anthropic": {Destination: "anthropic", TotalRequests: 10, SuccessfulRequests: 5, FailedRequests: 5, SuccessRate: 50},
		"openai":    {Destination: "openai"},
	}

	s, err := New(testConfig(), &fakeSweeper{}, source, tracker, nil, logger)
	require.NoError(t, err)
	require.NoError(t, s.LogMetrics())

	var summaries, breaches int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		switch entry["msg"] {
		case "destination metrics":
			summaries++
		case "slo breached":
			breaches++
			assert.Equal(t, "anthropic", entry["destination"])
			assert.Equal(t, "availability", entry["objective"])
		}
	}
	assert.Equal(t, 2, summaries)
	assert.Equal(t, 1, breaches)
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	sweeper := &fakeSweeper{}
	s, err := New(testConfig(), sweeper, fakeSource{}, nil, nil, nil)
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
