package ratelimiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"callguard/internal/resilience"
	"callguard/internal/resilience/circuitbreaker"
	"callguard/internal/resilience/classify"
	"callguard/internal/resilience/metrics"
	"callguard/internal/resilience/retry"
)

func fastConfig() DestinationConfig {
	return DestinationConfig{
		RequestsPerMinute: 60000,
		BurstSize:         100,
		MaxRetries:        2,
		Retry: retry.Config{
			Kind:      retry.Exponential,
			BaseDelay: time.Millisecond,
			MaxDelay:  10 * time.Millisecond,
		},
		CircuitBreaker: circuitbreaker.Config{
			FailureThreshold:    10,
			ResetTimeout:        time.Minute,
			HalfOpenMaxAttempts: 1,
		},
	}
}

func newLimiter(t *testing.T, dc DestinationConfig, opts ...Option) *Limiter {
	t.Helper()
	l, err := New(Config{Destinations: map[string]DestinationConfig{"test": dc}}, opts...)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	l := newLimiter(t, fastConfig())

	var calls atomic.Int32
	value, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
		if calls.Add(1) <= 2 {
			return nil, &classify.HTTPError{StatusCode: 503, Message: "unavailable"}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, int32(3), calls.Load())

	m, ok := l.GetMetrics("test")
	require.True(t, ok)
	assert.Equal(t, int64(2), m.TotalRetries)
	assert.Equal(t, int64(1), m.RetriedRequests)
	assert.Equal(t, int64(1), m.SuccessfulRequests)
	assert.Equal(t, int64(2), m.FailedRequests)
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, map[string]int64{"SERVER_ERROR": 2}, m.ErrorsByCategory)
}

func TestExecute_NonRetryableFailsImmediately(t *testing.T) {
	l := newLimiter(t, fastConfig())

	var calls atomic.Int32
	_, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, &classify.HTTPError{StatusCode: 401, Message: "bad key"}
	})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "test", execErr.Destination)
	assert.Equal(t, 1, execErr.Attempts)
	assert.Equal(t, classify.CategoryPermanent, execErr.Classification.Category)

	var httpErr *classify.HTTPError
	require.ErrorAs(t, err, &httpErr, "original error is preserved")
	assert.Equal(t, 401, httpErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_UnknownErrorIsNotRetried(t *testing.T) {
	l := newLimiter(t, fastConfig())

	var calls atomic.Int32
	_, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, errors.New("something odd")
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_ContextDeadlineIsNotRetried(t *testing.T) {
	l := newLimiter(t, fastConfig())

	var calls atomic.Int32
	_, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, context.DeadlineExceeded
	})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, classify.CategoryUnknown, execErr.Classification.Category)
	assert.Equal(t, 1, execErr.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_RetriesExhausted(t *testing.T) {
	l := newLimiter(t, fastConfig())

	var calls atomic.Int32
	errBoom := errors.New("connect ETIMEDOUT")
	_, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, errBoom
	})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.Attempts)
	assert.Equal(t, classify.CategoryTransient, execErr.Classification.Category)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, int32(3), calls.Load())

	m, _ := l.GetMetrics("test")
	assert.Equal(t, int64(2), m.TotalRetries)
	assert.Equal(t, int64(1), m.RetriedRequests)
}

func TestExecute_CircuitOpenShortCircuits(t *testing.T) {
	dc := fastConfig()
	dc.MaxRetries = 0
	dc.CircuitBreaker.FailureThreshold = 2
	rec := metrics.NewPrometheusRecorder()
	l := newLimiter(t, dc, WithRecorder(rec))

	var calls atomic.Int32
	op := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, &classify.HTTPError{StatusCode: 500}
	}

	for i := 0; i < 2; i++ {
		_, err := l.Execute(context.Background(), "test", op)
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
	}

	_, err := l.Execute(context.Background(), "test", op)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)

	var openErr *circuitbreaker.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "test", openErr.Name)
	assert.Equal(t, int32(2), calls.Load(), "operation not invoked while open")

	m, _ := l.GetMetrics("test")
	assert.Equal(t, int64(1), m.CircuitBreakerTrips)
	assert.Equal(t, int64(2), m.FailedRequests, "a trip is not an operation failure")

	state, ok := l.CircuitState("test")
	require.True(t, ok)
	assert.Equal(t, circuitbreaker.StateOpen, state.State)

	assert.Equal(t, 1.0, circuitGauge(t, rec, "test"))

	require.NoError(t, l.ResetCircuitBreaker("test"))
	state, _ = l.CircuitState("test")
	assert.Equal(t, circuitbreaker.StateClosed, state.State)
	assert.Equal(t, 0.0, circuitGauge(t, rec, "test"))
}

func circuitGauge(t *testing.T, rec *metrics.PrometheusRecorder, destination string) float64 {
	t.Helper()
	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "callguard_circuit_state" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "destination" && lp.GetValue() == destination {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("no circuit state gauge for %s", destination)
	return 0
}

func TestExecute_BreakerStopsRetryLoop(t *testing.T) {
	dc := fastConfig()
	dc.MaxRetries = 5
	dc.CircuitBreaker.FailureThreshold = 2
	l := newLimiter(t, dc)

	var calls atomic.Int32
	_, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, &classify.HTTPError{StatusCode: 503}
	})

	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecute_FIFOAndSerialized(t *testing.T) {
	l := newLimiter(t, fastConfig())

	gate := make(chan struct{})
	started := make(chan struct{})
	var (
		mu      sync.Mutex
		order   []int
		active  atomic.Int32
		overlap atomic.Bool
	)

	op := func(i int) Operation {
		return func(ctx context.Context) (any, error) {
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			defer active.Add(-1)

			if i == 0 {
				close(started)
				<-gate
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = l.Execute(context.Background(), "test", op(0))
	}()
	<-started

	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Execute(context.Background(), "test", op(i))
		}(i)
		require.Eventually(t, func() bool {
			s, _ := l.GetQueueStatus("test")
			return s.Length == i
		}, time.Second, time.Millisecond)
	}

	s, ok := l.GetQueueStatus("test")
	require.True(t, ok)
	assert.True(t, s.Processing)

	close(gate)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, order)
	assert.False(t, overlap.Load(), "calls to one destination never overlap")

	assert.Eventually(t, func() bool {
		s, _ := l.GetQueueStatus("test")
		return !s.Processing && s.Length == 0
	}, time.Second, time.Millisecond)

	m, _ := l.GetMetrics("test")
	assert.Equal(t, 5, m.Queue.MaxLength)
	assert.Equal(t, int64(6), m.Queue.Dispatched)
}

func TestExecute_QueueFull(t *testing.T) {
	dc := fastConfig()
	dc.MaxQueueSize = 1
	l := newLimiter(t, dc)

	gate := make(chan struct{})
	started := make(chan struct{})
	blocking := func(ctx context.Context) (any, error) {
		close(started)
		<-gate
		return nil, nil
	}
	quick := func(ctx context.Context) (any, error) { return nil, nil }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = l.Execute(context.Background(), "test", blocking)
	}()
	<-started
	go func() {
		defer wg.Done()
		_, _ = l.Execute(context.Background(), "test", quick)
	}()
	require.Eventually(t, func() bool {
		s, _ := l.GetQueueStatus("test")
		return s.Length == 1
	}, time.Second, time.Millisecond)

	_, err := l.Execute(context.Background(), "test", quick)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(gate)
	wg.Wait()

	m, _ := l.GetMetrics("test")
	assert.Equal(t, int64(1), m.Queue.Rejected)
}

func TestExecute_CanceledWhileQueued(t *testing.T) {
	l := newLimiter(t, fastConfig())

	gate := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
			close(started)
			<-gate
			return nil, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var called atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		_, err := l.Execute(ctx, "test", func(ctx context.Context) (any, error) {
			called.Store(true)
			return nil, nil
		})
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		s, _ := l.GetQueueStatus("test")
		return s.Length == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(gate)
	assert.Eventually(t, func() bool {
		s, _ := l.GetQueueStatus("test")
		return !s.Processing
	}, time.Second, time.Millisecond)
	assert.False(t, called.Load(), "canceled entry is skipped")
}

func TestExecute_SpacesDispatches(t *testing.T) {
	dc := fastConfig()
	dc.RequestsPerMinute = 600 // 100ms spacing
	dc.BurstSize = 1
	l := newLimiter(t, dc)

	op := func(ctx context.Context) (any, error) { return nil, nil }

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := l.Execute(context.Background(), "test", op)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, dc.MinInterval())
}

func TestExecute_UnknownDestinationUsesDefault(t *testing.T) {
	l, err := New(Config{Destinations: map[string]DestinationConfig{
		DefaultDestination: fastConfig(),
	}})
	require.NoError(t, err)
	defer l.Close()

	_, ok := l.GetMetrics("fresh")
	assert.False(t, ok)

	value, err := l.Execute(context.Background(), "fresh", func(ctx context.Context) (any, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, value)

	assert.Equal(t, []string{"default", "fresh"}, l.Destinations())
	m, ok := l.GetMetrics("fresh")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.SuccessfulRequests)

	defaults, _ := l.GetMetrics(DefaultDestination)
	assert.Zero(t, defaults.TotalRequests, "destinations do not share metrics")
	assert.Len(t, l.GetAllMetrics(), 2)
}

func TestNew_InvalidConfiguration(t *testing.T) {
	dc := fastConfig()
	dc.RequestsPerMinute = 0

	_, err := New(Config{Destinations: map[string]DestinationConfig{"bad": dc}})
	assert.ErrorIs(t, err, resilience.ErrInvalidConfiguration)

	dc = fastConfig()
	dc.CircuitBreaker.ResetTimeout = 10 * time.Millisecond
	_, err = New(Config{Destinations: map[string]DestinationConfig{"bad": dc}})

	var cfgErr *resilience.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "reset_timeout", cfgErr.Field)
}

func TestNew_NilConfigUsesDefault(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, []string{DefaultDestination}, l.Destinations())
}

func TestClose(t *testing.T) {
	l, err := New(Config{Destinations: map[string]DestinationConfig{"test": fastConfig()}})
	require.NoError(t, err)

	gate := make(chan struct{})
	started := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		_, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
			close(started)
			<-gate
			return nil, nil
		})
		firstDone <- err
	}()
	<-started

	queuedDone := make(chan error, 1)
	go func() {
		_, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
			return nil, nil
		})
		queuedDone <- err
	}()
	require.Eventually(t, func() bool {
		s, _ := l.GetQueueStatus("test")
		return s.Length == 1
	}, time.Second, time.Millisecond)

	l.Close()
	assert.ErrorIs(t, <-queuedDone, ErrClosed)

	close(gate)
	assert.NoError(t, <-firstDone, "executing entry completes")

	_, err = l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
	_, err = l.Execute(context.Background(), "other", func(ctx context.Context) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestExecute_PanicBecomesError(t *testing.T) {
	l := newLimiter(t, fastConfig())

	_, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	m, ok := l.GetMetrics("test")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(1), m.FailedRequests)
	assert.Equal(t, map[string]int64{"UNKNOWN": 1}, m.ErrorsByCategory)

	value, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
		return "still alive", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "still alive", value)
}

func TestAdminOperations_UnknownDestination(t *testing.T) {
	l := newLimiter(t, fastConfig())

	_, ok := l.GetQueueStatus("missing")
	assert.False(t, ok)
	_, ok = l.CircuitState("missing")
	assert.False(t, ok)
	assert.ErrorIs(t, l.ResetCircuitBreaker("missing"), ErrUnknownDestination)
	assert.ErrorIs(t, l.ResetMetrics("missing"), ErrUnknownDestination)
}

func TestResetMetrics(t *testing.T) {
	l := newLimiter(t, fastConfig())

	_, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) { return nil, nil })
	require.NoError(t, err)

	require.NoError(t, l.ResetMetrics("test"))
	m, _ := l.GetMetrics("test")
	assert.Zero(t, m.TotalRequests)
}

func TestDo_Typed(t *testing.T) {
	l := newLimiter(t, fastConfig())

	n, err := Do(context.Background(), l, "test", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Do(context.Background(), l, "test", func(ctx context.Context) (int, error) {
		return 0, &classify.HTTPError{StatusCode: 404}
	})
	assert.Error(t, err)
}

func TestExecute_RecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	l := newLimiter(t, fastConfig(), WithTracer(tp.Tracer("test")))

	var calls atomic.Int32
	_, err := l.Execute(context.Background(), "test", func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, &classify.HTTPError{StatusCode: 429}
		}
		return nil, nil
	})
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ratelimiter.execute", spans[0].Name)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "attempt failed", spans[0].Events[0].Name)
}
