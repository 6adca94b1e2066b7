package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"callguard/internal/resilience/circuitbreaker"
	"callguard/internal/resilience/classify"
	"callguard/internal/resilience/metrics"
	"callguard/internal/resilience/retry"
)

// entry is one queued call. done is buffered so settling never blocks.
type entry struct {
	ctx        context.Context
	op         Operation
	enqueuedAt time.Time
	done       chan outcome
}

type outcome struct {
	value any
	err   error
}

func (e *entry) settle(value any, err error) {
	e.done <- outcome{value: value, err: err}
}

// lane holds everything owned by one destination. Its queue is drained by at
// most one processor goroutine at a time.
type lane struct {
	name       string
	cfg        DestinationConfig
	limiter    *rate.Limiter
	breaker    *circuitbreaker.CircuitBreaker
	strategy   *retry.Strategy
	collector  *metrics.Collector
	classifier *classify.Classifier
	clock      metrics.Clock
	logger     *slog.Logger
	tracer     trace.Tracer

	mu         sync.Mutex
	queue      []*entry
	processing bool
	closed     bool
}

func newLane(name string, cfg DestinationConfig, o *options) (*lane, error) {
	cfg.CircuitBreaker.Name = name
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("destination %q: %w", name, err)
	}

	strategy, err := retry.New(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("destination %q: %w", name, err)
	}

	breaker, err := circuitbreaker.New(cfg.CircuitBreaker,
		circuitbreaker.WithStateChangeHook(func(name string, from, to circuitbreaker.State) {
			o.recorder.SetCircuitState(name, int(to))
		}))
	if err != nil {
		return nil, fmt.Errorf("destination %q: %w", name, err)
	}
	o.recorder.SetCircuitState(name, int(circuitbreaker.StateClosed))

	return &lane{
		name:       name,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), cfg.BurstSize),
		breaker:    breaker,
		strategy:   strategy,
		collector:  metrics.NewCollector(name, metrics.WithClock(o.clock), metrics.WithRecorder(o.recorder)),
		classifier: o.classifier,
		clock:      o.clock,
		logger:     o.logger.With(slog.String("destination", name)),
		tracer:     o.tracer,
	}, nil
}

// enqueue appends e and starts the processor if it is idle.
func (l *lane) enqueue(e *entry) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.cfg.MaxQueueSize > 0 && len(l.queue) >= l.cfg.MaxQueueSize {
		l.mu.Unlock()
		l.collector.RecordQueueRejected()
		l.logger.Warn("queue full, rejecting request",
			slog.Int("max_queue_size", l.cfg.MaxQueueSize))
		return ErrQueueFull
	}

	l.queue = append(l.queue, e)
	length := len(l.queue)
	start := !l.processing
	l.processing = true
	l.mu.Unlock()

	l.collector.RecordQueueLength(length)

	if start {
		l.logger.Debug("queue processor started")
		go l.process()
	}
	return nil
}

// process drains the queue one entry at a time and exits when it is empty.
func (l *lane) process() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.processing = false
			l.mu.Unlock()
			l.logger.Debug("queue processor stopped")
			return
		}
		e := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		remaining := len(l.queue)
		l.mu.Unlock()

		l.collector.RecordQueueLength(remaining)
		l.dispatch(e)
	}
}

func (l *lane) dispatch(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("operation panicked", slog.Any("panic", r))
			e.settle(nil, fmt.Errorf("destination %q: operation panicked: %v", l.name, r))
		}
	}()

	if err := e.ctx.Err(); err != nil {
		e.settle(nil, err)
		return
	}

	if err := l.limiter.Wait(e.ctx); err != nil {
		e.settle(nil, fmt.Errorf("destination %q: waiting for dispatch slot: %w", l.name, err))
		return
	}
	l.collector.RecordQueueWait(l.clock.Now().Sub(e.enqueuedAt))

	value, err := l.run(e.ctx, e.op)
	e.settle(value, err)
}

// run executes op with the classify-retry loop. Each attempt passes through
// the circuit breaker, so an open circuit ends the loop early.
func (l *lane) run(ctx context.Context, op Operation) (any, error) {
	ctx, span := l.tracer.Start(ctx, "ratelimiter.execute",
		trace.WithAttributes(attribute.String("destination", l.name)))
	defer span.End()

	for attempt := 0; ; attempt++ {
		start := l.clock.Now()
		value, err := l.breaker.Execute(func() (any, error) {
			return l.attempt(ctx, op)
		})
		latency := l.clock.Now().Sub(start)

		if err == nil {
			l.collector.RecordSuccess(latency)
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return value, nil
		}

		var openErr *circuitbreaker.CircuitOpenError
		if errors.As(err, &openErr) && openErr.Name == l.name {
			l.collector.RecordCircuitBreakerTrip()
			span.SetStatus(codes.Error, "circuit open")
			return nil, err
		}

		class := l.classifier.Classify(err)
		l.collector.RecordFailure(latency, class.Category)
		span.AddEvent("attempt failed", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("category", class.Category.String()),
		))

		execErr := &ExecutionError{
			Destination:    l.name,
			Attempts:       attempt + 1,
			Classification: class,
			Err:            err,
		}

		if !class.ShouldRetry {
			l.logger.Warn("non-retryable failure",
				slog.Int("attempt", attempt),
				slog.String("category", class.Category.String()),
				slog.Any("error", err))
			span.SetStatus(codes.Error, execErr.Error())
			return nil, execErr
		}
		if attempt >= l.cfg.MaxRetries || ctx.Err() != nil {
			span.SetStatus(codes.Error, execErr.Error())
			return nil, execErr
		}

		delay := l.strategy.CalculateDelay(attempt)
		l.collector.RecordRetry(attempt == 0)
		l.logger.Warn("retrying after failure",
			slog.Int("attempt", attempt),
			slog.Int("max_retries", l.cfg.MaxRetries),
			slog.Duration("delay", delay),
			slog.String("category", class.Category.String()),
			slog.Any("error", err))

		if sleepErr := retry.Sleep(ctx, delay); sleepErr != nil {
			execErr.Err = fmt.Errorf("%w; last error: %w", sleepErr, err)
			span.SetStatus(codes.Error, execErr.Error())
			return nil, execErr
		}
	}
}

// attempt calls op once, turning a panic into an error so it is counted
// and classified like any other failed attempt.
func (l *lane) attempt(ctx context.Context, op Operation) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("operation panicked", slog.Any("panic", r))
			value, err = nil, fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

func (l *lane) status() QueueStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	return QueueStatus{
		Destination: l.name,
		Length:      len(l.queue),
		Processing:  l.processing,
	}
}

// close rejects new entries and settles queued ones with ErrClosed.
// The entry currently executing, if any, completes normally.
func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	pending := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, e := range pending {
		e.settle(nil, ErrClosed)
	}
	l.collector.RecordQueueLength(0)
}
