// Package ratelimiter schedules calls to external destinations.
//
// Every destination owns a lane: a FIFO queue drained by a single processor,
// a token bucket that spaces dispatches, a circuit breaker, a retry strategy
// and a metrics collector. Lanes share no mutable state, so destinations run
// fully independently while calls to one destination are serialized.
//
// Flow for one call:
//
//	Execute -> enqueue -> processor -> token bucket -> [breaker -> op] x attempts -> caller
//
// Failures are classified after each attempt. Retryable categories are
// retried with backoff up to MaxRetries; everything else fails immediately
// with an *ExecutionError wrapping the last error. A call rejected by an open
// circuit returns the *circuitbreaker.CircuitOpenError unchanged.
package ratelimiter

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"callguard/internal/resilience/circuitbreaker"
	"callguard/internal/resilience/classify"
	"callguard/internal/resilience/metrics"
)

// Operation is an opaque unit of work. Only its error is inspected.
type Operation func(ctx context.Context) (any, error)

// QueueStatus describes a destination queue.
type QueueStatus struct {
	Destination string `json:"destination"`
	Length      int    `json:"length"`
	Processing  bool   `json:"processing"`
}

type options struct {
	classifier *classify.Classifier
	recorder   metrics.Recorder
	clock      metrics.Clock
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Limiter.
type Option func(*options)

// WithClassifier sets the error classifier. Defaults to classify.Default().
func WithClassifier(c *classify.Classifier) Option {
	return func(o *options) {
		o.classifier = c
	}
}

// WithRecorder sets the metrics exporter. Defaults to a no-op recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithClock sets the clock used for latency and queue wait measurement.
func WithClock(c metrics.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTracer sets the tracer used for execute spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// Limiter is the per-destination scheduling orchestrator. It is safe for concurrent use.
type Limiter struct {
	cfg    Config
	opts   *options
	closed atomic.Bool

	mu    sync.RWMutex
	lanes map[string]*lane
}

// New creates a Limiter. Every configured destination is validated and its
// lane created up front, so invalid configuration fails here.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	o := &options{
		classifier: classify.Default(),
		recorder:   metrics.NewNoOpRecorder(),
		clock:      metrics.SystemClock{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("callguard/ratelimiter"),
	}
	for _, opt := range opts {
		opt(o)
	}

	if cfg.Destinations == nil {
		cfg = DefaultConfig()
	}

	l := &Limiter{
		cfg:   cfg,
		opts:  o,
		lanes: make(map[string]*lane, len(cfg.Destinations)),
	}

	for _, name := range cfg.Names() {
		ln, err := newLane(name, cfg.Destinations[name], o)
		if err != nil {
			return nil, err
		}
		l.lanes[name] = ln
	}

	return l, nil
}

// lane returns the lane for destination, creating it from the default policy
// if the destination is not configured.
func (l *Limiter) lane(destination string) (*lane, error) {
	l.mu.RLock()
	ln, ok := l.lanes[destination]
	l.mu.RUnlock()
	if ok {
		return ln, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ln, ok := l.lanes[destination]; ok {
		return ln, nil
	}
	if l.closed.Load() {
		return nil, ErrClosed
	}

	ln, err := newLane(destination, l.cfg.Resolve(destination), l.opts)
	if err != nil {
		return nil, err
	}
	l.lanes[destination] = ln
	l.opts.logger.Info("created lane for unconfigured destination",
		slog.String("destination", destination))

	return ln, nil
}

func (l *Limiter) existing(destination string) (*lane, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ln, ok := l.lanes[destination]
	return ln, ok
}

// Execute queues op for destination and blocks until it settles or ctx is done.
//
// Returns the operation's value, an *ExecutionError once retries stop,
// a *circuitbreaker.CircuitOpenError while the circuit rejects calls,
// ErrQueueFull, ErrClosed, or the context error.
func (l *Limiter) Execute(ctx context.Context, destination string, op Operation) (any, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	ln, err := l.lane(destination)
	if err != nil {
		return nil, err
	}

	e := &entry{
		ctx:        ctx,
		op:         op,
		enqueuedAt: l.opts.clock.Now(),
		done:       make(chan outcome, 1),
	}
	if err := ln.enqueue(e); err != nil {
		return nil, err
	}

	select {
	case out := <-e.done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do is the typed form of Execute.
func Do[T any](ctx context.Context, l *Limiter, destination string, fn func(ctx context.Context) (T, error)) (T, error) {
	value, err := l.Execute(ctx, destination, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})

	var zero T
	if err != nil {
		return zero, err
	}
	v, ok := value.(T)
	if !ok {
		return zero, nil
	}
	return v, nil
}

// GetMetrics returns the metrics snapshot for destination.
func (l *Limiter) GetMetrics(destination string) (metrics.Snapshot, bool) {
	ln, ok := l.existing(destination)
	if !ok {
		return metrics.Snapshot{}, false
	}
	return ln.collector.Snapshot(), true
}

// GetAllMetrics returns snapshots for every known destination.
func (l *Limiter) GetAllMetrics() map[string]metrics.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]metrics.Snapshot, len(l.lanes))
	for name, ln := range l.lanes {
		out[name] = ln.collector.Snapshot()
	}
	return out
}

// GetQueueStatus returns the queue status for destination.
func (l *Limiter) GetQueueStatus(destination string) (QueueStatus, bool) {
	ln, ok := l.existing(destination)
	if !ok {
		return QueueStatus{Destination: destination}, false
	}
	return ln.status(), true
}

// CircuitState returns the circuit breaker snapshot for destination.
func (l *Limiter) CircuitState(destination string) (circuitbreaker.Snapshot, bool) {
	ln, ok := l.existing(destination)
	if !ok {
		return circuitbreaker.Snapshot{}, false
	}
	return ln.breaker.Snapshot(), true
}

// ResetCircuitBreaker forces the destination's circuit closed.
func (l *Limiter) ResetCircuitBreaker(destination string) error {
	ln, ok := l.existing(destination)
	if !ok {
		return ErrUnknownDestination
	}
	ln.breaker.Reset()
	l.opts.logger.Info("circuit breaker reset", slog.String("destination", destination))
	return nil
}

// ResetMetrics zeros the destination's metrics and restarts its window.
func (l *Limiter) ResetMetrics(destination string) error {
	ln, ok := l.existing(destination)
	if !ok {
		return ErrUnknownDestination
	}
	ln.collector.Reset()
	return nil
}

// Destinations returns the names of all known destinations in sorted order.
func (l *Limiter) Destinations() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Sorted(maps.Keys(l.lanes))
}

// Close rejects new work and settles queued entries with ErrClosed.
// Entries already executing complete normally.
func (l *Limiter) Close() {
	if l.closed.Swap(true) {
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, ln := range l.lanes {
		ln.close()
	}
}
