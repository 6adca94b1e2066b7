// Package circuitbreaker provides per-destination circuit breakers for external service calls.
// It uses the github.com/sony/gobreaker library to prevent cascading failures.
package circuitbreaker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"callguard/internal/resilience"
)

// ErrCircuitOpen is matched by every CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned without invoking the operation while the circuit is open,
// or while a half-open circuit has no probe slots left.
type CircuitOpenError struct {
	// Name is the circuit breaker name (the destination).
	Name string

	// State is the state that rejected the call.
	State State

	// NextAttemptTime is when the circuit will admit a trial call.
	NextAttemptTime time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is %s, next attempt at %s",
		e.Name, e.State, e.NextAttemptTime.Format(time.RFC3339Nano))
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// State represents the circuit breaker state.
type State int32

const (
	// StateClosed indicates normal operation; calls pass through.
	StateClosed State = iota

	// StateOpen indicates the circuit is failing fast.
	StateOpen

	// StateHalfOpen indicates trial calls are admitted to test recovery.
	StateHalfOpen
)

// String returns a string representation of the circuit state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name is the circuit breaker name for logging and metrics
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit (>= 1).
	FailureThreshold int

	// ResetTimeout is how long to stay open before admitting a trial call (>= 1s).
	ResetTimeout time.Duration

	// HalfOpenMaxAttempts is the number of consecutive successful trial calls
	// that closes the circuit (>= 1).
	HalfOpenMaxAttempts int
}

// DefaultConfig returns a default configuration for circuit breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		ResetTimeout:        60 * time.Second,
		HalfOpenMaxAttempts: 1,
	}
}

// ClaudeAPIConfig returns configuration optimized for Claude API calls.
func ClaudeAPIConfig() Config {
	return Config{
		Name:                "anthropic",
		FailureThreshold:    5,
		ResetTimeout:        60 * time.Second,
		HalfOpenMaxAttempts: 3,
	}
}

// OpenAIAPIConfig returns configuration optimized for OpenAI API calls.
func OpenAIAPIConfig() Config {
	return Config{
		Name:                "openai",
		FailureThreshold:    5,
		ResetTimeout:        60 * time.Second,
		HalfOpenMaxAttempts: 3,
	}
}

// Validate checks the configuration and returns a *resilience.ConfigurationError if invalid.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return resilience.NewConfigurationError("circuitbreaker", "failure_threshold",
			"must be at least 1, got %d", c.FailureThreshold)
	}
	if c.ResetTimeout < time.Second {
		return resilience.NewConfigurationError("circuitbreaker", "reset_timeout",
			"must be at least 1s, got %v", c.ResetTimeout)
	}
	if c.HalfOpenMaxAttempts < 1 {
		return resilience.NewConfigurationError("circuitbreaker", "half_open_max_attempts",
			"must be at least 1, got %d", c.HalfOpenMaxAttempts)
	}
	return nil
}

// StateChangeFunc observes state transitions.
type StateChangeFunc func(name string, from, to State)

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithStateChangeHook registers fn to be called on every transition, including Reset.
// fn runs synchronously and must not call back into the breaker.
func WithStateChangeHook(fn StateChangeFunc) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// Snapshot is a point-in-time view of a circuit breaker.
type Snapshot struct {
	Name            string    `json:"name"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time"` // zero if no failure was recorded
	NextAttemptTime time.Time `json:"next_attempt_time"` // zero unless open
}

// CircuitBreaker wraps gobreaker.CircuitBreaker with reset, open-error details and
// state reporting that never triggers a transition by itself.
//
// Transitions:
//   - closed -> open after FailureThreshold consecutive failures
//   - open -> half-open on the first Execute at or after NextAttemptTime
//   - half-open -> closed after HalfOpenMaxAttempts consecutive successes
//   - half-open -> open on any failure
//
// Counters reset on every transition.
type CircuitBreaker struct {
	cfg           Config
	onStateChange StateChangeFunc

	engine      atomic.Pointer[engine]
	state       atomic.Int32
	nextAttempt atomic.Int64 // unix nanos, 0 when not open
	lastFailure atomic.Int64 // unix nanos, 0 when none
}

// engine identifies one gobreaker instance; callbacks from an engine
// discarded by Reset are ignored.
type engine struct {
	breaker *gobreaker.CircuitBreaker
}

// New creates a new circuit breaker, failing with a configuration error if cfg is invalid.
func New(cfg Config, opts ...Option) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cb := &CircuitBreaker{cfg: cfg}
	for _, opt := range opts {
		opt(cb)
	}
	cb.engine.Store(cb.newEngine())

	return cb, nil
}

func (cb *CircuitBreaker) newEngine() *engine {
	e := &engine{}
	threshold := uint32(cb.cfg.FailureThreshold)

	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cb.cfg.Name,
		MaxRequests: uint32(cb.cfg.HalfOpenMaxAttempts),
		Interval:    0,
		Timeout:     cb.cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if cb.engine.Load() != e {
				return
			}
			cb.transition(fromGobreaker(from), fromGobreaker(to))
		},
	})
	return e
}

func (cb *CircuitBreaker) transition(from, to State) {
	cb.state.Store(int32(to))

	if to == StateOpen {
		cb.nextAttempt.Store(time.Now().Add(cb.cfg.ResetTimeout).UnixNano())
	} else {
		cb.nextAttempt.Store(0)
	}

	slog.Warn("circuit breaker state changed",
		slog.String("circuit", cb.cfg.Name),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.Duration("reset_timeout", cb.cfg.ResetTimeout))

	if cb.onStateChange != nil {
		cb.onStateChange(cb.cfg.Name, from, to)
	}
}

// Execute runs fn through the circuit breaker.
// If the circuit rejects the call, fn is not invoked and a *CircuitOpenError is returned.
// Otherwise the result and the original error of fn are returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() (any, error)) (any, error) {
	invoked := false
	result, err := cb.engine.Load().breaker.Execute(func() (interface{}, error) {
		invoked = true
		return fn()
	})

	if err == nil {
		return result, nil
	}

	if !invoked {
		return nil, cb.openError()
	}

	cb.lastFailure.Store(time.Now().UnixNano())
	return result, err
}

// Execute runs a typed operation through cb.
func Execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	result, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if v, ok := result.(T); ok {
			return v, err
		}
		return zero, err
	}
	return result.(T), nil
}

func (cb *CircuitBreaker) openError() *CircuitOpenError {
	next := time.Now()
	if n := cb.nextAttempt.Load(); n != 0 {
		next = time.Unix(0, n)
	}
	return &CircuitOpenError{
		Name:            cb.cfg.Name,
		State:           cb.State(),
		NextAttemptTime: next,
	}
}

// Reset forces the circuit closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	from := cb.State()

	cb.engine.Store(cb.newEngine())
	cb.lastFailure.Store(0)

	if from != StateClosed {
		cb.transition(from, StateClosed)
		return
	}
	cb.nextAttempt.Store(0)
}

// State returns the last observed state. Reading the state never moves an open
// circuit to half-open; only Execute does.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Config returns the circuit breaker configuration.
func (cb *CircuitBreaker) Config() Config {
	return cb.cfg
}

// IsOpen returns true if the circuit breaker is in the open state.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// Snapshot returns the current state and counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	counts := cb.engine.Load().breaker.Counts()

	s := Snapshot{
		Name:         cb.cfg.Name,
		State:        cb.State(),
		FailureCount: int(counts.ConsecutiveFailures),
		SuccessCount: int(counts.ConsecutiveSuccesses),
	}
	if n := cb.lastFailure.Load(); n != 0 {
		s.LastFailureTime = time.Unix(0, n)
	}
	if n := cb.nextAttempt.Load(); n != 0 {
		s.NextAttemptTime = time.Unix(0, n)
	}
	return s
}
