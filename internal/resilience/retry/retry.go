// Package retry provides backoff delay computation with jitter.
// It supports exponential, linear and fibonacci curves, each capped at a
// maximum delay and perturbed by a symmetric jitter factor.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"callguard/internal/resilience"
)

// Kind selects the backoff algorithm.
type Kind string

const (
	// Exponential computes base * 2^attempt.
	Exponential Kind = "exponential"

	// Linear computes base * max(attempt, 1).
	Linear Kind = "linear"

	// Fibonacci computes base * fib(attempt) with fib(0) = fib(1) = 1.
	Fibonacci Kind = "fibonacci"
)

// ParseKind parses a strategy name (case-insensitive).
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Exponential, Linear, Fibonacci:
		return k, nil
	default:
		return "", resilience.NewConfigurationError("retry", "kind",
			"unknown strategy %q (want exponential, linear or fibonacci)", s)
	}
}

// Config holds the configuration for a backoff strategy.
type Config struct {
	// Kind is the backoff algorithm.
	Kind Kind

	// BaseDelay is the delay unit multiplied by the curve. Must be positive.
	BaseDelay time.Duration

	// MaxDelay caps every computed delay, before and after jitter. Must be >= BaseDelay.
	MaxDelay time.Duration

	// JitterFactor is the symmetric fraction of the delay added as random jitter (0.0 to 1.0).
	// Zero gives deterministic delays.
	JitterFactor float64
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		Kind:         Exponential,
		BaseDelay:    1 * time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
	}
}

// AIAPIConfig returns configuration optimized for AI API calls.
// Slower growth with a longer cap, since provider rate limits reset per minute.
func AIAPIConfig() Config {
	return Config{
		Kind:         Exponential,
		BaseDelay:    2 * time.Second,
		MaxDelay:     60 * time.Second,
		JitterFactor: 0.1,
	}
}

// BuildBackendConfig returns configuration for build backends, which recover
// gradually rather than all at once.
func BuildBackendConfig() Config {
	return Config{
		Kind:         Fibonacci,
		BaseDelay:    1 * time.Second,
		MaxDelay:     20 * time.Second,
		JitterFactor: 0.1,
	}
}

// Validate checks the configuration and returns a *resilience.ConfigurationError if invalid.
func (c Config) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if c.BaseDelay <= 0 {
		return resilience.NewConfigurationError("retry", "base_delay",
			"must be positive, got %v", c.BaseDelay)
	}
	if c.MaxDelay < c.BaseDelay {
		return resilience.NewConfigurationError("retry", "max_delay",
			"%v is below base delay %v", c.MaxDelay, c.BaseDelay)
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 || math.IsNaN(c.JitterFactor) {
		return resilience.NewConfigurationError("retry", "jitter_factor",
			"must be within [0, 1], got %v", c.JitterFactor)
	}
	return nil
}

// Strategy computes backoff delays. It is safe for concurrent use.
type Strategy struct {
	cfg Config

	mu      sync.Mutex
	fibMemo []float64
}

// New creates a strategy, failing with a configuration error if cfg is invalid.
func New(cfg Config) (*Strategy, error) {
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	cfg.Kind = kind

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Strategy{
		cfg:     cfg,
		fibMemo: []float64{1, 1},
	}, nil
}

// Config returns the strategy configuration.
func (s *Strategy) Config() Config {
	return s.cfg
}

// CalculateDelay returns the delay to wait after the given 0-based attempt failed.
// The curve value is capped at MaxDelay, then jittered and clamped to [0, MaxDelay].
func (s *Strategy) CalculateDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	base := float64(s.cfg.BaseDelay)
	maxDelay := float64(s.cfg.MaxDelay)

	var delay float64
	switch s.cfg.Kind {
	case Linear:
		delay = base * float64(max(attempt, 1))
	case Fibonacci:
		delay = base * s.fibonacci(attempt)
	default:
		delay = base * math.Exp2(float64(attempt))
	}

	if delay > maxDelay || math.IsInf(delay, 1) {
		delay = maxDelay
	}

	return time.Duration(s.applyJitter(delay))
}

// fibonacci returns fib(n) with fib(0) = fib(1) = 1. Values are memoized and
// computed iteratively; growth stops once base*fib exceeds the cap, after
// which +Inf is returned.
func (s *Strategy) fibonacci(n int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := float64(s.cfg.MaxDelay) / float64(s.cfg.BaseDelay)
	for len(s.fibMemo) <= n {
		last := s.fibMemo[len(s.fibMemo)-1]
		if last > limit {
			return math.Inf(1)
		}
		s.fibMemo = append(s.fibMemo, last+s.fibMemo[len(s.fibMemo)-2])
	}
	return s.fibMemo[n]
}

func (s *Strategy) applyJitter(delay float64) float64 {
	if s.cfg.JitterFactor == 0 {
		return delay
	}

	// #nosec G404 -- Using math/rand is acceptable for jitter calculation.
	// Cryptographic randomness is not required for retry backoff jitter.
	offset := (rand.Float64()*2 - 1) * s.cfg.JitterFactor
	jittered := delay * (1 + offset)

	return min(max(jittered, 0), float64(s.cfg.MaxDelay))
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retry aborted: %w", ctx.Err())
	}
}
