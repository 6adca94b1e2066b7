package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"callguard/internal/resilience/circuitbreaker"
	"callguard/internal/resilience/ratelimiter"
	"callguard/internal/resilience/retry"
)

// Duration is a time.Duration that unmarshals from YAML as either a Go
// duration string ("30s") or an integer number of milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	raw := value.Value

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, raw)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// CircuitBreakerSpec is the YAML form of a circuit breaker policy.
// Nil fields inherit from the default destination.
type CircuitBreakerSpec struct {
	FailureThreshold    *int      `yaml:"failure_threshold,omitempty"`
	ResetTimeout        *Duration `yaml:"reset_timeout,omitempty"`
	HalfOpenMaxAttempts *int      `yaml:"half_open_max_attempts,omitempty"`
}

// DestinationSpec is the YAML form of a destination policy.
// Nil fields inherit from the default destination.
type DestinationSpec struct {
	RequestsPerMinute *float64            `yaml:"requests_per_minute,omitempty"`
	BurstSize         *int                `yaml:"burst_size,omitempty"`
	RetryStrategy     *string             `yaml:"retry_strategy,omitempty"`
	MaxRetries        *int                `yaml:"max_retries,omitempty"`
	BaseDelay         *Duration           `yaml:"base_delay,omitempty"`
	MaxDelay          *Duration           `yaml:"max_delay,omitempty"`
	JitterFactor      *float64            `yaml:"jitter_factor,omitempty"`
	MaxQueueSize      *int                `yaml:"max_queue_size,omitempty"`
	CircuitBreaker    *CircuitBreakerSpec `yaml:"circuit_breaker,omitempty"`
}

// DestinationsFile is the top-level YAML document.
//
//	destinations:
//	  default:
//	    requests_per_minute: 60
//	    burst_size: 5
//	    retry_strategy: exponential
//	    max_retries: 3
//	    circuit_breaker:
//	      failure_threshold: 5
//	      reset_timeout: 60s
//	  anthropic:
//	    requests_per_minute: 50
type DestinationsFile struct {
	Destinations map[string]DestinationSpec `yaml:"destinations"`
}

// BuiltinDestinations returns the policies used when no file is configured.
func BuiltinDestinations() map[string]ratelimiter.DestinationConfig {
	anthropic := ratelimiter.DefaultDestinationConfig()
	anthropic.RequestsPerMinute = 50
	anthropic.BurstSize = 5
	anthropic.Retry = retry.AIAPIConfig()
	anthropic.CircuitBreaker = circuitbreaker.ClaudeAPIConfig()

	openai := ratelimiter.DefaultDestinationConfig()
	openai.RequestsPerMinute = 60
	openai.BurstSize = 10
	openai.Retry = retry.AIAPIConfig()
	openai.CircuitBreaker = circuitbreaker.OpenAIAPIConfig()

	return map[string]ratelimiter.DestinationConfig{
		ratelimiter.DefaultDestination: ratelimiter.DefaultDestinationConfig(),
		"anthropic":                    anthropic,
		"openai":                       openai,
	}
}

// LoadDestinations reads destination policies from a YAML file.
// An empty path yields the built-in policies.
// The path parameter is expected to come from a trusted source (environment or CLI flag).
func LoadDestinations(path string) (ratelimiter.Config, error) {
	if path == "" {
		return ratelimiter.Config{Destinations: BuiltinDestinations()}, nil
	}

	// #nosec G304 -- path is provided by trusted source (env var or CLI arg), not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return ratelimiter.Config{}, fmt.Errorf("failed to read destinations file: %w", err)
	}

	return ParseDestinations(data)
}

// ParseDestinations parses a YAML destinations document.
//
// The "default" destination is resolved first, starting from the built-in
// default; every other destination starts from the resolved default and
// overrides only the fields it sets. Built-in destinations not mentioned in
// the document are kept.
func ParseDestinations(data []byte) (ratelimiter.Config, error) {
	var file DestinationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return ratelimiter.Config{}, fmt.Errorf("failed to parse destinations: %w", err)
	}

	builtin := BuiltinDestinations()
	base := builtin[ratelimiter.DefaultDestination]
	if spec, ok := file.Destinations[ratelimiter.DefaultDestination]; ok {
		merged, err := spec.apply(base)
		if err != nil {
			return ratelimiter.Config{}, fmt.Errorf("destination %q: %w", ratelimiter.DefaultDestination, err)
		}
		base = merged
	}

	out := make(map[string]ratelimiter.DestinationConfig, len(builtin)+len(file.Destinations))
	for name, dc := range builtin {
		out[name] = dc
	}
	out[ratelimiter.DefaultDestination] = base

	for name, spec := range file.Destinations {
		if name == ratelimiter.DefaultDestination {
			continue
		}
		merged, err := spec.apply(base)
		if err != nil {
			return ratelimiter.Config{}, fmt.Errorf("destination %q: %w", name, err)
		}
		out[name] = merged
	}

	cfg := ratelimiter.Config{Destinations: out}
	if err := ValidateDestinations(cfg); err != nil {
		return ratelimiter.Config{}, err
	}
	return cfg, nil
}

// ValidateDestinations checks every destination policy.
func ValidateDestinations(cfg ratelimiter.Config) error {
	var errs []error
	for _, name := range cfg.Names() {
		dc := cfg.Destinations[name]
		dc.CircuitBreaker.Name = name
		if err := dc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("destination %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s DestinationSpec) apply(dc ratelimiter.DestinationConfig) (ratelimiter.DestinationConfig, error) {
	if s.RequestsPerMinute != nil {
		dc.RequestsPerMinute = *s.RequestsPerMinute
	}
	if s.BurstSize != nil {
		dc.BurstSize = *s.BurstSize
	}
	if s.RetryStrategy != nil {
		kind, err := retry.ParseKind(*s.RetryStrategy)
		if err != nil {
			return dc, err
		}
		dc.Retry.Kind = kind
	}
	if s.MaxRetries != nil {
		dc.MaxRetries = *s.MaxRetries
	}
	if s.BaseDelay != nil {
		dc.Retry.BaseDelay = time.Duration(*s.BaseDelay)
	}
	if s.MaxDelay != nil {
		dc.Retry.MaxDelay = time.Duration(*s.MaxDelay)
	}
	if s.JitterFactor != nil {
		dc.Retry.JitterFactor = *s.JitterFactor
	}
	if s.MaxQueueSize != nil {
		dc.MaxQueueSize = *s.MaxQueueSize
	}
	if cb := s.CircuitBreaker; cb != nil {
		if cb.FailureThreshold != nil {
			dc.CircuitBreaker.FailureThreshold = *cb.FailureThreshold
		}
		if cb.ResetTimeout != nil {
			dc.CircuitBreaker.ResetTimeout = time.Duration(*cb.ResetTimeout)
		}
		if cb.HalfOpenMaxAttempts != nil {
			dc.CircuitBreaker.HalfOpenMaxAttempts = *cb.HalfOpenMaxAttempts
		}
	}
	return dc, nil
}
