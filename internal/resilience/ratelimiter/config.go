package ratelimiter

import (
	"maps"
	"slices"
	"time"

	"callguard/internal/resilience"
	"callguard/internal/resilience/circuitbreaker"
	"callguard/internal/resilience/retry"
)

// DefaultDestination is the configuration used for destinations that are not
// configured explicitly.
const DefaultDestination = "default"

// DestinationConfig holds the policy for one destination.
type DestinationConfig struct {
	// RequestsPerMinute is the sustained dispatch rate.
	RequestsPerMinute float64

	// BurstSize is the number of dispatches allowed back to back before
	// spacing of 60s/RequestsPerMinute applies.
	BurstSize int

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// MaxQueueSize bounds the number of waiting entries. Zero means unbounded.
	MaxQueueSize int

	// Retry is the backoff policy between attempts.
	Retry retry.Config

	// CircuitBreaker is the breaker policy. Its Name is set to the destination.
	CircuitBreaker circuitbreaker.Config
}

// DefaultDestinationConfig returns the built-in policy for unconfigured destinations.
func DefaultDestinationConfig() DestinationConfig {
	return DestinationConfig{
		RequestsPerMinute: 60,
		BurstSize:         5,
		MaxRetries:        3,
		MaxQueueSize:      1000,
		Retry:             retry.DefaultConfig(),
		CircuitBreaker:    circuitbreaker.DefaultConfig(DefaultDestination),
	}
}

// Validate checks the configuration and returns a *resilience.ConfigurationError if invalid.
func (c DestinationConfig) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return resilience.NewConfigurationError("ratelimiter", "requests_per_minute",
			"must be positive, got %v", c.RequestsPerMinute)
	}
	if c.BurstSize < 1 {
		return resilience.NewConfigurationError("ratelimiter", "burst_size",
			"must be at least 1, got %d", c.BurstSize)
	}
	if c.MaxRetries < 0 {
		return resilience.NewConfigurationError("ratelimiter", "max_retries",
			"must not be negative, got %d", c.MaxRetries)
	}
	if c.MaxQueueSize < 0 {
		return resilience.NewConfigurationError("ratelimiter", "max_queue_size",
			"must not be negative, got %d", c.MaxQueueSize)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	return c.CircuitBreaker.Validate()
}

// MinInterval returns the spacing enforced between dispatches once the burst is spent.
func (c DestinationConfig) MinInterval() time.Duration {
	return time.Duration(float64(time.Minute) / c.RequestsPerMinute)
}

// Config maps destination names to their policies.
type Config struct {
	Destinations map[string]DestinationConfig
}

// DefaultConfig returns a configuration holding only the default destination.
func DefaultConfig() Config {
	return Config{
		Destinations: map[string]DestinationConfig{
			DefaultDestination: DefaultDestinationConfig(),
		},
	}
}

// Resolve returns the policy for destination, falling back to the default
// destination and then to the built-in default.
func (c Config) Resolve(destination string) DestinationConfig {
	if dc, ok := c.Destinations[destination]; ok {
		return dc
	}
	if dc, ok := c.Destinations[DefaultDestination]; ok {
		return dc
	}
	return DefaultDestinationConfig()
}

// Names returns the configured destination names in sorted order.
func (c Config) Names() []string {
	return slices.Sorted(maps.Keys(c.Destinations))
}
