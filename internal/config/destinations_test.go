package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callguard/internal/resilience"
	"callguard/internal/resilience/ratelimiter"
	"callguard/internal/resilience/retry"
)

const sampleDestinations = `
destinations:
  default:
    requests_per_minute: 30
    burst_size: 2
    max_retries: 4
    circuit_breaker:
      failure_threshold: 3
      reset_timeout: 30s
  github:
    requests_per_minute: 5000
    retry_strategy: Linear
    base_delay: 500
    max_delay: 5s
    max_queue_size: 10
  build:
    retry_strategy: fibonacci
    jitter_factor: 0
    circuit_breaker:
      half_open_max_attempts: 2
`

func TestLoadDestinations_BuiltinWhenNoPath(t *testing.T) {
	cfg, err := LoadDestinations("")
	require.NoError(t, err)

	assert.Equal(t, []string{"anthropic", "default", "openai"}, cfg.Names())
	assert.NoError(t, ValidateDestinations(cfg))
	assert.Equal(t, 50.0, cfg.Destinations["anthropic"].RequestsPerMinute)
}

func TestParseDestinations_InheritsFromDefault(t *testing.T) {
	cfg, err := ParseDestinations([]byte(sampleDestinations))
	require.NoError(t, err)

	def := cfg.Destinations[ratelimiter.DefaultDestination]
	assert.Equal(t, 30.0, def.RequestsPerMinute)
	assert.Equal(t, 2, def.BurstSize)
	assert.Equal(t, 3, def.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, def.CircuitBreaker.ResetTimeout)

	github := cfg.Destinations["github"]
	assert.Equal(t, 5000.0, github.RequestsPerMinute)
	assert.Equal(t, 2, github.BurstSize, "inherited from default")
	assert.Equal(t, 4, github.MaxRetries, "inherited from default")
	assert.Equal(t, 10, github.MaxQueueSize)
	assert.Equal(t, retry.Linear, github.Retry.Kind)
	assert.Equal(t, 500*time.Millisecond, github.Retry.BaseDelay, "integer durations are milliseconds")
	assert.Equal(t, 5*time.Second, github.Retry.MaxDelay)
	assert.Equal(t, 3, github.CircuitBreaker.FailureThreshold, "inherited from default")

	build := cfg.Destinations["build"]
	assert.Equal(t, retry.Fibonacci, build.Retry.Kind)
	assert.Zero(t, build.Retry.JitterFactor)
	assert.Equal(t, 2, build.CircuitBreaker.HalfOpenMaxAttempts)
	assert.Equal(t, 30*time.Second, build.CircuitBreaker.ResetTimeout)

	// Built-in destinations not mentioned in the file are kept.
	assert.Contains(t, cfg.Destinations, "anthropic")
}

func TestParseDestinations_UnmentionedDefaultKeepsBuiltin(t *testing.T) {
	cfg, err := ParseDestinations([]byte("destinations:\n  search:\n    burst_size: 7\n"))
	require.NoError(t, err)

	want := ratelimiter.DefaultDestinationConfig()
	want.BurstSize = 7
	if diff := cmp.Diff(want, cfg.Destinations["search"]); diff != "" {
		t.Errorf("search destination mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDestinations_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown strategy", "destinations:\n  x:\n    retry_strategy: quadratic\n"},
		{"zero rate", "destinations:\n  x:\n    requests_per_minute: 0\n"},
		{"short reset timeout", "destinations:\n  x:\n    circuit_breaker:\n      reset_timeout: 100ms\n"},
		{"jitter above one", "destinations:\n  default:\n    jitter_factor: 2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDestinations([]byte(tt.doc))
			assert.ErrorIs(t, err, resilience.ErrInvalidConfiguration)
		})
	}
}

func TestParseDestinations_Malformed(t *testing.T) {
	_, err := ParseDestinations([]byte("destinations: [unclosed"))
	assert.Error(t, err)

	_, err = ParseDestinations([]byte("destinations:\n  x:\n    base_delay: soon\n"))
	assert.Error(t, err)
}

func TestLoadDestinations_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "destinations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDestinations), 0o600))

	cfg, err := LoadDestinations(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Destinations, "github")

	_, err = LoadDestinations(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
