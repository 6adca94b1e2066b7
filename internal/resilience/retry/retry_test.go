package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callguard/internal/resilience"
)

func mustNew(t *testing.T, cfg Config) *Strategy {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestCalculateDelay_Exponential(t *testing.T) {
	s := mustNew(t, Config{
		Kind:      Exponential,
		BaseDelay: 1000 * time.Millisecond,
		MaxDelay:  32000 * time.Millisecond,
	})

	want := []time.Duration{1000, 2000, 4000, 8000, 16000, 32000, 32000}
	for attempt, w := range want {
		assert.Equal(t, w*time.Millisecond, s.CalculateDelay(attempt), "attempt %d", attempt)
	}
}

func TestCalculateDelay_Fibonacci(t *testing.T) {
	s := mustNew(t, Config{
		Kind:      Fibonacci,
		BaseDelay: 1000 * time.Millisecond,
		MaxDelay:  20000 * time.Millisecond,
	})

	want := []time.Duration{1000, 1000, 2000, 3000, 5000, 8000, 13000, 20000}
	for attempt, w := range want {
		assert.Equal(t, w*time.Millisecond, s.CalculateDelay(attempt), "attempt %d", attempt)
	}

	// Far past the cap the memo stops growing and the cap holds.
	assert.Equal(t, 20*time.Second, s.CalculateDelay(500))
}

func TestCalculateDelay_Linear(t *testing.T) {
	s := mustNew(t, Config{
		Kind:      Linear,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  2 * time.Second,
	})

	want := []time.Duration{500, 500, 1000, 1500, 2000, 2000}
	for attempt, w := range want {
		assert.Equal(t, w*time.Millisecond, s.CalculateDelay(attempt), "attempt %d", attempt)
	}
}

func TestCalculateDelay_LargeAttemptsStayCapped(t *testing.T) {
	s := mustNew(t, Config{
		Kind:      Exponential,
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
	})

	assert.Equal(t, time.Minute, s.CalculateDelay(64))
	assert.Equal(t, time.Minute, s.CalculateDelay(5000))
	assert.Equal(t, time.Second, s.CalculateDelay(-3))
}

func TestCalculateDelay_Jitter(t *testing.T) {
	s := mustNew(t, Config{
		Kind:         Exponential,
		BaseDelay:    1000 * time.Millisecond,
		MaxDelay:     32000 * time.Millisecond,
		JitterFactor: 0.1,
	})

	seen := make(map[time.Duration]struct{})
	for i := 0; i < 1000; i++ {
		d := s.CalculateDelay(1)
		require.GreaterOrEqual(t, d, 1800*time.Millisecond)
		require.LessOrEqual(t, d, 2200*time.Millisecond)
		seen[d] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "jittered delays should not all be identical")
}

func TestCalculateDelay_JitterNeverExceedsCap(t *testing.T) {
	s := mustNew(t, Config{
		Kind:         Exponential,
		BaseDelay:    time.Second,
		MaxDelay:     4 * time.Second,
		JitterFactor: 1,
	})

	for i := 0; i < 1000; i++ {
		d := s.CalculateDelay(10)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 4*time.Second)
	}
}

func TestCalculateDelay_Concurrent(t *testing.T) {
	s := mustNew(t, Config{
		Kind:      Fibonacci,
		BaseDelay: time.Millisecond,
		MaxDelay:  time.Hour,
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = s.CalculateDelay(n)
		}(i * 3)
	}
	wg.Wait()

	assert.Equal(t, 89*time.Millisecond, s.CalculateDelay(10))
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"zero base", Config{Kind: Exponential, BaseDelay: 0, MaxDelay: time.Second}, "base_delay"},
		{"negative base", Config{Kind: Exponential, BaseDelay: -time.Second, MaxDelay: time.Second}, "base_delay"},
		{"max below base", Config{Kind: Linear, BaseDelay: 2 * time.Second, MaxDelay: time.Second}, "max_delay"},
		{"negative jitter", Config{Kind: Linear, BaseDelay: time.Second, MaxDelay: time.Second, JitterFactor: -0.1}, "jitter_factor"},
		{"jitter above one", Config{Kind: Linear, BaseDelay: time.Second, MaxDelay: time.Second, JitterFactor: 1.5}, "jitter_factor"},
		{"unknown kind", Config{Kind: "quadratic", BaseDelay: time.Second, MaxDelay: time.Second}, "kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, resilience.ErrInvalidConfiguration)

			var cfgErr *resilience.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Fibonacci ")
	require.NoError(t, err)
	assert.Equal(t, Fibonacci, k)

	_, err = ParseKind("")
	assert.ErrorIs(t, err, resilience.ErrInvalidConfiguration)
}

func TestPresetsAreValid(t *testing.T) {
	for name, cfg := range map[string]Config{
		"default":       DefaultConfig(),
		"ai api":        AIAPIConfig(),
		"build backend": BuildBackendConfig(),
	} {
		assert.NoError(t, cfg.Validate(), name)
	}
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleep(ctx, time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
}
