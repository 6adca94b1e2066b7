// Package config loads process settings from the environment and destination
// policies from YAML.
package config

import (
	"errors"
	"fmt"
	"time"

	envconfig "callguard/pkg/config"
)

// GatewayConfig holds process-level settings for the gateway.
type GatewayConfig struct {
	// DestinationsPath is the YAML destinations file. Empty uses built-in policies.
	// Env: CALLGUARD_CONFIG
	DestinationsPath string

	// HTTPPort is the admin/API listen port. Env: HTTP_PORT. Default: 8080
	HTTPPort int

	// LogLevel is one of debug, info, warn, error. Env: LOG_LEVEL. Default: info
	LogLevel string

	// LogFormat is json or text. Env: LOG_FORMAT. Default: json
	LogFormat string

	// DedupStaleTimeout is the age after which an in-flight dedup entry is released.
	// Env: DEDUP_STALE_TIMEOUT. Default: 5m
	DedupStaleTimeout time.Duration

	// SweepSchedule is the cron schedule of the stale dedup sweep.
	// Env: SWEEP_SCHEDULE. Default: @every 30s
	SweepSchedule string

	// MetricsLogSchedule is the cron schedule of the metrics summary log.
	// Env: METRICS_LOG_SCHEDULE. Default: @every 1m
	MetricsLogSchedule string

	// ShutdownTimeout bounds graceful shutdown. Env: SHUTDOWN_TIMEOUT. Default: 10s
	ShutdownTimeout time.Duration

	// TracingEnabled installs the OpenTelemetry SDK tracer provider.
	// Env: TRACING_ENABLED. Default: false
	TracingEnabled bool

	// Anthropic configures the Claude completion client.
	Anthropic ProviderConfig

	// OpenAI configures the OpenAI completion client.
	OpenAI ProviderConfig
}

// ProviderConfig holds settings for one LLM provider.
// A provider without an API key is disabled.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Enabled reports whether the provider has credentials.
func (p ProviderConfig) Enabled() bool {
	return p.APIKey != ""
}

// LoadGatewayConfig loads gateway configuration from environment variables.
// Unset variables take defaults; every malformed or invalid value is
// reported in the returned error.
func LoadGatewayConfig() (*GatewayConfig, error) {
	return LoadGatewayConfigFrom(envconfig.FromOS())
}

// LoadGatewayConfigFrom loads gateway configuration through env.
func LoadGatewayConfigFrom(env *envconfig.Env) (*GatewayConfig, error) {
	cfg := &GatewayConfig{
		DestinationsPath:   env.String("CALLGUARD_CONFIG", ""),
		HTTPPort:           env.Int("HTTP_PORT", 8080),
		LogLevel:           env.Lower("LOG_LEVEL", "info"),
		LogFormat:          env.Lower("LOG_FORMAT", "json"),
		DedupStaleTimeout:  env.Duration("DEDUP_STALE_TIMEOUT", 5*time.Minute),
		SweepSchedule:      env.String("SWEEP_SCHEDULE", "@every 30s"),
		MetricsLogSchedule: env.String("METRICS_LOG_SCHEDULE", "@every 1m"),
		ShutdownTimeout:    env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		TracingEnabled:     env.Bool("TRACING_ENABLED", false),
		Anthropic:          loadProvider(env, "ANTHROPIC", "claude-sonnet-4-5"),
		OpenAI:             loadProvider(env, "OPENAI", "gpt-4o-mini"),
	}

	env.Report(cfg.Validate())
	if err := env.Err(); err != nil {
		return nil, fmt.Errorf("invalid gateway configuration: %w", err)
	}

	return cfg, nil
}

func loadProvider(env *envconfig.Env, prefix, model string) ProviderConfig {
	return ProviderConfig{
		APIKey:  env.String(prefix+"_API_KEY", ""),
		BaseURL: env.String(prefix+"_BASE_URL", ""),
		Model:   env.String(prefix+"_MODEL", model),
		Timeout: env.Duration(prefix+"_TIMEOUT", 120*time.Second),
	}
}

// Validate checks configuration correctness and returns every violation.
func (c *GatewayConfig) Validate() error {
	errs := []error{
		envconfig.CheckRange("HTTP_PORT", c.HTTPPort, 1, 65535),
		envconfig.CheckOneOf("LOG_LEVEL", c.LogLevel, "debug", "info", "warn", "error"),
		envconfig.CheckOneOf("LOG_FORMAT", c.LogFormat, "json", "text"),
		envconfig.CheckPositive("DEDUP_STALE_TIMEOUT", c.DedupStaleTimeout),
		envconfig.CheckPositive("SHUTDOWN_TIMEOUT", c.ShutdownTimeout),
		envconfig.CheckSchedule("SWEEP_SCHEDULE", c.SweepSchedule),
		envconfig.CheckSchedule("METRICS_LOG_SCHEDULE", c.MetricsLogSchedule),
	}

	for prefix, p := range map[string]ProviderConfig{"ANTHROPIC": c.Anthropic, "OPENAI": c.OpenAI} {
		if p.Enabled() {
			errs = append(errs, envconfig.CheckRequired(prefix+"_MODEL", p.Model))
		}
		errs = append(errs, envconfig.CheckPositive(prefix+"_TIMEOUT", p.Timeout))
	}

	return errors.Join(errs...)
}
