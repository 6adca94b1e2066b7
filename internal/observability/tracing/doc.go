// Package tracing wires OpenTelemetry into the gateway.
//
// Setup installs the propagator and, when TRACING_ENABLED is set, an SDK
// provider that logs finished spans. Middleware traces inbound HTTP requests;
// the rate limiter opens one span per queued execution beneath it.
//
//	shutdown := tracing.Setup(cfg.TracingEnabled, logger)
//	defer shutdown(context.Background())
package tracing
