// Package observability groups the gateway's logging, metrics and tracing
// packages.
//
// Subpackages:
//   - logging: slog construction and logger-in-context helpers
//   - metrics: HTTP and completion collectors
//   - tracing: OpenTelemetry setup and HTTP middleware
package observability
