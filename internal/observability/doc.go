// Package observability groups the logging, metrics and tracing support used
// by the API and worker binaries.
//
// Subpackages:
//   - logging: slog construction and context helpers
//   - metrics: Prometheus collectors for HTTP traffic and dispatch activity
//   - tracing: OpenTelemetry tracer and HTTP middleware
package observability
