// Package observability provides structured logging, Prometheus metrics,
// and health probes for the warden services.
//
// Logging is a thin wrapper over log/slog emitting JSON. Metrics cover
// the HTTP surface, audit recording, and maintenance passes, and are
// served by promhttp on the health port alongside the liveness and
// readiness probes.
package observability
