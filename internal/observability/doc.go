// Package observability configures the process-wide slog logger, optionally
// routed through the OpenTelemetry log pipeline.
package observability
