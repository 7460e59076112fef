// Package logging builds the process logger.
//
// New returns a standard *slog.Logger configured from the telemetry
// section (level, json or text format, optional source locations).
// Records logged with a *Context method pick up the request ID and
// source key stored in the context:
//
//	ctx = logging.WithSource(ctx, "example.com")
//	logger.InfoContext(ctx, "breaker reset")
//
// Attributes named password, secret, token or api_key are redacted, and
// passwords embedded in dsn attributes are masked.
package logging
