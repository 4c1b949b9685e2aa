// Package ctxkey defines context keys shared by the HTTP server and the
// handlers it mounts. It imports no other internal package.
package ctxkey

// LoggerKey holds the request-scoped *slog.Logger (carries request_id).
type LoggerKey struct{}

// RequestIDKey holds the request ID string.
type RequestIDKey struct{}
