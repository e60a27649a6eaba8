package server

import (
	"log/slog"
	"net/http"

	"recipe-api/internal/observability/logging"
)

// loggerForRequest returns the request-scoped logger installed by the logging
// middleware, falling back to base annotated with the request id.
func loggerForRequest(base *slog.Logger, r *http.Request) *slog.Logger {
	if logger := logging.LoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	if base == nil {
		base = slog.Default()
	}
	return logging.WithContext(r.Context(), base).With("path", r.URL.Path)
}
