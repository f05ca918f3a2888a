// Package middleware provides HTTP middleware components for the Conveyor API.
package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery converts a handler panic into a logged 500 problem response so one
// bad request cannot take the API down with it.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				cause := recover()
				if cause == nil {
					return
				}

				correlationID := GetCorrelationID(r.Context())

				logger.Error("panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", correlationID),
					slog.Any("panic", cause),
					slog.String("stack", string(debug.Stack())),
				)

				writePanicProblem(w, r, logger, correlationID)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// writePanicProblem writes the RFC 7807 body for a recovered panic. The
// detail is fixed; whatever the panic carried stays in the logs.
func writePanicProblem(w http.ResponseWriter, r *http.Request, logger *slog.Logger, correlationID string) {
	body := map[string]any{
		"type":           fmt.Sprintf("https://conveyor.io/problems/%d", http.StatusInternalServerError),
		"title":          "Internal Server Error",
		"status":         http.StatusInternalServerError,
		"detail":         "An unexpected error occurred while processing the request",
		"instance":       r.URL.Path,
		"correlation_id": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusInternalServerError)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("writing panic response failed",
			slog.String("error", err.Error()),
			slog.String("correlation_id", correlationID),
		)
	}
}
