package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conveyor-io/conveyor/internal/api/middleware"
)

const (
	healthCheckTimeout = 2 * time.Second
	expectedURLParts   = 2
	serviceVersion     = "v1.0.0"
)

// Route represents an HTTP route configuration with a path and handler.
// Used for declarative route registration with middleware bypass support.
type Route struct {
	Path    string           // The URL path for this route (e.g., "/ping", "/api/v1/exports")
	Handler http.HandlerFunc // The HTTP handler function for this route
}

// healthStatus is the health check response shape.
type healthStatus struct {
	Status      string `json:"status"`
	ServiceName string `json:"serviceName"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime,omitempty"`
}

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // K8s liveness probe
		Route{"GET /ready", s.handleReady},   // K8s readiness probe
		Route{"GET /health", s.handleHealth}, // Basic health check - status, uptime, version
		Route{"/", s.handleNotFound},         // Catch-all handler for 404 responses
	)

	// Import jobs
	mux.HandleFunc("POST /api/v1/imports", s.handleCreateImport)
	mux.HandleFunc("GET /api/v1/imports/{jobId}", s.handleGetImport)
	mux.HandleFunc("GET /api/v1/imports/{jobId}/errors/download", s.handleDownloadImportErrors)
	mux.HandleFunc("POST /api/v1/imports/{jobId}/cancel", s.handleCancelImport)

	// Export jobs and the synchronous streaming endpoint
	mux.HandleFunc("GET /api/v1/exports", s.handleStreamExport)
	mux.HandleFunc("POST /api/v1/exports", s.handleCreateExport)
	mux.HandleFunc("GET /api/v1/exports/{jobId}", s.handleGetExport)
	mux.HandleFunc("GET /api/v1/exports/{jobId}/download", s.handleDownloadExport)
	mux.HandleFunc("POST /api/v1/exports/{jobId}/cancel", s.handleCancelExport)
}

// registerPublicRoutes registers HTTP routes that bypass authentication.
// Public routes should only be used for health check endpoints that need to be
// accessible without credentials (K8s probes, monitoring tools).
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Strip the method prefix: mux patterns are "GET /ping" but
		// r.URL.Path is just "/ping".
		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("malformed route path detected, ignoring route", slog.String("path", route.Path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("pong")); err != nil {
		s.logger.Error("failed to write ping response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to Kubernetes readiness probes by verifying the
// database answers within the health timeout.
//
// Response codes:
//   - 200 OK: storage is healthy and the pod should receive traffic
//   - 503 Service Unavailable: storage is unhealthy or unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if s.deps.Health == nil {
		s.logger.Warn("health checker not configured - readiness check disabled",
			slog.String("correlation_id", correlationID),
		)

		s.writeText(w, correlationID, http.StatusOK, "ready")

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		s.logger.Error("storage health check failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)

		s.writeText(w, correlationID, http.StatusServiceUnavailable, "storage unavailable")

		return
	}

	s.writeText(w, correlationID, http.StatusOK, "ready")
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, healthStatus{
		Status:      "healthy",
		ServiceName: "conveyor",
		Version:     serviceVersion,
		Uptime:      uptime,
	})
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

func (s *Server) writeText(w http.ResponseWriter, correlationID string, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("failed to write response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}

// writeJSON marshals v before touching the response so an encoding failure can
// still produce a clean 500.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// principal resolves the authenticated caller, failing the request when the
// auth middleware did not run.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (*middleware.Principal, bool) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		WriteErrorResponse(w, r, s.logger, NewProblemDetail(
			http.StatusUnauthorized, "Unauthorized", "request carries no authenticated principal",
		))

		return nil, false
	}

	return principal, true
}
