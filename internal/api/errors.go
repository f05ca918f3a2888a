package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/conveyor-io/conveyor/internal/api/middleware"
	"github.com/conveyor-io/conveyor/internal/apperr"
)

// ProblemDetail represents an RFC 7807 Problem Details structure, extended
// with the numeric error taxonomy code and its stable name.
// See https://tools.ietf.org/html/rfc7807 for the base specification.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	ErrorCode     int    `json:"errorCode,omitempty"`
	ErrorName     string `json:"errorName,omitempty"`
}

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://conveyor.io/problems/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WithCode tags the problem with a taxonomy code.
func (p *ProblemDetail) WithCode(code apperr.Code) *ProblemDetail {
	p.ErrorCode = int(code)
	p.ErrorName = code.Name()

	return p
}

// statusForCode maps taxonomy codes to HTTP status codes per the external
// interface table.
func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.CodeJobNotFound:
		return http.StatusNotFound
	case apperr.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeRateLimited, apperr.CodeConcurrentLimit:
		return http.StatusTooManyRequests
	case apperr.CodeDownloadExpired:
		return http.StatusGone
	case apperr.CodeQueueError:
		return http.StatusServiceUnavailable
	}

	switch {
	case code.IsValidation():
		return http.StatusUnprocessableEntity
	case code >= 2000 && code < 4000:
		// File and processing errors surface as unprocessable payloads.
		return http.StatusUnprocessableEntity
	case code == apperr.CodeUnsupportedResource:
		return http.StatusUnprocessableEntity
	}

	return http.StatusInternalServerError
}

// ProblemFromError converts a taxonomy-tagged error into a problem detail.
// Errors without a taxonomy code become opaque 500s.
func ProblemFromError(err error) *ProblemDetail {
	code := apperr.CodeOf(err)
	status := statusForCode(code)

	detail := err.Error()
	if status == http.StatusInternalServerError {
		// Internal failure text can leak storage paths or SQL; keep it generic.
		detail = "An unexpected error occurred while processing the request"
	}

	return NewProblemDetail(status, http.StatusText(status), detail).WithCode(code)
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)

		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors for frequently used errors.

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusInternalServerError, "Internal Server Error", detail)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusBadRequest, "Bad Request", detail)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusNotFound, "Not Found", detail).WithCode(apperr.CodeJobNotFound)
}

// Conflict creates a 409 Conflict problem.
func Conflict(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusConflict, "Conflict", detail)
}

// UnprocessableEntity creates a 422 Unprocessable Entity problem.
func UnprocessableEntity(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusUnprocessableEntity, "Unprocessable Entity", detail)
}

// ServiceUnavailable creates a 503 Service Unavailable problem.
func ServiceUnavailable(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusServiceUnavailable, "Service Unavailable", detail).
		WithCode(apperr.CodeQueueError)
}
