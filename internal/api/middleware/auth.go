// Package middleware provides HTTP middleware components for the Conveyor API.
package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/conveyor-io/conveyor/internal/config"
	"github.com/conveyor-io/conveyor/internal/storage"
)

// Authentication errors.
var (
	// ErrMissingToken is returned when no bearer token is presented.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned for unknown or malformed tokens. The message
	// stays generic to prevent token enumeration.
	ErrInvalidToken = errors.New("invalid bearer token")
)

type (
	// Principal is the authenticated caller. Every job row is scoped to the
	// principal's owner id.
	Principal struct {
		OwnerID string
	}

	// PrincipalStore resolves a presented bearer token to a principal.
	PrincipalStore interface {
		Lookup(ctx context.Context, token string) (*Principal, bool)
	}

	// StaticTokens is a PrincipalStore over a fixed token set. Tokens are held
	// as SHA-256 digests; lookups compare digests in constant time.
	StaticTokens struct {
		entries map[string]string
	}

	principalKey struct{}
)

// NewStaticTokens builds a token store from "token:ownerID" pairs. Malformed
// pairs are skipped.
func NewStaticTokens(pairs []string) *StaticTokens {
	entries := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		token, owner, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || owner == "" {
			continue
		}

		entries[digest(token)] = owner
	}

	return &StaticTokens{entries: entries}
}

// LoadStaticTokens builds the token store from CONVEYOR_AUTH_TOKENS, a
// comma-separated list of "token:ownerID" pairs.
func LoadStaticTokens() *StaticTokens {
	return NewStaticTokens(config.ParseCommaSeparatedList(config.GetEnvStr("CONVEYOR_AUTH_TOKENS", "")))
}

// Lookup resolves a token to its principal.
func (s *StaticTokens) Lookup(_ context.Context, token string) (*Principal, bool) {
	presented := digest(token)

	// Constant-time scan over all entries so timing does not reveal whether a
	// digest prefix matched.
	var owner string

	for stored, o := range s.entries {
		if storage.SecureCompare(stored, presented) {
			owner = o
		}
	}

	if owner == "" {
		return nil, false
	}

	return &Principal{OwnerID: owner}, true
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))

	return hex.EncodeToString(sum[:])
}

// publicEndpoints are paths that bypass authentication, such as health probes.
var (
	publicEndpointsMu sync.RWMutex
	publicEndpoints   = make(map[string]bool)
)

// RegisterPublicEndpoint marks a path as reachable without authentication.
// Only health probes should be registered here.
func RegisterPublicEndpoint(path string) {
	publicEndpointsMu.Lock()
	defer publicEndpointsMu.Unlock()

	publicEndpoints[path] = true
}

func isPublicEndpoint(path string) bool {
	publicEndpointsMu.RLock()
	defer publicEndpointsMu.RUnlock()

	return publicEndpoints[path]
}

// Authenticate creates a middleware that resolves the Authorization bearer
// token to a principal and stores it on the request context. Requests to
// registered public endpoints pass through unauthenticated.
func Authenticate(store PrincipalStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)

				return
			}

			token, ok := extractBearerToken(r)
			if !ok {
				writeAuthError(w, r, logger, ErrMissingToken)

				return
			}

			principal, ok := store.Lookup(r.Context(), token)
			if !ok {
				writeAuthError(w, r, logger, ErrInvalidToken)

				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, principal)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetPrincipal extracts the authenticated principal from the request context.
func GetPrincipal(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(*Principal)

	return principal, ok
}

// SetPrincipal returns a context carrying the principal. Exposed for handler
// tests that bypass the middleware chain.
func SetPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// extractBearerToken pulls the token from the Authorization header. Tokens
// containing newlines are rejected to prevent header injection.
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" || strings.ContainsAny(token, "\r\n") {
		return "", false
	}

	return token, true
}

// writeAuthError writes an RFC 7807 compliant 401 without importing the api
// package.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, cause error) {
	correlationID := GetCorrelationID(r.Context())

	logger.Warn("authentication failed",
		slog.String("reason", cause.Error()),
		slog.String("correlation_id", correlationID),
		slog.String("endpoint", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
	)

	problem := map[string]any{
		"type":          fmt.Sprintf("https://conveyor.io/problems/%d", http.StatusUnauthorized),
		"title":         "Unauthorized",
		"status":        http.StatusUnauthorized,
		"detail":        cause.Error(),
		"instance":      r.URL.Path,
		"correlationId": correlationID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(http.StatusUnauthorized)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("failed to encode authentication error response",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
	}
}
