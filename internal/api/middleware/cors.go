// Package middleware provides HTTP middleware components for the Conveyor API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig supplies the browser cross-origin policy. Implemented by the API
// server configuration.
type CORSConfig interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// CORS answers cross-origin requests per cfg. Preflight OPTIONS requests
// terminate here with 204 No Content; everything else passes through with the
// Access-Control headers attached.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			if origin := allowOrigin(cfg.GetAllowedOrigins(), r.Header.Get("Origin")); origin != "" {
				h.Set("Access-Control-Allow-Origin", origin)
			}

			if methods := cfg.GetAllowedMethods(); len(methods) > 0 {
				h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
			}

			if headers := cfg.GetAllowedHeaders(); len(headers) > 0 {
				h.Set("Access-Control-Allow-Headers", strings.Join(headers, ", "))
			}

			if maxAge := cfg.GetMaxAge(); maxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(maxAge))
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allowOrigin picks the Access-Control-Allow-Origin value: "*" when the
// policy is open, the request's origin when listed, empty otherwise.
func allowOrigin(allowed []string, origin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}

		if origin != "" && a == origin {
			return origin
		}
	}

	return ""
}
