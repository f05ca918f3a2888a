package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCORSConfig struct {
	origins []string
	methods []string
	headers []string
	maxAge  int
}

func (c testCORSConfig) GetAllowedOrigins() []string { return c.origins }
func (c testCORSConfig) GetAllowedMethods() []string { return c.methods }
func (c testCORSConfig) GetAllowedHeaders() []string { return c.headers }
func (c testCORSConfig) GetMaxAge() int              { return c.maxAge }

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestCorrelationIDGenerated(t *testing.T) {
	var seen string

	handler := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports", nil))

	require.NotEmpty(t, seen)
	assert.Len(t, seen, 16)
	assert.Equal(t, seen, rec.Header().Get(CorrelationHeader))
}

func TestCorrelationIDEchoesCaller(t *testing.T) {
	handler := CorrelationID()(okHandler())

	r := httptest.NewRequest(http.MethodGet, "/api/v1/imports", nil)
	r.Header.Set(CorrelationHeader, "client-supplied-id")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, "client-supplied-id", rec.Header().Get(CorrelationHeader))
}

func TestGetCorrelationIDOutsideRequest(t *testing.T) {
	assert.Equal(t, "unknown", GetCorrelationID(t.Context()))
}

func TestCORSPreflight(t *testing.T) {
	cfg := testCORSConfig{
		origins: []string{"https://app.example.com"},
		methods: []string{"GET", "POST"},
		headers: []string{"Authorization", "Content-Type"},
		maxAge:  600,
	}

	handler := CORS(cfg)(okHandler())

	r := httptest.NewRequest(http.MethodOptions, "/api/v1/imports", nil)
	r.Header.Set("Origin", "https://app.example.com")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Authorization, Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestAllowOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{name: "wildcard", allowed: []string{"*"}, origin: "https://evil.test", want: "*"},
		{name: "listed", allowed: []string{"https://a.test", "https://b.test"}, origin: "https://b.test", want: "https://b.test"},
		{name: "unlisted", allowed: []string{"https://a.test"}, origin: "https://evil.test", want: ""},
		{name: "no origin header", allowed: []string{"https://a.test"}, origin: "", want: ""},
		{name: "empty policy", allowed: nil, origin: "https://a.test", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, allowOrigin(tt.allowed, tt.origin))
		})
	}
}

func TestStatusRecorderCapturesStatusAndSize(t *testing.T) {
	handler := RequestLogger(testAuthLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}

func TestRecoveryWritesProblem(t *testing.T) {
	handler := Recovery(testAuthLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports/abc", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Internal Server Error", body["title"])
	assert.Equal(t, "/api/v1/imports/abc", body["instance"])
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestRecoveryPassesThrough(t *testing.T) {
	handler := Recovery(testAuthLogger())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/imports", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
