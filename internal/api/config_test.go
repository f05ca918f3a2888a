package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-io/conveyor/internal/apperr"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg := LoadServerConfig()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
	require.NoError(t, cfg.Validate())
}

func TestServerConfigValidate(t *testing.T) {
	valid := func() *ServerConfig {
		return &ServerConfig{
			Port:            8080,
			Host:            "localhost",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr error
	}{
		{name: "valid", mutate: func(*ServerConfig) {}},
		{name: "zero port", mutate: func(c *ServerConfig) { c.Port = 0 }, wantErr: ErrInvalidPort},
		{name: "port too large", mutate: func(c *ServerConfig) { c.Port = 70000 }, wantErr: ErrInvalidPort},
		{name: "empty host", mutate: func(c *ServerConfig) { c.Host = "" }, wantErr: ErrEmptyHost},
		{name: "zero read timeout", mutate: func(c *ServerConfig) { c.ReadTimeout = 0 }, wantErr: ErrInvalidReadTimeout},
		{name: "zero write timeout", mutate: func(c *ServerConfig) { c.WriteTimeout = 0 }, wantErr: ErrInvalidWriteTimeout},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *ServerConfig) { c.ShutdownTimeout = 0 },
			wantErr: ErrInvalidShutdownTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code apperr.Code
		want int
	}{
		{apperr.CodeFileTooLarge, http.StatusRequestEntityTooLarge},
		{apperr.CodeJobNotFound, http.StatusNotFound},
		{apperr.CodeUnauthorized, http.StatusUnauthorized},
		{apperr.CodeForbidden, http.StatusForbidden},
		{apperr.CodeRateLimited, http.StatusTooManyRequests},
		{apperr.CodeDownloadExpired, http.StatusGone},
		{apperr.CodeQueueError, http.StatusServiceUnavailable},
		{apperr.CodeMissingRequiredField, http.StatusUnprocessableEntity},
		{apperr.CodeUnsupportedFormat, http.StatusUnprocessableEntity},
		{apperr.CodeUnsupportedResource, http.StatusUnprocessableEntity},
		{apperr.CodeDatabaseError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.Name(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForCode(tt.code))
		})
	}
}

func TestProblemFromErrorHidesInternalDetail(t *testing.T) {
	problem := ProblemFromError(assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, problem.Status)
	assert.NotContains(t, problem.Detail, assert.AnError.Error())
}
