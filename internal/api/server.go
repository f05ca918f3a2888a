package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conveyor-io/conveyor/internal/api/middleware"
	"github.com/conveyor-io/conveyor/internal/blob"
	"github.com/conveyor-io/conveyor/internal/intake"
	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/pipeline"
)

type (
	// JobStore is the slice of job persistence the HTTP surface needs.
	JobStore interface {
		Create(ctx context.Context, job *jobs.Job) (*jobs.Job, bool, error)
		GetByID(ctx context.Context, ownerID, jobID string) (*jobs.Job, error)
		RequestCancel(ctx context.Context, ownerID, jobID string) (jobs.Status, error)
		MarkFailed(ctx context.Context, jobID string) error
	}

	// ImportErrorReader pages an import job's error journal for the preview.
	ImportErrorReader interface {
		ListPage(ctx context.Context, jobID string, limit, offset int) ([]*jobs.ImportError, error)
	}

	// Enqueuer publishes the first dispatch for a job.
	Enqueuer interface {
		Enqueue(ctx context.Context, kind jobs.Kind, jobID string) error
	}

	// ExportStreamer serves the synchronous streaming export endpoint.
	ExportStreamer interface {
		Stream(ctx context.Context, w io.Writer, p pipeline.StreamParams) error
	}

	// RemoteFetcher fetches an allow-listed import URL.
	RemoteFetcher interface {
		Fetch(ctx context.Context, rawURL string) (io.ReadCloser, string, error)
	}

	// HealthChecker verifies a storage dependency answers within a deadline.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Dependencies carries everything the handlers need. Configuration (what)
	// stays in ServerConfig; dependencies (how) are injected here.
	Dependencies struct {
		Jobs         JobStore
		ImportErrors ImportErrorReader
		Queue        Enqueuer
		Exporter     ExportStreamer
		Fetcher      RemoteFetcher

		// Blob stores per artifact family.
		Uploads blob.Store
		Exports blob.Store
		Reports blob.Store

		Intake   *intake.Config
		Pipeline *pipeline.Config
		Tokens   middleware.PrincipalStore
		Health   HealthChecker
	}

	// Server represents the HTTP API server.
	Server struct {
		httpServer *http.Server
		logger     *slog.Logger
		config     *ServerConfig
		deps       *Dependencies
		startTime  time.Time
	}
)

// NewServer creates a new HTTP server instance with structured logging and the
// middleware stack: correlation ID, panic recovery, bearer-token auth, request
// logging, CORS.
func NewServer(cfg *ServerConfig, deps *Dependencies, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	server := &Server{
		logger: logger,
		config: cfg,
		deps:   deps,
	}

	server.setupRoutes(mux)

	if deps.Tokens == nil {
		logger.Warn("token store not configured - bearer authentication disabled")
	}

	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithAuth(deps.Tokens, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(corsConfig{cfg: cfg}),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting Conveyor API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server shutdown completed successfully")

	return nil
}
