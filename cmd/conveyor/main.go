// Package main provides the Conveyor API service.
//
// The API server accepts import and export job requests, serves job status
// and artifact downloads, and exposes the synchronous streaming export
// endpoint. Job execution happens in the worker service.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/conveyor-io/conveyor/internal/api"
	"github.com/conveyor-io/conveyor/internal/api/middleware"
	"github.com/conveyor-io/conveyor/internal/blob"
	"github.com/conveyor-io/conveyor/internal/config"
	"github.com/conveyor-io/conveyor/internal/intake"
	"github.com/conveyor-io/conveyor/internal/pipeline"
	"github.com/conveyor-io/conveyor/internal/queue"
	"github.com/conveyor-io/conveyor/internal/storage"
)

// Version information.
const (
	version = "1.0.0"
	name    = "conveyor"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()
	logger := config.NewLogger(serverConfig.LogLevel)

	logger.Info("starting Conveyor API service",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	storageConfig := storage.LoadConfig()

	conn, err := storage.NewConnection(context.Background(), storageConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = conn.Close()
	}()

	jobStore, err := storage.NewJobStore(conn, logger)
	if err != nil {
		logger.Error("failed to initialize job store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	errorStore, err := storage.NewImportErrorStore(conn, logger)
	if err != nil {
		logger.Error("failed to initialize import error store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	userStore, err := storage.NewUserStore(conn)
	if err != nil {
		logger.Error("failed to initialize user store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	articleStore, err := storage.NewArticleStore(conn)
	if err != nil {
		logger.Error("failed to initialize article store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	commentStore, err := storage.NewCommentStore(conn)
	if err != nil {
		logger.Error("failed to initialize comment store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	uploads, exports, reports, err := openBlobStores()
	if err != nil {
		logger.Error("failed to open artifact storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	queueConfig := queue.LoadConfig()

	producer, err := queue.NewProducer(queueConfig, logger)
	if err != nil {
		logger.Error("failed to connect to queue", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = producer.Close()
	}()

	logger.Info("dispatch queue initialized",
		slog.String("topic", queueConfig.Topic),
		slog.Int("brokers", len(queueConfig.Brokers)),
	)

	intakeConfig, err := intake.LoadConfig()
	if err != nil {
		logger.Error("failed to load intake configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	pipelineConfig := pipeline.LoadConfig()

	exporter := pipeline.NewExporter(pipelineConfig, &pipeline.Stores{
		Users:    userStore,
		Articles: articleStore,
		Comments: commentStore,
	}, jobStore, exports, logger)

	tokens := middleware.LoadStaticTokens()

	server := api.NewServer(serverConfig, &api.Dependencies{
		Jobs:         jobStore,
		ImportErrors: errorStore,
		Queue:        producer,
		Exporter:     exporter,
		Fetcher:      intake.NewFetcher(intakeConfig),
		Uploads:      uploads,
		Exports:      exports,
		Reports:      reports,
		Intake:       intakeConfig,
		Pipeline:     pipelineConfig,
		Tokens:       tokens,
		Health:       conn,
	}, logger)

	if err := server.Start(); err != nil {
		logger.Error("server failed",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Conveyor API service stopped")
}

// openBlobStores opens the three artifact stores: import payloads, export
// artifacts, and import error reports.
func openBlobStores() (uploads, exports, reports blob.Store, err error) {
	uploads, err = blob.NewLocalStore(config.GetEnvStr("CONVEYOR_IMPORT_STORAGE_PATH", "data/imports"))
	if err != nil {
		return nil, nil, nil, err
	}

	exports, err = blob.NewLocalStore(config.GetEnvStr("CONVEYOR_EXPORT_STORAGE_PATH", "data/exports"))
	if err != nil {
		return nil, nil, nil, err
	}

	reports, err = blob.NewLocalStore(config.GetEnvStr("CONVEYOR_ERROR_REPORT_STORAGE_PATH", "data/error-reports"))
	if err != nil {
		return nil, nil, nil, err
	}

	return uploads, exports, reports, nil
}
