// Package main provides the Conveyor worker service.
//
// The worker consumes job dispatch messages from Kafka and runs the import
// and export pipelines against PostgreSQL and the artifact stores. It also
// sweeps expired export artifacts on a fixed interval.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/conveyor-io/conveyor/internal/blob"
	"github.com/conveyor-io/conveyor/internal/config"
	"github.com/conveyor-io/conveyor/internal/pipeline"
	"github.com/conveyor-io/conveyor/internal/queue"
	"github.com/conveyor-io/conveyor/internal/storage"
	"github.com/conveyor-io/conveyor/internal/worker"
)

// Version information.
const (
	version = "1.0.0"
	name    = "conveyor-worker"
)

// defaultSweepInterval spaces out expired-artifact sweeps.
const defaultSweepInterval = time.Hour

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := config.NewLogger(config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo))

	logger.Info("starting Conveyor worker",
		slog.String("service", name),
		slog.String("version", version),
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

	engine, err := storage.NewUpsertEngine(conn, userStore, articleStore, commentStore, logger)
	if err != nil {
		logger.Error("failed to initialize upsert engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	uploads, exports, reports, err := openBlobStores()
	if err != nil {
		logger.Error("failed to open artifact storage", slog.String("error", err.Error()))
		os.Exit(1)
	}

	queueConfig := queue.LoadConfig()

	consumer, err := queue.NewConsumer(queueConfig, logger)
	if err != nil {
		logger.Error("failed to connect to queue", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = consumer.Close()
	}()

	producer, err := queue.NewProducer(queueConfig, logger)
	if err != nil {
		logger.Error("failed to connect to queue", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = producer.Close()
	}()

	pipelineConfig := pipeline.LoadConfig()

	importer := pipeline.NewImporter(
		pipelineConfig, engine, errorStore, storage.NewRefs(userStore, articleStore),
		jobStore, uploads, reports, logger,
	)

	exporter := pipeline.NewExporter(pipelineConfig, &pipeline.Stores{
		Users:    userStore,
		Articles: articleStore,
		Comments: commentStore,
	}, jobStore, exports, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweepExpiredArtifacts(ctx, jobStore, exports, logger)

	w := worker.New(worker.LoadConfig(), consumer, producer, jobStore, importer, exporter, logger)

	logger.Info("worker running",
		slog.String("topic", queueConfig.Topic),
		slog.String("group", queueConfig.GroupID),
	)

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Conveyor worker stopped")
}

// sweepExpiredArtifacts clears expired export rows and removes their blobs on
// a fixed interval until ctx is cancelled.
func sweepExpiredArtifacts(ctx context.Context, store *storage.JobStore, exports blob.Store, logger *slog.Logger) {
	interval := config.GetEnvDuration("CONVEYOR_SWEEP_INTERVAL", defaultSweepInterval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		keys, err := store.DeleteExpiredArtifacts(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("sweeping expired artifacts failed", slog.String("error", err.Error()))

			continue
		}

		for _, key := range keys {
			if err := exports.Delete(ctx, key); err != nil {
				logger.Warn("removing expired artifact failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		}

		if len(keys) > 0 {
			logger.Info("expired artifacts removed", slog.Int("count", len(keys)))
		}
	}
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
