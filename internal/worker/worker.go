// Package worker consumes job dispatch messages and runs the import and
// export pipelines with bounded concurrency. Offsets are committed only after
// a job reaches a terminal state, so a crash redelivers the dispatch and the
// claim update keeps the replay harmless.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"github.com/conveyor-io/conveyor/internal/config"
	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/queue"
	"github.com/conveyor-io/conveyor/internal/storage"
)

const defaultConcurrency = 4

// fetchBackoff spaces out retries when the broker is unreachable.
const fetchBackoff = 5 * time.Second

type (
	// JobStore is the slice of job persistence the worker needs.
	JobStore interface {
		Get(ctx context.Context, jobID string) (*jobs.Job, error)
		Claim(ctx context.Context, jobID string) (bool, error)
		MarkFailed(ctx context.Context, jobID string) error
	}

	// ImportRunner runs one claimed import job to its terminal state.
	ImportRunner interface {
		RunImport(ctx context.Context, job *jobs.Job) error
	}

	// ExportRunner runs one claimed export job to its terminal state.
	ExportRunner interface {
		RunExport(ctx context.Context, job *jobs.Job) error
	}

	// Consumer is the queue side the worker reads from.
	Consumer interface {
		Fetch(ctx context.Context) (*queue.Message, kafka.Message, error)
		Commit(ctx context.Context, raw kafka.Message) error
	}

	// Requeuer republishes a dispatch with a bumped attempt counter.
	Requeuer interface {
		Publish(ctx context.Context, msg *queue.Message) error
	}

	// Config holds worker settings.
	Config struct {
		// Concurrency bounds how many jobs run at once in this process.
		Concurrency int

		// MaxAttempts caps dispatch redeliveries before the job is marked
		// failed.
		MaxAttempts int
	}

	// Worker is the dispatch loop.
	Worker struct {
		cfg      *Config
		consumer Consumer
		producer Requeuer
		store    JobStore
		importer ImportRunner
		exporter ExportRunner
		logger   *slog.Logger

		sem chan struct{}
		wg  sync.WaitGroup
	}
)

// LoadConfig loads worker configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		Concurrency: config.GetEnvInt("CONVEYOR_WORKER_CONCURRENCY", defaultConcurrency),
		MaxAttempts: config.GetEnvInt("CONVEYOR_QUEUE_MAX_ATTEMPTS", 3),
	}
}

// New creates a Worker.
func New(cfg *Config, consumer Consumer, producer Requeuer, store JobStore, importer ImportRunner, exporter ExportRunner, logger *slog.Logger) *Worker {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Worker{
		cfg:      cfg,
		consumer: consumer,
		producer: producer,
		store:    store,
		importer: importer,
		exporter: exporter,
		logger:   logger,
		sem:      make(chan struct{}, concurrency),
	}
}

// Run consumes dispatches until ctx is cancelled, then drains in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	defer w.wg.Wait()

	for {
		msg, raw, err := w.consumer.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if errors.Is(err, queue.ErrMalformedDispatch) {
				// Poison message, already committed by the consumer.
				continue
			}

			w.logger.Error("fetching dispatch failed", slog.String("error", err.Error()))

			select {
			case <-time.After(fetchBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}

			continue
		}

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		w.wg.Add(1)

		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()

			w.handle(ctx, msg)

			if err := w.consumer.Commit(ctx, raw); err != nil {
				w.logger.Error("committing dispatch failed",
					slog.String("job_id", msg.JobID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}

// handle claims and runs one dispatched job. A dispatch whose job cannot be
// claimed is dropped: another worker owns it or it already finished.
func (w *Worker) handle(ctx context.Context, msg *queue.Message) {
	logger := w.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("kind", string(msg.Kind)),
		slog.Int("attempt", msg.Attempt),
	)

	job, err := w.store.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			logger.Warn("dispatch references unknown job, dropping")

			return
		}

		w.retryOrFail(ctx, msg, logger, err)

		return
	}

	claimed, err := w.store.Claim(ctx, job.ID)
	if err != nil {
		w.retryOrFail(ctx, msg, logger, err)

		return
	}

	if !claimed {
		logger.Info("job not claimable, skipping", slog.String("status", string(job.Status)))

		return
	}

	now := time.Now().UTC()
	job.Status = jobs.StatusRunning
	job.StartedAt = &now

	switch job.Kind {
	case jobs.KindImport:
		err = w.importer.RunImport(ctx, job)
	case jobs.KindExport:
		err = w.exporter.RunExport(ctx, job)
	default:
		logger.Error("dispatch carries unknown kind")

		return
	}

	if err != nil {
		// The pipelines finalize their own jobs; an error here means the run
		// already landed on failed or could not be finalized at all.
		logger.Error("job run failed", slog.String("error", err.Error()))
	}
}

// retryOrFail requeues the dispatch with a bumped attempt counter, or marks
// the job failed once attempts are exhausted.
func (w *Worker) retryOrFail(ctx context.Context, msg *queue.Message, logger *slog.Logger, cause error) {
	logger.Error("dispatch handling failed", slog.String("error", cause.Error()))

	if msg.Attempt < w.cfg.MaxAttempts {
		next := &queue.Message{JobID: msg.JobID, Kind: msg.Kind, Attempt: msg.Attempt + 1}
		if err := w.producer.Publish(ctx, next); err != nil {
			logger.Error("requeueing dispatch failed", slog.String("error", err.Error()))
		}

		return
	}

	if err := w.store.MarkFailed(ctx, msg.JobID); err != nil {
		logger.Error("marking job failed", slog.String("error", err.Error()))
	}
}
