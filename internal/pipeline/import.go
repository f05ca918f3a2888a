package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/conveyor-io/conveyor/internal/apperr"
	"github.com/conveyor-io/conveyor/internal/blob"
	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/parse"
	"github.com/conveyor-io/conveyor/internal/records"
	"github.com/conveyor-io/conveyor/internal/storage"
)

type (
	// UpsertEngine applies batches of validated records. Implemented by the
	// storage layer.
	UpsertEngine interface {
		ApplyBatch(ctx context.Context, batch []*records.Validated) ([]storage.Applied, []storage.RecordFailure, error)
	}

	// ErrorJournal persists and reads back per-record import errors.
	// InsertBatch never fails the run; it reports how many rows persisted and
	// how many could not be.
	ErrorJournal interface {
		InsertBatch(ctx context.Context, errs []*jobs.ImportError) (persisted, failed int64)
		ListPage(ctx context.Context, jobID string, limit, offset int) ([]*jobs.ImportError, error)
	}

	// Importer runs import jobs end to end.
	Importer struct {
		cfg     *Config
		engine  UpsertEngine
		journal ErrorJournal
		refs    records.ReferenceStore
		jobs    JobStore
		sources blob.Store
		reports blob.Store
		emitter *jobs.Emitter
		logger  *slog.Logger
	}

	// importRun is the mutable state of one import execution.
	importRun struct {
		job       *jobs.Job
		validator *records.Validator

		processed  int64
		success    int64
		errorCount int64

		pending []*records.Validated
		errBuf  []*jobs.ImportError

		persisted       int64
		persistFailures int64
	}
)

// errCancelled aborts the processing loop when the cooperative cancel flag is
// observed. Internal control flow only.
var errCancelled = errors.New("job cancelled")

// NewImporter wires an Importer. sources holds uploaded/fetched payloads,
// reports receives generated error-report artifacts.
func NewImporter(cfg *Config, engine UpsertEngine, journal ErrorJournal, refs records.ReferenceStore, jobStore JobStore, sources, reports blob.Store, logger *slog.Logger) *Importer {
	return &Importer{
		cfg:     cfg,
		engine:  engine,
		journal: journal,
		refs:    refs,
		jobs:    jobStore,
		sources: sources,
		reports: reports,
		emitter: jobs.NewEmitter(logger),
		logger:  logger,
	}
}

// RunImport executes a claimed import job to its terminal state. The caller
// has already moved the job to running.
//
// Record-level problems are journaled and counted, never raised. Anything
// that escapes the processing loop is fatal: buffered errors are flushed
// best-effort, one journal row with the reserved -1 index records the cause,
// the error report is still attempted, and the job finalizes as failed.
func (i *Importer) RunImport(ctx context.Context, job *jobs.Job) error {
	i.emitter.JobStarted(job)

	run := &importRun{
		job:       job,
		validator: records.NewValidator(job.Resource, i.refs),
	}

	err := i.process(ctx, run)

	switch {
	case err == nil:
		return i.finalizeImport(ctx, run, jobs.DeriveImportStatus(run.success, run.errorCount, false))
	case errors.Is(err, errCancelled):
		return i.finalizeImport(ctx, run, jobs.StatusCancelled)
	default:
		i.logger.Error("import run failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)

		i.bufferError(ctx, run, fatalJournalRow(job.ID, err))

		return i.finalizeImport(ctx, run, jobs.DeriveImportStatus(run.success, run.errorCount, true))
	}
}

func (i *Importer) process(ctx context.Context, run *importRun) error {
	src, err := i.sources.Open(ctx, run.job.SourceLocation)
	if err != nil {
		return apperr.Newf(apperr.CodeFileReadError, "opening import payload: %v", err)
	}

	defer func() { _ = src.Close() }()

	reader, err := parse.NewReader(run.job.Format, src, i.cfg.ImportMaxRecords)
	if err != nil {
		return err
	}

	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return err
		}

		run.processed++

		result, err := run.validator.Validate(ctx, rec.Data, rec.Index)
		if err != nil {
			return err
		}

		if result.Valid {
			run.pending = append(run.pending, result.Record)

			if len(run.pending) >= i.cfg.ImportBatchSize {
				if err := i.flushBatch(ctx, run); err != nil {
					return err
				}
			}
		} else {
			run.errorCount++

			recordID := rawRecordID(rec.Data)
			for _, verr := range result.Errors {
				i.bufferError(ctx, run, journalRow(run.job.ID, rec.Index, recordID, verr))
			}
		}

		if i.cfg.CancelCheckInterval > 0 && run.processed%i.cfg.CancelCheckInterval == 0 {
			cancelled, err := i.jobs.CancelRequested(ctx, run.job.ID)
			if err != nil {
				return err
			}

			if cancelled {
				if err := i.flushBatch(ctx, run); err != nil {
					return err
				}

				return errCancelled
			}
		}
	}

	// A payload that parses to zero records is a whole-job failure: blank
	// lines or an empty JSON array carry bytes but no data.
	if run.processed == 0 {
		return apperr.New(apperr.CodeEmptyFile, "import payload contains no records")
	}

	return i.flushBatch(ctx, run)
}

// flushBatch applies the pending records and settles their counters. Applied
// records claim their natural keys in the run cache so later records in the
// payload see them as taken.
func (i *Importer) flushBatch(ctx context.Context, run *importRun) error {
	if len(run.pending) == 0 {
		return nil
	}

	applied, failures, err := i.engine.ApplyBatch(ctx, run.pending)
	if err != nil {
		return err
	}

	for _, a := range applied {
		run.success++

		switch {
		case a.Record.User != nil && a.Record.User.Email != "":
			run.validator.Cache().ClaimEmail(a.Record.User.Email, a.RowID)
		case a.Record.Article != nil && a.Record.Article.Slug != "":
			run.validator.Cache().ClaimSlug(a.Record.Article.Slug, a.RowID)
		}
	}

	for _, f := range failures {
		run.errorCount++

		i.bufferError(ctx, run, journalRow(run.job.ID, f.Record.Index, f.Record.RecordID(), f.Err))
	}

	run.pending = run.pending[:0]

	if err := i.jobs.UpdateProgress(ctx, run.job.ID, run.processed, run.success, run.errorCount); err != nil {
		i.logger.Warn("progress update failed",
			slog.String("job_id", run.job.ID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

func (i *Importer) bufferError(ctx context.Context, run *importRun, row *jobs.ImportError) {
	run.errBuf = append(run.errBuf, row)

	if len(run.errBuf) >= errorBufferSize {
		i.flushErrors(ctx, run)
	}
}

func (i *Importer) flushErrors(ctx context.Context, run *importRun) {
	if len(run.errBuf) == 0 {
		return
	}

	persisted, failed := i.journal.InsertBatch(ctx, run.errBuf)
	run.persisted += persisted
	run.persistFailures += failed
	run.errBuf = run.errBuf[:0]
}

// finalizeImport flushes remaining journal rows, generates the error report,
// and writes the terminal row.
func (i *Importer) finalizeImport(ctx context.Context, run *importRun, status jobs.Status) error {
	i.flushErrors(ctx, run)

	job := run.job
	job.Status = status
	job.ProcessedRecords = run.processed
	job.SuccessCount = run.success
	job.ErrorCount = run.errorCount

	total := run.processed
	job.TotalRecords = &total

	if run.persisted > 0 || run.persistFailures > 0 {
		summary := &jobs.ErrorSummary{
			PersistedErrorCount: run.persisted,
			PersistenceFailures: run.persistFailures,
			ReportFormat:        job.Format,
			ReportStatus:        reportStatus(run.persisted, run.persistFailures),
		}

		if run.persisted > 0 {
			location, err := i.generateReport(ctx, job)
			if err != nil {
				i.logger.Error("error report generation failed",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)

				summary.ReportGenerationFailed = true
			} else {
				summary.ReportLocation = location
			}
		}

		job.ErrorSummary = summary
	}

	if err := i.jobs.Finalize(ctx, job); err != nil {
		if errors.Is(err, jobs.ErrTerminalStatusImmutable) {
			// Lost to a concurrent terminal write; the stored row wins.
			i.logger.Warn("import already finalized elsewhere", slog.String("job_id", job.ID))
		} else {
			return fmt.Errorf("finalizing import %s: %w", job.ID, err)
		}
	}

	i.emitter.JobCompleted(job)

	return nil
}

// reportStatus summarizes journal persistence: complete when every row
// landed, partial when some did, failed when none did.
func reportStatus(persisted, failed int64) string {
	switch {
	case failed == 0:
		return "complete"
	case persisted > 0:
		return "partial"
	default:
		return "failed"
	}
}

// journalRow converts one taxonomy error into its journal row.
func journalRow(jobID string, index int64, recordID string, verr *apperr.Error) *jobs.ImportError {
	return &jobs.ImportError{
		JobID:       jobID,
		RecordIndex: index,
		RecordID:    recordID,
		ErrorCode:   int(verr.Code),
		ErrorName:   verr.Code.Name(),
		Message:     verr.Message,
		Field:       verr.Field,
		Value:       verr.Value,
		Details:     verr.Details,
		CreatedAt:   time.Now().UTC(),
	}
}

// fatalJournalRow records a whole-run failure under the reserved -1 index.
func fatalJournalRow(jobID string, err error) *jobs.ImportError {
	var verr *apperr.Error
	if !errors.As(err, &verr) {
		verr = apperr.Newf(apperr.CodeInternalError, "import run failed: %v", err)
	}

	return journalRow(jobID, jobs.FatalRecordIndex, "", verr)
}

// rawRecordID extracts a best-effort record identifier from a raw record for
// the journal, before validation has normalized it.
func rawRecordID(raw map[string]any) string {
	for _, key := range []string{"id", "email", "slug"} {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}

	return ""
}
