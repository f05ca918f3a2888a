package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/conveyor-io/conveyor/internal/apperr"
	"github.com/conveyor-io/conveyor/internal/blob"
	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/records"
)

type (
	// UserSource lists users beyond a cursor. Implemented by the storage layer.
	UserSource interface {
		List(ctx context.Context, filters records.Filters, afterID int64, limit int) ([]*records.UserRecord, error)
	}

	// ArticleSource lists articles beyond a cursor.
	ArticleSource interface {
		List(ctx context.Context, filters records.Filters, afterID int64, limit int) ([]*records.ArticleRecord, error)
	}

	// CommentSource lists comments beyond a cursor.
	CommentSource interface {
		List(ctx context.Context, filters records.Filters, afterID int64, limit int) ([]*records.CommentRecord, error)
	}

	// Stores bundles the per-resource entity sources.
	Stores struct {
		Users    UserSource
		Articles ArticleSource
		Comments CommentSource
	}

	// JobStore is the slice of job persistence the pipelines use.
	JobStore interface {
		CancelRequested(ctx context.Context, jobID string) (bool, error)
		UpdateProgress(ctx context.Context, jobID string, processed, success, errorCount int64) error
		Finalize(ctx context.Context, job *jobs.Job) error
	}

	// Exporter runs streaming and async exports.
	Exporter struct {
		cfg     *Config
		stores  *Stores
		jobs    JobStore
		blobs   blob.Store
		emitter *jobs.Emitter
		logger  *slog.Logger
	}

	// StreamParams describes one streaming export request. Filters and Fields
	// must already be validated and canonical.
	StreamParams struct {
		Resource jobs.Resource
		Format   jobs.Format
		Filters  records.Filters
		Fields   []string
		Limit    int
		AfterID  int64
	}
)

// NewExporter wires an Exporter.
func NewExporter(cfg *Config, stores *Stores, jobStore JobStore, blobs blob.Store, logger *slog.Logger) *Exporter {
	return &Exporter{
		cfg:     cfg,
		stores:  stores,
		jobs:    jobStore,
		blobs:   blobs,
		emitter: jobs.NewEmitter(logger),
		logger:  logger,
	}
}

// page fetches one cursor page of the resource as export rows, ascending id.
func (e *Exporter) page(ctx context.Context, resource jobs.Resource, filters records.Filters, afterID int64, limit int) ([]exportRow, error) {
	switch resource {
	case jobs.ResourceUsers:
		recs, err := e.stores.Users.List(ctx, filters, afterID, limit)
		if err != nil {
			return nil, err
		}

		rows := make([]exportRow, len(recs))
		for i, rec := range recs {
			rows[i] = userRow(rec)
		}

		return rows, nil
	case jobs.ResourceArticles:
		recs, err := e.stores.Articles.List(ctx, filters, afterID, limit)
		if err != nil {
			return nil, err
		}

		rows := make([]exportRow, len(recs))
		for i, rec := range recs {
			rows[i] = articleRow(rec)
		}

		return rows, nil
	case jobs.ResourceComments:
		recs, err := e.stores.Comments.List(ctx, filters, afterID, limit)
		if err != nil {
			return nil, err
		}

		rows := make([]exportRow, len(recs))
		for i, rec := range recs {
			rows[i] = commentRow(rec)
		}

		return rows, nil
	}

	return nil, apperr.Newf(apperr.CodeUnsupportedResource, "unsupported resource %q", resource)
}

// Stream writes one page of the export directly to w using the request wire
// form: records followed by a cursor frame. Rows are fetched in ExportBatchSize
// chunks so a large limit never loads the whole page into memory, and the
// context is checked between chunks. nextCursor is the last written id exactly
// when the page is full.
//
// Once JSON framing has been opened, any failure still emits a synthesized
// close so the client never receives truncated JSON.
func (e *Exporter) Stream(ctx context.Context, w io.Writer, p StreamParams) error {
	fields := p.Fields
	if len(fields) == 0 {
		fields = records.ExportFields(p.Resource)
	}

	switch p.Format {
	case jobs.FormatNDJSON, jobs.FormatJSON:
	default:
		return apperr.Newf(apperr.CodeUnsupportedFormat, "unsupported export format %q", p.Format)
	}

	limit := p.Limit
	if limit <= 0 || limit > e.cfg.StreamMaxLimit {
		limit = e.cfg.StreamMaxLimit
	}

	enc := &streamEncoder{w: w, fields: fields, json: p.Format == jobs.FormatJSON}

	var (
		emitted int
		afterID = p.AfterID
	)

	for emitted < limit {
		if err := ctx.Err(); err != nil {
			return enc.abort(streamWriteError(err))
		}

		batch := e.cfg.ExportBatchSize
		if remaining := limit - emitted; batch <= 0 || batch > remaining {
			batch = remaining
		}

		rows, err := e.page(ctx, p.Resource, p.Filters, afterID, batch)
		if err != nil {
			return enc.abort(err)
		}

		for _, row := range rows {
			if err := enc.writeRow(row); err != nil {
				return err
			}
		}

		emitted += len(rows)

		if len(rows) > 0 {
			afterID = rows[len(rows)-1].id
		}

		if len(rows) < batch {
			// Source exhausted before the limit: no cursor.
			return enc.finish(nil)
		}
	}

	return enc.finish(&afterID)
}

// streamEncoder writes export rows to the wire incrementally. The NDJSON form
// is one object per line with a trailing cursor line; the JSON form wraps the
// rows in a data array with a trailing nextCursor field. It tracks whether the
// JSON frame is open so an abort can still close it.
type streamEncoder struct {
	w      io.Writer
	fields []string
	json   bool
	opened bool
	count  int
}

func (s *streamEncoder) writeRow(row exportRow) error {
	body, err := row.encode(s.fields)
	if err != nil {
		return s.abort(apperr.Newf(apperr.CodeEncodingError, "encoding record: %v", err))
	}

	if !s.json {
		if _, err := s.w.Write(append(body, '\n')); err != nil {
			return streamWriteError(err)
		}

		s.count++

		return nil
	}

	if err := s.open(); err != nil {
		return err
	}

	if s.count > 0 {
		if _, err := s.w.Write([]byte{','}); err != nil {
			return streamWriteError(err)
		}
	}

	if _, err := s.w.Write(body); err != nil {
		return streamWriteError(err)
	}

	s.count++

	return nil
}

func (s *streamEncoder) open() error {
	if !s.json || s.opened {
		return nil
	}

	if _, err := io.WriteString(s.w, `{"data":[`); err != nil {
		return streamWriteError(err)
	}

	s.opened = true

	return nil
}

// abort closes an open JSON frame with a null cursor and returns err.
func (s *streamEncoder) abort(err error) error {
	if s.opened {
		_, _ = io.WriteString(s.w, `],"nextCursor":null}`)
	}

	return err
}

func (s *streamEncoder) finish(nextCursor *int64) error {
	cursor := "null"
	if nextCursor != nil {
		cursor = fmt.Sprintf("%d", *nextCursor)
	}

	if !s.json {
		if _, err := fmt.Fprintf(s.w, `{"_type":"cursor","nextCursor":%s}`+"\n", cursor); err != nil {
			return streamWriteError(err)
		}

		return nil
	}

	// An empty result still gets its frame.
	if err := s.open(); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, `],"nextCursor":%s}`, cursor); err != nil {
		return streamWriteError(err)
	}

	return nil
}

func streamWriteError(err error) error {
	return apperr.Newf(apperr.CodeStreamError, "writing export stream: %v", err)
}

// RunExport executes a claimed async export job to its terminal state. The
// caller has already moved the job to running.
func (e *Exporter) RunExport(ctx context.Context, job *jobs.Job) error {
	e.emitter.JobStarted(job)

	key := "exports/" + job.ID + "." + job.Format.Ext()

	out, err := e.blobs.Create(ctx, key)
	if err != nil {
		return e.finalizeExportFailure(ctx, job, nil, fmt.Errorf("creating export artifact: %w", err))
	}

	fields := job.Fields
	if len(fields) == 0 {
		fields = records.ExportFields(job.Resource)
	}

	fw := newArtifactWriter(out, job.Format)

	var (
		afterID   int64
		written   int64
		truncated bool
	)

	for {
		remaining := e.cfg.ExportMaxRecords - written
		if remaining <= 0 {
			// One probe row decides whether the artifact is truncated.
			probe, err := e.page(ctx, job.Resource, records.Filters(job.Filters), afterID, 1)
			if err != nil {
				return e.finalizeExportFailure(ctx, job, out, err)
			}

			truncated = len(probe) > 0

			break
		}

		limit := int(min(int64(e.cfg.ExportBatchSize), remaining))

		rows, err := e.page(ctx, job.Resource, records.Filters(job.Filters), afterID, limit)
		if err != nil {
			return e.finalizeExportFailure(ctx, job, out, err)
		}

		for _, row := range rows {
			body, err := row.encode(fields)
			if err != nil {
				return e.finalizeExportFailure(ctx, job, out, fmt.Errorf("encoding record: %w", err))
			}

			if err := fw.Record(body); err != nil {
				return e.finalizeExportFailure(ctx, job, out, err)
			}

			written++
			afterID = row.id
		}

		if err := e.jobs.UpdateProgress(ctx, job.ID, written, written, 0); err != nil {
			e.logger.Warn("progress update failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}

		if e.cfg.CancelCheckInterval > 0 {
			cancelled, err := e.jobs.CancelRequested(ctx, job.ID)
			if err != nil {
				return e.finalizeExportFailure(ctx, job, out, err)
			}

			if cancelled {
				_ = blob.Discard(out)

				return e.finalizeExport(ctx, job, jobs.StatusCancelled, written, nil)
			}
		}

		if len(rows) < limit {
			break
		}
	}

	if err := fw.End(); err != nil {
		return e.finalizeExportFailure(ctx, job, out, err)
	}

	if err := out.Close(); err != nil {
		return e.finalizeExportFailure(ctx, job, nil, fmt.Errorf("publishing export artifact: %w", err))
	}

	size, err := e.blobs.Size(ctx, key)
	if err != nil {
		return e.finalizeExportFailure(ctx, job, nil, fmt.Errorf("sizing export artifact: %w", err))
	}

	total := written
	if truncated {
		total = written + 1
	}

	expiresAt := time.Now().UTC().Add(e.cfg.FileRetention)

	job.TotalRecords = &total
	job.OutputLocation = key
	job.DownloadURL = e.downloadURL(job.ID)
	job.FileSize = &size
	job.ExpiresAt = &expiresAt

	if truncated {
		job.Truncation = &jobs.Truncation{
			Truncated:   true,
			Reason:      jobs.TruncationReasonMaxRecords,
			RecordLimit: e.cfg.ExportMaxRecords,
		}
	}

	return e.finalizeExport(ctx, job, jobs.DeriveExportStatus(false), written, nil)
}

func (e *Exporter) downloadURL(jobID string) string {
	return strings.TrimSuffix(e.cfg.DownloadBaseURL, "/") + "/api/v1/exports/" + jobID + "/download"
}

func (e *Exporter) finalizeExport(ctx context.Context, job *jobs.Job, status jobs.Status, written int64, runErr error) error {
	job.Status = status
	job.ProcessedRecords = written
	job.SuccessCount = written
	job.ErrorCount = 0

	if err := e.jobs.Finalize(ctx, job); err != nil {
		return fmt.Errorf("finalizing export %s: %w", job.ID, err)
	}

	e.emitter.JobCompleted(job)

	return runErr
}

func (e *Exporter) finalizeExportFailure(ctx context.Context, job *jobs.Job, out io.WriteCloser, cause error) error {
	if out != nil {
		_ = blob.Discard(out)
	}

	e.logger.Error("export run failed",
		slog.String("job_id", job.ID),
		slog.String("error", cause.Error()),
	)

	return e.finalizeExport(ctx, job, jobs.DeriveExportStatus(true), job.ProcessedRecords, cause)
}

// artifactWriter frames records into the artifact wire form: the request wire
// form minus the cursor.
type artifactWriter struct {
	w      io.Writer
	format jobs.Format
	wrote  bool
}

func newArtifactWriter(w io.Writer, format jobs.Format) *artifactWriter {
	return &artifactWriter{w: w, format: format}
}

func (a *artifactWriter) Record(body []byte) error {
	switch a.format {
	case jobs.FormatNDJSON:
		if _, err := a.w.Write(append(body, '\n')); err != nil {
			return streamWriteError(err)
		}
	case jobs.FormatJSON:
		prefix := `{"data":[`
		if a.wrote {
			prefix = ","
		}

		if _, err := io.WriteString(a.w, prefix); err != nil {
			return streamWriteError(err)
		}

		if _, err := a.w.Write(body); err != nil {
			return streamWriteError(err)
		}
	}

	a.wrote = true

	return nil
}

func (a *artifactWriter) End() error {
	if a.format != jobs.FormatJSON {
		return nil
	}

	frame := `]}`
	if !a.wrote {
		frame = `{"data":[]}`
	}

	if _, err := io.WriteString(a.w, frame); err != nil {
		return streamWriteError(err)
	}

	return nil
}
