package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/conveyor-io/conveyor/internal/blob"
	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/storage"
)

// handleGetImport returns an import job's status with an inline preview of
// its error journal.
func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	job, ok := s.ownedJob(w, r, principal.OwnerID, jobs.KindImport)
	if !ok {
		return
	}

	resp := importStatusResponse{Job: sanitizedJob(job)}

	if job.ErrorCount > 0 || job.ErrorSummary != nil {
		preview, err := s.deps.ImportErrors.ListPage(r.Context(), job.ID, errorPreviewLimit, 0)
		if err != nil {
			// The job status is still useful without the preview.
			s.logger.Warn("listing error preview failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		} else {
			resp.ErrorPreview = preview
		}
	}

	s.writeJSON(w, r, http.StatusOK, resp)
}

// handleDownloadImportErrors streams the error report artifact of a finished
// import job.
func (s *Server) handleDownloadImportErrors(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	job, ok := s.ownedJob(w, r, principal.OwnerID, jobs.KindImport)
	if !ok {
		return
	}

	if !job.Status.IsTerminal() {
		WriteErrorResponse(w, r, s.logger, Conflict("import job has not finished yet"))

		return
	}

	summary := job.ErrorSummary
	if summary == nil || summary.ReportLocation == "" {
		WriteErrorResponse(w, r, s.logger, NotFound("no error report exists for this job"))

		return
	}

	artifact, err := s.deps.Reports.Open(r.Context(), summary.ReportLocation)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("no error report exists for this job"))

			return
		}

		s.logger.Error("opening error report failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to open error report"))

		return
	}
	defer func() { _ = artifact.Close() }()

	w.Header().Set("Content-Type", contentTypeFor(summary.ReportFormat))
	w.Header().Set("Content-Disposition", `attachment; filename="import-errors-`+job.ID+"."+summary.ReportFormat.Ext()+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, artifact); err != nil {
		// Headers are gone; all that is left is the log line.
		s.logger.Error("streaming error report failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// handleCancelImport requests cancellation of an import job.
func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	s.cancelJob(w, r, jobs.KindImport)
}

// handleCancelExport requests cancellation of an export job.
func (s *Server) handleCancelExport(w http.ResponseWriter, r *http.Request) {
	s.cancelJob(w, r, jobs.KindExport)
}

// cancelJob moves a queued job straight to cancelled, or flags a running job
// for its worker to observe at the next poll. Terminal jobs are unchanged;
// the response reports the status after the call either way.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request, kind jobs.Kind) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	job, ok := s.ownedJob(w, r, principal.OwnerID, kind)
	if !ok {
		return
	}

	status, err := s.deps.Jobs.RequestCancel(r.Context(), principal.OwnerID, job.ID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("job not found"))

			return
		}

		s.logger.Error("cancelling job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to cancel job"))

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, cancelResponse{ID: job.ID, Status: status})
}

// ownedJob loads the path's job scoped to the owner, enforcing the kind the
// endpoint serves. A job of the other kind is reported as not found rather
// than leaking its existence under the wrong family.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request, ownerID string, kind jobs.Kind) (*jobs.Job, bool) {
	jobID := r.PathValue("jobId")

	job, err := s.deps.Jobs.GetByID(r.Context(), ownerID, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("job not found"))

			return nil, false
		}

		s.logger.Error("loading job failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load job"))

		return nil, false
	}

	if job.Kind != kind {
		WriteErrorResponse(w, r, s.logger, NotFound("job not found"))

		return nil, false
	}

	return job, true
}
