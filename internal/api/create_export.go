package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/conveyor-io/conveyor/internal/apperr"
	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/records"
	"github.com/conveyor-io/conveyor/internal/storage"
)

// handleCreateExport creates an async export job. The Idempotency-Key header
// is optional; when present, a replay returns the stored job with status 200.
func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	var req createExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("request body must be a JSON object"))

		return
	}

	resource := jobs.Resource(req.Resource)
	if !resource.IsValid() {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("resource must be one of users, articles, comments"))

		return
	}

	format := jobs.Format(req.Format)
	if req.Format == "" {
		format = jobs.FormatNDJSON
	}

	if !format.IsValid() {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("format must be ndjson or json"))

		return
	}

	filters, err := records.ValidateFilters(resource, req.Filters)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	fields, err := records.ValidateFields(resource, rawFieldInput(req.Fields))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	job := &jobs.Job{
		ID:             jobs.NewJobID(),
		OwnerID:        principal.OwnerID,
		Kind:           jobs.KindExport,
		Resource:       resource,
		Format:         format,
		Status:         jobs.StatusQueued,
		CreatedAt:      nowUTC(),
		IdempotencyKey: idempotencyKey,
		RequestHash: storage.RequestFingerprint(map[string]any{
			"kind":     jobs.KindExport,
			"resource": resource,
			"format":   format,
			"filters":  filters,
			"fields":   fields,
		}),
		Filters: filters,
		Fields:  fields,
	}

	created, existing, err := s.deps.Jobs.Create(r.Context(), job)
	if err != nil {
		if errors.Is(err, storage.ErrIdempotencyConflict) {
			WriteErrorResponse(w, r, s.logger, Conflict("Idempotency-Key was already used with a different request"))

			return
		}

		s.logger.Error("creating export job failed",
			slog.String("owner_id", principal.OwnerID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create export job"))

		return
	}

	if existing {
		s.writeJSON(w, r, http.StatusOK, sanitizedJob(created))

		return
	}

	if err := s.deps.Queue.Enqueue(r.Context(), jobs.KindExport, created.ID); err != nil {
		s.failUnqueued(r.Context(), created.ID, err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Export job could not be queued"))

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, sanitizedJob(created))
}

// rawFieldInput converts the request's fields value into the validator's
// accepted input forms: JSON array text or a comma-separated string.
func rawFieldInput(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}

	return trimmed
}

// handleGetExport returns an export job's status.
func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	job, ok := s.ownedJob(w, r, principal.OwnerID, jobs.KindExport)
	if !ok {
		return
	}

	s.writeJSON(w, r, http.StatusOK, sanitizedJob(job))
}

// handleDownloadExport streams a finished export artifact. Artifacts past
// their expiry are gone (410), never re-served.
func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	job, ok := s.ownedJob(w, r, principal.OwnerID, jobs.KindExport)
	if !ok {
		return
	}

	if !job.Status.IsTerminal() {
		WriteErrorResponse(w, r, s.logger, Conflict("export job has not finished yet"))

		return
	}

	if job.ExpiresAt != nil && nowUTC().After(*job.ExpiresAt) {
		WriteErrorResponse(w, r, s.logger, NewProblemDetail(
			http.StatusGone, "Gone", "export artifact has expired",
		).WithCode(apperr.CodeDownloadExpired))

		return
	}

	if job.OutputLocation == "" {
		WriteErrorResponse(w, r, s.logger, NotFound("no artifact exists for this job"))

		return
	}

	artifact, err := s.deps.Exports.Open(r.Context(), job.OutputLocation)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, NotFound("no artifact exists for this job"))

		return
	}
	defer func() { _ = artifact.Close() }()

	w.Header().Set("Content-Type", contentTypeFor(job.Format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+string(job.Resource)+"-"+job.ID+"."+job.Format.Ext()+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, artifact); err != nil {
		s.logger.Error("streaming export artifact failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
