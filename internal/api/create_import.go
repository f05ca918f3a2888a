package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/conveyor-io/conveyor/internal/intake"
	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/storage"
)

// multipartMemoryLimit bounds the in-memory portion of a multipart upload;
// larger files spill to disk.
const multipartMemoryLimit = 32 << 20

// handleCreateImport creates an import job from an uploaded file (multipart
// form) or an allow-listed remote URL (JSON body). The Idempotency-Key header
// is mandatory; a replay with the same key and payload returns the stored job
// with status 200 instead of creating a new one.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.principal(w, r)
	if !ok {
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey == "" {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("Idempotency-Key header is required for imports"))

		return
	}

	source, err := s.openImportSource(r)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}
	defer func() { _ = source.payload.Close() }()

	resource := jobs.Resource(source.resource)
	if !resource.IsValid() {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("resource must be one of users, articles, comments"))

		return
	}

	format := jobs.Format(source.format)
	if source.format == "" {
		format = formatFromName(source.fileName)
	}

	if !format.IsValid() {
		WriteErrorResponse(w, r, s.logger,
			UnprocessableEntity("format must be ndjson or json, or the file name must end in .ndjson, .jsonl or .json"))

		return
	}

	jobID := jobs.NewJobID()
	key := "imports/" + jobID + "." + format.Ext()

	size, err := s.deps.Uploads.Save(r.Context(), key, source.payload)
	if err != nil {
		// Remote fetches surface taxonomy errors through the reader.
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	job := &jobs.Job{
		ID:             jobID,
		OwnerID:        principal.OwnerID,
		Kind:           jobs.KindImport,
		Resource:       resource,
		Format:         format,
		Status:         jobs.StatusQueued,
		CreatedAt:      nowUTC(),
		IdempotencyKey: idempotencyKey,
		RequestHash: storage.RequestFingerprint(map[string]any{
			"kind":       jobs.KindImport,
			"resource":   resource,
			"format":     format,
			"sourceType": source.sourceType,
			"fileName":   source.fileName,
			"size":       size,
		}),
		SourceType:     source.sourceType,
		SourceLocation: key,
		FileName:       source.fileName,
	}

	created, existing, err := s.deps.Jobs.Create(r.Context(), job)
	if err != nil {
		if errors.Is(err, storage.ErrIdempotencyConflict) {
			WriteErrorResponse(w, r, s.logger, Conflict("Idempotency-Key was already used with a different request"))

			return
		}

		s.logger.Error("creating import job failed",
			slog.String("owner_id", principal.OwnerID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create import job"))

		return
	}

	if existing {
		// Idempotent replay: the payload stored for this request is orphaned.
		s.discardUpload(r.Context(), key)
		s.writeJSON(w, r, http.StatusOK, sanitizedJob(created))

		return
	}

	if err := s.deps.Queue.Enqueue(r.Context(), jobs.KindImport, created.ID); err != nil {
		s.failUnqueued(r.Context(), created.ID, err)
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Import job could not be queued"))

		return
	}

	s.writeJSON(w, r, http.StatusAccepted, sanitizedJob(created))
}

// formatFromName derives the wire format from a file name when the request
// does not declare one: .ndjson and .jsonl mean ndjson, .json means json.
func formatFromName(name string) jobs.Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".ndjson", ".jsonl":
		return jobs.FormatNDJSON
	case ".json":
		return jobs.FormatJSON
	}

	return ""
}

// importSource is an opened import payload with its declared metadata.
type importSource struct {
	resource   string
	format     string
	sourceType jobs.SourceType
	fileName   string
	payload    io.ReadCloser
}

// openImportSource opens the request's payload: the "file" part of a
// multipart form, or a remote fetch of the "url" field of a JSON body.
func (s *Server) openImportSource(r *http.Request) (*importSource, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if strings.HasPrefix(mediaType, "multipart/") {
		return s.openUpload(r)
	}

	return s.openRemote(r)
}

func (s *Server) openUpload(r *http.Request) (*importSource, error) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		return nil, apperrUnsupported("malformed multipart form: " + err.Error())
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, apperrUnsupported("import request is missing the file part")
	}

	if err := intake.ValidateUpload(s.deps.Intake, header.Header.Get("Content-Type"), header.Size); err != nil {
		_ = file.Close()

		return nil, err
	}

	return &importSource{
		resource:   r.FormValue("resource"),
		format:     r.FormValue("format"),
		sourceType: jobs.SourceUpload,
		fileName:   header.Filename,
		payload:    file,
	}, nil
}

func (s *Server) openRemote(r *http.Request) (*importSource, error) {
	var req createImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, apperrUnsupported("request body must be a multipart form or a JSON object")
	}

	if strings.TrimSpace(req.URL) == "" {
		return nil, apperrUnsupported("import request is missing a source: provide a file upload or a url")
	}

	body, fileName, err := s.deps.Fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		return nil, err
	}

	return &importSource{
		resource:   req.Resource,
		format:     req.Format,
		sourceType: jobs.SourceURL,
		fileName:   fileName,
		payload:    body,
	}, nil
}

// discardUpload removes a payload stored for a request that did not create a
// job. Best effort; an orphaned blob is harmless.
func (s *Server) discardUpload(ctx context.Context, key string) {
	if err := s.deps.Uploads.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to remove orphaned upload",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// failUnqueued marks a job failed after its dispatch could not be published.
func (s *Server) failUnqueued(ctx context.Context, jobID string, cause error) {
	s.logger.Error("enqueueing job failed",
		slog.String("job_id", jobID),
		slog.String("error", cause.Error()),
	)

	if err := s.deps.Jobs.MarkFailed(ctx, jobID); err != nil {
		s.logger.Error("marking unqueued job failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
