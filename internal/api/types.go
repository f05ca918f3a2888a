package api

import (
	"encoding/json"
	"time"

	"github.com/conveyor-io/conveyor/internal/apperr"
	"github.com/conveyor-io/conveyor/internal/jobs"
)

// errorPreviewLimit caps the journal rows inlined into an import status
// response. The full journal is served by the errors download endpoint.
const errorPreviewLimit = 10

type (
	// createImportRequest is the JSON body of a URL-sourced import. Uploads
	// use multipart form fields instead.
	createImportRequest struct {
		Resource string `json:"resource"`
		Format   string `json:"format"`
		URL      string `json:"url"`
	}

	// createExportRequest is the JSON body of an async export request.
	// Filters and Fields are validated and canonicalized before the job row
	// is created.
	createExportRequest struct {
		Resource string          `json:"resource"`
		Format   string          `json:"format"`
		Filters  json.RawMessage `json:"filters,omitempty"`
		Fields   json.RawMessage `json:"fields,omitempty"`
	}

	// importStatusResponse is a job plus an inline preview of its error
	// journal.
	importStatusResponse struct {
		*jobs.Job

		ErrorPreview []*jobs.ImportError `json:"errorPreview,omitempty"`
	}

	// cancelResponse reports the job's status after a cancellation request.
	cancelResponse struct {
		ID     string      `json:"id"`
		Status jobs.Status `json:"status"`
	}
)

// sanitizedJob returns a copy of the job safe for API responses: the error
// summary's internal report location is stripped.
func sanitizedJob(job *jobs.Job) *jobs.Job {
	out := *job
	out.ErrorSummary = job.ErrorSummary.Sanitized()

	return &out
}

// contentTypeFor maps an artifact format to its response media type.
func contentTypeFor(format jobs.Format) string {
	if format == jobs.FormatJSON {
		return "application/json"
	}

	return "application/x-ndjson"
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// apperrUnsupported tags a request-shape problem so the error mapper lands it
// on 422.
func apperrUnsupported(msg string) *apperr.Error {
	return apperr.New(apperr.CodeUnsupportedFormat, msg)
}
