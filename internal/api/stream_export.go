package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/pipeline"
	"github.com/conveyor-io/conveyor/internal/records"
)

// handleStreamExport serves one page of an export directly on the response:
// records in the requested wire form followed by the cursor frame. Clients
// page by passing the returned nextCursor back as the cursor parameter.
func (s *Server) handleStreamExport(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.principal(w, r); !ok {
		return
	}

	query := r.URL.Query()

	resource := jobs.Resource(query.Get("resource"))
	if !resource.IsValid() {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("resource must be one of users, articles, comments"))

		return
	}

	format := jobs.Format(query.Get("format"))
	if query.Get("format") == "" {
		format = jobs.FormatNDJSON
	}

	if !format.IsValid() {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("format must be ndjson or json"))

		return
	}

	filters, err := records.ValidateFilters(resource, query.Get("filters"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	fields, err := records.ValidateFields(resource, query.Get("fields"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity(err.Error()))

		return
	}

	limit, err := positiveIntParam(query.Get("limit"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("limit must be a positive integer"))

		return
	}

	cursor, err := positiveIntParam(query.Get("cursor"))
	if err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("cursor must be a positive integer"))

		return
	}

	// The page is fetched before the first byte is written, so store errors
	// can still produce a clean problem response.
	sink := &sniffWriter{w: w, contentType: contentTypeFor(format)}

	err = s.deps.Exporter.Stream(r.Context(), sink, pipeline.StreamParams{
		Resource: resource,
		Format:   format,
		Filters:  filters,
		Fields:   fields,
		Limit:    int(limit),
		AfterID:  cursor,
	})
	if err != nil {
		if !sink.wrote {
			WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

			return
		}

		// Mid-stream failure: the wire form has already synthesized its close.
		s.logger.Error("export stream failed mid-flight",
			slog.String("resource", string(resource)),
			slog.String("error", err.Error()),
		)
	}
}

// sniffWriter defers status and content-type headers until the first byte so
// pre-stream failures can still use the problem response path.
type sniffWriter struct {
	w           http.ResponseWriter
	contentType string
	wrote       bool
}

func (s *sniffWriter) Write(p []byte) (int, error) {
	if !s.wrote {
		s.w.Header().Set("Content-Type", s.contentType)
		s.w.WriteHeader(http.StatusOK)
		s.wrote = true
	}

	return s.w.Write(p)
}

// positiveIntParam parses an optional positive integer query parameter;
// absent means zero.
func positiveIntParam(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, strconv.ErrRange
	}

	return n, nil
}
