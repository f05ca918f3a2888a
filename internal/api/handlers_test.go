package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-io/conveyor/internal/api/middleware"
	"github.com/conveyor-io/conveyor/internal/blob"
	"github.com/conveyor-io/conveyor/internal/intake"
	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/pipeline"
	"github.com/conveyor-io/conveyor/internal/storage"
)

// fakeJobs is an in-memory JobStore with idempotency-key support.
type fakeJobs struct {
	mu        sync.Mutex
	jobs      map[string]*jobs.Job
	byIdemKey map[string]*jobs.Job
	cancelled []string
	failed    []string
	createErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*jobs.Job{}, byIdemKey: map[string]*jobs.Job{}}
}

func (f *fakeJobs) idemKey(job *jobs.Job) string {
	return job.OwnerID + "|" + job.IdempotencyKey + "|" + string(job.Kind)
}

func (f *fakeJobs) Create(_ context.Context, job *jobs.Job) (*jobs.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, false, f.createErr
	}

	if job.IdempotencyKey != "" {
		if stored, ok := f.byIdemKey[f.idemKey(job)]; ok {
			if stored.RequestHash != job.RequestHash {
				return nil, false, storage.ErrIdempotencyConflict
			}

			return stored, true, nil
		}
	}

	copied := *job
	f.jobs[job.ID] = &copied

	if job.IdempotencyKey != "" {
		f.byIdemKey[f.idemKey(job)] = &copied
	}

	return &copied, false, nil
}

func (f *fakeJobs) GetByID(_ context.Context, ownerID, jobID string) (*jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, storage.ErrJobNotFound
	}

	copied := *job

	return &copied, nil
}

func (f *fakeJobs) RequestCancel(_ context.Context, ownerID, jobID string) (jobs.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return "", storage.ErrJobNotFound
	}

	f.cancelled = append(f.cancelled, jobID)

	switch job.Status {
	case jobs.StatusQueued:
		job.Status = jobs.StatusCancelled
	case jobs.StatusRunning:
		// Flag only; the worker observes it at the next poll.
	default:
	}

	return job.Status, nil
}

func (f *fakeJobs) MarkFailed(_ context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.failed = append(f.failed, jobID)

	return nil
}

func (f *fakeJobs) seed(job *jobs.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.jobs[job.ID] = job
}

// fakeQueue records enqueued dispatches.
type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (f *fakeQueue) Enqueue(_ context.Context, kind jobs.Kind, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	f.enqueued = append(f.enqueued, string(kind)+"-"+jobID)

	return nil
}

// fakeStreamer writes a canned NDJSON page.
type fakeStreamer struct {
	err    error
	params pipeline.StreamParams
}

func (f *fakeStreamer) Stream(_ context.Context, w io.Writer, p pipeline.StreamParams) error {
	f.params = p

	if f.err != nil {
		return f.err
	}

	_, _ = io.WriteString(w, `{"id":1}`+"\n")
	_, _ = io.WriteString(w, `{"_type":"cursor","nextCursor":null}`+"\n")

	return nil
}

// fakeErrors serves a fixed journal.
type fakeErrors struct {
	rows []*jobs.ImportError
}

func (f *fakeErrors) ListPage(_ context.Context, jobID string, limit, offset int) ([]*jobs.ImportError, error) {
	if offset >= len(f.rows) {
		return nil, nil
	}

	end := min(offset+limit, len(f.rows))

	return f.rows[offset:end], nil
}

// memStore is a minimal in-memory blob.Store for handler tests.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: map[string][]byte{}}
}

func (m *memStore) Save(_ context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[key] = data

	return int64(len(data)), nil
}

func (m *memStore) Create(_ context.Context, _ string) (io.WriteCloser, error) {
	return nil, fmt.Errorf("not supported")
}

func (m *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, blob.ErrNotFound
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Size(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[key]
	if !ok {
		return 0, blob.ErrNotFound
	}

	return int64(len(data)), nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blobs, key)

	return nil
}

type apiHarness struct {
	handler  http.Handler
	jobs     *fakeJobs
	queue    *fakeQueue
	streamer *fakeStreamer
	errors   *fakeErrors
	uploads  *memStore
	exports  *memStore
	reports  *memStore
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	h := &apiHarness{
		jobs:     newFakeJobs(),
		queue:    &fakeQueue{},
		streamer: &fakeStreamer{},
		errors:   &fakeErrors{},
		uploads:  newMemStore(),
		exports:  newMemStore(),
		reports:  newMemStore(),
	}

	cfg := LoadServerConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	server := NewServer(cfg, &Dependencies{
		Jobs:         h.jobs,
		ImportErrors: h.errors,
		Queue:        h.queue,
		Exporter:     h.streamer,
		Uploads:      h.uploads,
		Exports:      h.exports,
		Reports:      h.reports,
		Intake:       &intake.Config{MaxFileSize: 1 << 20, FetchTimeout: time.Second},
		Pipeline:     &pipeline.Config{StreamMaxLimit: 100},
		Tokens:       middleware.NewStaticTokens([]string{"tok-1:owner-1"}),
	}, logger)

	h.handler = server.httpServer.Handler

	return h
}

func (h *apiHarness) do(req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set("Authorization", "Bearer tok-1")

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)

	return w
}

func multipartImport(t *testing.T, resource, format, payload string) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer

	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("resource", resource))
	require.NoError(t, mw.WriteField("format", format))

	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="records.ndjson"`)
	partHeader.Set("Content-Type", "application/x-ndjson")

	part, err := mw.CreatePart(partHeader)
	require.NoError(t, err)

	_, err = io.WriteString(part, payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return &body, mw.FormDataContentType()
}

func TestCreateImportRequiresIdempotencyKey(t *testing.T) {
	h := newAPIHarness(t)

	body, contentType := multipartImport(t, "users", "ndjson", `{"email":"a@example.com"}`+"\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", body)
	req.Header.Set("Content-Type", contentType)

	w := h.do(req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, h.queue.enqueued)
}

func TestCreateImportUpload(t *testing.T) {
	h := newAPIHarness(t)

	body, contentType := multipartImport(t, "users", "ndjson", `{"email":"a@example.com"}`+"\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", "key-1")

	w := h.do(req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var job jobs.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, jobs.StatusQueued, job.Status)
	assert.Equal(t, jobs.SourceUpload, job.SourceType)
	assert.Equal(t, "records.ndjson", job.FileName)

	// The payload is stored and the dispatch published.
	require.Len(t, h.queue.enqueued, 1)
	assert.Equal(t, "import-"+job.ID, h.queue.enqueued[0])

	stored, ok := h.uploads.blobs["imports/"+job.ID+".ndjson"]
	require.True(t, ok)
	assert.Contains(t, string(stored), "a@example.com")
}

func TestCreateImportIdempotentReplay(t *testing.T) {
	h := newAPIHarness(t)

	send := func() *httptest.ResponseRecorder {
		body, contentType := multipartImport(t, "users", "ndjson", `{"email":"a@example.com"}`+"\n")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Idempotency-Key", "key-1")

		return h.do(req)
	}

	first := send()
	require.Equal(t, http.StatusAccepted, first.Code)

	second := send()
	require.Equal(t, http.StatusOK, second.Code)

	var firstJob, secondJob jobs.Job
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstJob))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondJob))
	assert.Equal(t, firstJob.ID, secondJob.ID)

	// Enqueued exactly once; the replay's orphaned payload is removed.
	assert.Len(t, h.queue.enqueued, 1)
	assert.Len(t, h.uploads.blobs, 1)
}

func TestCreateImportFormatFromFileName(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		want     jobs.Format
	}{
		{name: "jsonl extension", fileName: "records.jsonl", want: jobs.FormatNDJSON},
		{name: "ndjson extension", fileName: "records.NDJSON", want: jobs.FormatNDJSON},
		{name: "json extension", fileName: "records.json", want: jobs.FormatJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t)

			var body bytes.Buffer

			mw := multipart.NewWriter(&body)
			require.NoError(t, mw.WriteField("resource", "users"))

			partHeader := textproto.MIMEHeader{}
			partHeader.Set("Content-Disposition", `form-data; name="file"; filename="`+tt.fileName+`"`)
			partHeader.Set("Content-Type", "application/x-ndjson")

			part, err := mw.CreatePart(partHeader)
			require.NoError(t, err)

			_, err = io.WriteString(part, `{"email":"a@example.com"}`+"\n")
			require.NoError(t, err)
			require.NoError(t, mw.Close())

			req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", &body)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			req.Header.Set("Idempotency-Key", "key-"+tt.fileName)

			w := h.do(req)
			require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

			var job jobs.Job
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
			assert.Equal(t, tt.want, job.Format)
		})
	}
}

func TestCreateImportUndecidableFormat(t *testing.T) {
	h := newAPIHarness(t)

	var body bytes.Buffer

	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("resource", "users"))

	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="records.csv"`)
	partHeader.Set("Content-Type", "text/plain")

	part, err := mw.CreatePart(partHeader)
	require.NoError(t, err)

	_, err = io.WriteString(part, "a,b\n")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Idempotency-Key", "key-csv")

	w := h.do(req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateImportRejectsUnknownResource(t *testing.T) {
	h := newAPIHarness(t)

	body, contentType := multipartImport(t, "invoices", "ndjson", `{}`+"\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", "key-1")

	w := h.do(req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateImportMissingSource(t *testing.T) {
	h := newAPIHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports",
		strings.NewReader(`{"resource":"users","format":"ndjson"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "key-1")

	w := h.do(req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCreateImportEnqueueFailure(t *testing.T) {
	h := newAPIHarness(t)
	h.queue.err = fmt.Errorf("broker unreachable")

	body, contentType := multipartImport(t, "users", "ndjson", `{"email":"a@example.com"}`+"\n")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Idempotency-Key", "key-1")

	w := h.do(req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Len(t, h.jobs.failed, 1)
}

func TestCreateExportAndIdempotentReplay(t *testing.T) {
	h := newAPIHarness(t)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/exports",
			strings.NewReader(`{"resource":"users","format":"json","filters":{"role":"admin"},"fields":"id,email"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "exp-1")

		return h.do(req)
	}

	first := send()
	require.Equal(t, http.StatusAccepted, first.Code, first.Body.String())

	var job jobs.Job
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &job))
	assert.Equal(t, []string{"id", "email"}, job.Fields)
	assert.Equal(t, "admin", job.Filters["role"])

	second := send()
	require.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, h.queue.enqueued, 1)
}

func TestCreateExportRejectsUnknownFilterKey(t *testing.T) {
	h := newAPIHarness(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/exports",
		strings.NewReader(`{"resource":"users","filters":{"password":"x"}}`))
	req.Header.Set("Content-Type", "application/json")

	w := h.do(req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Empty(t, h.queue.enqueued)
}

func TestGetImportStripsReportLocation(t *testing.T) {
	h := newAPIHarness(t)

	job := &jobs.Job{
		ID:       jobs.NewJobID(),
		OwnerID:  "owner-1",
		Kind:     jobs.KindImport,
		Resource: jobs.ResourceUsers,
		Format:   jobs.FormatNDJSON,
		Status:   jobs.StatusPartial,
		ErrorCount: 2,
		ErrorSummary: &jobs.ErrorSummary{
			ReportStatus:        "complete",
			PersistedErrorCount: 2,
			ReportLocation:      "import-errors/secret.ndjson",
			ReportFormat:        jobs.FormatNDJSON,
		},
	}
	h.jobs.seed(job)
	h.errors.rows = []*jobs.ImportError{
		{JobID: job.ID, RecordIndex: 0, ErrorCode: 1003, ErrorName: "INVALID_FORMAT", Message: "bad email"},
		{JobID: job.ID, RecordIndex: 1, ErrorCode: 1007, ErrorName: "DUPLICATE_VALUE", Message: "email taken"},
	}

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+job.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.NotContains(t, body, "secret.ndjson")
	assert.NotContains(t, body, "reportLocation")

	var resp struct {
		ErrorSummary *jobs.ErrorSummary  `json:"errorSummary"`
		ErrorPreview []*jobs.ImportError `json:"errorPreview"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.ErrorSummary)
	assert.Equal(t, "complete", resp.ErrorSummary.ReportStatus)
	assert.Len(t, resp.ErrorPreview, 2)
}

func TestGetImportNotFound(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+jobs.NewJobID(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetImportScopedToOwner(t *testing.T) {
	h := newAPIHarness(t)

	job := &jobs.Job{
		ID:      jobs.NewJobID(),
		OwnerID: "someone-else",
		Kind:    jobs.KindImport,
		Status:  jobs.StatusSucceeded,
	}
	h.jobs.seed(job)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+job.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadImportErrors(t *testing.T) {
	h := newAPIHarness(t)

	job := &jobs.Job{
		ID:      jobs.NewJobID(),
		OwnerID: "owner-1",
		Kind:    jobs.KindImport,
		Status:  jobs.StatusPartial,
		ErrorSummary: &jobs.ErrorSummary{
			ReportStatus:   "complete",
			ReportLocation: "import-errors/report.ndjson",
			ReportFormat:   jobs.FormatNDJSON,
		},
	}
	h.jobs.seed(job)
	h.reports.blobs["import-errors/report.ndjson"] = []byte(`{"recordIndex":0}` + "\n")

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+job.ID+"/errors/download", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "recordIndex")
}

func TestDownloadImportErrorsNotReady(t *testing.T) {
	h := newAPIHarness(t)

	job := &jobs.Job{ID: jobs.NewJobID(), OwnerID: "owner-1", Kind: jobs.KindImport, Status: jobs.StatusRunning}
	h.jobs.seed(job)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+job.ID+"/errors/download", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDownloadExport(t *testing.T) {
	h := newAPIHarness(t)

	expires := time.Now().UTC().Add(time.Hour)
	job := &jobs.Job{
		ID:             jobs.NewJobID(),
		OwnerID:        "owner-1",
		Kind:           jobs.KindExport,
		Resource:       jobs.ResourceUsers,
		Format:         jobs.FormatNDJSON,
		Status:         jobs.StatusSucceeded,
		OutputLocation: "exports/artifact.ndjson",
		ExpiresAt:      &expires,
	}
	h.jobs.seed(job)
	h.exports.blobs["exports/artifact.ndjson"] = []byte(`{"id":1}` + "\n")

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+job.ID+"/download", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), job.ID)
	assert.Equal(t, `{"id":1}`+"\n", w.Body.String())
}

func TestDownloadExportExpired(t *testing.T) {
	h := newAPIHarness(t)

	expired := time.Now().UTC().Add(-time.Hour)
	job := &jobs.Job{
		ID:             jobs.NewJobID(),
		OwnerID:        "owner-1",
		Kind:           jobs.KindExport,
		Status:         jobs.StatusSucceeded,
		OutputLocation: "exports/artifact.ndjson",
		ExpiresAt:      &expired,
	}
	h.jobs.seed(job)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+job.ID+"/download", nil))
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestDownloadExportNotReady(t *testing.T) {
	h := newAPIHarness(t)

	job := &jobs.Job{ID: jobs.NewJobID(), OwnerID: "owner-1", Kind: jobs.KindExport, Status: jobs.StatusRunning}
	h.jobs.seed(job)

	w := h.do(httptest.NewRequest(http.MethodGet, "/api/v1/exports/"+job.ID+"/download", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStreamExport(t *testing.T) {
	h := newAPIHarness(t)

	w := h.do(httptest.NewRequest(http.MethodGet,
		"/api/v1/exports?resource=users&format=ndjson&limit=2&cursor=5&fields=id,email", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"_type":"cursor"`)

	assert.Equal(t, jobs.ResourceUsers, h.streamer.params.Resource)
	assert.Equal(t, 2, h.streamer.params.Limit)
	assert.Equal(t, int64(5), h.streamer.params.AfterID)
	assert.Equal(t, []string{"id", "email"}, h.streamer.params.Fields)
}

func TestStreamExportRejectsBadInput(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name string
		url  string
	}{
		{name: "unknown resource", url: "/api/v1/exports?resource=invoices"},
		{name: "bad format", url: "/api/v1/exports?resource=users&format=xml"},
		{name: "bad limit", url: "/api/v1/exports?resource=users&limit=-1"},
		{name: "unknown filter", url: "/api/v1/exports?resource=users&filters=" + `{"password":"x"}`},
		{name: "unknown field", url: "/api/v1/exports?resource=users&fields=password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		})
	}
}

func TestCancelQueuedExport(t *testing.T) {
	h := newAPIHarness(t)

	job := &jobs.Job{ID: jobs.NewJobID(), OwnerID: "owner-1", Kind: jobs.KindExport, Status: jobs.StatusQueued}
	h.jobs.seed(job)

	w := h.do(httptest.NewRequest(http.MethodPost, "/api/v1/exports/"+job.ID+"/cancel", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp cancelResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, jobs.StatusCancelled, resp.Status)
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	h := newAPIHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/exports?resource=users", nil)

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProbesArePublic(t *testing.T) {
	h := newAPIHarness(t)

	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())

	w = httptest.NewRecorder()
	h.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
