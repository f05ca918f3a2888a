package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyor-io/conveyor/internal/apperr"
	"github.com/conveyor-io/conveyor/internal/blob"
	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/records"
	"github.com/conveyor-io/conveyor/internal/storage"
)

func testPipelineConfig() *Config {
	return &Config{
		ImportBatchSize:     2,
		ImportMaxRecords:    1000,
		ExportBatchSize:     2,
		ExportMaxRecords:    1000,
		StreamMaxLimit:      100,
		FileRetention:       24 * time.Hour,
		CancelCheckInterval: 1,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T {
	return &v
}

// fakeUserSource serves ascending-id cursor pages from a fixed slice.
type fakeUserSource struct {
	users []*records.UserRecord
}

func (s *fakeUserSource) List(_ context.Context, _ records.Filters, afterID int64, limit int) ([]*records.UserRecord, error) {
	var out []*records.UserRecord

	for _, u := range s.users {
		if *u.ID > afterID {
			out = append(out, u)
			if len(out) == limit {
				break
			}
		}
	}

	return out, nil
}

type emptyArticleSource struct{}

func (emptyArticleSource) List(context.Context, records.Filters, int64, int) ([]*records.ArticleRecord, error) {
	return nil, nil
}

type emptyCommentSource struct{}

func (emptyCommentSource) List(context.Context, records.Filters, int64, int) ([]*records.CommentRecord, error) {
	return nil, nil
}

func userFixtures(n int) *fakeUserSource {
	src := &fakeUserSource{}

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i := 1; i <= n; i++ {
		src.users = append(src.users, &records.UserRecord{
			ID:        ptr(int64(i)),
			Email:     fmt.Sprintf("user%d@example.com", i),
			Name:      fmt.Sprintf("User %d", i),
			Role:      "user",
			Active:    ptr(true),
			CreatedAt: &created,
			UpdatedAt: &created,
		})
	}

	return src
}

// fakeJobStore records progress and finalization in memory.
type fakeJobStore struct {
	mu        sync.Mutex
	cancelled bool
	progress  [][3]int64
	finalized *jobs.Job
}

func (s *fakeJobStore) CancelRequested(context.Context, string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cancelled, nil
}

func (s *fakeJobStore) UpdateProgress(_ context.Context, _ string, processed, success, errorCount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress = append(s.progress, [3]int64{processed, success, errorCount})

	return nil
}

func (s *fakeJobStore) Finalize(_ context.Context, job *jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *job
	s.finalized = &copied

	return nil
}

// memBlob is an in-memory blob.Store. Writers publish on Close and vanish on
// Abort, mirroring the atomic local store.
type memBlob struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{files: make(map[string][]byte)}
}

func (m *memBlob) put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.files[key] = data
}

func (m *memBlob) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[key]

	return data, ok
}

func (m *memBlob) Save(_ context.Context, key string, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	m.put(key, data)

	return int64(len(data)), nil
}

func (m *memBlob) Create(_ context.Context, key string) (io.WriteCloser, error) {
	return &memWriter{store: m, key: key}, nil
}

func (m *memBlob) Open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memBlob) Size(_ context.Context, key string) (int64, error) {
	data, ok := m.get(key)
	if !ok {
		return 0, fmt.Errorf("%w: %s", blob.ErrNotFound, key)
	}

	return int64(len(data)), nil
}

func (m *memBlob) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, key)

	return nil
}

type memWriter struct {
	store *memBlob
	key   string
	buf   bytes.Buffer
	done  bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if !w.done {
		w.done = true
		w.store.put(w.key, w.buf.Bytes())
	}

	return nil
}

func (w *memWriter) Abort() error {
	w.done = true

	return nil
}

// fakeEngine applies records in memory, failing the indexes it is told to.
type fakeEngine struct {
	failWith map[int64]*apperr.Error
	applied  []*records.Validated
	nextID   int64
}

func (e *fakeEngine) ApplyBatch(_ context.Context, batch []*records.Validated) ([]storage.Applied, []storage.RecordFailure, error) {
	var (
		applied  []storage.Applied
		failures []storage.RecordFailure
	)

	for _, rec := range batch {
		if verr, ok := e.failWith[rec.Index]; ok {
			failures = append(failures, storage.RecordFailure{Record: rec, Err: verr})

			continue
		}

		e.nextID++
		e.applied = append(e.applied, rec)
		applied = append(applied, storage.Applied{Record: rec, RowID: e.nextID})
	}

	return applied, failures, nil
}

// fakeJournal keeps journal rows in memory.
type fakeJournal struct {
	rows    []*jobs.ImportError
	failAll bool
}

func (j *fakeJournal) InsertBatch(_ context.Context, errs []*jobs.ImportError) (int64, int64) {
	if j.failAll {
		return 0, int64(len(errs))
	}

	j.rows = append(j.rows, errs...)

	return int64(len(errs)), 0
}

func (j *fakeJournal) ListPage(_ context.Context, jobID string, limit, offset int) ([]*jobs.ImportError, error) {
	var scoped []*jobs.ImportError

	for _, row := range j.rows {
		if row.JobID == jobID {
			scoped = append(scoped, row)
		}
	}

	if offset >= len(scoped) {
		return nil, nil
	}

	end := offset + limit
	if end > len(scoped) {
		end = len(scoped)
	}

	return scoped[offset:end], nil
}

// fakeRefs answers reference checks from fixed sets.
type fakeRefs struct {
	userIDs    map[int64]bool
	articleIDs map[int64]bool
	emails     map[string]int64
	slugs      map[string]int64
}

func (r *fakeRefs) UserExists(_ context.Context, id int64) (bool, error) {
	return r.userIDs[id], nil
}

func (r *fakeRefs) ArticleExists(_ context.Context, id int64) (bool, error) {
	return r.articleIDs[id], nil
}

func (r *fakeRefs) UserIDByEmail(_ context.Context, email string) (int64, bool, error) {
	id, ok := r.emails[email]

	return id, ok, nil
}

func (r *fakeRefs) ArticleIDBySlug(_ context.Context, slug string) (int64, bool, error) {
	id, ok := r.slugs[slug]

	return id, ok, nil
}

func emptyRefs() *fakeRefs {
	return &fakeRefs{
		userIDs:    map[int64]bool{},
		articleIDs: map[int64]bool{},
		emails:     map[string]int64{},
		slugs:      map[string]int64{},
	}
}
