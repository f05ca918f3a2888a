package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-io/conveyor/internal/jobs"
	"github.com/conveyor-io/conveyor/internal/queue"
	"github.com/conveyor-io/conveyor/internal/storage"
)

type fetchResult struct {
	msg *queue.Message
	err error
}

// fakeConsumer replays a fixed sequence of fetch results, then cancels the
// run context so Run drains and returns.
type fakeConsumer struct {
	mu        sync.Mutex
	results   []fetchResult
	cancel    context.CancelFunc
	committed []string
}

func (c *fakeConsumer) Fetch(ctx context.Context) (*queue.Message, kafka.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.results) == 0 {
		c.cancel()

		return nil, kafka.Message{}, ctx.Err()
	}

	next := c.results[0]
	c.results = c.results[1:]

	if next.err != nil {
		return nil, kafka.Message{}, next.err
	}

	return next.msg, kafka.Message{Key: next.msg.Key()}, nil
}

func (c *fakeConsumer) Commit(_ context.Context, raw kafka.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.committed = append(c.committed, string(raw.Key))

	return nil
}

type fakeStore struct {
	mu        sync.Mutex
	jobs      map[string]*jobs.Job
	claimable bool
	claimErr  error
	failed    []string
}

func (s *fakeStore) Get(_ context.Context, jobID string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, storage.ErrJobNotFound
	}

	copied := *job

	return &copied, nil
}

func (s *fakeStore) Claim(_ context.Context, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimErr != nil {
		return false, s.claimErr
	}

	return s.claimable, nil
}

func (s *fakeStore) MarkFailed(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failed = append(s.failed, jobID)

	return nil
}

type fakeRunner struct {
	mu  sync.Mutex
	ran []string
	err error
}

func (r *fakeRunner) run(job *jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ran = append(r.ran, job.ID)

	return r.err
}

func (r *fakeRunner) RunImport(_ context.Context, job *jobs.Job) error { return r.run(job) }
func (r *fakeRunner) RunExport(_ context.Context, job *jobs.Job) error { return r.run(job) }

type fakeRequeuer struct {
	mu        sync.Mutex
	published []*queue.Message
	err       error
}

func (p *fakeRequeuer) Publish(_ context.Context, msg *queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.published = append(p.published, msg)

	return p.err
}

type workerHarness struct {
	worker   *Worker
	consumer *fakeConsumer
	store    *fakeStore
	runner   *fakeRunner
	requeuer *fakeRequeuer
}

func newWorkerHarness(results []fetchResult) (*workerHarness, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())

	h := &workerHarness{
		consumer: &fakeConsumer{results: results, cancel: cancel},
		store:    &fakeStore{jobs: map[string]*jobs.Job{}, claimable: true},
		runner:   &fakeRunner{},
		requeuer: &fakeRequeuer{},
	}

	cfg := &Config{Concurrency: 2, MaxAttempts: 3}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.worker = New(cfg, h.consumer, h.requeuer, h.store, h.runner, h.runner, logger)

	return h, ctx
}

func (h *workerHarness) seedJob(kind jobs.Kind) *jobs.Job {
	job := &jobs.Job{
		ID:       jobs.NewJobID(),
		OwnerID:  "owner-1",
		Kind:     kind,
		Resource: jobs.ResourceUsers,
		Format:   jobs.FormatNDJSON,
		Status:   jobs.StatusQueued,
	}
	h.store.jobs[job.ID] = job

	return job
}

func dispatch(job *jobs.Job, attempt int) fetchResult {
	return fetchResult{msg: &queue.Message{JobID: job.ID, Kind: job.Kind, Attempt: attempt}}
}

func TestWorkerRunsImportAndCommits(t *testing.T) {
	h, ctx := newWorkerHarness(nil)
	job := h.seedJob(jobs.KindImport)
	h.consumer.results = []fetchResult{dispatch(job, 1)}

	err := h.worker.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{job.ID}, h.runner.ran)
	assert.Equal(t, []string{"import-" + job.ID}, h.consumer.committed)
	assert.Empty(t, h.requeuer.published)
}

func TestWorkerRunsExport(t *testing.T) {
	h, ctx := newWorkerHarness(nil)
	job := h.seedJob(jobs.KindExport)
	h.consumer.results = []fetchResult{dispatch(job, 1)}

	require.ErrorIs(t, h.worker.Run(ctx), context.Canceled)
	assert.Equal(t, []string{job.ID}, h.runner.ran)
}

func TestWorkerSkipsUnclaimableJob(t *testing.T) {
	h, ctx := newWorkerHarness(nil)
	h.store.claimable = false

	job := h.seedJob(jobs.KindImport)
	job.Status = jobs.StatusSucceeded
	h.consumer.results = []fetchResult{dispatch(job, 1)}

	require.ErrorIs(t, h.worker.Run(ctx), context.Canceled)

	// The redelivered dispatch is acknowledged without touching the job.
	assert.Empty(t, h.runner.ran)
	assert.Len(t, h.consumer.committed, 1)
}

func TestWorkerDropsUnknownJob(t *testing.T) {
	h, ctx := newWorkerHarness(nil)
	h.consumer.results = []fetchResult{
		{msg: &queue.Message{JobID: "no-such-job", Kind: jobs.KindImport, Attempt: 1}},
	}

	require.ErrorIs(t, h.worker.Run(ctx), context.Canceled)

	assert.Empty(t, h.runner.ran)
	assert.Empty(t, h.requeuer.published)
	assert.Len(t, h.consumer.committed, 1)
}

func TestWorkerRequeuesOnClaimFailure(t *testing.T) {
	h, ctx := newWorkerHarness(nil)
	h.store.claimErr = errors.New("connection reset")

	job := h.seedJob(jobs.KindImport)
	h.consumer.results = []fetchResult{dispatch(job, 1)}

	require.ErrorIs(t, h.worker.Run(ctx), context.Canceled)

	require.Len(t, h.requeuer.published, 1)
	assert.Equal(t, job.ID, h.requeuer.published[0].JobID)
	assert.Equal(t, 2, h.requeuer.published[0].Attempt)
	assert.Empty(t, h.store.failed)
}

func TestWorkerMarksFailedAfterMaxAttempts(t *testing.T) {
	h, ctx := newWorkerHarness(nil)
	h.store.claimErr = errors.New("connection reset")

	job := h.seedJob(jobs.KindImport)
	h.consumer.results = []fetchResult{dispatch(job, 3)}

	require.ErrorIs(t, h.worker.Run(ctx), context.Canceled)

	assert.Empty(t, h.requeuer.published)
	assert.Equal(t, []string{job.ID}, h.store.failed)
}

func TestWorkerSkipsPoisonMessages(t *testing.T) {
	h, ctx := newWorkerHarness(nil)
	job := h.seedJob(jobs.KindImport)
	h.consumer.results = []fetchResult{
		{err: queue.ErrMalformedDispatch},
		dispatch(job, 1),
	}

	require.ErrorIs(t, h.worker.Run(ctx), context.Canceled)
	assert.Equal(t, []string{job.ID}, h.runner.ran)
}

func TestWorkerProcessesSequence(t *testing.T) {
	h, ctx := newWorkerHarness(nil)

	first := h.seedJob(jobs.KindImport)
	second := h.seedJob(jobs.KindExport)
	h.consumer.results = []fetchResult{dispatch(first, 1), dispatch(second, 1)}

	require.ErrorIs(t, h.worker.Run(ctx), context.Canceled)

	assert.ElementsMatch(t, []string{first.ID, second.ID}, h.runner.ran)
	assert.Len(t, h.consumer.committed, 2)
}
