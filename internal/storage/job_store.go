package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyor-io/conveyor/internal/jobs"
)

// Sentinel errors for job store operations.
var (
	// ErrJobNotFound is returned when no job matches the id (and owner scope).
	ErrJobNotFound = errors.New("job not found")

	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with a different request payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")

	// ErrJobStoreFailed wraps unexpected database failures.
	ErrJobStoreFailed = errors.New("job storage failed")
)

const jobColumns = `
	id, owner_id, kind, resource, format, status,
	created_at, started_at, finished_at,
	total_records, processed_records, success_count, error_count,
	idempotency_key, request_hash,
	filters, fields, output_location, download_url, file_size, expires_at, truncation,
	source_type, source_location, file_name, error_summary`

// JobStore persists import and export job rows. The conditional single-row
// claim update is the mutual-exclusion primitive between competing workers.
type JobStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewJobStore creates a job store over the shared connection.
func NewJobStore(conn *Connection, logger *slog.Logger) (*JobStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &JobStore{conn: conn, logger: logger}, nil
}

// Create inserts a new job row. When the job carries an idempotency key and a
// row with the same (owner, key, kind) already exists, the stored row is
// returned instead, provided the request fingerprint matches; a fingerprint
// mismatch is ErrIdempotencyConflict.
//
// Returns (job, existing, error); existing is true for an idempotent replay.
func (s *JobStore) Create(ctx context.Context, job *jobs.Job) (*jobs.Job, bool, error) {
	if job.IdempotencyKey != "" {
		stored, err := s.findByIdempotencyKey(ctx, job.OwnerID, job.IdempotencyKey, job.Kind)
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return nil, false, err
		}

		if stored != nil {
			if stored.RequestHash != job.RequestHash {
				return nil, false, ErrIdempotencyConflict
			}

			return stored, true, nil
		}
	}

	if err := s.insert(ctx, job); err != nil {
		// A concurrent replay can win the insert race; re-resolve through the
		// unique index instead of failing the request.
		if job.IdempotencyKey != "" && isUniqueViolation(err) {
			stored, lookupErr := s.findByIdempotencyKey(ctx, job.OwnerID, job.IdempotencyKey, job.Kind)
			if lookupErr != nil {
				return nil, false, lookupErr
			}

			if stored.RequestHash != job.RequestHash {
				return nil, false, ErrIdempotencyConflict
			}

			return stored, true, nil
		}

		return nil, false, err
	}

	return job, false, nil
}

func (s *JobStore) insert(ctx context.Context, job *jobs.Job) error {
	filters, err := marshalNullable(job.Filters)
	if err != nil {
		return fmt.Errorf("%w: encoding filters: %w", ErrJobStoreFailed, err)
	}

	fields, err := marshalNullable(job.Fields)
	if err != nil {
		return fmt.Errorf("%w: encoding fields: %w", ErrJobStoreFailed, err)
	}

	query := `
		INSERT INTO jobs (
			id, owner_id, kind, resource, format, status, created_at,
			total_records, processed_records, success_count, error_count,
			idempotency_key, request_hash,
			filters, fields, output_location, download_url, file_size, expires_at,
			source_type, source_location, file_name
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13,
			$14, $15, $16, $17, $18, $19,
			$20, $21, $22
		)`

	_, err = s.conn.ExecContext(ctx, query,
		job.ID, job.OwnerID, job.Kind, job.Resource, job.Format, job.Status, job.CreatedAt,
		job.TotalRecords, job.ProcessedRecords, job.SuccessCount, job.ErrorCount,
		nullString(job.IdempotencyKey), nullString(job.RequestHash),
		filters, fields,
		nullString(job.OutputLocation), nullString(job.DownloadURL), job.FileSize, job.ExpiresAt,
		nullString(string(job.SourceType)), nullString(job.SourceLocation), nullString(job.FileName),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return err
		}

		return fmt.Errorf("%w: inserting job: %w", ErrJobStoreFailed, err)
	}

	return nil
}

// GetByID fetches a job scoped to its owner.
func (s *JobStore) GetByID(ctx context.Context, ownerID, jobID string) (*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND owner_id = $2`

	return s.scanOne(s.conn.QueryRowContext(ctx, query, jobID, ownerID))
}

// Get fetches a job without owner scoping. Used by workers, which receive job
// ids from the queue, not from callers.
func (s *JobStore) Get(ctx context.Context, jobID string) (*jobs.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	return s.scanOne(s.conn.QueryRowContext(ctx, query, jobID))
}

// List returns the owner's jobs of one kind, newest first, limit+offset paged.
func (s *JobStore) List(ctx context.Context, ownerID string, kind jobs.Kind, limit, offset int) ([]*jobs.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1 AND kind = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	rows, err := s.conn.QueryContext(ctx, query, ownerID, kind, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: listing jobs: %w", ErrJobStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*jobs.Job

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing jobs: %w", ErrJobStoreFailed, err)
	}

	return out, nil
}

// Claim atomically moves a queued job to running and stamps started_at.
// Exactly one competing worker wins; the rest observe claimed=false.
func (s *JobStore) Claim(ctx context.Context, jobID string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4`

	result, err := s.conn.ExecContext(ctx, query, jobs.StatusRunning, time.Now().UTC(), jobID, jobs.StatusQueued)
	if err != nil {
		return false, fmt.Errorf("%w: claiming job: %w", ErrJobStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: claiming job: %w", ErrJobStoreFailed, err)
	}

	return affected == 1, nil
}

// Status reads just the lifecycle state of a job.
func (s *JobStore) Status(ctx context.Context, jobID string) (jobs.Status, error) {
	var status jobs.Status

	err := s.conn.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrJobNotFound
	}

	if err != nil {
		return "", fmt.Errorf("%w: reading status: %w", ErrJobStoreFailed, err)
	}

	return status, nil
}

// CancelRequested reads the cooperative cancellation flag.
func (s *JobStore) CancelRequested(ctx context.Context, jobID string) (bool, error) {
	var requested bool

	err := s.conn.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = $1`, jobID).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrJobNotFound
	}

	if err != nil {
		return false, fmt.Errorf("%w: reading cancel flag: %w", ErrJobStoreFailed, err)
	}

	return requested, nil
}

// RequestCancel cancels an owner's job. A queued job moves straight to
// cancelled; a running job gets its cancel_requested flag set for the worker
// to observe. Returns the job's status after the call.
func (s *JobStore) RequestCancel(ctx context.Context, ownerID, jobID string) (jobs.Status, error) {
	query := `
		UPDATE jobs
		SET status = $1, finished_at = $2
		WHERE id = $3 AND owner_id = $4 AND status = $5`

	result, err := s.conn.ExecContext(ctx, query,
		jobs.StatusCancelled, time.Now().UTC(), jobID, ownerID, jobs.StatusQueued)
	if err != nil {
		return "", fmt.Errorf("%w: cancelling job: %w", ErrJobStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("%w: cancelling job: %w", ErrJobStoreFailed, err)
	}

	if affected == 1 {
		return jobs.StatusCancelled, nil
	}

	// Not queued. Flag a running job; terminal jobs pass through unchanged.
	flagQuery := `
		UPDATE jobs
		SET cancel_requested = TRUE
		WHERE id = $1 AND owner_id = $2 AND status = $3`

	if _, err := s.conn.ExecContext(ctx, flagQuery, jobID, ownerID, jobs.StatusRunning); err != nil {
		return "", fmt.Errorf("%w: flagging cancellation: %w", ErrJobStoreFailed, err)
	}

	job, err := s.GetByID(ctx, ownerID, jobID)
	if err != nil {
		return "", err
	}

	return job.Status, nil
}

// UpdateProgress writes running counters without touching the status.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, processed, success, errorCount int64) error {
	query := `
		UPDATE jobs
		SET processed_records = $1, success_count = $2, error_count = $3
		WHERE id = $4 AND status = $5`

	if _, err := s.conn.ExecContext(ctx, query, processed, success, errorCount, jobID, jobs.StatusRunning); err != nil {
		return fmt.Errorf("%w: updating progress: %w", ErrJobStoreFailed, err)
	}

	return nil
}

// Finalize writes a job's terminal state: status, counters, timestamps, and
// kind-specific result fields. The transition is validated against the
// current row and the write is conditional on the status it read, so a
// concurrent terminal write cannot be overwritten.
func (s *JobStore) Finalize(ctx context.Context, job *jobs.Job) error {
	current, err := s.Status(ctx, job.ID)
	if err != nil {
		return err
	}

	if err := jobs.ValidateStatusTransition(current, job.Status); err != nil {
		return err
	}

	summary, err := marshalNullable(job.ErrorSummary)
	if err != nil {
		return fmt.Errorf("%w: encoding error summary: %w", ErrJobStoreFailed, err)
	}

	truncation, err := marshalNullable(job.Truncation)
	if err != nil {
		return fmt.Errorf("%w: encoding truncation: %w", ErrJobStoreFailed, err)
	}

	finishedAt := time.Now().UTC()
	if job.FinishedAt != nil {
		finishedAt = *job.FinishedAt
	} else {
		job.FinishedAt = &finishedAt
	}

	query := `
		UPDATE jobs
		SET status = $1, finished_at = $2,
			total_records = $3, processed_records = $4, success_count = $5, error_count = $6,
			output_location = $7, download_url = $8, file_size = $9, expires_at = $10,
			truncation = $11, error_summary = $12
		WHERE id = $13 AND status = $14`

	result, err := s.conn.ExecContext(ctx, query,
		job.Status, finishedAt,
		job.TotalRecords, job.ProcessedRecords, job.SuccessCount, job.ErrorCount,
		nullString(job.OutputLocation), nullString(job.DownloadURL), job.FileSize, job.ExpiresAt,
		truncation, summary,
		job.ID, current,
	)
	if err != nil {
		return fmt.Errorf("%w: finalizing job: %w", ErrJobStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: finalizing job: %w", ErrJobStoreFailed, err)
	}

	if affected == 0 {
		// Lost the race against another terminal write (cancellation, usually).
		return jobs.ErrTerminalStatusImmutable
	}

	return nil
}

// MarkFailed moves a job that never ran to failed. Used when enqueueing fails
// after the row was created.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1, finished_at = $2
		WHERE id = $3 AND status = $4`

	if _, err := s.conn.ExecContext(ctx, query, jobs.StatusFailed, time.Now().UTC(), jobID, jobs.StatusQueued); err != nil {
		return fmt.Errorf("%w: marking job failed: %w", ErrJobStoreFailed, err)
	}

	return nil
}

// DeleteExpiredArtifacts clears download metadata for exports past their
// expiry and returns the affected output locations for blob cleanup.
func (s *JobStore) DeleteExpiredArtifacts(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		UPDATE jobs
		SET download_url = NULL, output_location = NULL
		WHERE kind = $1 AND expires_at IS NOT NULL AND expires_at < $2 AND output_location IS NOT NULL
		RETURNING output_location`

	rows, err := s.conn.QueryContext(ctx, query, jobs.KindExport, now)
	if err != nil {
		return nil, fmt.Errorf("%w: expiring artifacts: %w", ErrJobStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var locations []string

	for rows.Next() {
		var loc string
		if err := rows.Scan(&loc); err != nil {
			return nil, fmt.Errorf("%w: expiring artifacts: %w", ErrJobStoreFailed, err)
		}

		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: expiring artifacts: %w", ErrJobStoreFailed, err)
	}

	return locations, nil
}

func (s *JobStore) findByIdempotencyKey(ctx context.Context, ownerID, key string, kind jobs.Kind) (*jobs.Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE owner_id = $1 AND idempotency_key = $2 AND kind = $3`

	return s.scanOne(s.conn.QueryRowContext(ctx, query, ownerID, key, kind))
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *JobStore) scanOne(row *sql.Row) (*jobs.Job, error) {
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}

	return job, err
}

func scanJob(row rowScanner) (*jobs.Job, error) {
	var (
		job            jobs.Job
		idempotencyKey sql.NullString
		requestHash    sql.NullString
		filters        []byte
		fields         []byte
		outputLocation sql.NullString
		downloadURL    sql.NullString
		sourceType     sql.NullString
		sourceLocation sql.NullString
		fileName       sql.NullString
		truncation     []byte
		errorSummary   []byte
	)

	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Kind, &job.Resource, &job.Format, &job.Status,
		&job.CreatedAt, &job.StartedAt, &job.FinishedAt,
		&job.TotalRecords, &job.ProcessedRecords, &job.SuccessCount, &job.ErrorCount,
		&idempotencyKey, &requestHash,
		&filters, &fields, &outputLocation, &downloadURL, &job.FileSize, &job.ExpiresAt, &truncation,
		&sourceType, &sourceLocation, &fileName, &errorSummary,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: scanning job: %w", ErrJobStoreFailed, err)
	}

	job.IdempotencyKey = idempotencyKey.String
	job.RequestHash = requestHash.String
	job.OutputLocation = outputLocation.String
	job.DownloadURL = downloadURL.String
	job.SourceType = jobs.SourceType(sourceType.String)
	job.SourceLocation = sourceLocation.String
	job.FileName = fileName.String

	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &job.Filters); err != nil {
			return nil, fmt.Errorf("%w: decoding filters: %w", ErrJobStoreFailed, err)
		}
	}

	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &job.Fields); err != nil {
			return nil, fmt.Errorf("%w: decoding fields: %w", ErrJobStoreFailed, err)
		}
	}

	if len(truncation) > 0 {
		if err := json.Unmarshal(truncation, &job.Truncation); err != nil {
			return nil, fmt.Errorf("%w: decoding truncation: %w", ErrJobStoreFailed, err)
		}
	}

	if len(errorSummary) > 0 {
		if err := json.Unmarshal(errorSummary, &job.ErrorSummary); err != nil {
			return nil, fmt.Errorf("%w: decoding error summary: %w", ErrJobStoreFailed, err)
		}
	}

	return &job, nil
}

func marshalNullable(v any) ([]byte, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(value) == 0 {
			return nil, nil
		}
	case []string:
		if len(value) == 0 {
			return nil, nil
		}
	case *jobs.ErrorSummary:
		if value == nil {
			return nil, nil
		}
	case *jobs.Truncation:
		if value == nil {
			return nil, nil
		}
	}

	return json.Marshal(v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
