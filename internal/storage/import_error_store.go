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

// ErrImportErrorStoreFailed wraps unexpected journal failures.
var ErrImportErrorStoreFailed = errors.New("import error storage failed")

// ImportErrorStore persists the per-record error journal of import jobs.
type ImportErrorStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewImportErrorStore creates an error journal store.
func NewImportErrorStore(conn *Connection, logger *slog.Logger) (*ImportErrorStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ImportErrorStore{conn: conn, logger: logger}, nil
}

// InsertBatch journals a buffer of errors. Journaling must never fail the
// import: rows that cannot be written are counted as persistence failures and
// logged, not raised. Returns (persisted, failed).
func (s *ImportErrorStore) InsertBatch(ctx context.Context, errs []*jobs.ImportError) (int64, int64) {
	var persisted, failed int64

	for _, ie := range errs {
		if err := s.insertOne(ctx, ie); err != nil {
			failed++

			s.logger.Warn("failed to journal import error",
				slog.String("job_id", ie.JobID),
				slog.Int64("record_index", ie.RecordIndex),
				slog.String("error", err.Error()),
			)

			continue
		}

		persisted++
	}

	return persisted, failed
}

func (s *ImportErrorStore) insertOne(ctx context.Context, ie *jobs.ImportError) error {
	var details []byte

	if len(ie.Details) > 0 {
		encoded, err := json.Marshal(ie.Details)
		if err != nil {
			return fmt.Errorf("encoding details: %w", err)
		}

		details = encoded
	}

	createdAt := ie.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO import_errors (
			job_id, record_index, record_id, error_code, error_name, message, field, value, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.conn.ExecContext(ctx, query,
		ie.JobID, ie.RecordIndex, nullString(ie.RecordID),
		ie.ErrorCode, ie.ErrorName, ie.Message,
		nullString(ie.Field), nullString(ie.Value), details, createdAt,
	)

	return err
}

// List pages a job's journal ordered by record index, exclusive cursor.
func (s *ImportErrorStore) List(ctx context.Context, jobID string, afterIndex int64, limit int) ([]*jobs.ImportError, error) {
	query := `
		SELECT job_id, record_index, record_id, error_code, error_name, message, field, value, details, created_at
		FROM import_errors
		WHERE job_id = $1 AND record_index > $2
		ORDER BY record_index, id
		LIMIT $3`

	rows, err := s.conn.QueryContext(ctx, query, jobID, afterIndex, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing errors: %w", ErrImportErrorStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*jobs.ImportError

	for rows.Next() {
		ie, err := scanImportError(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, ie)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing errors: %w", ErrImportErrorStoreFailed, err)
	}

	return out, nil
}

// ListPage pages a job's journal by offset for the HTTP errors endpoint.
func (s *ImportErrorStore) ListPage(ctx context.Context, jobID string, limit, offset int) ([]*jobs.ImportError, error) {
	query := `
		SELECT job_id, record_index, record_id, error_code, error_name, message, field, value, details, created_at
		FROM import_errors
		WHERE job_id = $1
		ORDER BY record_index, id
		LIMIT $2 OFFSET $3`

	rows, err := s.conn.QueryContext(ctx, query, jobID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: listing errors: %w", ErrImportErrorStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*jobs.ImportError

	for rows.Next() {
		ie, err := scanImportError(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, ie)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing errors: %w", ErrImportErrorStoreFailed, err)
	}

	return out, nil
}

// Count returns the number of journaled errors for a job.
func (s *ImportErrorStore) Count(ctx context.Context, jobID string) (int64, error) {
	var count int64

	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM import_errors WHERE job_id = $1`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: counting errors: %w", ErrImportErrorStoreFailed, err)
	}

	return count, nil
}

func scanImportError(rows *sql.Rows) (*jobs.ImportError, error) {
	var (
		ie       jobs.ImportError
		recordID sql.NullString
		field    sql.NullString
		value    sql.NullString
		details  []byte
	)

	err := rows.Scan(
		&ie.JobID, &ie.RecordIndex, &recordID,
		&ie.ErrorCode, &ie.ErrorName, &ie.Message,
		&field, &value, &details, &ie.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: scanning error row: %w", ErrImportErrorStoreFailed, err)
	}

	ie.RecordID = recordID.String
	ie.Field = field.String
	ie.Value = value.String

	if len(details) > 0 {
		if err := json.Unmarshal(details, &ie.Details); err != nil {
			return nil, fmt.Errorf("%w: decoding details: %w", ErrImportErrorStoreFailed, err)
		}
	}

	return &ie, nil
}
