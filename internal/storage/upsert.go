package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conveyor-io/conveyor/internal/apperr"
	"github.com/conveyor-io/conveyor/internal/records"
)

type (
	// RecordFailure pairs a record that could not be applied with its
	// classified taxonomy error.
	RecordFailure struct {
		Record *records.Validated
		Err    *apperr.Error
	}

	// Applied pairs a successfully applied record with the row id it landed on.
	Applied struct {
		Record *records.Validated
		RowID  int64
	}

	// UpsertEngine applies batches of validated records transactionally, with
	// per-record fallback isolating the failing records when a batch aborts.
	UpsertEngine struct {
		conn     *Connection
		users    *UserStore
		articles *ArticleStore
		comments *CommentStore
		logger   *slog.Logger
	}
)

// NewUpsertEngine wires the batch engine over the three entity stores.
func NewUpsertEngine(conn *Connection, users *UserStore, articles *ArticleStore, comments *CommentStore, logger *slog.Logger) (*UpsertEngine, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &UpsertEngine{
		conn:     conn,
		users:    users,
		articles: articles,
		comments: comments,
		logger:   logger,
	}, nil
}

// ApplyBatch applies the batch in one transaction. When any record aborts the
// transaction the whole batch is rolled back and re-applied record by record,
// so one bad record costs only itself. Records apply in input order in both
// paths. Returns applied records and classified failures; the error return is
// reserved for infrastructure failures that abort the run.
func (e *UpsertEngine) ApplyBatch(ctx context.Context, batch []*records.Validated) ([]Applied, []RecordFailure, error) {
	if len(batch) == 0 {
		return nil, nil, nil
	}

	applied, err := e.applyTx(ctx, batch)
	if err == nil {
		return applied, nil, nil
	}

	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	e.logger.Debug("batch transaction aborted, retrying per record",
		slog.Int("batch_size", len(batch)),
		slog.String("error", err.Error()),
	)

	return e.applyEach(ctx, batch)
}

func (e *UpsertEngine) applyTx(ctx context.Context, batch []*records.Validated) ([]Applied, error) {
	tx, err := e.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning batch transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	applied := make([]Applied, 0, len(batch))

	for _, rec := range batch {
		rowID, err := e.applyOne(ctx, tx, rec)
		if err != nil {
			return nil, err
		}

		applied = append(applied, Applied{Record: rec, RowID: rowID})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing batch: %w", err)
	}

	return applied, nil
}

func (e *UpsertEngine) applyEach(ctx context.Context, batch []*records.Validated) ([]Applied, []RecordFailure, error) {
	var (
		applied  []Applied
		failures []RecordFailure
	)

	for _, rec := range batch {
		if ctx.Err() != nil {
			return applied, failures, ctx.Err()
		}

		rowID, err := e.applyOne(ctx, e.conn, rec)
		if err != nil {
			failures = append(failures, RecordFailure{Record: rec, Err: ClassifyUpsertError(err)})

			continue
		}

		applied = append(applied, Applied{Record: rec, RowID: rowID})
	}

	return applied, failures, nil
}

func (e *UpsertEngine) applyOne(ctx context.Context, q querier, rec *records.Validated) (int64, error) {
	switch {
	case rec.User != nil:
		return e.users.Upsert(ctx, q, rec.User)
	case rec.Article != nil:
		return e.articles.Upsert(ctx, q, rec.Article)
	case rec.Comment != nil:
		return e.comments.Upsert(ctx, q, rec.Comment)
	}

	return 0, fmt.Errorf("validated record carries no entity")
}
