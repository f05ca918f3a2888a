package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conveyor-io/conveyor/internal/records"
)

// CommentStore reads and upserts comment rows.
type CommentStore struct {
	conn *Connection
}

// NewCommentStore creates a comment store over the shared connection.
func NewCommentStore(conn *Connection) (*CommentStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &CommentStore{conn: conn}, nil
}

// List returns up to limit comments beyond the cursor, ordered by id.
func (s *CommentStore) List(ctx context.Context, filters records.Filters, afterID int64, limit int) ([]*records.CommentRecord, error) {
	clauses, args := whereClauses("", filters, nil)
	tail, args := cursorPage("id", "", afterID, limit, clauses, args)

	query := `
		SELECT id, article_id, user_id, body, created_at
		FROM comments ` + tail

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing comments: %w", ErrEntityStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*records.CommentRecord

	for rows.Next() {
		var (
			rec  records.CommentRecord
			body sql.NullString
		)

		if err := rows.Scan(&rec.ID, &rec.ArticleID, &rec.UserID, &body, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning comment: %w", ErrEntityStoreFailed, err)
		}

		rec.Body = body.String

		out = append(out, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing comments: %w", ErrEntityStoreFailed, err)
	}

	return out, nil
}

// Upsert applies one validated comment within q, merging by id. Returns the
// row id.
func (s *CommentStore) Upsert(ctx context.Context, q querier, rec *records.CommentRecord) (int64, error) {
	query := `
		INSERT INTO comments (id, article_id, user_id, body, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), COALESCE($5::timestamptz, now()))
		ON CONFLICT (id) DO UPDATE SET
			article_id = COALESCE(EXCLUDED.article_id, comments.article_id),
			user_id    = COALESCE(EXCLUDED.user_id, comments.user_id),
			body       = COALESCE(EXCLUDED.body, comments.body)
		RETURNING id`

	var id int64

	err := q.QueryRowContext(ctx, query,
		*rec.ID, rec.ArticleID, rec.UserID, rec.Body, rec.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}
