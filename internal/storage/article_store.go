package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/conveyor-io/conveyor/internal/records"
)

// ArticleStore reads and upserts article rows together with their tag links.
type ArticleStore struct {
	conn *Connection
}

// NewArticleStore creates an article store over the shared connection.
func NewArticleStore(conn *Connection) (*ArticleStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ArticleStore{conn: conn}, nil
}

// List returns up to limit articles beyond the cursor, tags aggregated
// alphabetically, ordered by id.
func (s *ArticleStore) List(ctx context.Context, filters records.Filters, afterID int64, limit int) ([]*records.ArticleRecord, error) {
	clauses, args := whereClauses("a.", filters, nil)
	tail, args := cursorPage("a.id", "a.id", afterID, limit, clauses, args)

	query := `
		SELECT a.id, a.slug, a.title, a.body, a.author_id, a.status, a.published_at, a.created_at, a.updated_at,
			COALESCE(array_agg(t.name ORDER BY t.name) FILTER (WHERE t.name IS NOT NULL), '{}')
		FROM articles a
		LEFT JOIN article_tags at ON at.article_id = a.id
		LEFT JOIN tags t ON t.id = at.tag_id ` + tail

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: listing articles: %w", ErrEntityStoreFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*records.ArticleRecord

	for rows.Next() {
		var (
			rec   records.ArticleRecord
			slug  sql.NullString
			title sql.NullString
			body  sql.NullString
			tags  pq.StringArray
		)

		err := rows.Scan(
			&rec.ID, &slug, &title, &body, &rec.AuthorID, &rec.Status,
			&rec.PublishedAt, &rec.CreatedAt, &rec.UpdatedAt, &tags,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scanning article: %w", ErrEntityStoreFailed, err)
		}

		rec.Slug = slug.String
		rec.Title = title.String
		rec.Body = body.String
		rec.Tags = []string(tags)

		out = append(out, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing articles: %w", ErrEntityStoreFailed, err)
	}

	return out, nil
}

// Upsert applies one validated article within q: the article row merges by id
// or slug, then a supplied tag list replaces the stored links. An absent tag
// list leaves links untouched. Returns the row id.
func (s *ArticleStore) Upsert(ctx context.Context, q querier, rec *records.ArticleRecord) (int64, error) {
	var (
		id  int64
		err error
	)

	description := deriveDescription(rec.Title, rec.Body)

	if rec.ID != nil {
		query := `
			INSERT INTO articles (id, slug, title, body, description, author_id, status, published_at, created_at, updated_at)
			VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6,
				COALESCE(NULLIF($7, ''), CASE WHEN $8::timestamptz IS NULL THEN 'draft' ELSE 'published' END),
				$8, COALESCE($9::timestamptz, now()), now())
			ON CONFLICT (id) DO UPDATE SET
				slug         = COALESCE(EXCLUDED.slug, articles.slug),
				title        = COALESCE(EXCLUDED.title, articles.title),
				body         = COALESCE(EXCLUDED.body, articles.body),
				description  = COALESCE(EXCLUDED.description, articles.description),
				author_id    = COALESCE(EXCLUDED.author_id, articles.author_id),
				status       = CASE WHEN $7 = '' THEN articles.status ELSE EXCLUDED.status END,
				published_at = CASE WHEN $7 = 'draft' THEN NULL ELSE COALESCE(EXCLUDED.published_at, articles.published_at) END,
				updated_at   = now()
			RETURNING id`

		err = q.QueryRowContext(ctx, query,
			*rec.ID, rec.Slug, rec.Title, rec.Body, description, rec.AuthorID, rec.Status, rec.PublishedAt, rec.CreatedAt,
		).Scan(&id)
	} else {
		query := `
			INSERT INTO articles (slug, title, body, description, author_id, status, published_at, created_at, updated_at)
			VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5,
				COALESCE(NULLIF($6, ''), CASE WHEN $7::timestamptz IS NULL THEN 'draft' ELSE 'published' END),
				$7, COALESCE($8::timestamptz, now()), now())
			ON CONFLICT (slug) DO UPDATE SET
				title        = COALESCE(EXCLUDED.title, articles.title),
				body         = COALESCE(EXCLUDED.body, articles.body),
				description  = COALESCE(EXCLUDED.description, articles.description),
				author_id    = COALESCE(EXCLUDED.author_id, articles.author_id),
				status       = CASE WHEN $6 = '' THEN articles.status ELSE EXCLUDED.status END,
				published_at = CASE WHEN $6 = 'draft' THEN NULL ELSE COALESCE(EXCLUDED.published_at, articles.published_at) END,
				updated_at   = now()
			RETURNING id`

		err = q.QueryRowContext(ctx, query,
			rec.Slug, rec.Title, rec.Body, description, rec.AuthorID, rec.Status, rec.PublishedAt, rec.CreatedAt,
		).Scan(&id)
	}

	if err != nil {
		return 0, err
	}

	if rec.TagsProvided {
		if err := s.replaceTags(ctx, q, id, rec.Tags); err != nil {
			return 0, err
		}
	}

	return id, nil
}

// descriptionLimit caps the derived article description.
const descriptionLimit = 160

// deriveDescription builds the stored description from the leading characters
// of the body, falling back to the title.
func deriveDescription(title, body string) string {
	src := body
	if strings.TrimSpace(src) == "" {
		src = title
	}

	src = strings.TrimSpace(src)

	runes := []rune(src)
	if len(runes) > descriptionLimit {
		return string(runes[:descriptionLimit])
	}

	return src
}

// replaceTags swaps the article's tag links for the supplied list, creating
// missing tags on the way.
func (s *ArticleStore) replaceTags(ctx context.Context, q querier, articleID int64, tags []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM article_tags WHERE article_id = $1`, articleID); err != nil {
		return err
	}

	for _, tag := range tags {
		var tagID int64

		err := q.QueryRowContext(ctx, `
			INSERT INTO tags (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, tag).Scan(&tagID)
		if err != nil {
			return err
		}

		if _, err := q.ExecContext(ctx, `
			INSERT INTO article_tags (article_id, tag_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, articleID, tagID); err != nil {
			return err
		}
	}

	return nil
}

// ArticleExists reports whether an article row with the id exists.
func (s *ArticleStore) ArticleExists(ctx context.Context, id int64) (bool, error) {
	var found bool

	err := s.conn.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM articles WHERE id = $1)`, id).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("%w: checking article: %w", ErrEntityStoreFailed, err)
	}

	return found, nil
}

// ArticleIDBySlug returns the owning article id for a slug, if any.
func (s *ArticleStore) ArticleIDBySlug(ctx context.Context, slug string) (int64, bool, error) {
	var id int64

	err := s.conn.QueryRowContext(ctx,
		`SELECT id FROM articles WHERE LOWER(slug) = LOWER($1)`, slug).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("%w: resolving slug: %w", ErrEntityStoreFailed, err)
	}

	return id, true, nil
}
