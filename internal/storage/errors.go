package storage

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/conveyor-io/conveyor/internal/apperr"
)

// PostgreSQL error classes relevant to batch upserts.
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// constraintFields maps known constraint names to the canonical record field
// reported in the error journal.
var constraintFields = map[string]string{
	"users_email_key":               "email",
	"users_username_key":            "username",
	"users_email_lower_idx":         "email",
	"articles_slug_key":             "slug",
	"articles_author_id_fkey":       "author_id",
	"article_tags_tag_id_fkey":      "tags",
	"article_tags_article_id_fkey":  "id",
	"comments_article_id_fkey":      "article_id",
	"comments_user_id_fkey":         "user_id",
	"users_pkey":                    "id",
	"articles_pkey":                 "id",
	"comments_pkey":                 "id",
}

// ClassifyUpsertError converts a database error raised while applying one
// record into a taxonomy error for the journal. Constraint violations map to
// validation codes; anything else is a batch failure.
func ClassifyUpsertError(err error) *apperr.Error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		field := constraintFields[pqErr.Constraint]
		if field == "" {
			field = columnFromDetail(pqErr.Detail)
		}

		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return apperr.Newf(
				apperr.CodeDuplicateValue, "value conflicts with an existing row: %s", pqErr.Detail,
			).WithField(field)
		case pqForeignKeyViolation:
			return apperr.Newf(
				apperr.CodeInvalidReference, "referenced row does not exist: %s", pqErr.Detail,
			).WithField(field)
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.CodeInvalidReference, "target row does not exist").WithField("id")
	}

	return apperr.Newf(apperr.CodeBatchFailed, "record could not be applied: %v", err).WithField("record")
}

// isUniqueViolation reports whether err is a PostgreSQL unique violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// uniqueViolationOn reports whether err is a unique violation on the named
// constraint.
func uniqueViolationOn(err error, constraint string) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) &&
		string(pqErr.Code) == pqUniqueViolation &&
		pqErr.Constraint == constraint
}

// columnFromDetail extracts the column name from a pq detail message of the
// form `Key (col)=(value) already exists.`.
func columnFromDetail(detail string) string {
	start := strings.Index(detail, "(")
	if start == -1 {
		return ""
	}

	end := strings.Index(detail[start:], ")")
	if end == -1 {
		return ""
	}

	col := detail[start+1 : start+end]
	if strings.ContainsAny(col, ", ") {
		return ""
	}

	return col
}
