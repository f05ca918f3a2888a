package storage

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/conveyor-io/conveyor/internal/apperr"
)

func TestClassifyUpsertError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCode  apperr.Code
		wantField string
	}{
		{
			name: "unique violation on known constraint",
			err: &pq.Error{
				Code:       pq.ErrorCode(pqUniqueViolation),
				Constraint: "users_email_key",
				Detail:     "Key (email)=(ada@example.com) already exists.",
			},
			wantCode:  apperr.CodeDuplicateValue,
			wantField: "email",
		},
		{
			name: "unique violation falls back to detail column",
			err: &pq.Error{
				Code:   pq.ErrorCode(pqUniqueViolation),
				Detail: "Key (slug)=(a-post) already exists.",
			},
			wantCode:  apperr.CodeDuplicateValue,
			wantField: "slug",
		},
		{
			name: "foreign key violation",
			err: &pq.Error{
				Code:       pq.ErrorCode(pqForeignKeyViolation),
				Constraint: "comments_article_id_fkey",
			},
			wantCode:  apperr.CodeInvalidReference,
			wantField: "article_id",
		},
		{
			name:      "anything else is a batch failure",
			err:       errors.New("connection reset"),
			wantCode:  apperr.CodeBatchFailed,
			wantField: "record",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyUpsertError(tt.err)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Equal(t, tt.wantField, got.Field)
		})
	}
}

func TestColumnFromDetail(t *testing.T) {
	assert.Equal(t, "email", columnFromDetail("Key (email)=(a@b.c) already exists."))
	assert.Equal(t, "", columnFromDetail("Key (a, b)=(1, 2) already exists."))
	assert.Equal(t, "", columnFromDetail("no parens here"))
}
