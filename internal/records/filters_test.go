package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-io/conveyor/internal/jobs"
)

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"snake passes through", "created_at", "created_at"},
		{"camel splits", "createdAt", "created_at"},
		{"authorId splits", "authorId", "author_id"},
		{"upper lowers", "Email", "email"},
		{"tag_list aliases to tags", "tag_list", "tags"},
		{"tagList aliases to tags", "tagList", "tags"},
		{"plain key untouched", "slug", "slug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanonicalKey(tt.in)
			assert.Equal(t, tt.want, got)

			// Canonicalization is idempotent.
			assert.Equal(t, got, CanonicalKey(got))
		})
	}
}

func TestValidateFilters(t *testing.T) {
	t.Run("accepts known keys with coercion", func(t *testing.T) {
		got, err := ValidateFilters(jobs.ResourceUsers, map[string]any{
			"role":   "admin",
			"active": "true",
			"id":     float64(7),
		})
		require.NoError(t, err)

		assert.Equal(t, "admin", got["role"])
		assert.Equal(t, true, got["active"])
		assert.Equal(t, int64(7), got["id"])
	})

	t.Run("canonicalizes camelCase keys", func(t *testing.T) {
		got, err := ValidateFilters(jobs.ResourceArticles, map[string]any{
			"authorId": 3,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), got["author_id"])
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		_, err := ValidateFilters(jobs.ResourceUsers, map[string]any{"nickname": "x"})
		require.ErrorIs(t, err, ErrUnknownFilterKey)
	})

	t.Run("rejects keys from another resource", func(t *testing.T) {
		_, err := ValidateFilters(jobs.ResourceComments, map[string]any{"slug": "x"})
		require.ErrorIs(t, err, ErrUnknownFilterKey)
	})

	t.Run("parses raw JSON text", func(t *testing.T) {
		got, err := ValidateFilters(jobs.ResourceArticles, `{"status": "published"}`)
		require.NoError(t, err)
		assert.Equal(t, "published", got["status"])
	})

	t.Run("empty input is nil", func(t *testing.T) {
		got, err := ValidateFilters(jobs.ResourceUsers, nil)
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = ValidateFilters(jobs.ResourceUsers, "  ")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("date string becomes gte bound", func(t *testing.T) {
		got, err := ValidateFilters(jobs.ResourceUsers, map[string]any{
			"created_at": "2026-01-15T00:00:00Z",
		})
		require.NoError(t, err)

		r, ok := got["created_at"].(*DateRange)
		require.True(t, ok)
		require.NotNil(t, r.Gte)
		assert.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), *r.Gte)
		assert.Nil(t, r.Gt)
	})

	t.Run("date object carries explicit bounds", func(t *testing.T) {
		got, err := ValidateFilters(jobs.ResourceArticles, map[string]any{
			"published_at": map[string]any{"gte": "2026-01-01", "lt": "2026-02-01"},
		})
		require.NoError(t, err)

		r, ok := got["published_at"].(*DateRange)
		require.True(t, ok)
		assert.NotNil(t, r.Gte)
		assert.NotNil(t, r.Lt)
		assert.Nil(t, r.Lte)
	})

	t.Run("unknown date bound is rejected", func(t *testing.T) {
		_, err := ValidateFilters(jobs.ResourceUsers, map[string]any{
			"created_at": map[string]any{"before": "2026-01-01"},
		})
		require.ErrorIs(t, err, ErrInvalidDateBound)
	})

	t.Run("negative id is rejected", func(t *testing.T) {
		_, err := ValidateFilters(jobs.ResourceUsers, map[string]any{"id": -1})
		require.ErrorIs(t, err, ErrInvalidFilterValue)
	})

	t.Run("malformed JSON text is rejected", func(t *testing.T) {
		_, err := ValidateFilters(jobs.ResourceUsers, `{"role":`)
		require.ErrorIs(t, err, ErrMalformedFilters)
	})
}

func TestValidateFields(t *testing.T) {
	t.Run("comma-separated selection in canonical order", func(t *testing.T) {
		got, err := ValidateFields(jobs.ResourceUsers, "name,id,email")
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "email", "name"}, got)
	})

	t.Run("JSON array selection", func(t *testing.T) {
		got, err := ValidateFields(jobs.ResourceArticles, `["slug", "tagList", "title"]`)
		require.NoError(t, err)
		assert.Equal(t, []string{"slug", "title", "tags"}, got)
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		got, err := ValidateFields(jobs.ResourceUsers, "id,id,email")
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "email"}, got)
	})

	t.Run("unknown field is rejected", func(t *testing.T) {
		_, err := ValidateFields(jobs.ResourceComments, "id,slug")
		require.ErrorIs(t, err, ErrUnknownField)
	})

	t.Run("empty selection is nil", func(t *testing.T) {
		got, err := ValidateFields(jobs.ResourceUsers, "")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}
