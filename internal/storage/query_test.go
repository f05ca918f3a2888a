package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyor-io/conveyor/internal/records"
)

func TestWhereClauses(t *testing.T) {
	t.Run("equality filters in sorted key order", func(t *testing.T) {
		filters := records.Filters{"role": "admin", "id": int64(7), "active": true}

		clauses, args := whereClauses("", filters, nil)
		require.Equal(t, []string{"active = $1", "id = $2", "role = $3"}, clauses)
		assert.Equal(t, []any{true, int64(7), "admin"}, args)
	})

	t.Run("email compares case-insensitively", func(t *testing.T) {
		clauses, _ := whereClauses("", records.Filters{"email": "Ada@example.com"}, nil)
		require.Len(t, clauses, 1)
		assert.Equal(t, "LOWER(email) = LOWER($1)", clauses[0])
	})

	t.Run("date range expands per bound", func(t *testing.T) {
		from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

		clauses, args := whereClauses("a.", records.Filters{
			"published_at": &records.DateRange{Gte: &from, Lt: &to},
		}, nil)

		require.Equal(t, []string{"a.published_at >= $1", "a.published_at < $2"}, clauses)
		assert.Equal(t, []any{from, to}, args)
	})
}

func TestCursorPage(t *testing.T) {
	t.Run("appends cursor and limit", func(t *testing.T) {
		clauses, args := whereClauses("", records.Filters{"role": "admin"}, nil)

		tail, args := cursorPage("id", "", 100, 50, clauses, args)
		assert.Equal(t, "WHERE role = $1 AND id > $2 ORDER BY id LIMIT $3", tail)
		assert.Equal(t, []any{"admin", int64(100), 50}, args)
	})

	t.Run("grouping lands between where and order", func(t *testing.T) {
		tail, args := cursorPage("a.id", "a.id", 0, 10, nil, nil)
		assert.Equal(t, "WHERE a.id > $1 GROUP BY a.id ORDER BY a.id LIMIT $2", tail)
		assert.Equal(t, []any{int64(0), 10}, args)
	})
}
