package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	n, err := store.Save(ctx, "exports/job-1.ndjson", strings.NewReader("line1\nline2\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	size, err := store.Size(ctx, "exports/job-1.ndjson")
	require.NoError(t, err)
	assert.Equal(t, int64(12), size)

	r, err := store.Open(ctx, "exports/job-1.ndjson")
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "line1\nline2\n", string(data))
}

func TestLocalStoreStreamingCreate(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	w, err := store.Create(ctx, "exports/job-2.json")
	require.NoError(t, err)

	_, err = w.Write([]byte(`{"data":[]`))
	require.NoError(t, err)

	// Unclosed writer: artifact must not be visible yet.
	_, err = store.Open(ctx, "exports/job-2.json")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = w.Write([]byte(`}`))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	size, err := store.Size(ctx, "exports/job-2.json")
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
}

func TestLocalStoreDelete(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(ctx, "imports/job-3.ndjson", strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, "imports/job-3.ndjson"))

	_, err = store.Open(ctx, "imports/job-3.ndjson")
	require.ErrorIs(t, err, ErrNotFound)

	// Idempotent.
	require.NoError(t, store.Delete(ctx, "imports/job-3.ndjson"))
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()

	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Save(ctx, "../escape.txt", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = store.Open(ctx, "a/../../escape.txt")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = store.Save(ctx, "", strings.NewReader("x"))
	require.ErrorIs(t, err, ErrInvalidKey)
}
