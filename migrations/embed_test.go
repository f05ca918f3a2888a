package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	require.NoError(t, Validate())
}

func TestList(t *testing.T) {
	infos, err := List()
	require.NoError(t, err)
	require.NotEmpty(t, infos)

	// Every migration ships as an up/down pair.
	assert.Equal(t, 0, len(infos)%2)

	lastSeq := 0

	for _, info := range infos {
		assert.GreaterOrEqual(t, info.Sequence, lastSeq)
		assert.Contains(t, []string{"up", "down"}, info.Direction)
		assert.True(t, strings.HasSuffix(info.Filename, ".sql"))

		lastSeq = info.Sequence
	}
}

func TestEmbeddedFilesReadable(t *testing.T) {
	entries, err := fs.ReadDir(FS(), ".")
	require.NoError(t, err)

	for _, entry := range entries {
		data, err := fs.ReadFile(FS(), entry.Name())
		require.NoError(t, err)
		assert.NotEmpty(t, data, entry.Name())
	}
}

func TestSchemaCoversCoreTables(t *testing.T) {
	var all strings.Builder

	entries, err := fs.ReadDir(FS(), ".")
	require.NoError(t, err)

	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			data, err := fs.ReadFile(FS(), entry.Name())
			require.NoError(t, err)
			all.Write(data)
		}
	}

	schema := all.String()

	for _, table := range []string{"jobs", "users", "articles", "tags", "article_tags", "comments", "import_errors"} {
		assert.Contains(t, schema, "CREATE TABLE "+table, table)
	}
}
