// Package blob stores job artifacts: uploaded import payloads, generated
// export files, and import error reports. Keys are slash-separated relative
// paths like "exports/<jobID>.ndjson".
package blob

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors for artifact storage.
var (
	// ErrNotFound is returned when no artifact exists under the key.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKey is returned for keys that escape the store root.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// Discard abandons an in-progress Create writer without publishing the
// artifact. Writers that cannot abort are closed instead.
func Discard(w io.WriteCloser) error {
	if aborter, ok := w.(interface{ Abort() error }); ok {
		return aborter.Abort()
	}

	return w.Close()
}

// Store reads and writes job artifacts. Implementations must make Create
// atomic: a reader never observes a partially written artifact.
type Store interface {
	// Save streams r into the artifact at key, returning bytes written.
	Save(ctx context.Context, key string, r io.Reader) (int64, error)

	// Create opens a streaming writer for the artifact at key. The artifact
	// becomes visible only when the writer is closed without error.
	Create(ctx context.Context, key string) (io.WriteCloser, error)

	// Open opens the artifact at key for reading.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Size reports the stored size of the artifact at key.
	Size(ctx context.Context, key string) (int64, error)

	// Delete removes the artifact at key. Deleting a missing artifact is not
	// an error.
	Delete(ctx context.Context, key string) error
}
