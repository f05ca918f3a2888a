package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalStore implements Store.
var _ Store = (*LocalStore)(nil)

// LocalStore keeps artifacts on the local filesystem under a root directory.
// Writes land in a temp file and rename into place, so concurrent readers
// never see partial artifacts.
type LocalStore struct {
	root string
}

// NewLocalStore creates the store, creating the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidKey)
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}

	return &LocalStore{root: root}, nil
}

// Save streams r into the artifact at key.
func (s *LocalStore) Save(ctx context.Context, key string, r io.Reader) (int64, error) {
	w, err := s.Create(ctx, key)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()

		return 0, fmt.Errorf("writing artifact %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return 0, err
	}

	return n, nil
}

// Create opens a temp-file writer that renames into place on Close.
func (s *LocalStore) Create(_ context.Context, key string) (io.WriteCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	tmp := path + ".tmp-" + uuid.NewString()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("creating artifact %s: %w", key, err)
	}

	return &atomicWriter{file: f, tmp: tmp, final: path}, nil
}

// Open opens the artifact at key for reading.
func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("opening artifact %s: %w", key, err)
	}

	return f, nil
}

// Size reports the stored size of the artifact at key.
func (s *LocalStore) Size(_ context.Context, key string) (int64, error) {
	path, err := s.resolve(key)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err != nil {
		return 0, fmt.Errorf("stating artifact %s: %w", key, err)
	}

	return info.Size(), nil
}

// Delete removes the artifact at key, idempotently.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting artifact %s: %w", key, err)
	}

	return nil
}

// resolve maps a key to an absolute path and rejects traversal outside root.
func (s *LocalStore) resolve(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	path := filepath.Join(s.root, filepath.FromSlash(key))

	rootAbs, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}

	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving key %s: %w", key, err)
	}

	if pathAbs != rootAbs && !strings.HasPrefix(pathAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}

	return pathAbs, nil
}

// atomicWriter writes to a temp file and renames it into place on Close.
type atomicWriter struct {
	file  *os.File
	tmp   string
	final string
	done  bool
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// Abort discards the temp file without publishing the artifact.
func (w *atomicWriter) Abort() error {
	if w.done {
		return nil
	}

	w.done = true

	_ = w.file.Close()

	if err := os.Remove(w.tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discarding artifact: %w", err)
	}

	return nil
}

func (w *atomicWriter) Close() error {
	if w.done {
		return nil
	}

	w.done = true

	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tmp)

		return fmt.Errorf("closing artifact: %w", err)
	}

	if err := os.Rename(w.tmp, w.final); err != nil {
		_ = os.Remove(w.tmp)

		return fmt.Errorf("publishing artifact: %w", err)
	}

	return nil
}
