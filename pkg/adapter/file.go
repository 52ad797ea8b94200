package adapter

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
)

// fileStorage implements Storage on the local filesystem. Writes go to a
// temporary file that is renamed over the target on Close, so a reader never
// observes a half-written document.
type fileStorage struct {
	root string
}

// NewFileStorage creates a Storage rooted at dir
func NewFileStorage(dir string) Storage {
	return &fileStorage{root: dir}
}

func (s *fileStorage) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create directory", goerr.V("path", target))
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create temp file", goerr.V("path", target))
	}

	return &atomicFile{File: tmp, target: target}, nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, goerr.Wrap(ErrNotFound, "file does not exist", goerr.V("key", key))
		}
		return nil, goerr.Wrap(err, "failed to open file", goerr.V("key", key))
	}
	return f, nil
}

type atomicFile struct {
	*os.File
	target string
	closed bool
}

func (f *atomicFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	tmp := f.File.Name()
	if err := f.File.Sync(); err != nil {
		_ = f.File.Close()
		_ = os.Remove(tmp)
		return goerr.Wrap(err, "failed to sync temp file", goerr.V("path", tmp))
	}
	if err := f.File.Close(); err != nil {
		_ = os.Remove(tmp)
		return goerr.Wrap(err, "failed to close temp file", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, f.target); err != nil {
		_ = os.Remove(tmp)
		return goerr.Wrap(err, "failed to rename temp file", goerr.V("path", f.target))
	}
	return nil
}

// Abort drops the temp file without touching the target
func (f *atomicFile) Abort() {
	if f.closed {
		return
	}
	f.closed = true
	_ = f.File.Close()
	_ = os.Remove(f.File.Name())
}
