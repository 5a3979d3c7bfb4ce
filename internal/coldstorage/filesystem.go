package coldstorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// filesystemStore is a directory-backed objectStore using atomic
// temp-file-then-rename writes, grounded on the reference corpus's
// content-addressed FileStore.
type filesystemStore struct {
	baseDir string
}

// NewFilesystem constructs an Adapter whose backend is a local directory.
// The directory is created if absent.
func NewFilesystem(baseDir, prefix string) (*Adapter, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("coldstorage: failed to ensure base directory: %w", err)
	}
	return newAdapter(&filesystemStore{baseDir: baseDir}, prefix), nil
}

func (s *filesystemStore) pathFor(key string) string {
	return filepath.Join(s.baseDir, filepath.Clean(string(filepath.Separator)+key))
}

func (s *filesystemStore) putObject(_ context.Context, key string, body []byte) error {
	path := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *filesystemStore) getObject(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(s.pathFor(key))
}

func (s *filesystemStore) deleteObject(_ context.Context, key string) error {
	err := os.Remove(s.pathFor(key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *filesystemStore) headBucket(_ context.Context) error {
	_, err := os.Stat(s.baseDir)
	return err
}
