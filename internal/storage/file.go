package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"
)

type FileConfig struct {
	Directory string
}

type fileStorage struct {
	directory string
}

// NewFileStorage stores artifacts under Directory, or the working directory
// when it is empty.
func NewFileStorage(ctx context.Context, f FileConfig) (Storage, error) {
	directory := f.Directory
	if directory == "" {
		directory = "."
	}

	return &fileStorage{
		directory: directory,
	}, nil
}

// Put writes through a temporary file so readers never observe a partial PNG.
func (f *fileStorage) Put(ctx context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(f.directory, filepath.FromSlash(key))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", xerrors.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return "", xerrors.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", xerrors.Errorf("failed to write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", xerrors.Errorf("failed to close %s: %w", key, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return "", xerrors.Errorf("failed to chmod %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", xerrors.Errorf("failed to rename into %s: %w", path, err)
	}

	return path, nil
}

// Get reads a path returned by Put. A file:// prefix is accepted.
func (f *fileStorage) Get(ctx context.Context, url string) ([]byte, error) {
	path := strings.TrimPrefix(url, "file://")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", path, err)
	}

	return data, nil
}
