package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"golang.org/x/xerrors"
)

type Storage interface {
	// Put stores data with the given key and returns the storage URL
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves data from the given storage URL
	Get(ctx context.Context, url string) ([]byte, error)
}

type Config struct {
	Backend   string
	Directory string
	Bucket    string
}

func New(ctx context.Context, c Config) (Storage, error) {
	switch c.Backend {
	case "", "file":
		return NewFileStorage(ctx, FileConfig{
			Directory: c.Directory,
		})
	case "s3":
		return NewS3Storage(ctx, S3Config{
			Bucket: c.Bucket,
		})
	default:
		return nil, xerrors.Errorf("unknown storage backend: %s", c.Backend)
	}
}

// DiffKey names the artifact comparing baseline with target at now. Keys for
// the same pair share a directory.
func DiffKey(baseline string, target string, ext string, now time.Time) string {
	h := sha256.New()
	h.Write([]byte(baseline + target))
	hash := fmt.Sprintf("%x", h.Sum(nil))[:16]

	return fmt.Sprintf("Whatschanging/diff/%s/%s.%s", hash, now.Format("20060102150405"), ext)
}
