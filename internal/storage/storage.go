package storage

import (
	"context"
	"io"
)

// BlobStore persists named image blobs. Implementations: local disk
// and MinIO/S3.
type BlobStore interface {
	Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
}
