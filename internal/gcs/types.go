package gcs

import (
	"context"
	"io"
)

// StorageService provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// Upload streams r into bucket/object and returns the gs:// URI written.
	Upload(ctx context.Context, bucketName, objectName, contentType string, r io.Reader) (string, error)

	// FetchFromGCS downloads file bytes from the given storage URI.
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)

	// Close releases the underlying client.
	Close() error
}
