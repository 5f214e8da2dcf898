package exports

import (
	"context"
	"io"
	"time"
)

// StorageDriver stores exported report artifacts.
type StorageDriver interface {
	// Save writes an artifact under key.
	Save(ctx context.Context, key string, body io.Reader, contentType string) error

	// Get streams an artifact back together with its content type.
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)

	// Delete removes an artifact. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// GenerateURL returns a URL the caller can fetch the artifact from.
	GenerateURL(ctx context.Context, key string, expires time.Duration) (string, error)
}
