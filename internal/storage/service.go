// Package storage defines the file-storage contract over named buckets.
// Like auth and db it has a mock provider for offline development and an
// S3-compatible one for a hosted deployment.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned for a missing object path.
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned for operations on a bucket that was
	// never created.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrTransport wraps backend I/O failures, preserving the cause.
	ErrTransport = errors.New("transport error")
)

// File describes one stored object.
type File struct {
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Service is the storage contract. Paths are forward-slash object keys
// within a bucket; Upload overwrites an existing object at the same path.
type Service interface {
	CreateBucket(ctx context.Context, bucket string) error
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (*File, error)
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	Delete(ctx context.Context, bucket, path string) error
	List(ctx context.Context, bucket, prefix string) ([]File, error)

	// PublicURL returns a URL from which the object can be fetched without
	// further authentication, valid at least briefly.
	PublicURL(ctx context.Context, bucket, path string) (string, error)
}
