package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrBlobExists   = goerr.New("blob already exists")
	ErrBlobNotFound = goerr.New("blob not found")
)

// BlobInfo describes a stored blob
type BlobInfo struct {
	Key       string
	Size      int64
	CreatedAt time.Time
}

// BlobStore is append-only storage keyed by "<category>/<name>"
type BlobStore interface {
	// Put writes data under key. It never replaces an existing blob and returns
	// ErrBlobExists instead.
	Put(ctx context.Context, key string, data []byte) error

	// Get opens the blob at key
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns every blob whose key starts with prefix
	List(ctx context.Context, prefix string) ([]BlobInfo, error)

	// Locate returns a human readable location of key (file path or gs:// URL)
	Locate(key string) string
}
