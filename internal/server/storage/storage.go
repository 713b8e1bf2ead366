// Package storage keeps document bytes in S3-compatible object storage and
// hands out time-limited signed download URLs.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ObjectStore is the blob collaborator used by the document service.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// NewStorageKey returns a fresh object key under the owner's prefix.
func NewStorageKey(ownerID string, now time.Time) string {
	return fmt.Sprintf("documents/%s/%d/%02d/%02d/%v", ownerID, now.Year(), now.Month(), now.Day(), uuid.New())
}
