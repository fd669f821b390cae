package interfaces

import (
	"context"
	"time"
)

// BlobStore is the object store holding downloaded documents. Uploads are
// unconditional puts; reads happen through time-limited pre-signed URLs only.
type BlobStore interface {
	Upload(ctx context.Context, key string, contentType string, body []byte) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
