package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("object not found")

// Store is blob storage addressed by key, handing out time-limited read URLs.
type Store interface {
	// Put stores data under key and returns a stable reference URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// PresignGet returns a URL that grants read access to key for ttl.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
