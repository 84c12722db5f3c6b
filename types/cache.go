package types

import (
	"context"
	"time"
)

// ResponseCache stores raw resolver responses keyed by kind and link.
type ResponseCache interface {
	LifecycleManager
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type CacheEntry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}
