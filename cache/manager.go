package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-media/types"
)

// NewManager builds the resolver response cache selected by config. A nil or
// disabled config yields a cache that stores nothing.
func NewManager(ctx context.Context, logger types.Logger, config *types.ResponseCacheConfig) (types.ResponseCache, error) {
	if config == nil || !config.Enabled {
		return NewNop(), nil
	}

	switch config.Type {
	case "", "memory":
		return NewMemoryCache(ctx, logger, config), nil
	case "redis":
		redisCache, err := NewRedisCache(logger, config.Redis)
		if err != nil {
			return nil, err
		}
		return redisCache, nil
	default:
		return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", config.Type)
	}
}

type nopCache struct{}

func NewNop() types.ResponseCache {
	return nopCache{}
}

func (nopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (nopCache) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (nopCache) Start() error { return nil }

func (nopCache) Stop() error { return nil }

func (nopCache) IsRunning() bool { return true }
