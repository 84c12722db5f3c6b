package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-media/types"
)

const defaultKeyPrefix = "sai-media"

type RedisCache struct {
	logger  types.Logger
	config  *types.RedisConfig
	client  *redis.Client
	prefix  string
	started int32
}

func NewRedisCache(logger types.Logger, config *types.RedisConfig) (*RedisCache, error) {
	if config == nil || config.Addr == "" {
		return nil, types.Errorf(types.ErrCacheConnectionFailed, "redis address is empty")
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  seconds(config.DialTimeout),
		ReadTimeout:  seconds(config.ReadTimeout),
		WriteTimeout: seconds(config.WriteTimeout),
	})

	return &RedisCache{
		logger: logger,
		config: config,
		client: client,
		prefix: prefix,
	}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if key == "" {
		return nil, false
	}

	result, err := r.client.Get(ctx, r.buildFullKey(key)).Bytes()
	if err != nil {
		if !types.IsError(err, redis.Nil) {
			r.logger.Warn("Failed to read response cache",
				zap.String("key", key),
				zap.Error(err))
		}
		return nil, false
	}

	return result, true
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if err := r.client.Set(ctx, r.buildFullKey(key), value, ttl).Err(); err != nil {
		return types.Errorf(types.ErrCacheConnectionFailed, "set %s: %v", key, err)
	}

	return nil
}

func (r *RedisCache) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		atomic.StoreInt32(&r.started, 0)
		return types.Errorf(types.ErrCacheConnectionFailed, "ping %s: %v", r.config.Addr, err)
	}

	r.logger.Info("Redis response cache started", zap.String("addr", r.config.Addr))

	return nil
}

func (r *RedisCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return nil
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis response cache closed")
	return nil
}

func (r *RedisCache) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisCache) buildFullKey(key string) string {
	return r.prefix + ":" + key
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
