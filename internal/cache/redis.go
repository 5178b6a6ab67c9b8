package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"electrumbatch/internal/metrics"
)

// RedisCache stores results in Redis so they survive across runs
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisCache creates a cache on top of an existing client
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "electrumbatch"
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "cache").Str("backend", "redis").Logger(),
	}
}

// Name implements Cache
func (rc *RedisCache) Name() string {
	return "redis"
}

// Ping checks the connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Get retrieves a value. Backend errors are logged and reported as a miss.
func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := rc.client.Get(ctx, rc.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.CacheErrors.WithLabelValues("get").Inc()
			rc.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return nil, false
	}
	return data, true
}

// Set stores a value with the configured TTL
func (rc *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := rc.client.Set(ctx, rc.key(key), value, rc.ttl).Err(); err != nil {
		metrics.CacheErrors.WithLabelValues("set").Inc()
		rc.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

// Close closes the underlying client
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) key(k string) string {
	return rc.prefix + ":" + k
}
