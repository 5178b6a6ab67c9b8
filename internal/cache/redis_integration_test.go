//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container for the test
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start Redis container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})
	return client
}

func TestRedisCache(t *testing.T) {
	client := setupRedis(t)
	rc := NewRedisCache(client, "test", 2*time.Second, zerolog.Nop())
	defer rc.Close()

	ctx := context.Background()
	require.NoError(t, rc.Ping(ctx))

	_, ok := rc.Get(ctx, "missing")
	assert.False(t, ok)

	key := GenerateCacheKey("blockchain.transaction.get", []any{"ab"})
	rc.Set(ctx, key, []byte(`"0100"`))

	data, ok := rc.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, `"0100"`, string(data))

	ttl, err := client.TTL(ctx, "test:"+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	assert.Eventually(t, func() bool {
		_, ok := rc.Get(ctx, key)
		return !ok
	}, 5*time.Second, 200*time.Millisecond)
}
