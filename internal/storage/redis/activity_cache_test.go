package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nice-bills/chain-segment/internal/domain"
	"github.com/nice-bills/chain-segment/internal/storage"
)

const testAddr = domain.WalletAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

// setupTestRedis starts a Redis container and returns a connected client.
func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := Dial(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	require.NoError(t, err)

	cleanup := func() {
		client.Close()
		_ = container.Terminate(ctx)
	}
	return client, cleanup
}

func TestActivityCache_PutAndGet(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewActivityCache(client)
	cache.now = func() int64 { return 1700000000000 }
	ctx := context.Background()

	rec := &domain.ActivityRecord{
		Address:    testAddr,
		Aggregates: map[string]float64{domain.FeatureTotalGasSpent: 0.123456789012345},
	}
	require.NoError(t, cache.Put(ctx, testAddr, rec, true))

	entry, err := cache.Get(ctx, testAddr)
	require.NoError(t, err)
	assert.True(t, entry.Complete)
	assert.Equal(t, int64(1700000000000), entry.FetchedAt)
	assert.Equal(t, rec, entry.Record)

	_, err = cache.Get(ctx, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestActivityCache_FetchedAtStrictlyIncreasing(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewActivityCache(client, WithKeyPrefix("test:"))
	cache.now = func() int64 { return 42 }
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		require.NoError(t, cache.Put(ctx, testAddr, &domain.ActivityRecord{Address: testAddr}, i%2 == 0))
		entry, err := cache.Get(ctx, testAddr)
		require.NoError(t, err)
		assert.Greater(t, entry.FetchedAt, last)
		last = entry.FetchedAt
	}
	assert.Equal(t, int64(44), last)
}

func TestActivityCache_Retention(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	cache := NewActivityCache(client, WithRetention(time.Hour))
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, testAddr, &domain.ActivityRecord{Address: testAddr}, true))

	ttl, err := client.PTTL(ctx, cache.key(testAddr)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)

	assert.ErrorIs(t, cache.Put(ctx, "", &domain.ActivityRecord{}, true), storage.ErrInvalidInput)
}
