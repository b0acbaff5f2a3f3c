package integration

import (
	"context"
	"testing"
	"time"

	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/cache"
	"github.com/erp/allocation/internal/infrastructure/config"
	"github.com/erp/allocation/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// newRedisConfig starts a Redis container and returns a config pointing at it
func newRedisConfig(t *testing.T) config.RedisConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	return config.RedisConfig{Enabled: true, Host: host, Port: port.Int()}
}

func TestRedisLocker(t *testing.T) {
	cfg := newRedisConfig(t)
	ctx := testutil.ContextWithTimeout(t, time.Minute)

	locker, err := cache.NewLockerFactory(cfg, cache.WithLogger(zap.NewNop()), cache.WithInMemoryFallback(false)).CreateLocker()
	require.NoError(t, err)
	redisLocker, ok := locker.(*cache.RedisLocker)
	require.True(t, ok, "factory should pick Redis when it is reachable")
	t.Cleanup(func() { _ = redisLocker.Close() })

	// a second client stands in for another replica
	other, err := cache.NewRedisLocker(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })

	t.Run("a held key cannot be taken by another replica", func(t *testing.T) {
		unlock, err := redisLocker.TryLock(ctx, "reclaim:product-1", 5*time.Second)
		require.NoError(t, err)

		_, err = other.TryLock(ctx, "reclaim:product-1", 5*time.Second)
		assert.ErrorIs(t, err, shared.ErrLockNotAcquired)

		require.NoError(t, unlock(ctx))
		unlockOther, err := other.TryLock(ctx, "reclaim:product-1", 5*time.Second)
		require.NoError(t, err)
		require.NoError(t, unlockOther(ctx))
	})

	t.Run("an expired holder cannot release the new owner's lock", func(t *testing.T) {
		staleUnlock, err := redisLocker.TryLock(ctx, "reclaim:product-2", 100*time.Millisecond)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			unlock, err := other.TryLock(ctx, "reclaim:product-2", 5*time.Second)
			if err != nil {
				return false
			}
			t.Cleanup(func() { _ = unlock(context.Background()) })
			return true
		}, 2*time.Second, 20*time.Millisecond)

		require.NoError(t, staleUnlock(ctx))

		_, err = redisLocker.TryLock(ctx, "reclaim:product-2", time.Second)
		assert.ErrorIs(t, err, shared.ErrLockNotAcquired)
	})
}

func TestLockerFactoryWithoutFallbackFailsWhenRedisIsDown(t *testing.T) {
	cfg := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

	_, err := cache.NewLockerFactory(cfg, cache.WithInMemoryFallback(false)).CreateLocker()
	assert.Error(t, err)

	locker, err := cache.NewLockerFactory(cfg).CreateLocker()
	require.NoError(t, err)
	assert.IsType(t, &cache.InMemoryLocker{}, locker)
}
