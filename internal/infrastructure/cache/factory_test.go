package cache

import (
	"testing"

	"github.com/erp/allocation/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockerFactory(t *testing.T) {
	t.Run("uses in-memory lock when redis is disabled", func(t *testing.T) {
		locker, err := NewLockerFactory(config.RedisConfig{Enabled: false}).CreateLocker()
		require.NoError(t, err)
		assert.IsType(t, &InMemoryLocker{}, locker)
	})

	// Port 1 is never a Redis server, so the connection fails quickly.
	unreachable := config.RedisConfig{Enabled: true, Host: "127.0.0.1", Port: 1}

	t.Run("falls back when redis is unreachable", func(t *testing.T) {
		locker, err := NewLockerFactory(unreachable).CreateLocker()
		require.NoError(t, err)
		assert.IsType(t, &InMemoryLocker{}, locker)
	})

	t.Run("fails when fallback is not allowed", func(t *testing.T) {
		_, err := NewLockerFactory(unreachable, WithInMemoryFallback(false)).CreateLocker()
		assert.Error(t, err)
	})
}
