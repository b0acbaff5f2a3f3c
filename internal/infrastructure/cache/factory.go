package cache

import (
	"fmt"

	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/config"
	"go.uber.org/zap"
)

// LockerFactory creates the keyed locker used to serialise reclaims
type LockerFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// LockerFactoryOption is a functional option for configuring the factory
type LockerFactoryOption func(*LockerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis degrades to an
// in-process lock. Default is true.
func WithInMemoryFallback(allow bool) LockerFactoryOption {
	return func(f *LockerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewLockerFactory creates a new factory
func NewLockerFactory(cfg config.RedisConfig, opts ...LockerFactoryOption) *LockerFactory {
	f := &LockerFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateLocker returns a Redis locker when Redis is enabled and reachable,
// otherwise an in-memory locker if fallback is allowed.
func (f *LockerFactory) CreateLocker() (shared.KeyedLocker, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory reclaim lock")
		return NewInMemoryLocker(), nil
	}

	locker, err := NewRedisLocker(f.redisConfig)
	if err == nil {
		f.logger.Info("Using Redis reclaim lock", zap.String("addr", f.redisConfig.Addr()))
		return locker, nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for reclaim lock but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory reclaim lock. "+
		"Concurrent reclaims on other replicas are not serialised.",
		zap.Error(err),
	)
	return NewInMemoryLocker(), nil
}
