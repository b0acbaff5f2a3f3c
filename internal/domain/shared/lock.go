package shared

import (
	"context"
	"time"
)

// ErrLockNotAcquired is returned when a keyed lock is held by someone else.
var ErrLockNotAcquired = NewDomainError("LOCK_NOT_ACQUIRED", "Resource is locked by another process")

// KeyedLocker serialises work on a key across goroutines or processes.
type KeyedLocker interface {
	// TryLock acquires the lock for key with the given TTL. The returned unlock
	// function releases it only if it is still owned by the caller.
	// Returns ErrLockNotAcquired when the key is already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context) error, err error)

	Close() error
}
