package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/allocation/internal/domain/shared"
)

type heldLock struct {
	owner     uint64
	expiresAt time.Time
}

// InMemoryLocker implements shared.KeyedLocker inside one process.
// Suitable for single-instance deployments and tests.
type InMemoryLocker struct {
	mu    sync.Mutex
	locks map[string]heldLock
	next  uint64
	now   func() time.Time
}

// NewInMemoryLocker creates an empty in-process locker
func NewInMemoryLocker() *InMemoryLocker {
	return &InMemoryLocker{
		locks: make(map[string]heldLock),
		now:   time.Now,
	}
}

// TryLock implements shared.KeyedLocker. An expired holder is replaced.
func (l *InMemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.locks[key]; ok && now.Before(held.expiresAt) {
		return nil, shared.ErrLockNotAcquired
	}
	l.next++
	owner := l.next
	l.locks[key] = heldLock{owner: owner, expiresAt: now.Add(ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.locks[key]; ok && held.owner == owner {
			delete(l.locks, key)
		}
		return nil
	}, nil
}

// Close drops every held lock
func (l *InMemoryLocker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks = make(map[string]heldLock)
	return nil
}

var _ shared.KeyedLocker = (*InMemoryLocker)(nil)
