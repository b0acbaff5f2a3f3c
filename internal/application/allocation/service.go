package allocation

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// Config holds the engine's tunables.
type Config struct {
	// MaxRetries is how many times an operation is retried after a concurrency conflict
	MaxRetries int
	// RetryBackoff is the base delay between retries; each retry adds jitter
	RetryBackoff time.Duration
	// DirectDispatchOrdering is the lot ordering used by direct dispatch
	DirectDispatchOrdering allocation.LotOrdering
	// ReclaimEnabled lets the planner reclaim stock from less urgent orders
	ReclaimEnabled bool
	// ReclaimLockTTL bounds how long one reclaim may hold the per-product lock
	ReclaimLockTTL time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:             3,
		RetryBackoff:           20 * time.Millisecond,
		DirectDispatchOrdering: allocation.LotOrderingExpiry,
		ReclaimEnabled:         true,
		ReclaimLockTTL:         10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if !c.DirectDispatchOrdering.IsValid() {
		c.DirectDispatchOrdering = d.DirectDispatchOrdering
	}
	if c.ReclaimLockTTL <= 0 {
		c.ReclaimLockTTL = d.ReclaimLockTTL
	}
	return c
}

// serviceBase carries what every allocation service needs: the transaction
// scope, retry policy, logging, event publishing and metrics.
type serviceBase struct {
	txScope   TransactionScope
	cfg       Config
	logger    *zap.Logger
	publisher shared.EventPublisher
	metrics   *telemetry.AllocationMetrics
}

func newServiceBase(txScope TransactionScope, cfg Config, logger *zap.Logger) serviceBase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return serviceBase{
		txScope: txScope,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// SetEventPublisher sets the publisher that receives domain events after commit
func (b *serviceBase) SetEventPublisher(publisher shared.EventPublisher) {
	b.publisher = publisher
}

// SetMetrics sets the business metrics recorder
func (b *serviceBase) SetMetrics(metrics *telemetry.AllocationMetrics) {
	b.metrics = metrics
}

// withRetry runs fn and reruns it while it fails with a concurrency conflict.
// fn must be safe to repeat: every attempt starts a fresh transaction.
func (b *serviceBase) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || !shared.IsConcurrencyConflict(err) || attempt >= b.cfg.MaxRetries {
			return err
		}

		b.metrics.RecordRetry(ctx, op)
		delay := b.cfg.RetryBackoff*time.Duration(attempt+1) + rand.N(b.cfg.RetryBackoff)
		b.logger.Debug("Retrying after concurrency conflict",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// publish sends events collected during a committed transaction.
// Publishing failures are logged and never undo the committed work.
func (b *serviceBase) publish(ctx context.Context, events []shared.DomainEvent) {
	if b.publisher == nil || len(events) == 0 {
		return
	}
	if err := b.publisher.Publish(ctx, events...); err != nil {
		b.logger.Warn("Failed to publish domain events",
			zap.Int("count", len(events)),
			zap.Error(err),
		)
	}
}

type eventSource interface {
	Events() []shared.DomainEvent
	ClearEvents()
}

// drainEvents moves pending events from the aggregates into dst.
func drainEvents(dst []shared.DomainEvent, sources ...eventSource) []shared.DomainEvent {
	for _, s := range sources {
		dst = append(dst, s.Events()...)
		s.ClearEvents()
	}
	return dst
}
