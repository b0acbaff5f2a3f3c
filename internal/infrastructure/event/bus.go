package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/erp/allocation/internal/domain/shared"
	"go.uber.org/zap"
)

// InMemoryEventBus delivers allocation events to in-process subscribers such
// as the websocket stream and the event log. Delivery is synchronous and
// happens after the producing transaction has committed.
//
// Publish reads an immutable snapshot of the subscriptions without locking.
// Subscribe and Unsubscribe swap in a new snapshot, so a handler may call
// either from inside Handle.
type InMemoryEventBus struct {
	mu      sync.Mutex
	subs    atomic.Pointer[[]subscription]
	logger  *zap.Logger
	running atomic.Bool
	dropped atomic.Int64
}

// subscription routes events to one handler. An empty type set means all events.
type subscription struct {
	handler shared.EventHandler
	types   map[string]struct{}
}

func (s subscription) wants(eventType string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &InMemoryEventBus{logger: logger.Named("event_bus")}
	bus.subs.Store(&[]subscription{})
	return bus
}

// Publish hands each event to its handlers in order. A failing handler is
// logged and never stops delivery to the others. Events published while the
// bus is stopped are counted and dropped.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	if !b.running.Load() {
		b.dropped.Add(int64(len(events)))
		return nil
	}
	subs := *b.subs.Load()
	for _, evt := range events {
		for _, sub := range subs {
			if !sub.wants(evt.EventType()) {
				continue
			}
			if err := b.dispatch(ctx, sub.handler, evt); err != nil {
				b.logger.Error("Failed to handle event",
					zap.String("event_type", evt.EventType()),
					zap.String("event_id", evt.EventID().String()),
					zap.String("aggregate_id", evt.AggregateID().String()),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// Subscribe registers a handler. Without explicit types the handler's own
// EventTypes are used. Handlers are called in subscription order.
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	sub := subscription{handler: handler}
	if len(eventTypes) > 0 {
		sub.types = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			sub.types[t] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	current := *b.subs.Load()
	next := make([]subscription, 0, len(current)+1)
	next = append(append(next, current...), sub)
	b.subs.Store(&next)
	b.logger.Debug("Handler subscribed", zap.Strings("event_types", eventTypes))
}

// Unsubscribe removes every subscription of handler
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := *b.subs.Load()
	next := make([]subscription, 0, len(current))
	for _, sub := range current {
		if sub.handler != handler {
			next = append(next, sub)
		}
	}
	b.subs.Store(&next)
}

// Start begins delivering events
func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.running.Store(true)
	b.logger.Info("Event bus started")
	return nil
}

// Stop stops delivery. Publish is synchronous, so nothing is in flight once
// the callers of Publish have returned.
func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.running.Store(false)
	b.logger.Info("Event bus stopped", zap.Int64("dropped_events", b.dropped.Load()))
	return nil
}

// Dropped returns how many events were published while the bus was stopped
func (b *InMemoryEventBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *InMemoryEventBus) dispatch(ctx context.Context, handler shared.EventHandler, evt shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, evt)
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
