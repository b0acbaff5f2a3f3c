package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/google/uuid"
)

// Envelope is the wire form of a domain event sent to stream subscribers
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps an event with its full JSON payload
func NewEnvelope(evt shared.DomainEvent) (Envelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	return Envelope{
		ID:            evt.EventID(),
		Type:          evt.EventType(),
		AggregateType: evt.AggregateType(),
		AggregateID:   evt.AggregateID(),
		OccurredAt:    evt.OccurredAt(),
		Payload:       payload,
	}, nil
}

var allocationEventFactories = map[string]func() shared.DomainEvent{
	allocation.EventTypeLotExhausted:         func() shared.DomainEvent { return &allocation.LotExhaustedEvent{} },
	allocation.EventTypeLotStateChanged:      func() shared.DomainEvent { return &allocation.LotStateChangedEvent{} },
	allocation.EventTypeReservationCreated:   func() shared.DomainEvent { return &allocation.ReservationCreatedEvent{} },
	allocation.EventTypeReservationFulfilled: func() shared.DomainEvent { return &allocation.ReservationFulfilledEvent{} },
	allocation.EventTypeReservationReleased:  func() shared.DomainEvent { return &allocation.ReservationReleasedEvent{} },
	allocation.EventTypeStockReclaimed:       func() shared.DomainEvent { return &allocation.StockReclaimedEvent{} },
	allocation.EventTypeOrderDispatched:      func() shared.DomainEvent { return &allocation.OrderDispatchedEvent{} },
}

// AllocationEventTypes lists every event type the engine raises
func AllocationEventTypes() []string {
	types := make([]string, 0, len(allocationEventFactories))
	for t := range allocationEventFactories {
		types = append(types, t)
	}
	return types
}

// Decode rebuilds the typed domain event carried by an envelope
func (e Envelope) Decode() (shared.DomainEvent, error) {
	factory, ok := allocationEventFactories[e.Type]
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", e.Type)
	}
	evt := factory()
	if err := json.Unmarshal(e.Payload, evt); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", e.Type, err)
	}
	return evt, nil
}
