package shared

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact about a lot, reservation, product or order that
// subscribers may react to once the raising transaction has committed.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
}

// EventMeta is embedded by every concrete event. It is serialised with the
// event so a decoded stream payload keeps its identity.
type EventMeta struct {
	ID          uuid.UUID `json:"event_id"`
	Type        string    `json:"event_type"`
	At          time.Time `json:"occurred_at"`
	SubjectID   uuid.UUID `json:"aggregate_id"`
	SubjectType string    `json:"aggregate_type"`
}

// NewEventMeta stamps a new event of the given type about one subject
func NewEventMeta(eventType, subjectType string, subjectID uuid.UUID) EventMeta {
	return EventMeta{
		ID:          uuid.New(),
		Type:        eventType,
		At:          time.Now().UTC(),
		SubjectID:   subjectID,
		SubjectType: subjectType,
	}
}

func (m *EventMeta) EventID() uuid.UUID { return m.ID }
func (m *EventMeta) EventType() string { return m.Type }
func (m *EventMeta) OccurredAt() time.Time { return m.At }
func (m *EventMeta) AggregateID() uuid.UUID { return m.SubjectID }
func (m *EventMeta) AggregateType() string { return m.SubjectType }

// EventHandler reacts to published events
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes lists the types the handler wants; nil means all of them
	EventTypes() []string
}

// EventPublisher is what the allocation services publish through
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus is an EventPublisher that handlers can subscribe to
type EventBus interface {
	EventPublisher
	// Subscribe registers handler for eventTypes, or for its own EventTypes when none are given
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
