package shared

import (
	"time"

	"github.com/google/uuid"
)

// Aggregate is embedded by lots and reservations. Version is the optimistic
// lock: repositories write only when the stored version still matches and
// bump it afterwards. Events raised by a mutation stay pending until the
// application layer publishes them after commit.
type Aggregate struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int

	events []DomainEvent
}

// NewAggregate starts a fresh aggregate at version 1
func NewAggregate() Aggregate {
	now := time.Now().UTC()
	return Aggregate{ID: uuid.New(), CreatedAt: now, UpdatedAt: now, Version: 1}
}

// Touch records a modification
func (a *Aggregate) Touch() {
	a.UpdatedAt = time.Now().UTC()
}

// Raise queues an event for publication
func (a *Aggregate) Raise(evt DomainEvent) {
	a.events = append(a.events, evt)
}

// Events returns the pending events in the order they were raised
func (a *Aggregate) Events() []DomainEvent {
	return a.events
}

// ClearEvents drops the pending events
func (a *Aggregate) ClearEvents() {
	a.events = nil
}
