package allocation

import (
	"fmt"
	"time"

	"github.com/erp/allocation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateTypeReservation is the aggregate type name used in events
const AggregateTypeReservation = "Reservation"

// ReservationState is the lifecycle state of a reservation
type ReservationState string

const (
	ReservationStateReserved  ReservationState = "RESERVED"
	ReservationStateFulfilled ReservationState = "FULFILLED"
	ReservationStateReleased  ReservationState = "RELEASED"
)

// IsValid reports whether s is a known reservation state
func (s ReservationState) IsValid() bool {
	switch s {
	case ReservationStateReserved, ReservationStateFulfilled, ReservationStateReleased:
		return true
	default:
		return false
	}
}

// ReleaseReason explains why reserved stock went back to its lot
type ReleaseReason string

const (
	ReleaseReasonCancelled ReleaseReason = "CANCELLED"
	ReleaseReasonPreempted ReleaseReason = "PREEMPTED"
	ReleaseReasonManual    ReleaseReason = "MANUAL"
)

// Reservation earmarks part of a lot for an order line.
// The lot quantity is decremented when the reservation is created, so
// fulfilling it is bookkeeping only and releasing it restores the lot.
type Reservation struct {
	shared.Aggregate
	LotID       uuid.UUID
	ProductID   uuid.UUID
	OrderID     uuid.UUID
	OrderLineID uuid.UUID
	// OrderDueDate is a snapshot of the owning order's required-by date
	OrderDueDate time.Time
	// Quantity is the amount currently held (RESERVED), consumed (FULFILLED)
	// or last held before release (RELEASED)
	Quantity         decimal.Decimal
	ReleasedQuantity decimal.Decimal
	State            ReservationState
	// Direct marks the immediately fulfilled record written by direct dispatch
	Direct        bool
	CreatedBy     *uuid.UUID
	ReleasedBy    *uuid.UUID
	ReleasedAt    *time.Time
	ReleaseReason ReleaseReason
	FulfilledAt   *time.Time
}

// NewReservation creates a RESERVED reservation against an eligible lot.
// The caller is responsible for decrementing the lot in the same transaction.
func NewReservation(lot *Lot, orderID, orderLineID uuid.UUID, dueDate time.Time, quantity decimal.Decimal, actor *uuid.UUID) (*Reservation, error) {
	if lot == nil {
		return nil, fmt.Errorf("%w: lot is required", shared.ErrInvalidInput)
	}
	if orderID == uuid.Nil || orderLineID == uuid.Nil {
		return nil, fmt.Errorf("%w: order and order line are required", shared.ErrInvalidInput)
	}
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if !lot.State.IsEligible() {
		return nil, fmt.Errorf("%w: lot %s is %s", ErrLotNotEligible, lot.LotNumber, lot.State)
	}

	r := &Reservation{
		Aggregate:        shared.NewAggregate(),
		LotID:            lot.ID,
		ProductID:        lot.ProductID,
		OrderID:          orderID,
		OrderLineID:      orderLineID,
		OrderDueDate:     dueDate,
		Quantity:         quantity,
		ReleasedQuantity: decimal.Zero,
		State:            ReservationStateReserved,
		CreatedBy:        actor,
	}
	r.Raise(NewReservationCreatedEvent(r))
	return r, nil
}

// NewDirectDispatchRecord creates the FULFILLED record of stock consumed by
// direct dispatch, which bypasses the reservation step.
func NewDirectDispatchRecord(lot *Lot, orderID, orderLineID uuid.UUID, quantity decimal.Decimal, actor *uuid.UUID) (*Reservation, error) {
	r, err := NewReservation(lot, orderID, orderLineID, time.Time{}, quantity, actor)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	r.Direct = true
	r.State = ReservationStateFulfilled
	r.FulfilledAt = &now
	r.ClearEvents()
	return r, nil
}

// IsOpen reports whether the reservation still holds stock
func (r *Reservation) IsOpen() bool {
	return r.State == ReservationStateReserved
}

// Fulfill marks the reservation as shipped
func (r *Reservation) Fulfill() error {
	if !r.IsOpen() {
		return fmt.Errorf("%w: reservation %s is %s", ErrReservationNotFound, r.ID, r.State)
	}
	now := time.Now().UTC()
	r.State = ReservationStateFulfilled
	r.FulfilledAt = &now
	r.Touch()
	r.Raise(NewReservationFulfilledEvent(r))
	return nil
}

// Release terminalises the reservation and returns the quantity to restore
func (r *Reservation) Release(actor *uuid.UUID, reason ReleaseReason) (decimal.Decimal, error) {
	if !r.IsOpen() {
		return decimal.Zero, fmt.Errorf("%w: reservation %s is %s", ErrReservationNotFound, r.ID, r.State)
	}
	return r.Shrink(r.Quantity, actor, reason)
}

// Shrink returns part of the held quantity. Shrinking by the whole quantity
// releases the reservation.
func (r *Reservation) Shrink(amount decimal.Decimal, actor *uuid.UUID, reason ReleaseReason) (decimal.Decimal, error) {
	if !r.IsOpen() {
		return decimal.Zero, fmt.Errorf("%w: reservation %s is %s", ErrReservationNotFound, r.ID, r.State)
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidQuantity
	}
	if amount.GreaterThan(r.Quantity) {
		amount = r.Quantity
	}

	now := time.Now().UTC()
	r.ReleasedQuantity = r.ReleasedQuantity.Add(amount)
	r.ReleasedBy = actor
	r.ReleasedAt = &now
	r.ReleaseReason = reason
	r.Touch()

	if amount.Equal(r.Quantity) {
		r.State = ReservationStateReleased
	} else {
		r.Quantity = r.Quantity.Sub(amount)
	}

	r.Raise(NewReservationReleasedEvent(r, amount))
	return amount, nil
}
