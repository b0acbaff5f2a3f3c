package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotRepository defines the interface for lot persistence
type LotRepository interface {
	// FindByID finds a lot by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Lot, error)

	// FindByIDForUpdate finds a lot and takes a row lock for the rest of the transaction
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*Lot, error)

	// ListEligible returns AVAILABLE lots with positive quantity in the given ordering
	ListEligible(ctx context.Context, productID uuid.UUID, ordering LotOrdering, forUpdate bool) ([]*Lot, error)

	// ListByProduct returns every lot of a product regardless of state
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]*Lot, error)

	// FindExpiring returns AVAILABLE lots whose expiry date is at or before now
	FindExpiring(ctx context.Context, now time.Time, limit int) ([]*Lot, error)

	// Create inserts a new lot
	Create(ctx context.Context, lot *Lot) error

	// SaveWithVersion updates the lot if its stored version still matches.
	// Returns shared.ErrConcurrencyConflict otherwise.
	SaveWithVersion(ctx context.Context, lot *Lot) error
}

// ReservationTotals is the per-state sum of reservation quantities for one lot
type ReservationTotals struct {
	Reserved  decimal.Decimal
	Fulfilled decimal.Decimal
	Released  decimal.Decimal
}

// ReservationRepository defines the interface for reservation persistence
type ReservationRepository interface {
	// FindByID finds a reservation by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// FindByIDForUpdate finds a reservation and takes a row lock
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// Create inserts a new reservation
	Create(ctx context.Context, r *Reservation) error

	// SaveWithVersion updates the reservation with an optimistic version check
	SaveWithVersion(ctx context.Context, r *Reservation) error

	// FindOpenByOrder returns RESERVED reservations of an order
	FindOpenByOrder(ctx context.Context, orderID uuid.UUID, forUpdate bool) ([]*Reservation, error)

	// FindByOrder returns every reservation of an order, including terminal ones
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*Reservation, error)

	// FindOpenByLine returns RESERVED reservations of an order line
	FindOpenByLine(ctx context.Context, orderLineID uuid.UUID) ([]*Reservation, error)

	// FindOpenByProductAfterDate returns RESERVED reservations of a product whose
	// order is due strictly after cutoff, most deferrable first
	FindOpenByProductAfterDate(ctx context.Context, productID uuid.UUID, cutoff time.Time) ([]*Reservation, error)

	// UpdateDueDateForOrder refreshes the due date snapshot on open reservations
	UpdateDueDateForOrder(ctx context.Context, orderID uuid.UUID, dueDate time.Time) (int64, error)

	// SumByLot returns the per-state totals of a lot's reservations
	SumByLot(ctx context.Context, lotID uuid.UUID) (ReservationTotals, error)

	// SumCoveredByLine returns the quantity held or consumed by a line's reservations
	SumCoveredByLine(ctx context.Context, orderLineID uuid.UUID) (decimal.Decimal, error)
}
