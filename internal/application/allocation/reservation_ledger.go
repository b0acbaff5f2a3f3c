package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReservationLedger creates, fulfills and releases reservations. Every
// change to a reservation and its lot happens in one transaction.
type ReservationLedger struct {
	serviceBase
	reservations allocation.ReservationRepository
	orders       allocation.OrderCollaborator
}

// NewReservationLedger creates a new ReservationLedger
func NewReservationLedger(
	txScope TransactionScope,
	reservations allocation.ReservationRepository,
	orders allocation.OrderCollaborator,
	cfg Config,
	logger *zap.Logger,
) *ReservationLedger {
	return &ReservationLedger{
		serviceBase:  newServiceBase(txScope, cfg, logger),
		reservations: reservations,
		orders:       orders,
	}
}

// Create reserves quantity from one lot for an order line
func (s *ReservationLedger) Create(ctx context.Context, req CreateReservationRequest) (*allocation.Reservation, error) {
	if !req.Quantity.IsPositive() {
		return nil, allocation.ErrInvalidQuantity
	}
	dueDate, err := s.orders.GetOrderDueDate(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	var (
		created *allocation.Reservation
		events  []shared.DomainEvent
	)
	err = s.withRetry(ctx, "reservation_create", func(ctx context.Context) error {
		events = events[:0]
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			lot, err := repos.LotRepo().FindByIDForUpdate(ctx, req.LotID)
			if err != nil {
				return err
			}
			r, err := reserveFromLot(ctx, repos, lot, req.OrderID, req.OrderLineID, dueDate, req.Quantity, req.Actor, time.Time{})
			if err != nil {
				return err
			}
			events = drainEvents(events, r, lot)
			created = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return created, nil
}

// reserveFromLot creates a reservation and decrements its lot inside an open
// transaction. A non-zero createdAt overrides the reservation's creation time.
func reserveFromLot(
	ctx context.Context,
	repos TransactionalRepositories,
	lot *allocation.Lot,
	orderID, orderLineID uuid.UUID,
	dueDate time.Time,
	qty decimal.Decimal,
	actor *uuid.UUID,
	createdAt time.Time,
) (*allocation.Reservation, error) {
	// the reservation must be built while the lot is still eligible
	r, err := allocation.NewReservation(lot, orderID, orderLineID, dueDate, qty, actor)
	if err != nil {
		return nil, err
	}
	if !createdAt.IsZero() {
		r.CreatedAt = createdAt
		r.UpdatedAt = createdAt
	}
	if err := lot.Decrement(qty); err != nil {
		return nil, err
	}
	if err := repos.LotRepo().SaveWithVersion(ctx, lot); err != nil {
		return nil, err
	}
	if err := repos.ReservationRepo().Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Fulfill marks a reservation as shipped. Missing or terminal reservations
// are an error.
func (s *ReservationLedger) Fulfill(ctx context.Context, reservationID uuid.UUID) (*allocation.Reservation, error) {
	var (
		result *allocation.Reservation
		events []shared.DomainEvent
	)
	err := s.withRetry(ctx, "reservation_fulfill", func(ctx context.Context) error {
		events = events[:0]
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			r, err := repos.ReservationRepo().FindByIDForUpdate(ctx, reservationID)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					return allocation.ErrReservationNotFound
				}
				return err
			}
			if err := r.Fulfill(); err != nil {
				return err
			}
			if err := repos.ReservationRepo().SaveWithVersion(ctx, r); err != nil {
				return err
			}
			events = drainEvents(events, r)
			result = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events)
	return result, nil
}

// Release returns a reservation's quantity to its lot. Releasing a missing
// or already terminal reservation succeeds and returns zero.
func (s *ReservationLedger) Release(ctx context.Context, reservationID uuid.UUID, actor *uuid.UUID, reason allocation.ReleaseReason) (decimal.Decimal, error) {
	return s.shrink(ctx, reservationID, nil, actor, reason)
}

// ReleasePartial returns up to amount of a reservation's quantity to its lot.
// The reservation stays open while it still holds stock.
func (s *ReservationLedger) ReleasePartial(ctx context.Context, reservationID uuid.UUID, amount decimal.Decimal, actor *uuid.UUID, reason allocation.ReleaseReason) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, allocation.ErrInvalidQuantity
	}
	return s.shrink(ctx, reservationID, &amount, actor, reason)
}

// shrink releases amount (nil for all) of an open reservation
func (s *ReservationLedger) shrink(
	ctx context.Context,
	reservationID uuid.UUID,
	amount *decimal.Decimal,
	actor *uuid.UUID,
	reason allocation.ReleaseReason,
) (decimal.Decimal, error) {
	var (
		released decimal.Decimal
		events   []shared.DomainEvent
	)
	err := s.withRetry(ctx, "reservation_release", func(ctx context.Context) error {
		released = decimal.Zero
		events = events[:0]
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			r, err := repos.ReservationRepo().FindByIDForUpdate(ctx, reservationID)
			if errors.Is(err, shared.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !r.IsOpen() {
				return nil
			}

			lot, err := repos.LotRepo().FindByIDForUpdate(ctx, r.LotID)
			if err != nil {
				return err
			}

			qty := r.Quantity
			if amount != nil {
				qty = *amount
			}
			got, err := r.Shrink(qty, actor, reason)
			if err != nil {
				return err
			}
			if err := lot.Restore(got); err != nil {
				return err
			}
			if err := repos.ReservationRepo().SaveWithVersion(ctx, r); err != nil {
				return err
			}
			if err := repos.LotRepo().SaveWithVersion(ctx, lot); err != nil {
				return err
			}

			released = got
			events = drainEvents(events, r, lot)
			return nil
		})
	})
	if err != nil {
		s.logger.Warn("Failed to release reservation",
			zap.String("reservation_id", reservationID.String()),
			zap.Error(err),
		)
		return decimal.Zero, err
	}

	s.publish(ctx, events)
	return released, nil
}

// reclaimTarget is the order line that receives preempted stock
type reclaimTarget struct {
	orderID     uuid.UUID
	orderLineID uuid.UUID
	dueDate     time.Time
}

// preempt takes up to amount from an open victim reservation whose order is
// due strictly after cutoff. With a target the taken quantity is reserved for
// it on the same lot in the same transaction, so the stock never becomes
// free. Victims that are no longer open or deferrable, and victims on lots in
// a state that cannot hand stock out, are left alone and yield zero.
func (s *ReservationLedger) preempt(
	ctx context.Context,
	victimID uuid.UUID,
	amount decimal.Decimal,
	cutoff time.Time,
	actor *uuid.UUID,
	target *reclaimTarget,
) (decimal.Decimal, *allocation.Reservation, error) {
	var (
		taken  decimal.Decimal
		moved  *allocation.Reservation
		events []shared.DomainEvent
	)
	err := s.withRetry(ctx, "reservation_preempt", func(ctx context.Context) error {
		taken, moved = decimal.Zero, nil
		events = events[:0]
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			r, err := repos.ReservationRepo().FindByIDForUpdate(ctx, victimID)
			if errors.Is(err, shared.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !r.IsOpen() || !r.OrderDueDate.After(cutoff) {
				return nil
			}

			lot, err := repos.LotRepo().FindByIDForUpdate(ctx, r.LotID)
			if err != nil {
				return err
			}
			if !lot.State.IsReclaimable() {
				return nil
			}

			got, err := r.Shrink(amount, actor, allocation.ReleaseReasonPreempted)
			if err != nil {
				return err
			}
			if err := lot.Restore(got); err != nil {
				return err
			}
			if err := repos.ReservationRepo().SaveWithVersion(ctx, r); err != nil {
				return err
			}

			if target == nil {
				if err := repos.LotRepo().SaveWithVersion(ctx, lot); err != nil {
					return err
				}
			} else {
				moved, err = reserveFromLot(ctx, repos, lot, target.orderID, target.orderLineID, target.dueDate, got, actor, time.Time{})
				if err != nil {
					return err
				}
			}

			taken = got
			events = drainEvents(events, r, lot)
			if moved != nil {
				events = drainEvents(events, moved)
			}
			return nil
		})
	})
	if err != nil {
		return decimal.Zero, nil, err
	}

	s.publish(ctx, events)
	return taken, moved, nil
}

// FindOpenByProductAfterDate returns open reservations of a product whose
// order is due strictly after cutoff, most deferrable first.
func (s *ReservationLedger) FindOpenByProductAfterDate(ctx context.Context, productID uuid.UUID, cutoff time.Time) ([]*allocation.Reservation, error) {
	candidates, err := s.reservations.FindOpenByProductAfterDate(ctx, productID, cutoff)
	if err != nil {
		return nil, err
	}
	allocation.SortReclaimCandidates(candidates)
	return candidates, nil
}
