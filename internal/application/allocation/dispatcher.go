package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// errDirectDispatchShort rolls back a direct dispatch that could not cover every line
var errDirectDispatchShort = errors.New("direct dispatch short")

// Dispatcher ships orders, either from their reservations or straight from lots.
type Dispatcher struct {
	serviceBase
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(txScope TransactionScope, cfg Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{serviceBase: newServiceBase(txScope, cfg, logger)}
}

// DispatchReserved fulfills every open reservation of an order. Each lot is
// re-checked first: its consumed quantity must still cover what its
// reservations claim, otherwise nothing is dispatched.
func (d *Dispatcher) DispatchReserved(ctx context.Context, orderID uuid.UUID) (*DispatchResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "dispatcher", "dispatch_reserved",
		telemetry.SpanAttrOrderID, orderID.String())
	defer span.End()

	var (
		result *DispatchResult
		events []shared.DomainEvent
	)
	err := d.withRetry(ctx, "dispatch_reserved", func(ctx context.Context) error {
		events = events[:0]
		return d.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			open, err := repos.ReservationRepo().FindOpenByOrder(ctx, orderID, true)
			if err != nil {
				return err
			}
			if len(open) == 0 {
				return fmt.Errorf("%w: order %s has no open reservations", allocation.ErrReservationNotFound, orderID)
			}

			checked := make(map[uuid.UUID]bool)
			for _, r := range open {
				if checked[r.LotID] {
					continue
				}
				if err := verifyLotCoversReservations(ctx, repos, r.LotID); err != nil {
					return err
				}
				checked[r.LotID] = true
			}

			res := &DispatchResult{OrderID: orderID, Quantity: decimal.Zero}
			seen := make(map[uuid.UUID]bool)
			for _, r := range open {
				if err := r.Fulfill(); err != nil {
					return err
				}
				if err := repos.ReservationRepo().SaveWithVersion(ctx, r); err != nil {
					return err
				}
				res.Quantity = res.Quantity.Add(r.Quantity)
				res.Reservations = append(res.Reservations, r)
				if !seen[r.OrderLineID] {
					seen[r.OrderLineID] = true
					res.LineIDs = append(res.LineIDs, r.OrderLineID)
				}
				events = drainEvents(events, r)
			}
			events = append(events, allocation.NewOrderDispatchedEvent(orderID, res.LineIDs, res.Quantity, false))
			result = res
			return nil
		})
	})
	d.metrics.RecordDispatch(ctx, "reserved", err == nil)
	if err != nil {
		telemetry.RecordError(span, err)
		d.logger.Error("Failed to dispatch reserved order",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	d.logger.Info("Order dispatched from reservations",
		zap.String("order_id", orderID.String()),
		zap.String("quantity", result.Quantity.String()),
		zap.Int("reservations", len(result.Reservations)),
	)
	d.publish(ctx, events)
	return result, nil
}

// verifyLotCoversReservations locks a lot and checks that initial - current
// is at least what its open and fulfilled reservations claim.
func verifyLotCoversReservations(ctx context.Context, repos TransactionalRepositories, lotID uuid.UUID) error {
	lot, err := repos.LotRepo().FindByIDForUpdate(ctx, lotID)
	if err != nil {
		return err
	}
	totals, err := repos.ReservationRepo().SumByLot(ctx, lotID)
	if err != nil {
		return err
	}
	claimed := totals.Reserved.Add(totals.Fulfilled)
	if lot.ConsumedQuantity().LessThan(claimed) {
		return fmt.Errorf("%w: lot %s consumed %s but reservations claim %s",
			allocation.ErrInconsistentLot, lot.LotNumber, lot.ConsumedQuantity().String(), claimed.String())
	}
	return nil
}

// DispatchDirect consumes stock for every line straight from the lots,
// bypassing reservations. All lines run in one transaction: if any line is
// short the whole dispatch is rolled back and the result lists each
// shortfall with Success false.
func (d *Dispatcher) DispatchDirect(ctx context.Context, orderID uuid.UUID, lines []DirectDispatchLine, actor *uuid.UUID) (*DirectDispatchResult, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: direct dispatch needs at least one line", shared.ErrInvalidInput)
	}
	for _, l := range lines {
		if !l.Quantity.IsPositive() {
			return nil, allocation.ErrInvalidQuantity
		}
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "dispatcher", "dispatch_direct",
		telemetry.SpanAttrOrderID, orderID.String(), "lines", len(lines))
	defer span.End()
	start := time.Now()
	ordering := d.cfg.DirectDispatchOrdering

	var (
		result *DirectDispatchResult
		events []shared.DomainEvent
	)
	err := d.withRetry(ctx, "dispatch_direct", func(ctx context.Context) error {
		events = events[:0]
		result = &DirectDispatchResult{ShortfallByLine: make(map[uuid.UUID]decimal.Decimal)}
		return d.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			total := decimal.Zero
			lineIDs := make([]uuid.UUID, 0, len(lines))
			for _, line := range lines {
				lots, err := repos.LotRepo().ListEligible(ctx, line.ProductID, ordering, true)
				if err != nil {
					return err
				}
				lots = eligibleOnly(lots, ordering)

				remaining := line.Quantity
				for _, lot := range lots {
					if !remaining.IsPositive() {
						break
					}
					take := decimal.Min(remaining, lot.CurrentQuantity)
					rec, err := allocation.NewDirectDispatchRecord(lot, orderID, line.OrderLineID, take, actor)
					if err != nil {
						return err
					}
					if err := lot.Decrement(take); err != nil {
						return err
					}
					if err := repos.LotRepo().SaveWithVersion(ctx, lot); err != nil {
						return err
					}
					if err := repos.ReservationRepo().Create(ctx, rec); err != nil {
						return err
					}
					remaining = remaining.Sub(take)
					result.Records = append(result.Records, rec)
					events = drainEvents(events, lot)
				}
				if remaining.IsPositive() {
					result.ShortfallByLine[line.OrderLineID] = remaining
				}
				total = total.Add(line.Quantity.Sub(remaining))
				lineIDs = append(lineIDs, line.OrderLineID)
			}

			if len(result.ShortfallByLine) > 0 {
				return errDirectDispatchShort
			}
			events = append(events, allocation.NewOrderDispatchedEvent(orderID, lineIDs, total, true))
			return nil
		})
	})

	if errors.Is(err, errDirectDispatchShort) {
		d.metrics.RecordDispatch(ctx, "direct", false)
		telemetry.AddEvent(span, "dispatch_short", "short_lines", len(result.ShortfallByLine))
		d.logger.Warn("Direct dispatch short, rolled back",
			zap.String("order_id", orderID.String()),
			zap.Int("short_lines", len(result.ShortfallByLine)),
		)
		return &DirectDispatchResult{Success: false, ShortfallByLine: result.ShortfallByLine}, nil
	}
	d.metrics.RecordDispatch(ctx, "direct", err == nil)
	if err != nil {
		telemetry.RecordError(span, err)
		d.logger.Error("Failed to dispatch order directly",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	d.metrics.RecordDuration(ctx, "dispatch_direct", time.Since(start))
	result.Success = true
	d.publish(ctx, events)
	return result, nil
}
