package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine is the entry point used by the order workflow. It combines the
// allocator, dispatcher and arbitrage engine and writes line states back to
// the order collaborator.
type Engine struct {
	allocator    *Allocator
	dispatcher   *Dispatcher
	arbitrage    *ArbitrageEngine
	ledger       *ReservationLedger
	reservations allocation.ReservationRepository
	orders       allocation.OrderCollaborator
	logger       *zap.Logger
}

// NewEngine creates a new Engine
func NewEngine(
	allocator *Allocator,
	dispatcher *Dispatcher,
	arbitrage *ArbitrageEngine,
	ledger *ReservationLedger,
	reservations allocation.ReservationRepository,
	orders allocation.OrderCollaborator,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		allocator:    allocator,
		dispatcher:   dispatcher,
		arbitrage:    arbitrage,
		ledger:       ledger,
		reservations: reservations,
		orders:       orders,
		logger:       logger,
	}
}

// Allocate reserves stock for an order line and writes the resulting line state.
func (e *Engine) Allocate(ctx context.Context, req AllocateRequest) (*AllocationResult, error) {
	result, err := e.allocator.Allocate(ctx, req)
	if err != nil {
		return nil, err
	}
	result.LineState = e.syncLineState(ctx, req.OrderLineID, result.Short)
	return result, nil
}

// ReclaimAndRetry moves up to shortQty from orders due after dueDate onto
// the line, then allocates whatever is still short from free stock.
func (e *Engine) ReclaimAndRetry(
	ctx context.Context,
	productID, orderID, orderLineID uuid.UUID,
	shortQty decimal.Decimal,
	dueDate time.Time,
	actor *uuid.UUID,
) (*ReclaimRetryResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "engine", "reclaim_and_retry",
		telemetry.SpanAttrOrderLineID, orderLineID.String())
	defer span.End()

	reclaim, err := e.arbitrage.ReclaimFor(ctx, productID, orderID, orderLineID, shortQty, dueDate, actor)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	alloc := &AllocationResult{
		Reserved:     reclaim.Recovered,
		Short:        shortQty.Sub(reclaim.Recovered),
		Reservations: reclaim.Transferred,
	}
	if alloc.Short.IsPositive() {
		rest, err := e.allocator.Allocate(ctx, AllocateRequest{
			ProductID:   productID,
			OrderID:     orderID,
			OrderLineID: orderLineID,
			Quantity:    alloc.Short,
			Actor:       actor,
		})
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		alloc.Reserved = alloc.Reserved.Add(rest.Reserved)
		alloc.Short = rest.Short
		alloc.Reservations = append(alloc.Reservations, rest.Reservations...)
	}
	alloc.LineState = e.syncLineState(ctx, orderLineID, alloc.Short)
	return &ReclaimRetryResult{Reclaim: reclaim, Allocation: alloc}, nil
}

// DispatchReserved ships an order from its reservations and marks its lines READY.
func (e *Engine) DispatchReserved(ctx context.Context, orderID uuid.UUID) (*DispatchResult, error) {
	result, err := e.dispatcher.DispatchReserved(ctx, orderID)
	if err != nil {
		return nil, err
	}
	e.markReady(ctx, result.LineIDs)
	return result, nil
}

// DispatchDirect ships an order straight from lots and marks its lines READY on success.
func (e *Engine) DispatchDirect(ctx context.Context, orderID uuid.UUID, lines []DirectDispatchLine, actor *uuid.UUID) (*DirectDispatchResult, error) {
	result, err := e.dispatcher.DispatchDirect(ctx, orderID, lines, actor)
	if err != nil {
		return nil, err
	}
	if result.Success {
		ids := make([]uuid.UUID, len(lines))
		for i, l := range lines {
			ids[i] = l.OrderLineID
		}
		e.markReady(ctx, ids)
	}
	return result, nil
}

// ReleaseAllForOrder releases every open reservation of an order, used on
// cancellation. Individual failures are counted and logged; when any occur
// the summary comes back together with ErrPartialRelease.
func (e *Engine) ReleaseAllForOrder(ctx context.Context, orderID uuid.UUID, actor *uuid.UUID) (*ReleaseSummary, error) {
	open, err := e.reservations.FindOpenByOrder(ctx, orderID, false)
	if err != nil {
		return nil, err
	}

	summary := &ReleaseSummary{OrderID: orderID, Quantity: decimal.Zero}
	var lastErr error
	for _, r := range open {
		qty, err := e.ledger.Release(ctx, r.ID, actor, allocation.ReleaseReasonCancelled)
		if err != nil {
			summary.Failures++
			lastErr = err
			continue
		}
		if qty.IsPositive() {
			summary.Released++
			summary.Quantity = summary.Quantity.Add(qty)
		}
	}

	e.logger.Info("Order reservations released",
		zap.String("order_id", orderID.String()),
		zap.Int("released", summary.Released),
		zap.Int("failures", summary.Failures),
	)
	if summary.Failures > 0 {
		return summary, fmt.Errorf("%w: %d of %d reservations of order %s: %w",
			allocation.ErrPartialRelease, summary.Failures, len(open), orderID, lastErr)
	}
	return summary, nil
}

// RescheduleOrder re-reads an order's due date and refreshes the snapshot
// held by its open reservations.
func (e *Engine) RescheduleOrder(ctx context.Context, orderID uuid.UUID) (*RescheduleResult, error) {
	due, err := e.orders.GetOrderDueDate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	n, err := e.reservations.UpdateDueDateForOrder(ctx, orderID, due)
	if err != nil {
		return nil, err
	}
	return &RescheduleResult{OrderID: orderID, DueDate: due, Updated: n}, nil
}

// ListReservations returns every reservation of an order
func (e *Engine) ListReservations(ctx context.Context, orderID uuid.UUID) ([]*allocation.Reservation, error) {
	return e.reservations.FindByOrder(ctx, orderID)
}

// syncLineState derives a line's state from what its reservations now cover
// and the shortfall of the last allocation. Write-back failures are logged:
// the stock movement has already committed.
func (e *Engine) syncLineState(ctx context.Context, orderLineID uuid.UUID, short decimal.Decimal) allocation.LineState {
	covered, err := e.reservations.SumCoveredByLine(ctx, orderLineID)
	if err != nil {
		e.logger.Warn("Failed to sum line coverage",
			zap.String("order_line_id", orderLineID.String()),
			zap.Error(err),
		)
		covered = decimal.Zero
	}

	state := allocation.LineStateFor(covered, short)
	if err := e.orders.SetLineState(ctx, orderLineID, state); err != nil {
		e.logger.Warn("Failed to write line state",
			zap.String("order_line_id", orderLineID.String()),
			zap.String("state", state.String()),
			zap.Error(err),
		)
	}
	return state
}

func (e *Engine) markReady(ctx context.Context, lineIDs []uuid.UUID) {
	for _, id := range lineIDs {
		if err := e.orders.SetLineState(ctx, id, allocation.LineStateReady); err != nil {
			e.logger.Warn("Failed to mark line ready",
				zap.String("order_line_id", id.String()),
				zap.Error(err),
			)
		}
	}
}
