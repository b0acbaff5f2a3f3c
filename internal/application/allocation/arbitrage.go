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

const reclaimLockPrefix = "allocation:reclaim:"

// ArbitrageEngine takes stock back from orders that can wait longer so a
// more urgent order can be served.
type ArbitrageEngine struct {
	serviceBase
	ledger *ReservationLedger
	orders allocation.OrderCollaborator
	locker shared.KeyedLocker
}

// NewArbitrageEngine creates a new ArbitrageEngine. locker may be nil, in
// which case concurrent reclaims of one product are not serialised.
func NewArbitrageEngine(
	txScope TransactionScope,
	ledger *ReservationLedger,
	orders allocation.OrderCollaborator,
	locker shared.KeyedLocker,
	cfg Config,
	logger *zap.Logger,
) *ArbitrageEngine {
	return &ArbitrageEngine{
		serviceBase: newServiceBase(txScope, cfg, logger),
		ledger:      ledger,
		orders:      orders,
		locker:      locker,
	}
}

// Reclaim releases open reservations of the product whose orders are due
// strictly after urgentDueDate, most deferrable first, until needed is
// recovered or candidates run out. Each victim is released in its own
// transaction and only by what is still needed; a failing victim is logged
// and skipped, as is one whose lot is quarantined or withdrawn from sale.
// Victim lines are set to PENDING_PRODUCTION.
func (e *ArbitrageEngine) Reclaim(ctx context.Context, productID uuid.UUID, needed decimal.Decimal, urgentDueDate time.Time, actor *uuid.UUID) (*ReclaimResult, error) {
	return e.reclaim(ctx, productID, needed, urgentDueDate, actor, nil)
}

// ReclaimFor works like Reclaim but hands what each victim gives up straight
// to the urgent order line: the release and the new reservation on the same
// lot commit together. The created reservations are returned in Transferred.
func (e *ArbitrageEngine) ReclaimFor(
	ctx context.Context,
	productID, orderID, orderLineID uuid.UUID,
	needed decimal.Decimal,
	dueDate time.Time,
	actor *uuid.UUID,
) (*ReclaimResult, error) {
	return e.reclaim(ctx, productID, needed, dueDate, actor, &reclaimTarget{
		orderID:     orderID,
		orderLineID: orderLineID,
		dueDate:     dueDate,
	})
}

func (e *ArbitrageEngine) reclaim(
	ctx context.Context,
	productID uuid.UUID,
	needed decimal.Decimal,
	urgentDueDate time.Time,
	actor *uuid.UUID,
	target *reclaimTarget,
) (*ReclaimResult, error) {
	if !needed.IsPositive() {
		return nil, allocation.ErrInvalidQuantity
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "arbitrage", "reclaim",
		telemetry.SpanAttrProductID, productID.String(),
		telemetry.SpanAttrQuantity, needed.String(),
	)
	defer span.End()
	start := time.Now()

	unlock, err := e.acquire(ctx, productID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("Failed to release reclaim lock",
				zap.String("product_id", productID.String()),
				zap.Error(err),
			)
		}
	}()

	candidates, err := e.ledger.FindOpenByProductAfterDate(ctx, productID, urgentDueDate)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	result := &ReclaimResult{Needed: needed, Recovered: decimal.Zero}

	for _, c := range candidates {
		remaining := needed.Sub(result.Recovered)
		if !remaining.IsPositive() {
			break
		}
		if !c.OrderDueDate.After(urgentDueDate) {
			continue
		}

		released, moved, err := e.ledger.preempt(ctx, c.ID, remaining, urgentDueDate, actor, target)
		if err != nil {
			result.Failures++
			e.logger.Warn("Failed to reclaim reservation, skipping",
				zap.String("reservation_id", c.ID.String()),
				zap.String("order_id", c.OrderID.String()),
				zap.Error(err),
			)
			continue
		}
		if !released.IsPositive() {
			continue
		}

		result.Recovered = result.Recovered.Add(released)
		result.Released = append(result.Released, ReclaimedReservation{
			ReservationID: c.ID,
			OrderID:       c.OrderID,
			OrderLineID:   c.OrderLineID,
			LotID:         c.LotID,
			Quantity:      released,
		})
		if moved != nil {
			result.Transferred = append(result.Transferred, moved)
		}

		if err := e.orders.SetLineState(ctx, c.OrderLineID, allocation.LineStatePendingProduction); err != nil {
			e.logger.Warn("Failed to mark victim line for production",
				zap.String("order_line_id", c.OrderLineID.String()),
				zap.Error(err),
			)
		}
	}

	result.Exhausted = result.Recovered.LessThan(needed)

	e.metrics.RecordReclaim(ctx, productID, result.Recovered, result.Failures)
	e.metrics.RecordDuration(ctx, "reclaim", time.Since(start))
	telemetry.SetAttributes(span,
		"recovered", result.Recovered.String(),
		"victims", len(result.Released),
		"exhausted", result.Exhausted,
	)
	e.logger.Info("Reclaim completed",
		zap.String("product_id", productID.String()),
		zap.String("needed", needed.String()),
		zap.String("recovered", result.Recovered.String()),
		zap.Int("victims", len(result.Released)),
		zap.Int("failures", result.Failures),
	)

	if result.Recovered.IsPositive() {
		ids := make([]uuid.UUID, len(result.Released))
		for i, r := range result.Released {
			ids[i] = r.ReservationID
		}
		e.publish(ctx, []shared.DomainEvent{
			allocation.NewStockReclaimedEvent(productID, needed, result.Recovered, ids, result.Exhausted),
		})
	}
	return result, nil
}

// acquire takes the per-product reclaim lock, polling until it is free or
// the lock TTL has elapsed.
func (e *ArbitrageEngine) acquire(ctx context.Context, productID uuid.UUID) (func(context.Context) error, error) {
	if e.locker == nil {
		return func(context.Context) error { return nil }, nil
	}

	key := reclaimLockPrefix + productID.String()
	deadline := time.Now().Add(e.cfg.ReclaimLockTTL)
	for {
		unlock, err := e.locker.TryLock(ctx, key, e.cfg.ReclaimLockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, shared.ErrLockNotAcquired) {
			return nil, fmt.Errorf("acquire reclaim lock: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: reclaim of product %s", shared.ErrLockNotAcquired, productID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.cfg.RetryBackoff):
		}
	}
}
