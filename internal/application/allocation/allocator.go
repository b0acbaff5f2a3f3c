package allocation

import (
	"context"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Allocator reserves stock for order lines, soonest expiry first.
type Allocator struct {
	serviceBase
	orders allocation.OrderCollaborator
}

// NewAllocator creates a new Allocator
func NewAllocator(txScope TransactionScope, orders allocation.OrderCollaborator, cfg Config, logger *zap.Logger) *Allocator {
	return &Allocator{
		serviceBase: newServiceBase(txScope, cfg, logger),
		orders:      orders,
	}
}

// Allocate walks the eligible lots of the product and reserves from each
// until the request is covered or the lots run out. The walk runs in one
// transaction with every visited lot row locked, so concurrent calls cannot
// over-allocate a lot.
func (a *Allocator) Allocate(ctx context.Context, req AllocateRequest) (*AllocationResult, error) {
	if !req.Quantity.IsPositive() {
		return nil, allocation.ErrInvalidQuantity
	}

	ctx, span := telemetry.StartServiceSpan(ctx, "allocator", "allocate",
		telemetry.SpanAttrProductID, req.ProductID.String(),
		telemetry.SpanAttrOrderLineID, req.OrderLineID.String(),
		telemetry.SpanAttrQuantity, req.Quantity.String(),
	)
	defer span.End()
	start := time.Now()

	dueDate, err := a.orders.GetOrderDueDate(ctx, req.OrderID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var (
		result *AllocationResult
		events []shared.DomainEvent
	)
	err = a.withRetry(ctx, "allocate", func(ctx context.Context) error {
		events = events[:0]
		return a.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			lots, err := repos.LotRepo().ListEligible(ctx, req.ProductID, allocation.LotOrderingExpiry, true)
			if err != nil {
				return err
			}
			lots = eligibleOnly(lots, allocation.LotOrderingExpiry)

			res := &AllocationResult{Reserved: decimal.Zero, Short: req.Quantity}
			// creation times step by a microsecond so reservations made by
			// one call keep their order at database precision
			base := time.Now().UTC().Truncate(time.Microsecond)
			for i, lot := range lots {
				if !res.Short.IsPositive() {
					break
				}
				take := decimal.Min(res.Short, lot.CurrentQuantity)
				r, err := reserveFromLot(ctx, repos, lot, req.OrderID, req.OrderLineID, dueDate, take, req.Actor,
					base.Add(time.Duration(i)*time.Microsecond))
				if err != nil {
					return err
				}
				res.Reserved = res.Reserved.Add(take)
				res.Short = res.Short.Sub(take)
				res.Reservations = append(res.Reservations, r)
				events = drainEvents(events, r, lot)
			}
			result = res
			return nil
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		a.logger.Error("Failed to allocate",
			zap.String("product_id", req.ProductID.String()),
			zap.String("order_line_id", req.OrderLineID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	telemetry.SetAttributes(span, "reserved", result.Reserved.String(), "short", result.Short.String())
	a.metrics.RecordAllocation(ctx, req.ProductID, result.Reserved, result.Short)
	a.metrics.RecordDuration(ctx, "allocate", time.Since(start))
	a.logger.Info("Allocation completed",
		zap.String("product_id", req.ProductID.String()),
		zap.String("order_line_id", req.OrderLineID.String()),
		zap.String("reserved", result.Reserved.String()),
		zap.String("short", result.Short.String()),
		zap.Int("lots", len(result.Reservations)),
	)
	a.publish(ctx, events)
	return result, nil
}
