package allocation

import (
	"context"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FulfillmentPlanner is the order-workflow step that covers a line: stock
// first, then stock reclaimed from less urgent orders, then production.
type FulfillmentPlanner struct {
	engine     *Engine
	orders     allocation.OrderBook
	production allocation.ProductionCollaborator
	cfg        Config
	logger     *zap.Logger
}

// NewFulfillmentPlanner creates a new FulfillmentPlanner. production may be
// nil, in which case short lines are left for the replan worker.
func NewFulfillmentPlanner(
	engine *Engine,
	orders allocation.OrderBook,
	production allocation.ProductionCollaborator,
	cfg Config,
	logger *zap.Logger,
) *FulfillmentPlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FulfillmentPlanner{
		engine:     engine,
		orders:     orders,
		production: production,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// PlanLine covers one order line end to end.
func (p *FulfillmentPlanner) PlanLine(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "planner", "plan_line",
		telemetry.SpanAttrOrderLineID, req.OrderLineID.String())
	defer span.End()

	alloc, err := p.engine.Allocate(ctx, AllocateRequest(req))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	result := &PlanResult{
		Reserved:  alloc.Reserved,
		Reclaimed: decimal.Zero,
		Short:     alloc.Short,
		LineState: alloc.LineState,
	}
	if !result.Short.IsPositive() {
		return result, nil
	}

	dueDate, err := p.orders.GetOrderDueDate(ctx, req.OrderID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if p.cfg.ReclaimEnabled {
		retry, err := p.engine.ReclaimAndRetry(ctx, req.ProductID, req.OrderID, req.OrderLineID, result.Short, dueDate, req.Actor)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		result.Reclaimed = retry.Reclaim.Recovered
		result.Reserved = result.Reserved.Add(retry.Allocation.Reserved)
		result.Short = retry.Allocation.Short
		result.LineState = retry.Allocation.LineState
	}

	if result.Short.IsPositive() && p.production != nil {
		id, err := p.production.RequestProduction(ctx, req.ProductID, result.Short, dueDate)
		if err != nil {
			p.logger.Error("Failed to request production",
				zap.String("product_id", req.ProductID.String()),
				zap.String("quantity", result.Short.String()),
				zap.Error(err),
			)
			telemetry.RecordError(span, err)
			return result, err
		}
		result.ProductionOrderID = &id
	}
	return result, nil
}

// ReplanPending retries allocation for lines that still wait on stock.
// It is driven by the replan scheduler.
func (p *FulfillmentPlanner) ReplanPending(ctx context.Context, limit int) (*ReplanStats, error) {
	stats := &ReplanStats{Reserved: decimal.Zero, ProcessedAt: time.Now().UTC()}

	lines, err := p.orders.FindLinesNeedingStock(ctx, limit)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		stats.Scanned++
		covered, err := p.engine.reservations.SumCoveredByLine(ctx, line.ID)
		if err != nil {
			stats.Failed++
			continue
		}
		missing := line.Quantity.Sub(covered)
		if !missing.IsPositive() {
			continue
		}

		res, err := p.engine.Allocate(ctx, AllocateRequest{
			ProductID:   line.ProductID,
			OrderID:     line.OrderID,
			OrderLineID: line.ID,
			Quantity:    missing,
		})
		if err != nil {
			stats.Failed++
			p.logger.Warn("Replan allocation failed",
				zap.String("order_line_id", line.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if res.Reserved.IsPositive() {
			stats.Improved++
			stats.Reserved = stats.Reserved.Add(res.Reserved)
		}
	}
	return stats, nil
}
