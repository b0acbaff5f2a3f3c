package event

import (
	"context"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// LogHandler writes one structured line per allocation event. With the otel
// log bridge enabled these lines double as an exported audit trail.
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler creates a new LogHandler
func NewLogHandler(log *zap.Logger) *LogHandler {
	return &LogHandler{logger: log.Named("allocation_events")}
}

// EventTypes returns nil: the handler receives every event
func (h *LogHandler) EventTypes() []string {
	return nil
}

// Handle implements shared.EventHandler
func (h *LogHandler) Handle(ctx context.Context, evt shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", evt.EventType()),
		zap.String("event_id", evt.EventID().String()),
		zap.String("aggregate_type", evt.AggregateType()),
		zap.String("aggregate_id", evt.AggregateID().String()),
	}

	switch e := evt.(type) {
	case *allocation.ReservationCreatedEvent:
		fields = append(fields,
			zap.String("order_id", e.OrderID.String()),
			zap.String("lot_id", e.LotID.String()),
			zap.String("quantity", e.Quantity.String()))
	case *allocation.ReservationReleasedEvent:
		fields = append(fields,
			zap.String("order_id", e.OrderID.String()),
			zap.String("quantity", e.Quantity.String()),
			zap.String("reason", string(e.Reason)))
	case *allocation.StockReclaimedEvent:
		fields = append(fields, zap.String("product_id", e.ProductID.String()))
	case *allocation.LotStateChangedEvent:
		fields = append(fields, zap.String("from", string(e.From)), zap.String("to", string(e.To)))
	}

	logger.WithTraceContext(ctx, h.logger).Info("Allocation event", fields...)
	return nil
}

var _ shared.EventHandler = (*LogHandler)(nil)
