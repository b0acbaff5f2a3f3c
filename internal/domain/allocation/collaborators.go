package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderCollaborator is the engine's view of the sales order system
type OrderCollaborator interface {
	// GetOrderDueDate returns the required-by date of an order
	GetOrderDueDate(ctx context.Context, orderID uuid.UUID) (time.Time, error)

	// SetLineState writes the fulfillment state back to an order line
	SetLineState(ctx context.Context, orderLineID uuid.UUID, state LineState) error
}

// ProductionCollaborator accepts requests to manufacture missing stock
type ProductionCollaborator interface {
	RequestProduction(ctx context.Context, productID uuid.UUID, quantity decimal.Decimal, dueDate time.Time) (uuid.UUID, error)
}

// OrderLine is the locally mirrored copy of a sales order line
type OrderLine struct {
	ID        uuid.UUID
	OrderID   uuid.UUID
	ProductID uuid.UUID
	Quantity  decimal.Decimal
	State     LineState
	DueDate   time.Time
}

// Order is the locally mirrored copy of a sales order
type Order struct {
	ID      uuid.UUID
	DueDate time.Time
	Lines   []OrderLine
}

// OrderBook stores the order mirror and serves the replan worker.
// Implementations also satisfy OrderCollaborator.
type OrderBook interface {
	OrderCollaborator

	// UpsertOrder creates or replaces an order and its lines
	UpsertOrder(ctx context.Context, order *Order) error

	// FindOrder returns a mirrored order with its lines
	FindOrder(ctx context.Context, orderID uuid.UUID) (*Order, error)

	// FindLinesNeedingStock returns lines in PARTIAL or PENDING_PRODUCTION,
	// earliest due date first
	FindLinesNeedingStock(ctx context.Context, limit int) ([]OrderLine, error)
}
