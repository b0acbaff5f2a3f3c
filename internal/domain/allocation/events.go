package allocation

import (
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Allocation event type constants
const (
	EventTypeLotExhausted         = "LotExhausted"
	EventTypeLotStateChanged      = "LotStateChanged"
	EventTypeReservationCreated   = "ReservationCreated"
	EventTypeReservationFulfilled = "ReservationFulfilled"
	EventTypeReservationReleased  = "ReservationReleased"

	// EventTypeStockReclaimed is raised once per reclaim pass that recovered stock
	EventTypeStockReclaimed = "StockReclaimed"

	// EventTypeOrderDispatched is raised after an order's lines are marked READY
	EventTypeOrderDispatched = "OrderDispatched"
)

// LotExhaustedEvent is raised when a lot's current quantity reaches zero
type LotExhaustedEvent struct {
	shared.EventMeta
	ProductID uuid.UUID `json:"product_id"`
	LotNumber string    `json:"lot_number"`
}

// NewLotExhaustedEvent creates a new LotExhaustedEvent
func NewLotExhaustedEvent(l *Lot) *LotExhaustedEvent {
	return &LotExhaustedEvent{
		EventMeta: shared.NewEventMeta(EventTypeLotExhausted, AggregateTypeLot, l.ID),
		ProductID: l.ProductID,
		LotNumber: l.LotNumber,
	}
}

// LotStateChangedEvent is raised on every lot state transition
type LotStateChangedEvent struct {
	shared.EventMeta
	ProductID uuid.UUID `json:"product_id"`
	LotNumber string    `json:"lot_number"`
	From      LotState  `json:"from"`
	To        LotState  `json:"to"`
	Reason    string    `json:"reason"`
}

// NewLotStateChangedEvent creates a new LotStateChangedEvent
func NewLotStateChangedEvent(l *Lot, from, to LotState, reason string) *LotStateChangedEvent {
	return &LotStateChangedEvent{
		EventMeta: shared.NewEventMeta(EventTypeLotStateChanged, AggregateTypeLot, l.ID),
		ProductID: l.ProductID,
		LotNumber: l.LotNumber,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// ReservationCreatedEvent is raised when stock is earmarked for an order line
type ReservationCreatedEvent struct {
	shared.EventMeta
	LotID       uuid.UUID       `json:"lot_id"`
	ProductID   uuid.UUID       `json:"product_id"`
	OrderID     uuid.UUID       `json:"order_id"`
	OrderLineID uuid.UUID       `json:"order_line_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// NewReservationCreatedEvent creates a new ReservationCreatedEvent
func NewReservationCreatedEvent(r *Reservation) *ReservationCreatedEvent {
	return &ReservationCreatedEvent{
		EventMeta:   shared.NewEventMeta(EventTypeReservationCreated, AggregateTypeReservation, r.ID),
		LotID:       r.LotID,
		ProductID:   r.ProductID,
		OrderID:     r.OrderID,
		OrderLineID: r.OrderLineID,
		Quantity:    r.Quantity,
	}
}

// ReservationFulfilledEvent is raised when a reservation is shipped
type ReservationFulfilledEvent struct {
	shared.EventMeta
	LotID       uuid.UUID       `json:"lot_id"`
	OrderID     uuid.UUID       `json:"order_id"`
	OrderLineID uuid.UUID       `json:"order_line_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// NewReservationFulfilledEvent creates a new ReservationFulfilledEvent
func NewReservationFulfilledEvent(r *Reservation) *ReservationFulfilledEvent {
	return &ReservationFulfilledEvent{
		EventMeta:   shared.NewEventMeta(EventTypeReservationFulfilled, AggregateTypeReservation, r.ID),
		LotID:       r.LotID,
		OrderID:     r.OrderID,
		OrderLineID: r.OrderLineID,
		Quantity:    r.Quantity,
	}
}

// ReservationReleasedEvent is raised when reserved stock goes back to its lot.
// Partial is true when the reservation stays open with a smaller quantity.
type ReservationReleasedEvent struct {
	shared.EventMeta
	LotID       uuid.UUID       `json:"lot_id"`
	OrderID     uuid.UUID       `json:"order_id"`
	OrderLineID uuid.UUID       `json:"order_line_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      ReleaseReason   `json:"reason"`
	Partial     bool            `json:"partial"`
}

// NewReservationReleasedEvent creates a new ReservationReleasedEvent
func NewReservationReleasedEvent(r *Reservation, released decimal.Decimal) *ReservationReleasedEvent {
	return &ReservationReleasedEvent{
		EventMeta:   shared.NewEventMeta(EventTypeReservationReleased, AggregateTypeReservation, r.ID),
		LotID:       r.LotID,
		OrderID:     r.OrderID,
		OrderLineID: r.OrderLineID,
		Quantity:    released,
		Reason:      r.ReleaseReason,
		Partial:     r.IsOpen(),
	}
}

// StockReclaimedEvent summarises one arbitrage pass
type StockReclaimedEvent struct {
	shared.EventMeta
	ProductID      uuid.UUID       `json:"product_id"`
	Needed         decimal.Decimal `json:"needed"`
	Recovered      decimal.Decimal `json:"recovered"`
	ReservationIDs []uuid.UUID     `json:"reservation_ids"`
	Exhausted      bool            `json:"exhausted"`
}

// NewStockReclaimedEvent creates a new StockReclaimedEvent. The product is the aggregate.
func NewStockReclaimedEvent(productID uuid.UUID, needed, recovered decimal.Decimal, reservationIDs []uuid.UUID, exhausted bool) *StockReclaimedEvent {
	return &StockReclaimedEvent{
		EventMeta:      shared.NewEventMeta(EventTypeStockReclaimed, "Product", productID),
		ProductID:      productID,
		Needed:         needed,
		Recovered:      recovered,
		ReservationIDs: reservationIDs,
		Exhausted:      exhausted,
	}
}

// OrderDispatchedEvent is raised when an order ships
type OrderDispatchedEvent struct {
	shared.EventMeta
	OrderID  uuid.UUID       `json:"order_id"`
	LineIDs  []uuid.UUID     `json:"line_ids"`
	Quantity decimal.Decimal `json:"quantity"`
	Direct   bool            `json:"direct"`
}

// NewOrderDispatchedEvent creates a new OrderDispatchedEvent
func NewOrderDispatchedEvent(orderID uuid.UUID, lineIDs []uuid.UUID, quantity decimal.Decimal, direct bool) *OrderDispatchedEvent {
	return &OrderDispatchedEvent{
		EventMeta: shared.NewEventMeta(EventTypeOrderDispatched, "Order", orderID),
		OrderID:   orderID,
		LineIDs:   lineIDs,
		Quantity:  quantity,
		Direct:    direct,
	}
}
