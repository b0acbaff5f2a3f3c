package allocation

import (
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RegisterLotRequest describes a lot coming off the production line
type RegisterLotRequest struct {
	ProductID      uuid.UUID
	LotNumber      string
	Quantity       decimal.Decimal
	ProductionDate time.Time
	ExpiryDate     *time.Time
}

// CreateReservationRequest reserves quantity from one specific lot
type CreateReservationRequest struct {
	LotID       uuid.UUID
	OrderID     uuid.UUID
	OrderLineID uuid.UUID
	Quantity    decimal.Decimal
	Actor       *uuid.UUID
}

// AllocateRequest asks for quantity of a product for an order line
type AllocateRequest struct {
	ProductID   uuid.UUID
	OrderID     uuid.UUID
	OrderLineID uuid.UUID
	Quantity    decimal.Decimal
	Actor       *uuid.UUID
}

// AllocationResult reports how much of a request was reserved.
// Reserved + Short always equals the requested quantity.
type AllocationResult struct {
	Reserved     decimal.Decimal
	Short        decimal.Decimal
	Reservations []*allocation.Reservation
	// LineState is the state written back to the order line, empty when
	// produced by the Allocator directly
	LineState allocation.LineState
}

// FullySatisfied reports whether nothing is short
func (r *AllocationResult) FullySatisfied() bool {
	return !r.Short.IsPositive()
}

// ReclaimedReservation describes stock taken back from one victim reservation
type ReclaimedReservation struct {
	ReservationID uuid.UUID
	OrderID       uuid.UUID
	OrderLineID   uuid.UUID
	LotID         uuid.UUID
	Quantity      decimal.Decimal
}

// ReclaimResult reports an arbitrage pass. Exhausted means the candidates
// could not cover the needed quantity; it is an outcome, not an error.
type ReclaimResult struct {
	Needed    decimal.Decimal
	Recovered decimal.Decimal
	Released  []ReclaimedReservation
	// Transferred holds the reservations created for the urgent line when
	// the pass hands stock over directly
	Transferred []*allocation.Reservation
	Failures    int
	Exhausted   bool
}

// ReclaimRetryResult combines a reclaim pass with the allocation retried after it
type ReclaimRetryResult struct {
	Reclaim    *ReclaimResult
	Allocation *AllocationResult
}

// DispatchResult reports a reserved dispatch
type DispatchResult struct {
	OrderID      uuid.UUID
	LineIDs      []uuid.UUID
	Quantity     decimal.Decimal
	Reservations []*allocation.Reservation
}

// DirectDispatchLine is one line of a direct dispatch
type DirectDispatchLine struct {
	OrderLineID uuid.UUID
	ProductID   uuid.UUID
	Quantity    decimal.Decimal
}

// DirectDispatchResult reports a direct dispatch. When Success is false
// nothing was consumed and ShortfallByLine holds the uncovered quantity of
// every short line.
type DirectDispatchResult struct {
	Success         bool
	ShortfallByLine map[uuid.UUID]decimal.Decimal
	Records         []*allocation.Reservation
}

// ReleaseSummary reports an order-wide release
type ReleaseSummary struct {
	OrderID  uuid.UUID
	Released int
	Quantity decimal.Decimal
	Failures int
}

// RescheduleResult reports a due date refresh
type RescheduleResult struct {
	OrderID uuid.UUID
	DueDate time.Time
	Updated int64
}

// LotAudit is a conservation report for one lot
type LotAudit struct {
	Lot         *allocation.Lot
	Reserved    decimal.Decimal
	Fulfilled   decimal.Decimal
	Released    decimal.Decimal
	Discrepancy decimal.Decimal
	Balanced    bool
}

// PlanRequest asks the planner to cover an order line end to end
type PlanRequest struct {
	ProductID   uuid.UUID
	OrderID     uuid.UUID
	OrderLineID uuid.UUID
	Quantity    decimal.Decimal
	Actor       *uuid.UUID
}

// PlanResult reports how a line was covered
type PlanResult struct {
	Reserved          decimal.Decimal
	Reclaimed         decimal.Decimal
	Short             decimal.Decimal
	LineState         allocation.LineState
	ProductionOrderID *uuid.UUID
}

// ReplanStats reports one pass of the replan worker
type ReplanStats struct {
	Scanned     int
	Improved    int
	Failed      int
	Reserved    decimal.Decimal
	ProcessedAt time.Time
}

// LotResponse is the API view of a lot
type LotResponse struct {
	ID              uuid.UUID       `json:"id"`
	ProductID       uuid.UUID       `json:"product_id"`
	LotNumber       string          `json:"lot_number"`
	InitialQuantity decimal.Decimal `json:"initial_quantity"`
	CurrentQuantity decimal.Decimal `json:"current_quantity"`
	State           string          `json:"state"`
	ProductionDate  time.Time       `json:"production_date"`
	ExpiryDate      *time.Time      `json:"expiry_date,omitempty"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ToLotResponse converts a domain lot to a response
func ToLotResponse(l *allocation.Lot) LotResponse {
	return LotResponse{
		ID:              l.ID,
		ProductID:       l.ProductID,
		LotNumber:       l.LotNumber,
		InitialQuantity: l.InitialQuantity,
		CurrentQuantity: l.CurrentQuantity,
		State:           l.State.String(),
		ProductionDate:  l.ProductionDate,
		ExpiryDate:      l.ExpiryDate,
		Version:         l.Version,
		CreatedAt:       l.CreatedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

// ToLotResponses converts a slice of lots
func ToLotResponses(lots []*allocation.Lot) []LotResponse {
	out := make([]LotResponse, len(lots))
	for i, l := range lots {
		out[i] = ToLotResponse(l)
	}
	return out
}

// ReservationResponse is the API view of a reservation
type ReservationResponse struct {
	ID               uuid.UUID       `json:"id"`
	LotID            uuid.UUID       `json:"lot_id"`
	ProductID        uuid.UUID       `json:"product_id"`
	OrderID          uuid.UUID       `json:"order_id"`
	OrderLineID      uuid.UUID       `json:"order_line_id"`
	OrderDueDate     time.Time       `json:"order_due_date"`
	Quantity         decimal.Decimal `json:"quantity"`
	ReleasedQuantity decimal.Decimal `json:"released_quantity"`
	State            string          `json:"state"`
	Direct           bool            `json:"direct"`
	ReleaseReason    string          `json:"release_reason,omitempty"`
	ReleasedAt       *time.Time      `json:"released_at,omitempty"`
	FulfilledAt      *time.Time      `json:"fulfilled_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// ToReservationResponse converts a domain reservation to a response
func ToReservationResponse(r *allocation.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:               r.ID,
		LotID:            r.LotID,
		ProductID:        r.ProductID,
		OrderID:          r.OrderID,
		OrderLineID:      r.OrderLineID,
		OrderDueDate:     r.OrderDueDate,
		Quantity:         r.Quantity,
		ReleasedQuantity: r.ReleasedQuantity,
		State:            string(r.State),
		Direct:           r.Direct,
		ReleaseReason:    string(r.ReleaseReason),
		ReleasedAt:       r.ReleasedAt,
		FulfilledAt:      r.FulfilledAt,
		CreatedAt:        r.CreatedAt,
	}
}

// ToReservationResponses converts a slice of reservations
func ToReservationResponses(rs []*allocation.Reservation) []ReservationResponse {
	out := make([]ReservationResponse, len(rs))
	for i, r := range rs {
		out[i] = ToReservationResponse(r)
	}
	return out
}
