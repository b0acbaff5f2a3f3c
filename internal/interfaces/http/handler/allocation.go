package handler

import (
	"time"

	appalloc "github.com/erp/allocation/internal/application/allocation"
	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationHandler exposes allocation, reclaim and line planning
type AllocationHandler struct {
	BaseHandler
	engine  *appalloc.Engine
	planner *appalloc.FulfillmentPlanner
	orders  allocation.OrderCollaborator
}

// NewAllocationHandler creates a new AllocationHandler
func NewAllocationHandler(engine *appalloc.Engine, planner *appalloc.FulfillmentPlanner, orders allocation.OrderCollaborator) *AllocationHandler {
	return &AllocationHandler{engine: engine, planner: planner, orders: orders}
}

// LineRequest identifies an order line and the quantity it needs
type LineRequest struct {
	ProductID   uuid.UUID       `json:"product_id" binding:"required"`
	OrderID     uuid.UUID       `json:"order_id" binding:"required"`
	OrderLineID uuid.UUID       `json:"order_line_id" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"decimal_gt=0"`
}

// ReclaimRequest is the body of POST /allocations/reclaim. DueDate defaults
// to the order's due date.
type ReclaimRequest struct {
	LineRequest
	DueDate *time.Time `json:"due_date"`
}

// AllocationResponse reports an allocation
type AllocationResponse struct {
	Reserved     decimal.Decimal                `json:"reserved"`
	Short        decimal.Decimal                `json:"short"`
	LineState    string                         `json:"line_state,omitempty"`
	Reservations []appalloc.ReservationResponse `json:"reservations"`
}

// ReclaimedResponse describes stock taken back from one reservation
type ReclaimedResponse struct {
	ReservationID uuid.UUID       `json:"reservation_id"`
	OrderID       uuid.UUID       `json:"order_id"`
	OrderLineID   uuid.UUID       `json:"order_line_id"`
	LotID         uuid.UUID       `json:"lot_id"`
	Quantity      decimal.Decimal `json:"quantity"`
}

// ReclaimResponse reports a reclaim pass and the allocation retried after it
type ReclaimResponse struct {
	Needed     decimal.Decimal     `json:"needed"`
	Recovered  decimal.Decimal     `json:"recovered"`
	Exhausted  bool                `json:"exhausted"`
	Failures   int                 `json:"failures"`
	Released   []ReclaimedResponse `json:"released"`
	Allocation AllocationResponse  `json:"allocation"`
}

// PlanResponse reports how a line was covered
type PlanResponse struct {
	Reserved          decimal.Decimal `json:"reserved"`
	Reclaimed         decimal.Decimal `json:"reclaimed"`
	Short             decimal.Decimal `json:"short"`
	LineState         string          `json:"line_state"`
	ProductionOrderID *uuid.UUID      `json:"production_order_id,omitempty"`
}

func toAllocationResponse(r *appalloc.AllocationResult) AllocationResponse {
	return AllocationResponse{
		Reserved:     r.Reserved,
		Short:        r.Short,
		LineState:    r.LineState.String(),
		Reservations: appalloc.ToReservationResponses(r.Reservations),
	}
}

// Allocate godoc
// @Summary      Reserve stock for an order line from eligible lots, soonest expiry first
// @Tags         allocations
// @Router       /allocations [post]
func (h *AllocationHandler) Allocate(c *gin.Context) {
	var req LineRequest
	if !h.BindJSON(c, &req) {
		return
	}
	actor, ok := h.actorID(c)
	if !ok {
		return
	}

	result, err := h.engine.Allocate(c.Request.Context(), appalloc.AllocateRequest{
		ProductID:   req.ProductID,
		OrderID:     req.OrderID,
		OrderLineID: req.OrderLineID,
		Quantity:    req.Quantity,
		Actor:       actor,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toAllocationResponse(result))
}

// Reclaim godoc
// @Summary      Take stock back from less urgent orders and retry the allocation
// @Tags         allocations
// @Router       /allocations/reclaim [post]
func (h *AllocationHandler) Reclaim(c *gin.Context) {
	var req ReclaimRequest
	if !h.BindJSON(c, &req) {
		return
	}
	actor, ok := h.actorID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var due time.Time
	if req.DueDate != nil {
		due = *req.DueDate
	} else {
		d, err := h.orders.GetOrderDueDate(ctx, req.OrderID)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		due = d
	}

	result, err := h.engine.ReclaimAndRetry(ctx, req.ProductID, req.OrderID, req.OrderLineID, req.Quantity, due, actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	released := make([]ReclaimedResponse, len(result.Reclaim.Released))
	for i, r := range result.Reclaim.Released {
		released[i] = ReclaimedResponse(r)
	}
	h.Success(c, ReclaimResponse{
		Needed:     result.Reclaim.Needed,
		Recovered:  result.Reclaim.Recovered,
		Exhausted:  result.Reclaim.Exhausted,
		Failures:   result.Reclaim.Failures,
		Released:   released,
		Allocation: toAllocationResponse(result.Allocation),
	})
}

// Plan covers a line end to end: stock, then reclaim, then production
func (h *AllocationHandler) Plan(c *gin.Context) {
	var req LineRequest
	if !h.BindJSON(c, &req) {
		return
	}
	actor, ok := h.actorID(c)
	if !ok {
		return
	}

	result, err := h.planner.PlanLine(c.Request.Context(), appalloc.PlanRequest{
		ProductID:   req.ProductID,
		OrderID:     req.OrderID,
		OrderLineID: req.OrderLineID,
		Quantity:    req.Quantity,
		Actor:       actor,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, PlanResponse{
		Reserved:          result.Reserved,
		Reclaimed:         result.Reclaimed,
		Short:             result.Short,
		LineState:         result.LineState.String(),
		ProductionOrderID: result.ProductionOrderID,
	})
}

// RegisterRoutes implements router.RouteRegistrar
func (h *AllocationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	allocations := rg.Group("/allocations")
	allocations.POST("", h.Allocate)
	allocations.POST("/reclaim", h.Reclaim)
	allocations.POST("/plan", h.Plan)
}
