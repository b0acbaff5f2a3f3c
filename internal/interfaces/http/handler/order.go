package handler

import (
	"context"
	"errors"
	"time"

	appalloc "github.com/erp/allocation/internal/application/allocation"
	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderHandler exposes the order mirror and the order-wide engine operations
type OrderHandler struct {
	BaseHandler
	engine *appalloc.Engine
	orders allocation.OrderBook
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(engine *appalloc.Engine, orders allocation.OrderBook) *OrderHandler {
	return &OrderHandler{engine: engine, orders: orders}
}

// UpsertOrderRequest is the body of PUT /orders/:id
type UpsertOrderRequest struct {
	DueDate time.Time              `json:"due_date" binding:"required"`
	Lines   []UpsertOrderLineInput `json:"lines" binding:"dive"`
}

// UpsertOrderLineInput is one line of an order
type UpsertOrderLineInput struct {
	ID        uuid.UUID       `json:"id" binding:"required"`
	ProductID uuid.UUID       `json:"product_id" binding:"required"`
	Quantity  decimal.Decimal `json:"quantity" binding:"decimal_gt=0"`
}

// DirectDispatchRequest is the body of POST /orders/:id/dispatch/direct
type DirectDispatchRequest struct {
	Lines []DirectDispatchLineInput `json:"lines" binding:"required,min=1,dive"`
}

// DirectDispatchLineInput is one line shipped straight from lots
type DirectDispatchLineInput struct {
	OrderLineID uuid.UUID       `json:"order_line_id" binding:"required"`
	ProductID   uuid.UUID       `json:"product_id" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"decimal_gt=0"`
}

// OrderResponse is the API view of a mirrored order. Rescheduled counts the
// open reservations whose due date an upsert changed.
type OrderResponse struct {
	ID          uuid.UUID           `json:"id"`
	DueDate     time.Time           `json:"due_date"`
	Lines       []OrderLineResponse `json:"lines"`
	Rescheduled *int64              `json:"rescheduled,omitempty"`
}

// OrderLineResponse is the API view of an order line
type OrderLineResponse struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	State     string          `json:"state"`
}

// DispatchResponse reports a reserved dispatch
type DispatchResponse struct {
	OrderID      uuid.UUID                      `json:"order_id"`
	LineIDs      []uuid.UUID                    `json:"line_ids"`
	Quantity     decimal.Decimal                `json:"quantity"`
	Reservations []appalloc.ReservationResponse `json:"reservations"`
}

// DirectDispatchResponse reports a direct dispatch. On failure nothing was
// consumed and shortfall_by_line names every short line.
type DirectDispatchResponse struct {
	Success         bool                           `json:"success"`
	ShortfallByLine map[uuid.UUID]decimal.Decimal  `json:"shortfall_by_line,omitempty"`
	Records         []appalloc.ReservationResponse `json:"records"`
}

// ReleaseSummaryResponse reports an order-wide release
type ReleaseSummaryResponse struct {
	OrderID  uuid.UUID       `json:"order_id"`
	Released int             `json:"released"`
	Quantity decimal.Decimal `json:"quantity"`
	Failures int             `json:"failures"`
}

// RescheduleResponse reports a due date refresh
type RescheduleResponse struct {
	OrderID uuid.UUID `json:"order_id"`
	DueDate time.Time `json:"due_date"`
	Updated int64     `json:"updated"`
}

func toOrderResponse(o *allocation.Order) OrderResponse {
	lines := make([]OrderLineResponse, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = OrderLineResponse{
			ID:        l.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			State:     l.State.String(),
		}
	}
	return OrderResponse{ID: o.ID, DueDate: o.DueDate, Lines: lines}
}

// UpsertOrder godoc
// @Summary      Create or replace the local copy of a sales order
// @Description  A changed due date is pushed to the order's open reservations.
// @Tags         orders
// @Router       /orders/{id} [put]
func (h *OrderHandler) UpsertOrder(c *gin.Context) {
	orderID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var req UpsertOrderRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()

	previousDue, err := h.orders.GetOrderDueDate(ctx, orderID)
	existed := err == nil
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		h.HandleError(c, err)
		return
	}

	order := &allocation.Order{ID: orderID, DueDate: req.DueDate.UTC()}
	for _, l := range req.Lines {
		order.Lines = append(order.Lines, allocation.OrderLine{
			ID:        l.ID,
			OrderID:   orderID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			State:     allocation.LineStatePendingDeduction,
			DueDate:   order.DueDate,
		})
	}
	if err := h.orders.UpsertOrder(ctx, order); err != nil {
		h.HandleError(c, err)
		return
	}

	saved, err := h.orders.FindOrder(ctx, orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp := toOrderResponse(saved)

	if existed && !previousDue.Equal(order.DueDate) {
		n, err := h.reschedule(ctx, orderID)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		resp.Rescheduled = &n
	}
	h.Success(c, resp)
}

func (h *OrderHandler) reschedule(ctx context.Context, orderID uuid.UUID) (int64, error) {
	result, err := h.engine.RescheduleOrder(ctx, orderID)
	if err != nil {
		logger.L(ctx).Error("Failed to reschedule order reservations",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		return 0, err
	}
	return result.Updated, nil
}

// GetOrder returns a mirrored order with its line states
func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	order, err := h.orders.FindOrder(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toOrderResponse(order))
}

// DispatchReserved godoc
// @Summary      Ship an order from its reservations
// @Description  Every open reservation of the order is fulfilled in one transaction.
// @Tags         orders
// @Router       /orders/{id}/dispatch [post]
func (h *OrderHandler) DispatchReserved(c *gin.Context) {
	orderID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	result, err := h.engine.DispatchReserved(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, DispatchResponse{
		OrderID:      result.OrderID,
		LineIDs:      result.LineIDs,
		Quantity:     result.Quantity,
		Reservations: appalloc.ToReservationResponses(result.Reservations),
	})
}

// DispatchDirect godoc
// @Summary      Ship an order straight from lots without reservations
// @Description  All or nothing: a short line leaves every lot untouched.
// @Tags         orders
// @Router       /orders/{id}/dispatch/direct [post]
func (h *OrderHandler) DispatchDirect(c *gin.Context) {
	orderID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var req DirectDispatchRequest
	if !h.BindJSON(c, &req) {
		return
	}
	actor, ok := h.actorID(c)
	if !ok {
		return
	}

	lines := make([]appalloc.DirectDispatchLine, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = appalloc.DirectDispatchLine(l)
	}
	result, err := h.engine.DispatchDirect(c.Request.Context(), orderID, lines, actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, DirectDispatchResponse{
		Success:         result.Success,
		ShortfallByLine: result.ShortfallByLine,
		Records:         appalloc.ToReservationResponses(result.Records),
	})
}

// ReleaseOrder releases every open reservation of a cancelled order
func (h *OrderHandler) ReleaseOrder(c *gin.Context) {
	orderID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	actor, ok := h.actorID(c)
	if !ok {
		return
	}
	summary, err := h.engine.ReleaseAllForOrder(c.Request.Context(), orderID, actor)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ReleaseSummaryResponse(*summary))
}

// RescheduleOrder re-reads the order's due date into its open reservations
func (h *OrderHandler) RescheduleOrder(c *gin.Context) {
	orderID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	result, err := h.engine.RescheduleOrder(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, RescheduleResponse(*result))
}

// ListReservations returns every reservation of an order, open or closed
func (h *OrderHandler) ListReservations(c *gin.Context) {
	orderID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	reservations, err := h.engine.ListReservations(c.Request.Context(), orderID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appalloc.ToReservationResponses(reservations))
}

// RegisterRoutes implements router.RouteRegistrar
func (h *OrderHandler) RegisterRoutes(rg *gin.RouterGroup) {
	orders := rg.Group("/orders")
	orders.PUT("/:id", h.UpsertOrder)
	orders.GET("/:id", h.GetOrder)
	orders.POST("/:id/dispatch", h.DispatchReserved)
	orders.POST("/:id/dispatch/direct", h.DispatchDirect)
	orders.POST("/:id/release", h.ReleaseOrder)
	orders.POST("/:id/reschedule", h.RescheduleOrder)
	orders.GET("/:id/reservations", h.ListReservations)
}
