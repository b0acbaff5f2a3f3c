package handler

import (
	appalloc "github.com/erp/allocation/internal/application/allocation"
	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationHandler exposes single-reservation operations
type ReservationHandler struct {
	BaseHandler
	ledger *appalloc.ReservationLedger
}

// NewReservationHandler creates a new ReservationHandler
func NewReservationHandler(ledger *appalloc.ReservationLedger) *ReservationHandler {
	return &ReservationHandler{ledger: ledger}
}

// ReleaseReservationRequest is the optional body of POST /reservations/:id/release.
// An empty reason means MANUAL.
type ReleaseReservationRequest struct {
	Reason string `json:"reason" binding:"omitempty,oneof=CANCELLED PREEMPTED MANUAL"`
}

// ReleaseResponse reports how much quantity went back to the lot.
// Zero means the reservation was already closed.
type ReleaseResponse struct {
	ReservationID uuid.UUID       `json:"reservation_id"`
	Released      decimal.Decimal `json:"released"`
}

// Release returns a reservation's quantity to its lot. Releasing twice is a no-op.
func (h *ReservationHandler) Release(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var req ReleaseReservationRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}
	actor, ok := h.actorID(c)
	if !ok {
		return
	}

	reason := allocation.ReleaseReasonManual
	if req.Reason != "" {
		reason = allocation.ReleaseReason(req.Reason)
	}
	qty, err := h.ledger.Release(c.Request.Context(), id, actor, reason)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, ReleaseResponse{ReservationID: id, Released: qty})
}

// Fulfill marks a reservation as shipped
func (h *ReservationHandler) Fulfill(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	r, err := h.ledger.Fulfill(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appalloc.ToReservationResponse(r))
}

// RegisterRoutes implements router.RouteRegistrar
func (h *ReservationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	reservations := rg.Group("/reservations")
	reservations.POST("/:id/release", h.Release)
	reservations.POST("/:id/fulfill", h.Fulfill)
}
