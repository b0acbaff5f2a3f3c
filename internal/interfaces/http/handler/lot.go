package handler

import (
	"net/http"
	"time"

	appalloc "github.com/erp/allocation/internal/application/allocation"
	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotHandler exposes the lot ledger
type LotHandler struct {
	BaseHandler
	ledger *appalloc.LotLedger
}

// NewLotHandler creates a new LotHandler
func NewLotHandler(ledger *appalloc.LotLedger) *LotHandler {
	return &LotHandler{ledger: ledger}
}

// RegisterLotRequest is the body of POST /lots
type RegisterLotRequest struct {
	ProductID      uuid.UUID       `json:"product_id" binding:"required"`
	LotNumber      string          `json:"lot_number" binding:"required,max=64"`
	Quantity       decimal.Decimal `json:"quantity" binding:"decimal_gt=0"`
	ProductionDate time.Time       `json:"production_date" binding:"required"`
	ExpiryDate     *time.Time      `json:"expiry_date"`
}

// ChangeLotStateRequest is the body of POST /lots/:id/state
type ChangeLotStateRequest struct {
	State string `json:"state" binding:"required"`
}

// LotAuditResponse reports whether a lot's quantity is accounted for
type LotAuditResponse struct {
	Lot         appalloc.LotResponse `json:"lot"`
	Reserved    decimal.Decimal      `json:"reserved"`
	Fulfilled   decimal.Decimal      `json:"fulfilled"`
	Released    decimal.Decimal      `json:"released"`
	Discrepancy decimal.Decimal      `json:"discrepancy"`
	Balanced    bool                 `json:"balanced"`
}

// RegisterLot godoc
// @Summary      Register a finished production lot
// @Tags         lots
// @Router       /lots [post]
func (h *LotHandler) RegisterLot(c *gin.Context) {
	var req RegisterLotRequest
	if !h.BindJSON(c, &req) {
		return
	}

	lot, err := h.ledger.RegisterLot(c.Request.Context(), appalloc.RegisterLotRequest{
		ProductID:      req.ProductID,
		LotNumber:      req.LotNumber,
		Quantity:       req.Quantity,
		ProductionDate: req.ProductionDate,
		ExpiryDate:     req.ExpiryDate,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, appalloc.ToLotResponse(lot))
}

// GetLot godoc
// @Summary      Get a lot
// @Tags         lots
// @Router       /lots/{id} [get]
func (h *LotHandler) GetLot(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	lot, err := h.ledger.GetLot(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appalloc.ToLotResponse(lot))
}

// ListLots returns every lot of a product, in any state
func (h *LotHandler) ListLots(c *gin.Context) {
	productID, ok := h.queryProductID(c)
	if !ok {
		return
	}
	lots, err := h.ledger.ListLots(c.Request.Context(), productID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appalloc.ToLotResponses(lots))
}

// ListEligible returns AVAILABLE lots with stock in allocation order.
// order_by is expiry (default) or creation.
func (h *LotHandler) ListEligible(c *gin.Context) {
	productID, ok := h.queryProductID(c)
	if !ok {
		return
	}
	ordering, err := allocation.ParseLotOrdering(c.DefaultQuery("order_by", "expiry"))
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "order_by must be expiry or creation")
		return
	}

	lots, err := h.ledger.ListEligibleLots(c.Request.Context(), productID, ordering)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appalloc.ToLotResponses(lots))
}

// ChangeState moves a lot to another lifecycle state (quarantine, reject, withdraw, release)
func (h *LotHandler) ChangeState(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	var req ChangeLotStateRequest
	if !h.BindJSON(c, &req) {
		return
	}
	target, err := allocation.ParseLotState(req.State)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	lot, err := h.ledger.ChangeLotState(c.Request.Context(), id, target)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appalloc.ToLotResponse(lot))
}

// Audit checks a lot's quantity conservation
func (h *LotHandler) Audit(c *gin.Context) {
	id, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	audit, err := h.ledger.Audit(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, LotAuditResponse{
		Lot:         appalloc.ToLotResponse(audit.Lot),
		Reserved:    audit.Reserved,
		Fulfilled:   audit.Fulfilled,
		Released:    audit.Released,
		Discrepancy: audit.Discrepancy,
		Balanced:    audit.Balanced,
	})
}

func (h *LotHandler) queryProductID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Query("product_id"))
	if err != nil {
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, "product_id query parameter must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// RegisterRoutes implements router.RouteRegistrar
func (h *LotHandler) RegisterRoutes(rg *gin.RouterGroup) {
	lots := rg.Group("/lots")
	lots.POST("", h.RegisterLot)
	lots.GET("", h.ListLots)
	lots.GET("/eligible", h.ListEligible)
	lots.GET("/:id", h.GetLot)
	lots.POST("/:id/state", h.ChangeState)
	lots.GET("/:id/audit", h.Audit)
}
