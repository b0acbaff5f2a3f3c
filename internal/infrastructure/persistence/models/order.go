package models

import (
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SalesOrderModel is the local mirror of a sales order header.
type SalesOrderModel struct {
	BaseModel
	DueDate time.Time             `gorm:"not null;index"`
	Lines   []SalesOrderLineModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName returns the table name for GORM
func (SalesOrderModel) TableName() string {
	return "sales_orders"
}

// ToDomain converts the persistence model to a domain Order
func (m *SalesOrderModel) ToDomain() *allocation.Order {
	o := &allocation.Order{
		ID:      m.ID,
		DueDate: m.DueDate,
		Lines:   make([]allocation.OrderLine, len(m.Lines)),
	}
	for i := range m.Lines {
		o.Lines[i] = m.Lines[i].ToDomain(m.DueDate)
	}
	return o
}

// SalesOrderModelFromDomain creates a persistence model from a domain Order.
func SalesOrderModelFromDomain(o *allocation.Order, now time.Time) *SalesOrderModel {
	m := &SalesOrderModel{
		BaseModel: BaseModel{ID: o.ID, CreatedAt: now, UpdatedAt: now},
		DueDate:   o.DueDate,
		Lines:     make([]SalesOrderLineModel, len(o.Lines)),
	}
	for i, l := range o.Lines {
		m.Lines[i] = SalesOrderLineModel{
			BaseModel: BaseModel{ID: l.ID, CreatedAt: now, UpdatedAt: now},
			OrderID:   o.ID,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			State:     string(l.State),
		}
	}
	return m
}

// SalesOrderLineModel is the local mirror of a sales order line together with
// the fulfillment state the engine writes back.
type SalesOrderLineModel struct {
	BaseModel
	OrderID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID uuid.UUID       `gorm:"type:uuid;not null;index"`
	Quantity  decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	State     string          `gorm:"type:varchar(30);index"`
}

// TableName returns the table name for GORM
func (SalesOrderLineModel) TableName() string {
	return "sales_order_lines"
}

// ToDomain converts the persistence model to a domain OrderLine
func (m *SalesOrderLineModel) ToDomain(dueDate time.Time) allocation.OrderLine {
	return allocation.OrderLine{
		ID:        m.ID,
		OrderID:   m.OrderID,
		ProductID: m.ProductID,
		Quantity:  m.Quantity,
		State:     allocation.LineState(m.State),
		DueDate:   dueDate,
	}
}

// ProductionRequestStatus tracks a request handed to manufacturing
type ProductionRequestStatus string

const (
	ProductionRequestStatusRequested ProductionRequestStatus = "REQUESTED"
	ProductionRequestStatusCompleted ProductionRequestStatus = "COMPLETED"
)

// ProductionRequestModel records a request to manufacture missing stock.
type ProductionRequestModel struct {
	ID        uuid.UUID               `gorm:"type:uuid;primaryKey"`
	ProductID uuid.UUID               `gorm:"type:uuid;not null;index"`
	Quantity  decimal.Decimal         `gorm:"type:decimal(18,4);not null"`
	DueDate   time.Time               `gorm:"not null"`
	Status    ProductionRequestStatus `gorm:"type:varchar(20);not null;default:REQUESTED;index"`
	CreatedAt time.Time               `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductionRequestModel) TableName() string {
	return "production_requests"
}
