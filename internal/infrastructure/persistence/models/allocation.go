package models

import (
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LotModel is the persistence model for the Lot aggregate.
type LotModel struct {
	AggregateModel
	ProductID       uuid.UUID       `gorm:"type:uuid;not null;index:idx_lots_product_state,priority:1;uniqueIndex:idx_lots_product_number,priority:1"`
	LotNumber       string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_lots_product_number,priority:2"`
	InitialQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	CurrentQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	State           string          `gorm:"type:varchar(20);not null;default:AVAILABLE;index:idx_lots_product_state,priority:2"`
	ProductionDate  time.Time       `gorm:"not null"`
	ExpiryDate      *time.Time      `gorm:"index"`
}

// TableName returns the table name for GORM
func (LotModel) TableName() string {
	return "lots"
}

// ToDomain converts the persistence model to a domain Lot
func (m *LotModel) ToDomain() *allocation.Lot {
	return &allocation.Lot{
		Aggregate:       m.toAggregate(),
		ProductID:       m.ProductID,
		LotNumber:       m.LotNumber,
		InitialQuantity: m.InitialQuantity,
		CurrentQuantity: m.CurrentQuantity,
		State:           allocation.LotState(m.State),
		ProductionDate:  m.ProductionDate,
		ExpiryDate:      m.ExpiryDate,
	}
}

// FromDomain populates the persistence model from a domain Lot
func (m *LotModel) FromDomain(l *allocation.Lot) {
	m.fromAggregate(l.Aggregate)
	m.ProductID = l.ProductID
	m.LotNumber = l.LotNumber
	m.InitialQuantity = l.InitialQuantity
	m.CurrentQuantity = l.CurrentQuantity
	m.State = l.State.String()
	m.ProductionDate = l.ProductionDate
	m.ExpiryDate = l.ExpiryDate
}

// LotModelFromDomain creates a new persistence model from a domain Lot
func LotModelFromDomain(l *allocation.Lot) *LotModel {
	m := &LotModel{}
	m.FromDomain(l)
	return m
}

// ReservationModel is the persistence model for the Reservation aggregate.
type ReservationModel struct {
	AggregateModel
	LotID            uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID        uuid.UUID       `gorm:"type:uuid;not null;index:idx_reservations_product_state,priority:1"`
	OrderID          uuid.UUID       `gorm:"type:uuid;not null;index"`
	OrderLineID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	OrderDueDate     time.Time       `gorm:"not null"`
	Quantity         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ReleasedQuantity decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	State            string          `gorm:"type:varchar(20);not null;default:RESERVED;index:idx_reservations_product_state,priority:2"`
	Direct           bool            `gorm:"not null;default:false"`
	CreatedBy        *uuid.UUID      `gorm:"type:uuid"`
	ReleasedBy       *uuid.UUID      `gorm:"type:uuid"`
	ReleasedAt       *time.Time
	ReleaseReason    string `gorm:"type:varchar(20)"`
	FulfilledAt      *time.Time
}

// TableName returns the table name for GORM
func (ReservationModel) TableName() string {
	return "reservations"
}

// ToDomain converts the persistence model to a domain Reservation
func (m *ReservationModel) ToDomain() *allocation.Reservation {
	return &allocation.Reservation{
		Aggregate:        m.toAggregate(),
		LotID:            m.LotID,
		ProductID:        m.ProductID,
		OrderID:          m.OrderID,
		OrderLineID:      m.OrderLineID,
		OrderDueDate:     m.OrderDueDate,
		Quantity:         m.Quantity,
		ReleasedQuantity: m.ReleasedQuantity,
		State:            allocation.ReservationState(m.State),
		Direct:           m.Direct,
		CreatedBy:        m.CreatedBy,
		ReleasedBy:       m.ReleasedBy,
		ReleasedAt:       m.ReleasedAt,
		ReleaseReason:    allocation.ReleaseReason(m.ReleaseReason),
		FulfilledAt:      m.FulfilledAt,
	}
}

// FromDomain populates the persistence model from a domain Reservation
func (m *ReservationModel) FromDomain(r *allocation.Reservation) {
	m.fromAggregate(r.Aggregate)
	m.LotID = r.LotID
	m.ProductID = r.ProductID
	m.OrderID = r.OrderID
	m.OrderLineID = r.OrderLineID
	m.OrderDueDate = r.OrderDueDate
	m.Quantity = r.Quantity
	m.ReleasedQuantity = r.ReleasedQuantity
	m.State = string(r.State)
	m.Direct = r.Direct
	m.CreatedBy = r.CreatedBy
	m.ReleasedBy = r.ReleasedBy
	m.ReleasedAt = r.ReleasedAt
	m.ReleaseReason = string(r.ReleaseReason)
	m.FulfilledAt = r.FulfilledAt
}

// ReservationModelFromDomain creates a new persistence model from a domain Reservation
func ReservationModelFromDomain(r *allocation.Reservation) *ReservationModel {
	m := &ReservationModel{}
	m.FromDomain(r)
	return m
}
