package models

import (
	"time"

	"github.com/erp/allocation/internal/domain/shared"
	"github.com/google/uuid"
)

// BaseModel holds the identity and timestamp columns of every table
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// AggregateModel adds the version column that backs the optimistic check in
// the repositories' update statements.
type AggregateModel struct {
	BaseModel
	Version int `gorm:"not null;default:1"`
}

func (m *AggregateModel) fromAggregate(a shared.Aggregate) {
	m.ID, m.CreatedAt, m.UpdatedAt, m.Version = a.ID, a.CreatedAt, a.UpdatedAt, a.Version
}

// toAggregate never restores pending events; they are not persisted
func (m *AggregateModel) toAggregate() shared.Aggregate {
	return shared.Aggregate{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt, Version: m.Version}
}
