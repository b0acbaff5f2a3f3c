package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOrderBook keeps the local mirror of sales orders that the engine reads
// due dates from and writes line states to.
type GormOrderBook struct {
	db *gorm.DB
}

// NewGormOrderBook creates a new GormOrderBook
func NewGormOrderBook(db *gorm.DB) *GormOrderBook {
	return &GormOrderBook{db: db}
}

// GetOrderDueDate returns the due date of a mirrored order
func (b *GormOrderBook) GetOrderDueDate(ctx context.Context, orderID uuid.UUID) (time.Time, error) {
	var order models.SalesOrderModel
	if err := b.db.WithContext(ctx).Select("id", "due_date").First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, fmt.Errorf("%w: order %s", shared.ErrNotFound, orderID)
		}
		return time.Time{}, err
	}
	return order.DueDate, nil
}

// SetLineState writes a line's fulfillment state
func (b *GormOrderBook) SetLineState(ctx context.Context, orderLineID uuid.UUID, state allocation.LineState) error {
	if !state.IsValid() {
		return fmt.Errorf("%w: line state %q", shared.ErrInvalidInput, state)
	}
	result := b.db.WithContext(ctx).
		Model(&models.SalesOrderLineModel{}).
		Where("id = ?", orderLineID).
		Updates(map[string]interface{}{
			"state":      state.String(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: order line %s", shared.ErrNotFound, orderLineID)
	}
	return nil
}

// UpsertOrder creates or replaces an order and its lines. Line states already
// written by the engine survive a replace; lines missing from order are removed.
func (b *GormOrderBook) UpsertOrder(ctx context.Context, order *allocation.Order) error {
	if order.ID == uuid.Nil || order.DueDate.IsZero() {
		return fmt.Errorf("%w: order id and due date are required", shared.ErrInvalidInput)
	}
	for _, l := range order.Lines {
		if l.ID == uuid.Nil || l.ProductID == uuid.Nil || !l.Quantity.IsPositive() {
			return fmt.Errorf("%w: order line needs id, product and positive quantity", shared.ErrInvalidInput)
		}
	}

	model := models.SalesOrderModelFromDomain(order, time.Now().UTC())
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Lines").Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"due_date", "updated_at"}),
		}).Create(model).Error; err != nil {
			return err
		}

		keep := make([]uuid.UUID, 0, len(model.Lines))
		for i := range model.Lines {
			line := &model.Lines[i]
			keep = append(keep, line.ID)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"product_id", "quantity", "updated_at"}),
			}).Create(line).Error; err != nil {
				return err
			}
		}

		stale := tx.Where("order_id = ?", order.ID)
		if len(keep) > 0 {
			stale = stale.Where("id NOT IN ?", keep)
		}
		return stale.Delete(&models.SalesOrderLineModel{}).Error
	})
}

// FindOrder returns an order with its lines
func (b *GormOrderBook) FindOrder(ctx context.Context, orderID uuid.UUID) (*allocation.Order, error) {
	var order models.SalesOrderModel
	if err := b.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return order.ToDomain(), nil
}

type lineWithDue struct {
	models.SalesOrderLineModel
	DueDate time.Time
}

// FindLinesNeedingStock returns PARTIAL and PENDING_PRODUCTION lines, earliest due first
func (b *GormOrderBook) FindLinesNeedingStock(ctx context.Context, limit int) ([]allocation.OrderLine, error) {
	query := b.db.WithContext(ctx).
		Model(&models.SalesOrderLineModel{}).
		Select("sales_order_lines.*, sales_orders.due_date AS due_date").
		Joins("JOIN sales_orders ON sales_orders.id = sales_order_lines.order_id").
		Where("sales_order_lines.state IN ?", []string{
			allocation.LineStatePartial.String(),
			allocation.LineStatePendingProduction.String(),
		}).
		Order("sales_orders.due_date ASC, sales_order_lines.id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []lineWithDue
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	lines := make([]allocation.OrderLine, len(rows))
	for i := range rows {
		lines[i] = rows[i].SalesOrderLineModel.ToDomain(rows[i].DueDate)
	}
	return lines, nil
}

// GormProductionCollaborator records production requests for short stock.
// Manufacturing picks them up from the production_requests table.
type GormProductionCollaborator struct {
	db *gorm.DB
}

// NewGormProductionCollaborator creates a new GormProductionCollaborator
func NewGormProductionCollaborator(db *gorm.DB) *GormProductionCollaborator {
	return &GormProductionCollaborator{db: db}
}

// RequestProduction stores a production request and returns its ID
func (p *GormProductionCollaborator) RequestProduction(ctx context.Context, productID uuid.UUID, quantity decimal.Decimal, dueDate time.Time) (uuid.UUID, error) {
	if !quantity.IsPositive() {
		return uuid.Nil, allocation.ErrInvalidQuantity
	}
	req := &models.ProductionRequestModel{
		ID:        uuid.New(),
		ProductID: productID,
		Quantity:  quantity,
		DueDate:   dueDate,
		Status:    models.ProductionRequestStatusRequested,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.db.WithContext(ctx).Create(req).Error; err != nil {
		return uuid.Nil, err
	}
	return req.ID, nil
}

var (
	_ allocation.OrderBook              = (*GormOrderBook)(nil)
	_ allocation.ProductionCollaborator = (*GormProductionCollaborator)(nil)
)
