package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormReservationRepository implements ReservationRepository using GORM
type GormReservationRepository struct {
	db *gorm.DB
}

// NewGormReservationRepository creates a new GormReservationRepository
func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormReservationRepository) WithTx(tx *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: tx}
}

// FindByID finds a reservation by its ID
func (r *GormReservationRepository) FindByID(ctx context.Context, id uuid.UUID) (*allocation.Reservation, error) {
	return r.find(r.db.WithContext(ctx), id)
}

// FindByIDForUpdate finds a reservation with SELECT ... FOR UPDATE
func (r *GormReservationRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*allocation.Reservation, error) {
	return r.find(forUpdate(r.db.WithContext(ctx)), id)
}

func (r *GormReservationRepository) find(db *gorm.DB, id uuid.UUID) (*allocation.Reservation, error) {
	var model models.ReservationModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Create inserts a new reservation
func (r *GormReservationRepository) Create(ctx context.Context, res *allocation.Reservation) error {
	return r.db.WithContext(ctx).Create(models.ReservationModelFromDomain(res)).Error
}

// SaveWithVersion writes the mutable columns if the stored version still matches
func (r *GormReservationRepository) SaveWithVersion(ctx context.Context, res *allocation.Reservation) error {
	result := r.db.WithContext(ctx).
		Model(&models.ReservationModel{}).
		Where("id = ? AND version = ?", res.ID, res.Version).
		Updates(map[string]interface{}{
			"quantity":          res.Quantity,
			"released_quantity": res.ReleasedQuantity,
			"state":             string(res.State),
			"order_due_date":    res.OrderDueDate,
			"released_by":       res.ReleasedBy,
			"released_at":       res.ReleasedAt,
			"release_reason":    string(res.ReleaseReason),
			"fulfilled_at":      res.FulfilledAt,
			"version":           res.Version + 1,
			"updated_at":        res.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	res.Version++
	return nil
}

// FindOpenByOrder returns RESERVED reservations of an order, oldest first
func (r *GormReservationRepository) FindOpenByOrder(ctx context.Context, orderID uuid.UUID, lock bool) ([]*allocation.Reservation, error) {
	query := r.db.WithContext(ctx).
		Where("order_id = ? AND state = ?", orderID, string(allocation.ReservationStateReserved)).
		Order("created_at ASC, id ASC")
	if lock {
		query = forUpdate(query)
	}
	return r.list(query)
}

// FindByOrder returns every reservation of an order
func (r *GormReservationRepository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]*allocation.Reservation, error) {
	return r.list(r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC"))
}

// FindOpenByLine returns RESERVED reservations of an order line
func (r *GormReservationRepository) FindOpenByLine(ctx context.Context, orderLineID uuid.UUID) ([]*allocation.Reservation, error) {
	return r.list(r.db.WithContext(ctx).
		Where("order_line_id = ? AND state = ?", orderLineID, string(allocation.ReservationStateReserved)).
		Order("created_at ASC, id ASC"))
}

// FindOpenByProductAfterDate returns reclaim candidates, most deferrable first
func (r *GormReservationRepository) FindOpenByProductAfterDate(ctx context.Context, productID uuid.UUID, cutoff time.Time) ([]*allocation.Reservation, error) {
	return r.list(r.db.WithContext(ctx).
		Where("product_id = ? AND state = ? AND order_due_date > ?",
			productID, string(allocation.ReservationStateReserved), cutoff).
		Order("order_due_date DESC, created_at DESC, id ASC"))
}

// UpdateDueDateForOrder refreshes the due date snapshot of an order's open reservations.
// The version is bumped so in-flight updates of the same rows fail their check.
func (r *GormReservationRepository) UpdateDueDateForOrder(ctx context.Context, orderID uuid.UUID, dueDate time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ReservationModel{}).
		Where("order_id = ? AND state = ?", orderID, string(allocation.ReservationStateReserved)).
		Updates(map[string]interface{}{
			"order_due_date": dueDate,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

type stateSum struct {
	State    string
	Quantity decimal.Decimal
	Released decimal.Decimal
}

// SumByLot returns per-state totals of a lot's reservations
func (r *GormReservationRepository) SumByLot(ctx context.Context, lotID uuid.UUID) (allocation.ReservationTotals, error) {
	var rows []stateSum
	if err := r.db.WithContext(ctx).
		Model(&models.ReservationModel{}).
		Select("state, COALESCE(SUM(quantity), 0) AS quantity, COALESCE(SUM(released_quantity), 0) AS released").
		Where("lot_id = ?", lotID).
		Group("state").
		Scan(&rows).Error; err != nil {
		return allocation.ReservationTotals{}, err
	}

	totals := allocation.ReservationTotals{Reserved: decimal.Zero, Fulfilled: decimal.Zero, Released: decimal.Zero}
	for _, row := range rows {
		switch allocation.ReservationState(row.State) {
		case allocation.ReservationStateReserved:
			totals.Reserved = totals.Reserved.Add(row.Quantity)
		case allocation.ReservationStateFulfilled:
			totals.Fulfilled = totals.Fulfilled.Add(row.Quantity)
		}
		totals.Released = totals.Released.Add(row.Released)
	}
	return totals, nil
}

// SumCoveredByLine returns what a line's RESERVED and FULFILLED reservations hold
func (r *GormReservationRepository) SumCoveredByLine(ctx context.Context, orderLineID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	row := r.db.WithContext(ctx).
		Model(&models.ReservationModel{}).
		Select("SUM(quantity)").
		Where("order_line_id = ? AND state IN ?", orderLineID, []string{
			string(allocation.ReservationStateReserved),
			string(allocation.ReservationStateFulfilled),
		}).
		Row()
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *GormReservationRepository) list(query *gorm.DB) ([]*allocation.Reservation, error) {
	var rows []models.ReservationModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*allocation.Reservation, len(rows))
	for i := range rows {
		out[i] = rows[i].ToDomain()
	}
	return out, nil
}

// Ensure GormReservationRepository implements ReservationRepository
var _ allocation.ReservationRepository = (*GormReservationRepository)(nil)
