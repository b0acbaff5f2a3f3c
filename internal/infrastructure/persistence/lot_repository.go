package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormLotRepository implements LotRepository using GORM
type GormLotRepository struct {
	db *gorm.DB
}

// NewGormLotRepository creates a new GormLotRepository
func NewGormLotRepository(db *gorm.DB) *GormLotRepository {
	return &GormLotRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormLotRepository) WithTx(tx *gorm.DB) *GormLotRepository {
	return &GormLotRepository{db: tx}
}

// forUpdate adds a row lock. SQLite has no row locks and serialises writers instead.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// lotOrderClause returns the ORDER BY for an ordering; it mirrors allocation.SortLots
func lotOrderClause(ordering allocation.LotOrdering) string {
	if ordering == allocation.LotOrderingCreation {
		return "created_at ASC, id ASC"
	}
	return "expiry_date IS NULL, expiry_date ASC, created_at ASC, id ASC"
}

// FindByID finds a lot by its ID
func (r *GormLotRepository) FindByID(ctx context.Context, id uuid.UUID) (*allocation.Lot, error) {
	return r.find(r.db.WithContext(ctx), id)
}

// FindByIDForUpdate finds a lot with SELECT ... FOR UPDATE
func (r *GormLotRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*allocation.Lot, error) {
	return r.find(forUpdate(r.db.WithContext(ctx)), id)
}

func (r *GormLotRepository) find(db *gorm.DB, id uuid.UUID) (*allocation.Lot, error) {
	var model models.LotModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListEligible returns AVAILABLE lots with stock, optionally locking every row
func (r *GormLotRepository) ListEligible(ctx context.Context, productID uuid.UUID, ordering allocation.LotOrdering, lock bool) ([]*allocation.Lot, error) {
	query := r.db.WithContext(ctx).
		Where("product_id = ? AND state = ? AND current_quantity > 0", productID, allocation.LotStateAvailable.String()).
		Order(lotOrderClause(ordering))
	if lock {
		query = forUpdate(query)
	}

	var lotModels []models.LotModel
	if err := query.Find(&lotModels).Error; err != nil {
		return nil, err
	}
	return lotsToDomain(lotModels), nil
}

// ListByProduct returns every lot of a product, oldest first
func (r *GormLotRepository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]*allocation.Lot, error) {
	var lotModels []models.LotModel
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at ASC, id ASC").
		Find(&lotModels).Error; err != nil {
		return nil, err
	}
	return lotsToDomain(lotModels), nil
}

// FindExpiring returns AVAILABLE lots whose expiry date has passed
func (r *GormLotRepository) FindExpiring(ctx context.Context, now time.Time, limit int) ([]*allocation.Lot, error) {
	query := r.db.WithContext(ctx).
		Where("state = ? AND expiry_date IS NOT NULL AND expiry_date <= ?", allocation.LotStateAvailable.String(), now).
		Order("expiry_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var lotModels []models.LotModel
	if err := query.Find(&lotModels).Error; err != nil {
		return nil, err
	}
	return lotsToDomain(lotModels), nil
}

// Create inserts a new lot
func (r *GormLotRepository) Create(ctx context.Context, lot *allocation.Lot) error {
	if err := r.db.WithContext(ctx).Create(models.LotModelFromDomain(lot)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return shared.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// SaveWithVersion writes the mutable columns if the stored version still
// matches and bumps the version on success.
func (r *GormLotRepository) SaveWithVersion(ctx context.Context, lot *allocation.Lot) error {
	result := r.db.WithContext(ctx).
		Model(&models.LotModel{}).
		Where("id = ? AND version = ?", lot.ID, lot.Version).
		Updates(map[string]interface{}{
			"current_quantity": lot.CurrentQuantity,
			"state":            lot.State.String(),
			"version":          lot.Version + 1,
			"updated_at":       lot.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	lot.Version++
	return nil
}

func lotsToDomain(lotModels []models.LotModel) []*allocation.Lot {
	lots := make([]*allocation.Lot, len(lotModels))
	for i := range lotModels {
		lots[i] = lotModels[i].ToDomain()
	}
	return lots
}

// Ensure GormLotRepository implements LotRepository
var _ allocation.LotRepository = (*GormLotRepository)(nil)
