package persistence

import (
	"testing"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/infrastructure/config"
	"github.com/erp/allocation/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDay0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// setupTestDB opens an in-memory SQLite database with the allocation schema.
// A single connection keeps every query on the same in-memory database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), GormConfig(config.DatabaseConfig{LogLevel: "silent"}, nil))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.LotModel{},
		&models.ReservationModel{},
		&models.SalesOrderModel{},
		&models.SalesOrderLineModel{},
		&models.ProductionRequestModel{},
	))
	return db
}

func testDay(n int) time.Time {
	return testDay0.AddDate(0, 0, n)
}

func dec(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// newTestLot builds a lot whose creation time is offset by seq microseconds so
// that ties on expiry order deterministically.
func newTestLot(t *testing.T, productID uuid.UUID, number string, qty int64, expiry *time.Time, seq int) *allocation.Lot {
	t.Helper()
	lot, err := allocation.NewLot(productID, number, dec(qty), testDay(-30), expiry)
	require.NoError(t, err)
	lot.CreatedAt = testDay0.Add(time.Duration(seq) * time.Microsecond)
	lot.UpdatedAt = lot.CreatedAt
	lot.ClearEvents()
	return lot
}

func datePtr(t time.Time) *time.Time {
	return &t
}
