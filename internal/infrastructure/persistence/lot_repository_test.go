package persistence

import (
	"context"
	"testing"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lotIDs(lots []*allocation.Lot) []uuid.UUID {
	ids := make([]uuid.UUID, len(lots))
	for i, l := range lots {
		ids[i] = l.ID
	}
	return ids
}

func TestGormLotRepository_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormLotRepository(db)
	ctx := context.Background()
	productID := uuid.New()

	lot := newTestLot(t, productID, "L-001", 10, datePtr(testDay(30)), 0)
	require.NoError(t, repo.Create(ctx, lot))

	t.Run("round trips every field", func(t *testing.T) {
		found, err := repo.FindByID(ctx, lot.ID)
		require.NoError(t, err)
		assert.Equal(t, productID, found.ProductID)
		assert.Equal(t, "L-001", found.LotNumber)
		assert.True(t, found.InitialQuantity.Equal(dec(10)))
		assert.True(t, found.CurrentQuantity.Equal(dec(10)))
		assert.Equal(t, allocation.LotStateAvailable, found.State)
		require.NotNil(t, found.ExpiryDate)
		assert.True(t, found.ExpiryDate.Equal(testDay(30)))
		assert.Equal(t, 1, found.Version)
	})

	t.Run("missing lot is not found", func(t *testing.T) {
		_, err := repo.FindByIDForUpdate(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("duplicate lot number for a product is rejected", func(t *testing.T) {
		dup := newTestLot(t, productID, "L-001", 5, nil, 1)
		assert.ErrorIs(t, repo.Create(ctx, dup), shared.ErrAlreadyExists)
	})

	t.Run("same lot number for another product is allowed", func(t *testing.T) {
		other := newTestLot(t, uuid.New(), "L-001", 5, nil, 2)
		assert.NoError(t, repo.Create(ctx, other))
	})
}

func TestGormLotRepository_ListEligible(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormLotRepository(db)
	ctx := context.Background()
	productID := uuid.New()

	noExpiry := newTestLot(t, productID, "NOEXP", 5, nil, 0)
	late := newTestLot(t, productID, "LATE", 5, datePtr(testDay(60)), 1)
	early := newTestLot(t, productID, "EARLY", 5, datePtr(testDay(10)), 2)
	earlyTwin := newTestLot(t, productID, "EARLY2", 5, datePtr(testDay(10)), 3)
	quarantined := newTestLot(t, productID, "QC", 5, datePtr(testDay(1)), 4)
	require.NoError(t, quarantined.Quarantine())
	empty := newTestLot(t, productID, "EMPTY", 5, datePtr(testDay(2)), 5)
	require.NoError(t, empty.Decrement(dec(5)))
	foreign := newTestLot(t, uuid.New(), "OTHER", 5, datePtr(testDay(1)), 6)

	for _, l := range []*allocation.Lot{noExpiry, late, early, earlyTwin, quarantined, empty, foreign} {
		require.NoError(t, repo.Create(ctx, l))
	}

	t.Run("expiry ordering puts earliest expiry first and undated lots last", func(t *testing.T) {
		lots, err := repo.ListEligible(ctx, productID, allocation.LotOrderingExpiry, true)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{early.ID, earlyTwin.ID, late.ID, noExpiry.ID}, lotIDs(lots))
	})

	t.Run("creation ordering follows creation time", func(t *testing.T) {
		lots, err := repo.ListEligible(ctx, productID, allocation.LotOrderingCreation, false)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{noExpiry.ID, late.ID, early.ID, earlyTwin.ID}, lotIDs(lots))
	})

	t.Run("list by product includes every state", func(t *testing.T) {
		lots, err := repo.ListByProduct(ctx, productID)
		require.NoError(t, err)
		assert.Len(t, lots, 6)
	})

	t.Run("find expiring returns available lots past expiry", func(t *testing.T) {
		lots, err := repo.FindExpiring(ctx, testDay(10), 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{early.ID, earlyTwin.ID, foreign.ID}, lotIDs(lots))
	})
}

func TestGormLotRepository_SaveWithVersion(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormLotRepository(db)
	ctx := context.Background()

	lot := newTestLot(t, uuid.New(), "L-1", 10, nil, 0)
	require.NoError(t, repo.Create(ctx, lot))

	t.Run("writes and bumps the version", func(t *testing.T) {
		require.NoError(t, lot.Decrement(dec(4)))
		require.NoError(t, repo.SaveWithVersion(ctx, lot))
		assert.Equal(t, 2, lot.Version)

		found, err := repo.FindByID(ctx, lot.ID)
		require.NoError(t, err)
		assert.True(t, found.CurrentQuantity.Equal(dec(6)))
		assert.Equal(t, 2, found.Version)
	})

	t.Run("stale copy fails with a concurrency conflict", func(t *testing.T) {
		stale, err := repo.FindByID(ctx, lot.ID)
		require.NoError(t, err)

		require.NoError(t, lot.Decrement(dec(1)))
		require.NoError(t, repo.SaveWithVersion(ctx, lot))

		require.NoError(t, stale.Decrement(dec(6)))
		err = repo.SaveWithVersion(ctx, stale)
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)

		found, err := repo.FindByID(ctx, lot.ID)
		require.NoError(t, err)
		assert.True(t, found.CurrentQuantity.Equal(dec(5)))
	})

	t.Run("exhausted state is persisted", func(t *testing.T) {
		require.NoError(t, lot.Decrement(dec(5)))
		require.NoError(t, repo.SaveWithVersion(ctx, lot))

		found, err := repo.FindByID(ctx, lot.ID)
		require.NoError(t, err)
		assert.Equal(t, allocation.LotStateExhausted, found.State)
	})
}
