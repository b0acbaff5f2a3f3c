package allocation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReservation(t *testing.T, lot *Lot, qty int64) *Reservation {
	t.Helper()
	r, err := NewReservation(lot, uuid.New(), uuid.New(), time.Now().UTC(), decimal.NewFromInt(qty), nil)
	require.NoError(t, err)
	return r
}

func TestNewReservation(t *testing.T) {
	t.Run("creates reserved reservation", func(t *testing.T) {
		lot := newTestLot(t, 10)
		r := newTestReservation(t, lot, 4)

		assert.Equal(t, ReservationStateReserved, r.State)
		assert.Equal(t, lot.ID, r.LotID)
		assert.Equal(t, lot.ProductID, r.ProductID)
		assert.True(t, r.IsOpen())
		require.Len(t, r.Events(), 1)
		assert.Equal(t, EventTypeReservationCreated, r.Events()[0].EventType())
	})

	t.Run("rejects exhausted lot", func(t *testing.T) {
		lot := newTestLot(t, 10)
		require.NoError(t, lot.Decrement(decimal.NewFromInt(10)))

		_, err := NewReservation(lot, uuid.New(), uuid.New(), time.Now(), decimal.NewFromInt(1), nil)
		assert.ErrorIs(t, err, ErrLotNotEligible)
	})

	t.Run("rejects zero quantity", func(t *testing.T) {
		_, err := NewReservation(newTestLot(t, 10), uuid.New(), uuid.New(), time.Now(), decimal.Zero, nil)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})
}

func TestReservation_Fulfill(t *testing.T) {
	r := newTestReservation(t, newTestLot(t, 10), 4)
	require.NoError(t, r.Fulfill())

	assert.Equal(t, ReservationStateFulfilled, r.State)
	assert.NotNil(t, r.FulfilledAt)

	t.Run("second fulfill is rejected", func(t *testing.T) {
		assert.ErrorIs(t, r.Fulfill(), ErrReservationNotFound)
	})
}

func TestReservation_Release(t *testing.T) {
	actor := uuid.New()

	t.Run("returns full quantity", func(t *testing.T) {
		r := newTestReservation(t, newTestLot(t, 10), 4)
		qty, err := r.Release(&actor, ReleaseReasonCancelled)

		require.NoError(t, err)
		assert.True(t, qty.Equal(decimal.NewFromInt(4)))
		assert.Equal(t, ReservationStateReleased, r.State)
		assert.Equal(t, &actor, r.ReleasedBy)
		assert.Equal(t, ReleaseReasonCancelled, r.ReleaseReason)
	})

	t.Run("released reservation cannot be released again", func(t *testing.T) {
		r := newTestReservation(t, newTestLot(t, 10), 4)
		_, err := r.Release(nil, ReleaseReasonManual)
		require.NoError(t, err)

		_, err = r.Release(nil, ReleaseReasonManual)
		assert.ErrorIs(t, err, ErrReservationNotFound)
	})
}

func TestReservation_Shrink(t *testing.T) {
	t.Run("partial shrink keeps reservation open", func(t *testing.T) {
		r := newTestReservation(t, newTestLot(t, 10), 10)
		r.ClearEvents()

		qty, err := r.Shrink(decimal.NewFromInt(3), nil, ReleaseReasonPreempted)
		require.NoError(t, err)

		assert.True(t, qty.Equal(decimal.NewFromInt(3)))
		assert.True(t, r.Quantity.Equal(decimal.NewFromInt(7)))
		assert.True(t, r.IsOpen())
		evt := r.Events()[0].(*ReservationReleasedEvent)
		assert.True(t, evt.Partial)
	})

	t.Run("shrink above quantity releases all", func(t *testing.T) {
		r := newTestReservation(t, newTestLot(t, 10), 5)
		qty, err := r.Shrink(decimal.NewFromInt(8), nil, ReleaseReasonPreempted)

		require.NoError(t, err)
		assert.True(t, qty.Equal(decimal.NewFromInt(5)))
		assert.Equal(t, ReservationStateReleased, r.State)
		assert.True(t, r.Quantity.Equal(decimal.NewFromInt(5)))
	})
}

func TestNewDirectDispatchRecord(t *testing.T) {
	r, err := NewDirectDispatchRecord(newTestLot(t, 10), uuid.New(), uuid.New(), decimal.NewFromInt(2), nil)
	require.NoError(t, err)

	assert.True(t, r.Direct)
	assert.Equal(t, ReservationStateFulfilled, r.State)
	assert.Empty(t, r.Events())
}

func TestSortReclaimCandidates(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(dueDays int, createdOffset time.Duration) *Reservation {
		r := &Reservation{OrderDueDate: base.AddDate(0, 0, dueDays)}
		r.ID = uuid.New()
		r.CreatedAt = base.Add(createdOffset)
		return r
	}

	soon := mk(2, 0)
	lateOld := mk(5, 0)
	lateNew := mk(5, time.Minute)

	list := []*Reservation{soon, lateOld, lateNew}
	SortReclaimCandidates(list)
	assert.Equal(t, []*Reservation{lateNew, lateOld, soon}, list)
}
