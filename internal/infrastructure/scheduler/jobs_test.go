package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	appalloc "github.com/erp/allocation/internal/application/allocation"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type mockReplanner struct {
	mock.Mock
}

func (m *mockReplanner) ReplanPending(ctx context.Context, limit int) (*appalloc.ReplanStats, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appalloc.ReplanStats), args.Error(1)
}

type mockExpirer struct {
	mock.Mock
}

func (m *mockExpirer) ExpireLots(ctx context.Context, now time.Time, limit int) (int, error) {
	args := m.Called(ctx, now, limit)
	return args.Int(0), args.Error(1)
}

func TestReplanJob_Run(t *testing.T) {
	t.Run("passes the batch size", func(t *testing.T) {
		planner := new(mockReplanner)
		planner.On("ReplanPending", mock.Anything, 50).
			Return(&appalloc.ReplanStats{Scanned: 2, Improved: 1, Reserved: decimal.NewFromInt(4)}, nil)

		job := NewReplanJob(planner, 50, zap.NewNop())
		assert.Equal(t, "replan", job.Name())
		assert.NoError(t, job.Run(context.Background()))
		planner.AssertExpectations(t)
	})

	t.Run("propagates errors", func(t *testing.T) {
		planner := new(mockReplanner)
		planner.On("ReplanPending", mock.Anything, 10).Return(nil, errors.New("query failed"))

		err := NewReplanJob(planner, 10, nil).Run(context.Background())
		assert.EqualError(t, err, "query failed")
	})
}

func TestExpiryJob_Run(t *testing.T) {
	fixed := time.Date(2026, 3, 5, 8, 0, 0, 0, time.FixedZone("CET", 3600))
	expirer := new(mockExpirer)
	expirer.On("ExpireLots", mock.Anything, fixed.UTC(), 500).Return(3, nil)

	job := NewExpiryJob(expirer, 500)
	job.now = func() time.Time { return fixed }

	assert.Equal(t, "lot_expiry", job.Name())
	assert.NoError(t, job.Run(context.Background()))
	expirer.AssertExpectations(t)
}
