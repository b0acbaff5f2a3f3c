package scheduler

import (
	"context"
	"time"

	appalloc "github.com/erp/allocation/internal/application/allocation"
	"go.uber.org/zap"
)

// Replanner retries allocation for order lines still waiting on stock
type Replanner interface {
	ReplanPending(ctx context.Context, limit int) (*appalloc.ReplanStats, error)
}

// LotExpirer moves lots past their expiry date out of the allocatable pool
type LotExpirer interface {
	ExpireLots(ctx context.Context, now time.Time, limit int) (int, error)
}

// ReplanJob periodically re-runs allocation for lines in PENDING_DEDUCTION,
// PARTIAL or PENDING_PRODUCTION so stock received later reaches them.
type ReplanJob struct {
	planner   Replanner
	batchSize int
	logger    *zap.Logger
}

// NewReplanJob creates a new ReplanJob
func NewReplanJob(planner Replanner, batchSize int, logger *zap.Logger) *ReplanJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplanJob{planner: planner, batchSize: batchSize, logger: logger}
}

// Name implements Job
func (j *ReplanJob) Name() string { return "replan" }

// Run implements Job
func (j *ReplanJob) Run(ctx context.Context) error {
	stats, err := j.planner.ReplanPending(ctx, j.batchSize)
	if err != nil {
		return err
	}
	if stats.Scanned > 0 {
		j.logger.Info("Replan pass finished",
			zap.Int("scanned", stats.Scanned),
			zap.Int("improved", stats.Improved),
			zap.Int("failed", stats.Failed),
			zap.String("reserved", stats.Reserved.String()),
		)
	}
	return nil
}

// ExpiryJob periodically expires AVAILABLE lots whose expiry date has passed
type ExpiryJob struct {
	expirer   LotExpirer
	batchSize int
	now       func() time.Time
}

// NewExpiryJob creates a new ExpiryJob
func NewExpiryJob(expirer LotExpirer, batchSize int) *ExpiryJob {
	return &ExpiryJob{expirer: expirer, batchSize: batchSize, now: time.Now}
}

// Name implements Job
func (j *ExpiryJob) Name() string { return "lot_expiry" }

// Run implements Job
func (j *ExpiryJob) Run(ctx context.Context) error {
	_, err := j.expirer.ExpireLots(ctx, j.now().UTC(), j.batchSize)
	return err
}
