package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LotLedger owns lot quantities and lot lifecycle.
type LotLedger struct {
	serviceBase
	lots         allocation.LotRepository
	reservations allocation.ReservationRepository
}

// NewLotLedger creates a new LotLedger
func NewLotLedger(
	txScope TransactionScope,
	lots allocation.LotRepository,
	reservations allocation.ReservationRepository,
	cfg Config,
	logger *zap.Logger,
) *LotLedger {
	return &LotLedger{
		serviceBase:  newServiceBase(txScope, cfg, logger),
		lots:         lots,
		reservations: reservations,
	}
}

// RegisterLot records a finished production lot
func (s *LotLedger) RegisterLot(ctx context.Context, req RegisterLotRequest) (*allocation.Lot, error) {
	lot, err := allocation.NewLot(req.ProductID, req.LotNumber, req.Quantity, req.ProductionDate, req.ExpiryDate)
	if err != nil {
		return nil, err
	}

	var events []shared.DomainEvent
	err = s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		if err := repos.LotRepo().Create(ctx, lot); err != nil {
			return err
		}
		events = drainEvents(events, lot)
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to register lot",
			zap.String("product_id", req.ProductID.String()),
			zap.String("lot_number", req.LotNumber),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("Lot registered",
		zap.String("lot_id", lot.ID.String()),
		zap.String("lot_number", lot.LotNumber),
		zap.String("quantity", lot.InitialQuantity.String()),
	)
	s.publish(ctx, events)
	return lot, nil
}

// GetLot returns a lot by ID
func (s *LotLedger) GetLot(ctx context.Context, lotID uuid.UUID) (*allocation.Lot, error) {
	return s.lots.FindByID(ctx, lotID)
}

// ListLots returns every lot of a product
func (s *LotLedger) ListLots(ctx context.Context, productID uuid.UUID) ([]*allocation.Lot, error) {
	return s.lots.ListByProduct(ctx, productID)
}

// ListEligibleLots returns lots that can satisfy new demand, in the given ordering.
// Lots with no remaining quantity are dropped even if the store returned them.
func (s *LotLedger) ListEligibleLots(ctx context.Context, productID uuid.UUID, ordering allocation.LotOrdering) ([]*allocation.Lot, error) {
	lots, err := s.lots.ListEligible(ctx, productID, ordering, false)
	if err != nil {
		return nil, err
	}
	return eligibleOnly(lots, ordering), nil
}

func eligibleOnly(lots []*allocation.Lot, ordering allocation.LotOrdering) []*allocation.Lot {
	out := lots[:0]
	for _, l := range lots {
		if l.IsEligible() {
			out = append(out, l)
		}
	}
	allocation.SortLots(out, ordering)
	return out
}

// Decrement removes amount from a lot in its own transaction
func (s *LotLedger) Decrement(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal) (*allocation.Lot, error) {
	return s.mutate(ctx, "lot_decrement", lotID, func(lot *allocation.Lot) error {
		return lot.Decrement(amount)
	})
}

// Restore returns amount to a lot in its own transaction
func (s *LotLedger) Restore(ctx context.Context, lotID uuid.UUID, amount decimal.Decimal) (*allocation.Lot, error) {
	return s.mutate(ctx, "lot_restore", lotID, func(lot *allocation.Lot) error {
		return lot.Restore(amount)
	})
}

// ChangeLotState applies a quality-control transition
func (s *LotLedger) ChangeLotState(ctx context.Context, lotID uuid.UUID, target allocation.LotState) (*allocation.Lot, error) {
	return s.mutate(ctx, "lot_change_state", lotID, func(lot *allocation.Lot) error {
		return lot.ChangeState(target, time.Now().UTC())
	})
}

func (s *LotLedger) mutate(ctx context.Context, op string, lotID uuid.UUID, fn func(*allocation.Lot) error) (*allocation.Lot, error) {
	var (
		result *allocation.Lot
		events []shared.DomainEvent
	)
	err := s.withRetry(ctx, op, func(ctx context.Context) error {
		events = events[:0]
		return s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
			lot, err := repos.LotRepo().FindByIDForUpdate(ctx, lotID)
			if err != nil {
				return err
			}
			if err := fn(lot); err != nil {
				return err
			}
			if err := repos.LotRepo().SaveWithVersion(ctx, lot); err != nil {
				return err
			}
			events = drainEvents(events, lot)
			result = lot
			return nil
		})
	})
	if err != nil {
		s.logger.Warn("Lot update rejected",
			zap.String("operation", op),
			zap.String("lot_id", lotID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	s.publish(ctx, events)
	return result, nil
}

// ExpireLots moves AVAILABLE lots past their expiry date to EXPIRED.
// Each lot is expired in its own transaction; failures are logged and skipped.
func (s *LotLedger) ExpireLots(ctx context.Context, now time.Time, limit int) (int, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "lot_ledger", "expire_lots")
	defer span.End()

	candidates, err := s.lots.FindExpiring(ctx, now, limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, err
	}

	expired := 0
	for _, c := range candidates {
		_, err := s.mutate(ctx, "lot_expire", c.ID, func(lot *allocation.Lot) error {
			return lot.Expire(now)
		})
		if err != nil {
			s.logger.Warn("Failed to expire lot",
				zap.String("lot_id", c.ID.String()),
				zap.Error(err),
			)
			continue
		}
		expired++
	}

	telemetry.SetAttributes(span, "expired", expired)
	if expired > 0 {
		s.logger.Info("Expired lots", zap.Int("count", expired))
	}
	return expired, nil
}

// Audit checks that a lot's quantity is accounted for by its reservations:
// current + reserved + fulfilled must equal initial.
func (s *LotLedger) Audit(ctx context.Context, lotID uuid.UUID) (*LotAudit, error) {
	lot, err := s.lots.FindByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	totals, err := s.reservations.SumByLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("sum reservations of lot %s: %w", lotID, err)
	}

	accounted := lot.CurrentQuantity.Add(totals.Reserved).Add(totals.Fulfilled)
	return &LotAudit{
		Lot:         lot,
		Reserved:    totals.Reserved,
		Fulfilled:   totals.Fulfilled,
		Released:    totals.Released,
		Discrepancy: lot.InitialQuantity.Sub(accounted),
		Balanced:    accounted.Equal(lot.InitialQuantity),
	}, nil
}
