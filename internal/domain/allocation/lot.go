package allocation

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/allocation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AggregateTypeLot is the aggregate type name used in events
const AggregateTypeLot = "Lot"

// Lot is a traceable batch of finished product.
// CurrentQuantity never exceeds InitialQuantity and never drops below zero.
type Lot struct {
	shared.Aggregate
	ProductID       uuid.UUID
	LotNumber       string
	InitialQuantity decimal.Decimal
	CurrentQuantity decimal.Decimal
	State           LotState
	ProductionDate  time.Time
	ExpiryDate      *time.Time
}

// NewLot creates an AVAILABLE lot holding its full initial quantity
func NewLot(productID uuid.UUID, lotNumber string, quantity decimal.Decimal, productionDate time.Time, expiryDate *time.Time) (*Lot, error) {
	if productID == uuid.Nil {
		return nil, fmt.Errorf("%w: product id is required", shared.ErrInvalidInput)
	}
	if strings.TrimSpace(lotNumber) == "" {
		return nil, fmt.Errorf("%w: lot number is required", shared.ErrInvalidInput)
	}
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if productionDate.IsZero() {
		productionDate = time.Now().UTC()
	}
	if expiryDate != nil && expiryDate.Before(productionDate) {
		return nil, fmt.Errorf("%w: expiry date precedes production date", shared.ErrInvalidInput)
	}

	return &Lot{
		Aggregate:       shared.NewAggregate(),
		ProductID:       productID,
		LotNumber:       strings.TrimSpace(lotNumber),
		InitialQuantity: quantity,
		CurrentQuantity: quantity,
		State:           LotStateAvailable,
		ProductionDate:  productionDate,
		ExpiryDate:      expiryDate,
	}, nil
}

// IsEligible reports whether the lot can satisfy new demand
func (l *Lot) IsEligible() bool {
	return l.State.IsEligible() && l.CurrentQuantity.IsPositive()
}

// ConsumedQuantity is the amount removed from the lot by reservations and dispatches
func (l *Lot) ConsumedQuantity() decimal.Decimal {
	return l.InitialQuantity.Sub(l.CurrentQuantity)
}

// IsExpiredAt reports whether the lot's expiry date is at or before t
func (l *Lot) IsExpiredAt(t time.Time) bool {
	return l.ExpiryDate != nil && !l.ExpiryDate.After(t)
}

// Decrement removes amount from the lot. A lot reaching zero becomes EXHAUSTED.
func (l *Lot) Decrement(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidQuantity
	}
	if !l.State.IsEligible() {
		return fmt.Errorf("%w: lot %s is %s", ErrLotNotEligible, l.LotNumber, l.State)
	}
	if amount.GreaterThan(l.CurrentQuantity) {
		return fmt.Errorf("%w: lot %s has %s, requested %s",
			ErrInsufficientQuantity, l.LotNumber, l.CurrentQuantity.String(), amount.String())
	}

	l.CurrentQuantity = l.CurrentQuantity.Sub(amount)
	l.Touch()

	if l.CurrentQuantity.IsZero() {
		l.State = LotStateExhausted
		l.Raise(NewLotExhaustedEvent(l))
	}
	return nil
}

// Restore returns amount to the lot. An EXHAUSTED lot becomes AVAILABLE again;
// quality-control states are left untouched.
func (l *Lot) Restore(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidQuantity
	}
	if l.CurrentQuantity.Add(amount).GreaterThan(l.InitialQuantity) {
		return fmt.Errorf("%w: lot %s has %s of %s, restoring %s",
			ErrRestoreExceedsInitial, l.LotNumber, l.CurrentQuantity.String(),
			l.InitialQuantity.String(), amount.String())
	}

	l.CurrentQuantity = l.CurrentQuantity.Add(amount)
	l.Touch()

	if l.State == LotStateExhausted {
		l.transition(LotStateAvailable, "restored")
	}
	return nil
}

// Quarantine blocks the lot pending a quality decision
func (l *Lot) Quarantine() error {
	if l.State != LotStateAvailable && l.State != LotStateExhausted {
		return l.illegalTransition(LotStateQuarantine)
	}
	l.transition(LotStateQuarantine, "quality hold")
	return nil
}

// ReleaseFromQuarantine makes a quarantined lot usable again
func (l *Lot) ReleaseFromQuarantine() error {
	if l.State != LotStateQuarantine {
		return l.illegalTransition(LotStateAvailable)
	}
	if l.CurrentQuantity.IsZero() {
		l.transition(LotStateExhausted, "quality approved")
		return nil
	}
	l.transition(LotStateAvailable, "quality approved")
	return nil
}

// Reject marks the lot as failed quality control
func (l *Lot) Reject() error {
	if l.State != LotStateAvailable && l.State != LotStateQuarantine {
		return l.illegalTransition(LotStateRejected)
	}
	l.transition(LotStateRejected, "quality rejected")
	return nil
}

// Withdraw removes the lot from circulation
func (l *Lot) Withdraw() error {
	if l.State == LotStateWithdrawn || l.State == LotStateRejected {
		return l.illegalTransition(LotStateWithdrawn)
	}
	l.transition(LotStateWithdrawn, "withdrawn")
	return nil
}

// Expire marks an available lot as expired once its expiry date has passed
func (l *Lot) Expire(now time.Time) error {
	if l.State != LotStateAvailable {
		return l.illegalTransition(LotStateExpired)
	}
	if !l.IsExpiredAt(now) {
		return fmt.Errorf("%w: lot %s has not reached its expiry date", shared.ErrInvalidState, l.LotNumber)
	}
	l.transition(LotStateExpired, "expired")
	return nil
}

// ChangeState applies a quality-control transition by target state
func (l *Lot) ChangeState(target LotState, now time.Time) error {
	switch target {
	case LotStateQuarantine:
		return l.Quarantine()
	case LotStateAvailable:
		return l.ReleaseFromQuarantine()
	case LotStateRejected:
		return l.Reject()
	case LotStateWithdrawn:
		return l.Withdraw()
	case LotStateExpired:
		return l.Expire(now)
	default:
		// EXHAUSTED is reached only through quantity changes
		return l.illegalTransition(target)
	}
}

func (l *Lot) transition(to LotState, reason string) {
	from := l.State
	l.State = to
	l.Touch()
	l.Raise(NewLotStateChangedEvent(l, from, to, reason))
}

func (l *Lot) illegalTransition(to LotState) error {
	return fmt.Errorf("%w: lot %s cannot move from %s to %s", shared.ErrInvalidState, l.LotNumber, l.State, to)
}
