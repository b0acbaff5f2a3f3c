package allocation

import (
	"fmt"
	"strings"

	"github.com/erp/allocation/internal/domain/shared"
)

// LotState is the lifecycle state of a lot
type LotState string

const (
	LotStateAvailable  LotState = "AVAILABLE"
	LotStateExhausted  LotState = "EXHAUSTED"
	LotStateExpired    LotState = "EXPIRED"
	LotStateWithdrawn  LotState = "WITHDRAWN"
	LotStateQuarantine LotState = "QUARANTINE"
	LotStateRejected   LotState = "REJECTED"
)

// AllLotStates returns every lot state
func AllLotStates() []LotState {
	return []LotState{
		LotStateAvailable,
		LotStateExhausted,
		LotStateExpired,
		LotStateWithdrawn,
		LotStateQuarantine,
		LotStateRejected,
	}
}

// String returns the string representation
func (s LotState) String() string {
	return string(s)
}

// IsValid reports whether s is a known lot state
func (s LotState) IsValid() bool {
	for _, st := range AllLotStates() {
		if s == st {
			return true
		}
	}
	return false
}

// IsEligible reports whether lots in this state may be allocated from
func (s LotState) IsEligible() bool {
	return s == LotStateAvailable
}

// IsReclaimable reports whether stock reserved on lots in this state may be
// handed to another order. A fully reserved lot is EXHAUSTED and still counts.
func (s LotState) IsReclaimable() bool {
	return s == LotStateAvailable || s == LotStateExhausted
}

// IsTerminal reports whether the lot can never become eligible again
func (s LotState) IsTerminal() bool {
	return s == LotStateExpired || s == LotStateWithdrawn || s == LotStateRejected
}

// ParseLotState parses a lot state, case-insensitively
func ParseLotState(s string) (LotState, error) {
	st := LotState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: unknown lot state %q", shared.ErrInvalidInput, s)
	}
	return st, nil
}
