package allocation

import (
	"fmt"
	"strings"

	"github.com/erp/allocation/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// LineState is the fulfillment state written back to an order line
type LineState string

const (
	// LineStatePendingDeduction means the line is fully covered by reservations
	LineStatePendingDeduction LineState = "PENDING_DEDUCTION"
	// LineStatePartial means the line is split between stock and production
	LineStatePartial LineState = "PARTIAL"
	// LineStatePendingProduction means no stock backs the line
	LineStatePendingProduction LineState = "PENDING_PRODUCTION"
	// LineStateReady means the line has been dispatched
	LineStateReady LineState = "READY"
)

// String returns the string representation
func (s LineState) String() string {
	return string(s)
}

// IsValid reports whether s is a known line state
func (s LineState) IsValid() bool {
	switch s {
	case LineStatePendingDeduction, LineStatePartial, LineStatePendingProduction, LineStateReady:
		return true
	default:
		return false
	}
}

// NeedsStock reports whether the line still has uncovered demand
func (s LineState) NeedsStock() bool {
	return s == LineStatePartial || s == LineStatePendingProduction
}

// ParseLineState parses a line state, case-insensitively
func ParseLineState(s string) (LineState, error) {
	st := LineState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: unknown line state %q", shared.ErrInvalidInput, s)
	}
	return st, nil
}

// LineStateFor derives the line state from an allocation outcome
func LineStateFor(reserved, short decimal.Decimal) LineState {
	switch {
	case !short.IsPositive():
		return LineStatePendingDeduction
	case !reserved.IsPositive():
		return LineStatePendingProduction
	default:
		return LineStatePartial
	}
}
