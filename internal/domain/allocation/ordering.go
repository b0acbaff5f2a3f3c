package allocation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/erp/allocation/internal/domain/shared"
)

// LotOrdering decides which eligible lot is consumed first
type LotOrdering string

const (
	// LotOrderingExpiry selects the soonest expiry first. Lots without an
	// expiry date go last, ties fall back to creation time.
	LotOrderingExpiry LotOrdering = "EXPIRY"
	// LotOrderingCreation selects the oldest lot first
	LotOrderingCreation LotOrdering = "CREATION"
)

// String returns the string representation
func (o LotOrdering) String() string {
	return string(o)
}

// IsValid reports whether o is a known ordering
func (o LotOrdering) IsValid() bool {
	return o == LotOrderingExpiry || o == LotOrderingCreation
}

// ParseLotOrdering parses an ordering name. An empty string means EXPIRY.
func ParseLotOrdering(s string) (LotOrdering, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LotOrderingExpiry, nil
	}
	o := LotOrdering(strings.ToUpper(s))
	if !o.IsValid() {
		return "", fmt.Errorf("%w: unknown lot ordering %q", shared.ErrInvalidInput, s)
	}
	return o, nil
}

// SortLots orders lots in place. The sort is stable and ends on the lot ID so
// the result is deterministic for equal dates.
func SortLots(lots []*Lot, ordering LotOrdering) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if ordering != LotOrderingCreation {
			switch {
			case a.ExpiryDate != nil && b.ExpiryDate == nil:
				return true
			case a.ExpiryDate == nil && b.ExpiryDate != nil:
				return false
			case a.ExpiryDate != nil && !a.ExpiryDate.Equal(*b.ExpiryDate):
				return a.ExpiryDate.Before(*b.ExpiryDate)
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// SortReclaimCandidates orders open reservations from most to least deferrable:
// latest due date first, then newest reservation, then ID.
func SortReclaimCandidates(candidates []*Reservation) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.OrderDueDate.Equal(b.OrderDueDate) {
			return a.OrderDueDate.After(b.OrderDueDate)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
