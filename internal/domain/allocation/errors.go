package allocation

import "github.com/erp/allocation/internal/domain/shared"

// Allocation domain errors
var (
	ErrInsufficientQuantity   = shared.NewDomainError("INSUFFICIENT_QUANTITY", "Requested quantity exceeds the lot's current quantity")
	ErrReservationNotFound    = shared.NewDomainError("RESERVATION_NOT_FOUND", "Reservation not found or no longer open")
	ErrPartialDispatchFailure = shared.NewDomainError("PARTIAL_DISPATCH_FAILURE", "Available stock does not cover the dispatch")
	ErrLotNotEligible         = shared.NewDomainError("LOT_NOT_ELIGIBLE", "Lot is not available for allocation")
	ErrInvalidQuantity        = shared.NewDomainError("INVALID_QUANTITY", "Quantity must be positive")
	ErrRestoreExceedsInitial  = shared.NewDomainError("RESTORE_EXCEEDS_INITIAL", "Restore would exceed the lot's initial quantity")
	ErrInconsistentLot        = shared.NewDomainError("INCONSISTENT_RESERVATION", "Lot quantity does not account for the reservation")
	ErrPartialRelease         = shared.NewDomainError("PARTIAL_RELEASE_FAILURE", "Some reservations of the order could not be released")
)
