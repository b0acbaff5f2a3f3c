package dto

import "net/http"

// Error codes. Domain errors keep the code of their shared.DomainError so
// clients see the same code the engine raised.

// General error codes
const (
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeRequestTooLarge = "REQUEST_TOO_LARGE"
)

// Shared domain error codes
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAlreadyExists       = "ALREADY_EXISTS"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	ErrCodeLockNotAcquired     = "LOCK_NOT_ACQUIRED"
)

// Allocation error codes
const (
	ErrCodeInsufficientQuantity   = "INSUFFICIENT_QUANTITY"
	ErrCodeReservationNotFound    = "RESERVATION_NOT_FOUND"
	ErrCodePartialDispatchFailure = "PARTIAL_DISPATCH_FAILURE"
	ErrCodeLotNotEligible         = "LOT_NOT_ELIGIBLE"
	ErrCodeInvalidQuantity        = "INVALID_QUANTITY"
	ErrCodeRestoreExceedsInitial  = "RESTORE_EXCEEDS_INITIAL"
	ErrCodeInconsistentLot        = "INCONSISTENT_RESERVATION"
	ErrCodePartialRelease         = "PARTIAL_RELEASE_FAILURE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:        http.StatusInternalServerError,
	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeInvalidInput:        http.StatusBadRequest,
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeLockNotAcquired:     http.StatusConflict,

	ErrCodeInsufficientQuantity:   http.StatusUnprocessableEntity,
	ErrCodeReservationNotFound:    http.StatusNotFound,
	ErrCodePartialDispatchFailure: http.StatusUnprocessableEntity,
	ErrCodeLotNotEligible:         http.StatusUnprocessableEntity,
	ErrCodeInvalidQuantity:        http.StatusBadRequest,
	ErrCodeRestoreExceedsInitial:  http.StatusUnprocessableEntity,
	ErrCodePartialRelease:         http.StatusConflict,
	// stored quantities disagree with reservations: a server-side fault
	ErrCodeInconsistentLot: http.StatusInternalServerError,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
