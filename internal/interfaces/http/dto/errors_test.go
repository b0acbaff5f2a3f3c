package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeReservationNotFound, http.StatusNotFound},
		{ErrCodeConcurrencyConflict, http.StatusConflict},
		{ErrCodeLockNotAcquired, http.StatusConflict},
		{ErrCodeInsufficientQuantity, http.StatusUnprocessableEntity},
		{ErrCodeLotNotEligible, http.StatusUnprocessableEntity},
		{ErrCodeInvalidQuantity, http.StatusBadRequest},
		{ErrCodePartialRelease, http.StatusConflict},
		{ErrCodeRequestTooLarge, http.StatusRequestEntityTooLarge},
		{"SOMETHING_NEW", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestErrorCodes_MatchDomainErrors(t *testing.T) {
	domainErrors := []*shared.DomainError{
		shared.ErrNotFound,
		shared.ErrAlreadyExists,
		shared.ErrInvalidInput,
		shared.ErrInvalidState,
		shared.ErrConcurrencyConflict,
		shared.ErrLockNotAcquired,
		allocation.ErrInsufficientQuantity,
		allocation.ErrReservationNotFound,
		allocation.ErrPartialDispatchFailure,
		allocation.ErrLotNotEligible,
		allocation.ErrInvalidQuantity,
		allocation.ErrRestoreExceedsInitial,
		allocation.ErrInconsistentLot,
		allocation.ErrPartialRelease,
	}
	for _, de := range domainErrors {
		_, ok := ErrorCodeHTTPStatus[de.Code]
		assert.True(t, ok, "no HTTP status for %s", de.Code)
	}
}

func TestErrorResponse_Envelope(t *testing.T) {
	resp := NewErrorResponseWithRequestID(ErrCodeInsufficientQuantity, "not enough", "req-1")

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, false, decoded["success"])
	assert.NotContains(t, decoded, "data")

	errObj := decoded["error"].(map[string]any)
	assert.Equal(t, "INSUFFICIENT_QUANTITY", errObj["code"])
	assert.Equal(t, "not enough", errObj["message"])
	assert.Equal(t, "req-1", errObj["request_id"])
}

func TestValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse("bad", "req-2", []ValidationDetail{{Field: "quantity", Message: "Must be greater than 0"}})

	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Len(t, resp.Error.Details, 1)
}

func TestSuccessResponse(t *testing.T) {
	resp := NewSuccessResponse(map[string]int{"n": 1})
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}
