package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quantityRequest struct {
	Quantity decimal.Decimal `json:"quantity" binding:"decimal_gt=0"`
	Buffer   decimal.Decimal `json:"buffer" binding:"decimal_gte=0"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	RegisterValidations(v)
	return v
}

func TestDecimalValidations(t *testing.T) {
	v := newValidator()

	t.Run("accepts positive quantity", func(t *testing.T) {
		err := v.Struct(quantityRequest{Quantity: decimal.RequireFromString("0.001")})
		assert.NoError(t, err)
	})

	t.Run("rejects zero quantity", func(t *testing.T) {
		err := v.Struct(quantityRequest{Quantity: decimal.Zero})
		require.Error(t, err)

		var verrs validator.ValidationErrors
		require.ErrorAs(t, err, &verrs)
		assert.Equal(t, "quantity", verrs[0].Field())
		assert.Equal(t, "decimal_gt", verrs[0].Tag())
	})

	t.Run("rejects negative buffer", func(t *testing.T) {
		err := v.Struct(quantityRequest{Quantity: decimal.NewFromInt(1), Buffer: decimal.NewFromInt(-1)})
		assert.Error(t, err)
	})
}

func TestHandleValidationError(t *testing.T) {
	require.NoError(t, SetupValidator())

	router := gin.New()
	router.POST("/test", func(c *gin.Context) {
		c.Set("request_id", "req-9")
		var req quantityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			HandleValidationError(c, err)
			return
		}
		c.Status(http.StatusOK)
	})

	t.Run("reports invalid fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(`{"quantity":"0"}`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		errObj := body["error"].(map[string]any)
		assert.Equal(t, "VALIDATION_ERROR", errObj["code"])
		assert.Equal(t, "req-9", errObj["request_id"])
		details := errObj["details"].([]any)
		assert.Equal(t, "quantity", details[0].(map[string]any)["field"])
	})

	t.Run("malformed json has no details", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(`{"quantity":`)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NotContains(t, w.Body.String(), "details")
	})

	t.Run("accepts numbers and strings", func(t *testing.T) {
		for _, body := range []string{`{"quantity":2.5}`, `{"quantity":"2.5"}`} {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(body)))
			assert.Equal(t, http.StatusOK, w.Code, body)
		}
	})
}
