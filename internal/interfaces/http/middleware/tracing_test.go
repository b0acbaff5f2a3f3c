package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/allocation/internal/infrastructure/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	router := gin.New()
	router.Use(logger.GinMiddleware(zap.NewNop()))
	router.Use(otelgin.Middleware("allocation-test", otelgin.WithTracerProvider(provider)))
	router.Use(SpanEnricher())
	router.GET("/lots/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	t.Run("adds request and actor ids", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/lots/42", nil)
		req.Header.Set(logger.RequestIDHeader, "req-42")
		req.Header.Set(logger.ActorIDHeader, "planner-7")
		router.ServeHTTP(httptest.NewRecorder(), req)

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		attrs := spans[len(spans)-1].Attributes()
		assert.Contains(t, attrs, attribute.String("request_id", "req-42"))
		assert.Contains(t, attrs, attribute.String("actor_id", "planner-7"))
	})

	t.Run("marks server errors", func(t *testing.T) {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		assert.Equal(t, codes.Error, spans[len(spans)-1].Status().Code)
	})
}

func TestTruncate(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(string(long)), maxAttrLength)
	assert.Equal(t, "short", truncate("short"))
}
