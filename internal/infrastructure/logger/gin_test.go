package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newLoggedRouter(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware(log), Recovery(log))
	return router
}

func TestGinMiddleware(t *testing.T) {
	t.Run("generates request id and logs request", func(t *testing.T) {
		core, recorded := observer.New(zapcore.InfoLevel)
		router := newLoggedRouter(zap.New(core))
		router.GET("/lots/:id", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lots/abc", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
		logs := recorded.FilterMessage("HTTP Request").All()
		require.Len(t, logs, 1)
		assert.Equal(t, "/lots/:id", logs[0].ContextMap()["path"])
		assert.Equal(t, w.Header().Get(RequestIDHeader), logs[0].ContextMap()["request_id"])
	})

	t.Run("propagates caller request id and actor into the request context", func(t *testing.T) {
		core, _ := observer.New(zapcore.InfoLevel)
		router := newLoggedRouter(zap.New(core))
		var gotRequest, gotActor string
		router.POST("/x", func(c *gin.Context) {
			gotRequest = GetRequestID(c.Request.Context())
			gotActor = GetActorID(c.Request.Context())
			c.Status(http.StatusNoContent)
		})

		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		req.Header.Set(ActorIDHeader, "planner")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "req-42", gotRequest)
		assert.Equal(t, "planner", gotActor)
		assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	})

	t.Run("client errors log at warn", func(t *testing.T) {
		core, recorded := observer.New(zapcore.InfoLevel)
		router := newLoggedRouter(zap.New(core))
		router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusConflict) })

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))

		logs := recorded.FilterMessage("HTTP Request").All()
		require.Len(t, logs, 1)
		assert.Equal(t, zapcore.WarnLevel, logs[0].Level)
	})
}

func TestRecovery(t *testing.T) {
	core, recorded := observer.New(zapcore.ErrorLevel)
	router := newLoggedRouter(zap.New(core))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.Equal(t, 1, recorded.FilterMessage("Panic recovered").Len())
}
