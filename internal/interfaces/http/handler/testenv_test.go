package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appalloc "github.com/erp/allocation/internal/application/allocation"
	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/infrastructure/cache"
	"github.com/erp/allocation/internal/infrastructure/config"
	"github.com/erp/allocation/internal/infrastructure/logger"
	"github.com/erp/allocation/internal/infrastructure/persistence"
	"github.com/erp/allocation/internal/infrastructure/persistence/models"
	"github.com/erp/allocation/internal/interfaces/http/dto"
	"github.com/erp/allocation/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := middleware.SetupValidator(); err != nil {
		panic(err)
	}
}

// testEnv is the full allocation stack over an in-memory SQLite database
type testEnv struct {
	engine  *gin.Engine
	orders  allocation.OrderBook
	lots    *appalloc.LotLedger
	service *appalloc.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), persistence.GormConfig(config.DatabaseConfig{LogLevel: "silent"}, nil))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(
		&models.LotModel{},
		&models.ReservationModel{},
		&models.SalesOrderModel{},
		&models.SalesOrderLineModel{},
		&models.ProductionRequestModel{},
	))

	log := zap.NewNop()
	cfg := appalloc.DefaultConfig()
	scope := persistence.NewGormTransactionScope(db)
	lotRepo := persistence.NewGormLotRepository(db)
	resRepo := persistence.NewGormReservationRepository(db)
	orders := persistence.NewGormOrderBook(db)

	lotLedger := appalloc.NewLotLedger(scope, lotRepo, resRepo, cfg, log)
	resLedger := appalloc.NewReservationLedger(scope, resRepo, orders, cfg, log)
	arbitrage := appalloc.NewArbitrageEngine(scope, resLedger, orders, cache.NewInMemoryLocker(), cfg, log)
	engine := appalloc.NewEngine(
		appalloc.NewAllocator(scope, orders, cfg, log),
		appalloc.NewDispatcher(scope, cfg, log),
		arbitrage, resLedger, resRepo, orders, log,
	)
	planner := appalloc.NewFulfillmentPlanner(engine, orders, persistence.NewGormProductionCollaborator(db), cfg, log)

	r := gin.New()
	r.Use(logger.GinMiddleware(log))
	api := r.Group("/api/v1")
	NewLotHandler(lotLedger).RegisterRoutes(api)
	NewAllocationHandler(engine, planner, orders).RegisterRoutes(api)
	NewOrderHandler(engine, orders).RegisterRoutes(api)
	NewReservationHandler(resLedger).RegisterRoutes(api)

	return &testEnv{engine: r, orders: orders, lots: lotLedger, service: engine}
}

// envelope mirrors dto.Response with a typed payload
type envelope[T any] struct {
	Success bool           `json:"success"`
	Data    T              `json:"data"`
	Error   *dto.ErrorInfo `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var env envelope[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

var (
	productionDay = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dueDay0       = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
)

func dueDay(n int) time.Time {
	return dueDay0.AddDate(0, 0, n)
}

// registerLot registers a lot through the API and returns its response
func (e *testEnv) registerLot(t *testing.T, productID uuid.UUID, number string, qty string, expiry time.Time) appalloc.LotResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/lots", map[string]any{
		"product_id":      productID,
		"lot_number":      number,
		"quantity":        qty,
		"production_date": productionDay,
		"expiry_date":     expiry,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[appalloc.LotResponse](t, w).Data
}

// putOrder mirrors a one-line order and returns the line ID
func (e *testEnv) putOrder(t *testing.T, orderID, productID uuid.UUID, qty string, due time.Time) uuid.UUID {
	t.Helper()
	lineID := uuid.New()
	w := e.do(t, http.MethodPut, "/api/v1/orders/"+orderID.String(), map[string]any{
		"due_date": due,
		"lines": []map[string]any{
			{"id": lineID, "product_id": productID, "quantity": qty},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return lineID
}

func (e *testEnv) allocate(t *testing.T, productID, orderID, lineID uuid.UUID, qty string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/v1/allocations", map[string]any{
		"product_id":    productID,
		"order_id":      orderID,
		"order_line_id": lineID,
		"quantity":      qty,
	})
}
