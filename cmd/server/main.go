package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appalloc "github.com/erp/allocation/internal/application/allocation"
	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/erp/allocation/internal/domain/shared"
	"github.com/erp/allocation/internal/infrastructure/cache"
	"github.com/erp/allocation/internal/infrastructure/config"
	"github.com/erp/allocation/internal/infrastructure/event"
	"github.com/erp/allocation/internal/infrastructure/logger"
	"github.com/erp/allocation/internal/infrastructure/persistence"
	"github.com/erp/allocation/internal/infrastructure/scheduler"
	"github.com/erp/allocation/internal/infrastructure/telemetry"
	"github.com/erp/allocation/internal/interfaces/http/handler"
	"github.com/erp/allocation/internal/interfaces/http/middleware"
	"github.com/erp/allocation/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx := context.Background()

	// OpenTelemetry: traces, metrics and the zap log bridge
	otelProviders, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:     cfg.Telemetry.ServiceName,
		ServiceVersion:  version,
		Endpoint:        cfg.Telemetry.CollectorEndpoint,
		Insecure:        cfg.Telemetry.Insecure,
		Traces:          cfg.Telemetry.Enabled,
		SamplingRatio:   cfg.Telemetry.SamplingRatio,
		Metrics:         cfg.Telemetry.MetricsEnabled,
		MetricsInterval: cfg.Telemetry.MetricsInterval,
		Logs:            cfg.Telemetry.LogsEnabled,
	}, log)
	if err != nil {
		return err
	}
	log = otelProviders.Bridge(log, zapcore.InfoLevel)
	defer func() {
		if err := otelProviders.Shutdown(context.Background()); err != nil {
			log.Error("Failed to shutdown telemetry", zap.Error(err))
		}
	}()

	log.Info("Starting allocation service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	db, err := persistence.NewDatabase(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Telemetry.DBTraceEnabled {
		plugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:         true,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:        "postgresql",
		}, log)
		if err := plugin.Register(db.DB); err != nil {
			return err
		}
	}
	log.Info("Database connected")

	// Reclaim lock. Production refuses to fall back to an in-process lock.
	locker, err := cache.NewLockerFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateLocker()
	if err != nil {
		return err
	}
	if closer, ok := locker.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}

	// Event bus with the log handler and the websocket stream
	bus := event.NewInMemoryEventBus(log)
	bus.Subscribe(event.NewLogHandler(log))
	stream := handler.NewEventStream(cfg.HTTP.CORSAllowOrigins, log)
	bus.Subscribe(stream)
	if err := bus.Start(ctx); err != nil {
		return err
	}

	ordering, err := allocation.ParseLotOrdering(cfg.Allocation.DirectDispatchOrdering)
	if err != nil {
		return err
	}
	appCfg := appalloc.Config{
		MaxRetries:             cfg.Allocation.MaxRetries,
		RetryBackoff:           cfg.Allocation.RetryBackoff,
		DirectDispatchOrdering: ordering,
		ReclaimEnabled:         cfg.Allocation.ReclaimEnabled,
		ReclaimLockTTL:         cfg.Allocation.ReclaimLockTTL,
	}

	metrics, err := telemetry.NewAllocationMetrics(otelProviders.Meter("allocation"))
	if err != nil {
		return err
	}

	// Repositories and services
	scope := persistence.NewGormTransactionScope(db.DB)
	lotRepo := persistence.NewGormLotRepository(db.DB)
	reservationRepo := persistence.NewGormReservationRepository(db.DB)
	orders := persistence.NewGormOrderBook(db.DB)
	production := persistence.NewGormProductionCollaborator(db.DB)

	lotLedger := appalloc.NewLotLedger(scope, lotRepo, reservationRepo, appCfg, log)
	reservationLedger := appalloc.NewReservationLedger(scope, reservationRepo, orders, appCfg, log)
	allocator := appalloc.NewAllocator(scope, orders, appCfg, log)
	dispatcher := appalloc.NewDispatcher(scope, appCfg, log)
	arbitrage := appalloc.NewArbitrageEngine(scope, reservationLedger, orders, locker, appCfg, log)
	for _, svc := range []instrumented{lotLedger, reservationLedger, allocator, dispatcher, arbitrage} {
		svc.SetEventPublisher(bus)
		svc.SetMetrics(metrics)
	}
	engine := appalloc.NewEngine(allocator, dispatcher, arbitrage, reservationLedger, reservationRepo, orders, log)
	planner := appalloc.NewFulfillmentPlanner(engine, orders, production, appCfg, log)

	// Background workers
	sched := scheduler.NewScheduler(log)
	if cfg.Allocation.ReplanEnabled {
		if err := sched.Register(scheduler.NewReplanJob(planner, cfg.Allocation.ReplanBatchSize, log),
			scheduler.JobConfig{Interval: cfg.Allocation.ReplanInterval}); err != nil {
			return err
		}
	}
	if cfg.Allocation.ExpiryEnabled {
		if err := sched.Register(scheduler.NewExpiryJob(lotLedger, cfg.Allocation.ExpiryBatchSize),
			scheduler.JobConfig{Interval: cfg.Allocation.ExpiryInterval, RunOnStart: true}); err != nil {
			return err
		}
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := middleware.SetupValidator(); err != nil {
		return err
	}
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		cors.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}
	ginEngine, err := router.NewEngine(router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		Logger:         log,
		Tracing:        cfg.Telemetry.Enabled,
		Metrics:        middleware.NewHTTPMetrics(),
		CORS:           cors,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		return err
	}

	system := handler.NewSystemHandler(cfg.App.Name, version, map[string]handler.Pinger{"database": db})
	ginEngine.GET("/health", system.Health)
	router.NewRouter(ginEngine).
		Register(
			system,
			handler.NewLotHandler(lotLedger),
			handler.NewAllocationHandler(engine, planner, orders),
			handler.NewOrderHandler(engine, orders),
			handler.NewReservationHandler(reservationLedger),
			stream,
		).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        ginEngine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// websocket connections are hijacked and not closed by Shutdown
	stream.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error("Scheduler did not stop cleanly", zap.Error(err))
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Error("Event bus did not stop cleanly", zap.Error(err))
	}

	log.Info("Server exited gracefully")
	return nil
}

// instrumented is implemented by every service that publishes events and records metrics
type instrumented interface {
	SetEventPublisher(publisher shared.EventPublisher)
	SetMetrics(metrics *telemetry.AllocationMetrics)
}
