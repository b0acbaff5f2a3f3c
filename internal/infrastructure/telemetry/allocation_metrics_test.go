package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/erp/allocation/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewAllocationMetrics(t *testing.T) {
	t.Run("rejects nil meter", func(t *testing.T) {
		m, err := telemetry.NewAllocationMetrics(nil)
		assert.ErrorIs(t, err, telemetry.ErrMeterNil)
		assert.Nil(t, m)
	})

	t.Run("records on a noop meter without panicking", func(t *testing.T) {
		m, err := telemetry.NewAllocationMetrics(noop.NewMeterProvider().Meter("test"))
		require.NoError(t, err)

		ctx := context.Background()
		m.RecordAllocation(ctx, uuid.New(), decimal.NewFromInt(5), decimal.NewFromInt(2))
		m.RecordReclaim(ctx, uuid.New(), decimal.NewFromInt(3), 1)
		m.RecordDispatch(ctx, "direct", false)
		m.RecordRetry(ctx, "allocate")
		m.RecordDuration(ctx, "allocate", 10*time.Millisecond)
	})

	t.Run("nil metrics is a no-op", func(t *testing.T) {
		var m *telemetry.AllocationMetrics
		m.RecordAllocation(context.Background(), uuid.New(), decimal.NewFromInt(1), decimal.Zero)
		m.RecordDispatch(context.Background(), "reserved", true)
	})
}

func TestAllocationMetrics_RecordAllocation(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := telemetry.NewAllocationMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordAllocation(ctx, uuid.New(), decimal.RequireFromString("7.5"), decimal.Zero)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var reserved float64
	var sawShort bool
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "allocation_reserved_quantity_total":
				sum := md.Data.(metricdata.Sum[float64])
				for _, dp := range sum.DataPoints {
					reserved += dp.Value
				}
			case "allocation_short_quantity_total":
				sawShort = len(md.Data.(metricdata.Sum[float64]).DataPoints) > 0
			}
		}
	}
	assert.InDelta(t, 7.5, reserved, 0.0001)
	assert.False(t, sawShort, "zero short quantity is not recorded")
}

func TestStartServiceSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := telemetry.StartServiceSpan(context.Background(), "allocator", "allocate",
		telemetry.SpanAttrQuantity, "5", telemetry.SpanAttrAttempt, 2)
	assert.NotEmpty(t, telemetry.GetTraceID(ctx))
	telemetry.RecordError(span, assert.AnError)
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "allocator.allocate", spans[0].Name())
	assert.Len(t, spans[0].Attributes(), 2)
	assert.Len(t, spans[0].Events(), 1)
}

func TestGetTraceID_NoSpan(t *testing.T) {
	assert.Empty(t, telemetry.GetTraceID(context.Background()))
}

func TestSetup_AllSignalsDisabled(t *testing.T) {
	logger := zap.NewNop()
	providers, err := telemetry.Setup(context.Background(), telemetry.Config{ServiceName: "allocation-test"}, logger)
	require.NoError(t, err)

	assert.Same(t, logger, providers.Bridge(logger, zapcore.InfoLevel))
	assert.NotNil(t, providers.Meter("allocation"))
	assert.NoError(t, providers.Shutdown(context.Background()))
}
