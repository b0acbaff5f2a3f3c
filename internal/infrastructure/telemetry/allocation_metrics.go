package telemetry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
)

// AllocationMetrics records business metrics for the allocation engine.
// A nil *AllocationMetrics is valid and records nothing.
type AllocationMetrics struct {
	allocatedQuantity  *FloatCounter
	shortQuantity      *FloatCounter
	reclaimedQuantity  *FloatCounter
	reclaimFailures    *Counter
	dispatchTotal      *Counter
	concurrencyRetries *Counter
	operationDuration  *Histogram
}

// NewAllocationMetrics creates the allocation instruments on meter.
func NewAllocationMetrics(meter metric.Meter) (*AllocationMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}

	m := &AllocationMetrics{}
	var err error

	if m.allocatedQuantity, err = NewFloatCounter(meter,
		"allocation_reserved_quantity_total", "Quantity reserved against lots", "{units}"); err != nil {
		return nil, err
	}
	if m.shortQuantity, err = NewFloatCounter(meter,
		"allocation_short_quantity_total", "Requested quantity that no lot could cover", "{units}"); err != nil {
		return nil, err
	}
	if m.reclaimedQuantity, err = NewFloatCounter(meter,
		"allocation_reclaimed_quantity_total", "Quantity reclaimed from less urgent orders", "{units}"); err != nil {
		return nil, err
	}
	if m.reclaimFailures, err = NewCounter(meter,
		"allocation_reclaim_failures_total", "Reclaim candidates that could not be released", "{reservations}"); err != nil {
		return nil, err
	}
	if m.dispatchTotal, err = NewCounter(meter,
		"allocation_dispatch_total", "Dispatch attempts by mode and outcome", "{dispatches}"); err != nil {
		return nil, err
	}
	if m.concurrencyRetries, err = NewCounter(meter,
		"allocation_concurrency_retries_total", "Operations retried after an optimistic lock conflict", "{retries}"); err != nil {
		return nil, err
	}
	if m.operationDuration, err = NewHistogram(meter,
		"allocation_operation_duration_seconds", "Engine operation latency", "s", OperationDurationBuckets...); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordAllocation records the outcome of one allocation request.
func (m *AllocationMetrics) RecordAllocation(ctx context.Context, productID uuid.UUID, reserved, short decimal.Decimal) {
	if m == nil {
		return
	}
	attr := AttrProductID.String(productID.String())
	m.allocatedQuantity.Add(ctx, reserved.InexactFloat64(), attr)
	m.shortQuantity.Add(ctx, short.InexactFloat64(), attr)
}

// RecordReclaim records the outcome of one arbitrage pass.
func (m *AllocationMetrics) RecordReclaim(ctx context.Context, productID uuid.UUID, recovered decimal.Decimal, failures int) {
	if m == nil {
		return
	}
	attr := AttrProductID.String(productID.String())
	m.reclaimedQuantity.Add(ctx, recovered.InexactFloat64(), attr)
	for i := 0; i < failures; i++ {
		m.reclaimFailures.Inc(ctx, attr)
	}
}

// RecordDispatch records a dispatch attempt. mode is "reserved" or "direct".
func (m *AllocationMetrics) RecordDispatch(ctx context.Context, mode string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.dispatchTotal.Inc(ctx, AttrOperation.String(mode), AttrOutcome.String(outcome))
}

// RecordRetry records a retry caused by a concurrency conflict.
func (m *AllocationMetrics) RecordRetry(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.concurrencyRetries.Inc(ctx, AttrOperation.String(operation))
}

// RecordDuration records how long an engine operation took.
func (m *AllocationMetrics) RecordDuration(ctx context.Context, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.RecordDuration(ctx, d, AttrOperation.String(operation))
}
