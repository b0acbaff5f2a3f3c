package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/erp/allocation/internal/domain/allocation"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewTestUUID(t *testing.T) {
	assert.Equal(t, NewTestUUID("lot-1"), NewTestUUID("lot-1"))
	assert.NotEqual(t, NewTestUUID("lot-1"), NewTestUUID("lot-2"))
}

func TestRecordingHandler(t *testing.T) {
	h := NewRecordingHandler()
	dispatched := allocation.NewOrderDispatchedEvent(uuid.New(), nil, Dec("1"), true)

	assert.NoError(t, h.Handle(context.Background(), dispatched))
	assert.NoError(t, h.Handle(context.Background(), dispatched))

	assert.Nil(t, h.EventTypes())
	assert.Len(t, h.Handled(), 2)
	assert.Equal(t, 2, h.Count(allocation.EventTypeOrderDispatched))
	assert.Zero(t, h.Count(allocation.EventTypeLotExhausted))
}

func TestContextWithTimeout(t *testing.T) {
	ctx := ContextWithTimeout(t, time.Minute)
	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), Day(2026, time.March, 4))
}
