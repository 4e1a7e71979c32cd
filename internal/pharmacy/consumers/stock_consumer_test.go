package consumers_test

import (
	"context"
	"testing"

	"github.com/medflow/medtrack/internal/pharmacy/consumers"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/medflow/medtrack/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStock struct {
	calls []string
	fail  map[string]error
}

func (f *fakeStock) RecomputeStock(ctx context.Context, medicationID string) (int, error) {
	f.calls = append(f.calls, medicationID)
	if err := f.fail[medicationID]; err != nil {
		return 0, err
	}
	return 10, nil
}

func event(t *testing.T, eventType string, data interface{}) *messaging.Event {
	t.Helper()
	e, err := messaging.NewEvent(eventType, "pharmacy-service", "", data)
	require.NoError(t, err)
	return e
}

func TestStockEventHandler_RefreshesAffectedMedications(t *testing.T) {
	ctx := context.Background()
	stock := &fakeStock{}
	h := consumers.NewStockEventHandler(stock, logger.Nop())

	require.NoError(t, h.HandleEvent(ctx, event(t, messaging.EventLotChanged, messaging.LotChangedEvent{MedicationID: "m1"})))
	require.NoError(t, h.HandleEvent(ctx, event(t, messaging.EventDispenseRecorded, messaging.DispenseRecordedEvent{MedicationID: "m2"})))
	require.NoError(t, h.HandleEvent(ctx, event(t, messaging.EventDispenseWithdrawn, messaging.DispenseWithdrawnEvent{MedicationID: "m3"})))
	require.NoError(t, h.HandleEvent(ctx, event(t, messaging.EventImportCompleted, messaging.ImportCompletedEvent{MedicationIDs: []string{"m4", "m5"}})))

	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5"}, stock.calls)
}

func TestStockEventHandler_IgnoresDeletedMedication(t *testing.T) {
	stock := &fakeStock{fail: map[string]error{"gone": errors.NotFound("medication")}}
	h := consumers.NewStockEventHandler(stock, logger.Nop())

	err := h.HandleEvent(context.Background(), event(t, messaging.EventLotChanged, messaging.LotChangedEvent{MedicationID: "gone"}))
	assert.NoError(t, err)
}

func TestStockEventHandler_StoreErrorIsRetried(t *testing.T) {
	stock := &fakeStock{fail: map[string]error{"m1": errors.Internal("db down")}}
	h := consumers.NewStockEventHandler(stock, logger.Nop())

	err := h.HandleEvent(context.Background(), event(t, messaging.EventDispenseRecorded, messaging.DispenseRecordedEvent{MedicationID: "m1"}))
	assert.Error(t, err, "an error makes the consumer requeue the message")
}

func TestStockEventHandler_StockLowAndUnknown(t *testing.T) {
	stock := &fakeStock{}
	h := consumers.NewStockEventHandler(stock, logger.Nop())
	ctx := context.Background()

	assert.NoError(t, h.HandleEvent(ctx, event(t, messaging.EventStockLow, messaging.StockLowEvent{MedicationID: "m1", CurrentStock: 2, MinStock: 5})))
	assert.NoError(t, h.HandleEvent(ctx, &messaging.Event{Type: "pharmacy.unknown"}))
	assert.Empty(t, stock.calls)

	assert.Error(t, h.HandleEvent(ctx, &messaging.Event{Type: messaging.EventLotChanged}))
}
