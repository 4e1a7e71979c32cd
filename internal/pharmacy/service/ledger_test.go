package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/clinicdate"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_TotalStockIgnoresExpiredLots(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 5)
	ctx := context.Background()

	f.lot(t, med.ID, "OLD", "2025-02-28", 50)
	f.lot(t, med.ID, "EDGE", "2025-03-01", 4)
	f.lot(t, med.ID, "NEW", "2026-01-01", 6)

	total, err := f.svc.Ledger.TotalStock(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, total, "a lot is usable through its expiration date")

	f.advance("2025-03-02")
	total, err = f.svc.Ledger.TotalStock(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	f.assertStockInvariant(t, med.ID)
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string]int
}

func (c *mapCache) Get(_ context.Context, id string, _ clinicdate.Date) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.entries[id]
	return n, ok
}

func (c *mapCache) Set(_ context.Context, id string, _ clinicdate.Date, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = total
}

func (c *mapCache) Invalidate(_ context.Context, ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.entries, id)
	}
}

func TestLedger_RecomputeStockOverwritesStaleCache(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	ctx := context.Background()
	stock := &mapCache{entries: map[string]int{}}
	svc := service.New(service.Deps{
		Medications: f.store.Medications(),
		Lots:        f.store.Lots(),
		Dispensing:  f.store.Dispensing(),
		Clock:       f.clock,
		Clinic:      testClinic,
		Cache:       stock,
	})

	med := f.medication(t, "Amoxicillin", 5)
	_, err := svc.Ledger.AddLot(ctx, domain.NewLot{MedicationID: med.ID, LotNumber: "A", ExpirationDate: "2025-12-31", Quantity: 10})
	require.NoError(t, err)

	// A total written back after a concurrent invalidation.
	stock.Set(ctx, med.ID, f.clock.Today(), 99)
	total, err := svc.Ledger.TotalStock(ctx, med.ID)
	require.NoError(t, err)
	require.Equal(t, 99, total)

	total, err = svc.Ledger.RecomputeStock(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, total)

	cached, ok := stock.Get(ctx, med.ID, f.clock.Today())
	require.True(t, ok)
	assert.Equal(t, 10, cached)

	_, err = svc.Ledger.RecomputeStock(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestLedger_ListLotsIsFEFO(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Ibuprofen", 5)

	f.lot(t, med.ID, "B", "2025-09-01", 1)
	f.lot(t, med.ID, "A", "2025-05-01", 1)
	f.lot(t, med.ID, "C", "2025-09-01", 1)
	f.lot(t, med.ID, "X", "2025-01-01", 1)

	lots, err := f.svc.Ledger.ListLots(context.Background(), med.ID)
	require.NoError(t, err)

	var order []string
	for _, l := range lots {
		order = append(order, l.LotNumber)
	}
	assert.Equal(t, []string{"X", "A", "B", "C"}, order)
	assert.True(t, lots[0].IsExpired)
}

func TestLedger_CorrectionOverridesDecrement(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Metformin", 5)
	ctx := staffContext()

	lot := f.lot(t, med.ID, "L1", "2026-01-01", 50)

	removed, err := f.svc.Ledger.DecrementLot(ctx, lot.ID, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, removed)

	_, err = f.svc.Ledger.SetLotQuantity(ctx, lot.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, 50, f.quantity(t, lot.ID))

	adjustments, err := f.svc.Ledger.Adjustments(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, adjustments, 3)
	assert.Equal(t, domain.AdjustmentReceive, adjustments[0].Type)
	assert.Equal(t, domain.AdjustmentDecrement, adjustments[1].Type)
	assert.Equal(t, -20, adjustments[1].Quantity)
	assert.Equal(t, domain.AdjustmentSet, adjustments[2].Type)
	assert.Equal(t, 30, adjustments[2].PreviousQuantity)
	assert.Equal(t, "Dr. Ada", adjustments[2].PerformedBy)

	assert.Len(t, f.events.Events(messaging.EventLotChanged), 3)
}

func TestLedger_DecrementNeverGoesNegative(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Cetirizine", 5)
	lot := f.lot(t, med.ID, "L1", "2026-01-01", 5)
	ctx := context.Background()

	for _, amount := range []int{3, 100, 1, 0} {
		_, err := f.svc.Ledger.DecrementLot(ctx, lot.ID, amount)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, f.quantity(t, lot.ID), 0)
	}
	assert.Zero(t, f.quantity(t, lot.ID))

	_, err := f.svc.Ledger.DecrementLot(ctx, lot.ID, -1)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	removed, err := f.svc.Ledger.DecrementLot(ctx, lot.ID, 4)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestLedger_AddLotValidation(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Lisinopril", 5)
	ctx := context.Background()

	tests := []struct {
		name string
		in   domain.NewLot
		want error
	}{
		{"empty lot number", domain.NewLot{MedicationID: med.ID, LotNumber: " ", ExpirationDate: "2026-01-01", Quantity: 1}, errors.ErrValidation},
		{"negative quantity", domain.NewLot{MedicationID: med.ID, LotNumber: "L", ExpirationDate: "2026-01-01", Quantity: -1}, errors.ErrValidation},
		{"bad expiration", domain.NewLot{MedicationID: med.ID, LotNumber: "L", ExpirationDate: "next year", Quantity: 1}, errors.ErrValidation},
		{"unknown medication", domain.NewLot{MedicationID: "missing", LotNumber: "L", ExpirationDate: "2026-01-01", Quantity: 1}, errors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Ledger.AddLot(ctx, tt.in)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	f.lot(t, med.ID, "DUP", "2026-01-01", 1)
	_, err := f.svc.Ledger.AddLot(ctx, domain.NewLot{MedicationID: med.ID, LotNumber: "DUP", ExpirationDate: "2027-01-01", Quantity: 1})
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = f.svc.Ledger.AddLot(ctx, domain.NewLot{MedicationID: med.ID, Site: "mobile-van", LotNumber: "DUP", ExpirationDate: "2027-01-01", Quantity: 1})
	assert.NoError(t, err, "lot numbers are unique per site")
}

func TestLedger_MissingLotFailsFast(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	ctx := context.Background()

	_, err := f.svc.Ledger.SetLotQuantity(ctx, "missing", 1)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = f.svc.Ledger.DecrementLot(ctx, "missing", 1)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = f.svc.Ledger.DeleteLot(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	_, err = f.svc.Ledger.SetLotQuantity(ctx, "missing", -1)
	assert.True(t, errors.Is(err, errors.ErrValidation), "validation runs before lookup")
}

func TestLedger_DeleteAndThreshold(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Omeprazole", 5)
	ctx := context.Background()
	keep := f.lot(t, med.ID, "KEEP", "2026-01-01", 7)
	drop := f.lot(t, med.ID, "DROP", "2026-01-01", 3)
	assert.Equal(t, 10, keep.LowStockThreshold)

	lot, err := f.svc.Ledger.SetLowStockThreshold(ctx, keep.ID, 8)
	require.NoError(t, err)
	assert.True(t, lot.IsLow())

	_, err = f.svc.Ledger.SetLowStockThreshold(ctx, keep.ID, -1)
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = f.svc.Ledger.DeleteLot(ctx, drop.ID)
	require.NoError(t, err)

	total, err := f.svc.Ledger.TotalStock(ctx, med.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	lots, err := f.svc.Ledger.FindLot(ctx, med.ID, "KEEP")
	require.NoError(t, err)
	assert.Len(t, lots, 1)
	_, err = f.svc.Ledger.FindLot(ctx, med.ID, "DROP")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
