package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/actor"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispenseOne(t *testing.T, f *fixture, ctx context.Context, medID string, qty int) *domain.DispensingRecord {
	t.Helper()
	result, err := f.svc.Allocator.Dispense(ctx, dispenseRequest(medID, qty))
	require.NoError(t, err)
	records := result.Records()
	require.Len(t, records, 1)
	return records[0]
}

func TestWithdraw_RestoresOriginalLot(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 2)
	lot := f.lot(t, med.ID, "L1", "2026-01-01", 40)
	ctx := staffContext()

	rec := dispenseOne(t, f, ctx, med.ID, 10)
	assert.Equal(t, 30, f.quantity(t, lot.ID))

	wr, err := f.svc.Dispensing.Withdraw(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, lot.ID, wr.RestoredLotID)
	assert.Equal(t, 10, wr.RestoredQuantity)
	assert.False(t, wr.LotRecreated)
	assert.Equal(t, 40, f.quantity(t, lot.ID))

	_, err = f.svc.Dispensing.Get(ctx, rec.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	recent, err := f.svc.Dispensing.Recent(ctx, "staff-1")
	require.NoError(t, err)
	assert.Empty(t, recent)

	events := f.events.Events(messaging.EventDispenseWithdrawn)
	require.Len(t, events, 1)
	assert.Equal(t, "Dr. Ada", events[0].Payload.(messaging.DispenseWithdrawnEvent).WithdrawnBy)
	f.assertStockInvariant(t, med.ID)
}

func TestWithdraw_RestoresConsumedQuantityNotEditedQuantity(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 2)
	lot := f.lot(t, med.ID, "L1", "2026-01-01", 40)
	ctx := staffContext()

	rec := dispenseOne(t, f, ctx, med.ID, 10)
	edited := 3
	_, err := f.svc.Dispensing.Update(ctx, rec.ID, domain.RecordUpdate{Quantity: &edited})
	require.NoError(t, err)

	wr, err := f.svc.Dispensing.Withdraw(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, wr.RestoredQuantity)
	assert.Equal(t, 40, f.quantity(t, lot.ID))
}

func TestWithdraw_FallsBackToLotNumber(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 2)
	lot := f.lot(t, med.ID, "L1", "2026-01-01", 40)
	ctx := staffContext()

	rec := dispenseOne(t, f, ctx, med.ID, 10)
	_, err := f.svc.Ledger.DeleteLot(ctx, lot.ID)
	require.NoError(t, err)
	replacement := f.lot(t, med.ID, "L1", "2026-01-01", 5)

	wr, err := f.svc.Dispensing.Withdraw(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, replacement.ID, wr.RestoredLotID)
	assert.False(t, wr.LotRecreated)
	assert.Equal(t, 15, f.quantity(t, replacement.ID))
}

func TestWithdraw_RecreatesDeletedLot(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 2)
	lot := f.lot(t, med.ID, "L1", "2026-01-01", 40)
	ctx := staffContext()

	rec := dispenseOne(t, f, ctx, med.ID, 10)
	_, err := f.svc.Ledger.DeleteLot(ctx, lot.ID)
	require.NoError(t, err)

	wr, err := f.svc.Dispensing.Withdraw(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, wr.LotRecreated)
	assert.NotEqual(t, lot.ID, wr.RestoredLotID)

	recreated, err := f.svc.Ledger.GetLot(ctx, wr.RestoredLotID)
	require.NoError(t, err)
	assert.Equal(t, "L1", recreated.LotNumber)
	assert.Equal(t, "2026-01-01", recreated.ExpirationDate.String())
	assert.Equal(t, 10, recreated.Quantity)
	f.assertStockInvariant(t, med.ID)
}

func TestWithdraw_RollsBackRestoreWhenDeleteFails(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 2)
	lot := f.lot(t, med.ID, "L1", "2026-01-01", 40)
	ctx := staffContext()

	rec := dispenseOne(t, f, ctx, med.ID, 10)
	f.store.FailNext("dispensing.delete", errors.Internal("database unavailable"))

	_, err := f.svc.Dispensing.Withdraw(ctx, rec.ID)
	require.Error(t, err)
	assert.Equal(t, 30, f.quantity(t, lot.ID), "restore is rolled back")

	still, err := f.svc.Dispensing.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, still.ID)
	assert.Empty(t, f.events.Events(messaging.EventDispenseWithdrawn))
}

func TestWithdraw_RecreatedLotRemovedWhenDeleteFails(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 2)
	lot := f.lot(t, med.ID, "L1", "2026-01-01", 40)
	ctx := staffContext()

	rec := dispenseOne(t, f, ctx, med.ID, 10)
	_, err := f.svc.Ledger.DeleteLot(ctx, lot.ID)
	require.NoError(t, err)
	f.store.FailNext("dispensing.delete", errors.Internal("database unavailable"))

	_, err = f.svc.Dispensing.Withdraw(ctx, rec.ID)
	require.Error(t, err)

	lots, err := f.svc.Ledger.ListLots(ctx, med.ID)
	require.NoError(t, err)
	assert.Empty(t, lots)
}

func TestWithdraw_UnknownRecord(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	_, err := f.svc.Dispensing.Withdraw(context.Background(), "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDispensingLog_Update(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 2)
	f.lot(t, med.ID, "L1", "2026-01-01", 40)
	ctx := staffContext()
	rec := dispenseOne(t, f, ctx, med.ID, 10)

	t.Run("applies editable fields", func(t *testing.T) {
		patient := "Mary Ann Smith"
		notes := "given with food"
		updated, err := f.svc.Dispensing.Update(ctx, rec.ID, domain.RecordUpdate{PatientID: &patient, Notes: &notes})
		require.NoError(t, err)
		assert.Equal(t, "M.A.S.", updated.PatientInitials)
		assert.Equal(t, notes, updated.Notes)
		assert.Equal(t, med.ID, updated.MedicationID)
		assert.Equal(t, rec.LogDate, updated.LogDate)
	})

	t.Run("empty update", func(t *testing.T) {
		_, err := f.svc.Dispensing.Update(ctx, rec.ID, domain.RecordUpdate{})
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
	})

	t.Run("invalid quantity", func(t *testing.T) {
		zero := 0
		_, err := f.svc.Dispensing.Update(ctx, rec.ID, domain.RecordUpdate{Quantity: &zero})
		assert.True(t, errors.Is(err, errors.ErrValidation))
	})

	t.Run("unknown record", func(t *testing.T) {
		notes := "x"
		_, err := f.svc.Dispensing.Update(ctx, "missing", domain.RecordUpdate{Notes: &notes})
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestDispensingLog_CreateValidation(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 2)

	_, err := f.svc.Dispensing.Create(context.Background(), &domain.DispensingRecord{MedicationID: med.ID, PatientID: "p", Quantity: 0})
	assert.True(t, errors.Is(err, errors.ErrValidation))

	rec, err := f.svc.Dispensing.Create(context.Background(), &domain.DispensingRecord{MedicationID: med.ID, PatientID: "p q", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, "Amoxicillin", rec.MedicationName)
	assert.Equal(t, "main", rec.ClinicSite)
	assert.Equal(t, "System", rec.EnteredBy)
	assert.Equal(t, "2025-03-01", rec.LogDate.String())
}

func TestDispensingLog_ListRangeAndSearch(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	amox := f.medication(t, "Amoxicillin", 2)
	ibu := f.medication(t, "Ibuprofen", 2)
	f.lot(t, amox.ID, "A1", "2026-01-01", 100)
	f.lot(t, ibu.ID, "I1", "2026-01-01", 100)
	ctx := staffContext()

	dispenseOne(t, f, ctx, amox.ID, 1)
	f.advance("2025-03-08")
	req := dispenseRequest(ibu.ID, 1)
	req.Indication = "Headache"
	_, err := f.svc.Allocator.Dispense(ctx, req)
	require.NoError(t, err)
	f.advance("2025-03-10")
	dispenseOne(t, f, ctx, amox.ID, 2)

	list := func(filter domain.LogFilter) []string {
		records, err := f.svc.Dispensing.List(ctx, filter)
		require.NoError(t, err)
		names := []string{}
		for _, r := range records {
			names = append(names, r.MedicationName+"@"+r.LogDate.String())
		}
		return names
	}

	assert.Equal(t, []string{"Amoxicillin@2025-03-10", "Ibuprofen@2025-03-08", "Amoxicillin@2025-03-01"}, list(domain.LogFilter{Range: domain.RangeAll}))
	assert.Equal(t, []string{"Amoxicillin@2025-03-10"}, list(domain.LogFilter{Range: domain.RangeToday}))
	assert.Equal(t, []string{"Amoxicillin@2025-03-10", "Ibuprofen@2025-03-08"}, list(domain.LogFilter{Range: domain.RangeWeek}))
	assert.Equal(t, []string{"Ibuprofen@2025-03-08"}, list(domain.LogFilter{Search: "HEADACHE"}))
	assert.Equal(t, []string{"Amoxicillin@2025-03-10", "Amoxicillin@2025-03-01"}, list(domain.LogFilter{Search: "amox"}))
	assert.Equal(t, []string{"Amoxicillin@2025-03-10"}, list(domain.LogFilter{Range: domain.RangeToday, MedicationID: amox.ID}))
}

func TestDispensingLog_BackdatedDispense(t *testing.T) {
	f := newFixture(t, "2025-03-10")
	med := f.medication(t, "Amoxicillin", 2)
	f.lot(t, med.ID, "L1", "2026-01-01", 40)

	req := dispenseRequest(med.ID, 1)
	req.DispensedAt = time.Date(2025, 3, 5, 23, 30, 0, 0, time.UTC)
	result, err := f.svc.Allocator.Dispense(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-05", result.Records()[0].LogDate.String())
}

func TestDispensingLog_RecentWindowPerActor(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 2)
	f.lot(t, med.ID, "L1", "2026-01-01", 100)

	ada := staffContext()
	bo := actor.WithActor(context.Background(), &actor.Actor{ID: "staff-2", Name: "Bo", Role: actor.RoleProvider})

	var adaIDs []string
	for i := 0; i < 7; i++ {
		adaIDs = append(adaIDs, dispenseOne(t, f, ada, med.ID, 1).ID)
	}
	boRec := dispenseOne(t, f, bo, med.ID, 1)

	recent, err := f.svc.Dispensing.Recent(ada, "staff-1")
	require.NoError(t, err)
	require.Len(t, recent, testClinic.RecentWindow)
	assert.Equal(t, adaIDs[6], recent[0].ID, "newest first")
	assert.Equal(t, adaIDs[2], recent[4].ID)

	recent, err = f.svc.Dispensing.Recent(bo, "staff-2")
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, boRec.ID, recent[0].ID)

	_, err = f.svc.Dispensing.Withdraw(bo, adaIDs[6])
	require.NoError(t, err)
	recent, err = f.svc.Dispensing.Recent(ada, "staff-1")
	require.NoError(t, err)
	assert.Len(t, recent, 4)
}

func TestDispensingLog_SystemDispensesSkipUndoWindow(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	med := f.medication(t, "Amoxicillin", 2)
	f.lot(t, med.ID, "L1", "2026-01-01", 10)

	system := actor.SystemActor()
	dispenseOne(t, f, context.Background(), med.ID, 1)

	recent, err := f.svc.Dispensing.Recent(context.Background(), system.ID)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
