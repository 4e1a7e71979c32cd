package domain

import (
	"testing"
	"time"

	"github.com/medflow/medtrack/pkg/clinicdate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lot(id, number, exp string, qty int) *InventoryLot {
	return &InventoryLot{ID: id, LotNumber: number, ExpirationDate: clinicdate.MustParse(exp), Quantity: qty}
}

func TestSortFEFO_StableTotalOrder(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := lot("b", "L2", "2025-06-01", 5)
	b := lot("a", "L1", "2025-06-01", 5)
	c := lot("c", "L3", "2025-01-01", 5)
	d := lot("d", "L4", "2025-06-01", 5)
	a.CreatedAt, b.CreatedAt, c.CreatedAt = created, created, created
	d.CreatedAt = created.Add(-time.Hour)

	lots := []*InventoryLot{a, b, c, d}
	SortFEFO(lots)

	var order []string
	for _, l := range lots {
		order = append(order, l.ID)
	}
	assert.Equal(t, []string{"c", "d", "a", "b"}, order)
}

func TestPlanFEFO(t *testing.T) {
	today := clinicdate.MustParse("2025-03-01")
	lots := []*InventoryLot{
		lot("expired", "E", "2025-02-28", 50),
		lot("empty", "Z", "2025-03-01", 0),
		lot("a", "A", "2025-03-01", 3),
		lot("b", "B", "2025-09-01", 10),
	}

	plan, remaining := PlanFEFO("med-1", 5, lots, today)
	assert.Zero(t, remaining)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "a", plan.Steps[0].LotID)
	assert.Equal(t, 3, plan.Steps[0].Take)
	assert.Equal(t, "b", plan.Steps[1].LotID)
	assert.Equal(t, 2, plan.Steps[1].Take)

	_, remaining = PlanFEFO("med-1", 20, lots, today)
	assert.Equal(t, 7, remaining)
}

func TestSumUsable(t *testing.T) {
	today := clinicdate.MustParse("2025-03-01")
	lots := []*InventoryLot{
		lot("x", "X", "2025-02-28", 50),
		lot("y", "Y", "2025-03-01", 4),
		lot("z", "Z", "2026-01-01", 6),
	}
	assert.Equal(t, 10, SumUsable(lots, today))

	MarkExpired(lots, today)
	assert.True(t, lots[0].IsExpired)
	assert.False(t, lots[1].IsExpired)
}

func TestAllocationResult_Outcome(t *testing.T) {
	step := func(status StepStatus, removed int) StepResult {
		return StepResult{Status: status, Removed: removed}
	}

	full := &AllocationResult{Requested: 5, Steps: []StepResult{step(StepApplied, 3), step(StepApplied, 2)}}
	assert.Equal(t, OutcomeFullyApplied, full.Outcome())
	assert.Equal(t, 5, full.Dispensed())

	partial := &AllocationResult{Requested: 5, Steps: []StepResult{step(StepApplied, 3), step(StepLogFailed, 2)}}
	assert.Equal(t, OutcomePartiallyApplied, partial.Outcome())
	assert.Len(t, partial.FailedSteps(), 1)

	short := &AllocationResult{Requested: 5, Steps: []StepResult{step(StepApplied, 4)}}
	assert.Equal(t, OutcomePartiallyApplied, short.Outcome())

	failed := &AllocationResult{Requested: 5, Steps: []StepResult{step(StepFailed, 0), step(StepSkipped, 0)}}
	assert.Equal(t, OutcomeFailed, failed.Outcome())

	dup := &AllocationResult{Requested: 5, Duplicate: true}
	assert.Equal(t, OutcomeFullyApplied, dup.Outcome())
}

func TestDeriveInitials(t *testing.T) {
	tests := []struct{ in, want string }{
		{"john-doe", "J.D."},
		{"Maria de la Cruz", "M.D.L."},
		{"jane_smith-2024", "J.S."},
		{"2024-1187", "2024-1187"},
		{"  ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveInitials(tt.in), tt.in)
	}
}

func TestRecordUpdate(t *testing.T) {
	rec := &DispensingRecord{PatientID: "old", Quantity: 2, MedicationID: "med-1"}
	patient, qty := "ana-lopez", 4
	u := RecordUpdate{PatientID: &patient, Quantity: &qty}

	assert.Empty(t, u.Validate())
	u.Apply(rec)
	assert.Equal(t, "ana-lopez", rec.PatientID)
	assert.Equal(t, "A.L.", rec.PatientInitials)
	assert.Equal(t, 4, rec.Quantity)
	assert.Equal(t, "med-1", rec.MedicationID)

	zero := 0
	assert.Contains(t, RecordUpdate{Quantity: &zero}.Validate(), "quantity")
	assert.True(t, RecordUpdate{}.IsEmpty())
}

func TestDateRange_Since(t *testing.T) {
	today := clinicdate.MustParse("2025-03-31")

	from, ok := RangeToday.Since(today)
	assert.True(t, ok)
	assert.Equal(t, today, from)

	from, _ = RangeWeek.Since(today)
	assert.Equal(t, "2025-03-24", from.String())

	from, _ = RangeMonth.Since(today)
	assert.Equal(t, "2025-03-03", from.String())

	_, ok = RangeAll.Since(today)
	assert.False(t, ok)

	_, ok = ParseDateRange("fortnight")
	assert.False(t, ok)
	r, ok := ParseDateRange("")
	assert.True(t, ok)
	assert.Equal(t, RangeAll, r)
}

func TestRecentWindow(t *testing.T) {
	w := NewRecentWindow(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		w.Push(id)
	}
	assert.Equal(t, []string{"d", "c", "b"}, w.IDs())
	assert.False(t, w.Contains("a"))

	w.Remove("c")
	assert.Equal(t, []string{"d", "b"}, w.IDs())
}

func TestMedication_StockStatus(t *testing.T) {
	m := &Medication{MinStock: 10}
	assert.Equal(t, StockOut, m.WithStock(0).StockStatus())
	assert.Equal(t, StockLow, m.WithStock(10).StockStatus())
	assert.Equal(t, StockGood, m.WithStock(11).StockStatus())
	assert.True(t, m.IsAvailable)
	assert.Equal(t, "amoxicillin|500 mg|tablet", IdentityKey(" Amoxicillin ", "500  mg", "Tablet"))
}

func TestAmountDispensed(t *testing.T) {
	r := &DispensingRecord{Quantity: 3}
	assert.Equal(t, "3 tabs", r.AmountDispensed())

	qty, unit := ParseAmount("12 capsules")
	assert.Equal(t, 12, qty)
	assert.Equal(t, "capsules", unit)

	qty, unit = ParseAmount("7")
	assert.Equal(t, 7, qty)
	assert.Equal(t, DefaultUnit, unit)
}
