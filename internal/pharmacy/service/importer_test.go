package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/formulary"
	"github.com/medflow/medtrack/internal/pharmacy/service"
	"github.com/medflow/medtrack/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImporter_PlaceholderLot(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	ctx := context.Background()

	rows := []domain.ImportRow{formulary.ClassifyRow("Cetirizine", "10 mg", "30", "", "")}
	require.Equal(t, domain.RowWarning, rows[0].Status)

	result, err := f.svc.Importer.Import(ctx, rows, domain.ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Errors)

	row := result.Rows[0]
	assert.True(t, row.Placeholder)
	assert.True(t, row.MedicationCreated)
	assert.Regexp(t, `^BULK-\d+-[A-Z0-9]{6}$`, row.LotNumber)

	lot, err := f.svc.Ledger.GetLot(ctx, row.LotID)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", lot.ExpirationDate.String())
	assert.Equal(t, service.NotePlaceholder, lot.Notes)
	assert.Equal(t, 30, lot.Quantity)
	assert.Equal(t, testClinic.LowStockThreshold, lot.LowStockThreshold)

	med, err := f.svc.Formulary.GetMedication(ctx, row.MedicationID)
	require.NoError(t, err)
	assert.Equal(t, "General", med.Category)
	assert.Equal(t, "tablet", med.DosageForm)
	assert.Equal(t, testClinic.DefaultMinStock, med.MinStock)
	assert.Equal(t, testClinic.DefaultMaxStock, med.MaxStock)
	assert.Equal(t, 30, med.CurrentStock)

	events := f.events.Events(messaging.EventImportCompleted)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Payload.(messaging.ImportCompletedEvent).Success)
}

func TestImporter_MatchesExistingMedicationCaseInsensitively(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	existing := f.medication(t, "Amoxicillin", 2)

	rows := formulary.ParseRows([][]string{
		{"Name", "Strength", "Quantity", "Lot", "Expiration"},
		{"AMOXICILLIN", "500 MG", "20", "LX-1", "6/27"},
	})
	result, err := f.svc.Importer.Import(context.Background(), rows, domain.ImportOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, result.Success)

	row := result.Rows[0]
	assert.Equal(t, existing.ID, row.MedicationID)
	assert.False(t, row.MedicationCreated)
	assert.False(t, row.Placeholder)

	lot, err := f.svc.Ledger.GetLot(context.Background(), row.LotID)
	require.NoError(t, err)
	assert.Equal(t, "LX-1", lot.LotNumber)
	assert.Equal(t, "2027-06-01", lot.ExpirationDate.String())
	assert.Equal(t, service.NoteImported, lot.Notes)
}

func TestImporter_RowsAreIndependent(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	existing := f.medication(t, "Metformin", 2)
	f.lot(t, existing.ID, "DUP", "2026-01-01", 1)

	rows := []domain.ImportRow{
		formulary.ClassifyRow("Lisinopril", "10 mg", "90", "LS-1", "2026-05-01"),
		formulary.ClassifyRow("", "10 mg", "5", "X", "2026-05-01"),
		{Name: "Atenolol", Strength: "25 mg", Quantity: 10, LotNumber: "AT-1", ExpirationDate: "13/25", Status: domain.RowWarning},
		formulary.ClassifyRow("Metformin", "500 mg", "10", "DUP", "2027-01-01"),
		formulary.ClassifyRow("Lisinopril", "10 mg", "dispense on-site", "LS-2", "Sept. 2026"),
	}
	result, err := f.svc.Importer.Import(context.Background(), rows, domain.ImportOptions{Site: "main"})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 3, result.Failed)
	require.Len(t, result.Errors, 3)
	assert.True(t, strings.HasPrefix(result.Errors[0], "Row 2 ( 10 mg): "), result.Errors[0])
	assert.Equal(t, `Row 3 (Atenolol 25 mg): expiration_date unrecognized date "13/25"`, result.Errors[1])
	assert.True(t, strings.HasPrefix(result.Errors[2], "Row 4 (Metformin 500 mg): "), result.Errors[2])

	assert.Equal(t, result.Rows[0].MedicationID, result.Rows[4].MedicationID, "same identity reuses the medication")
	assert.True(t, result.Rows[0].MedicationCreated)
	assert.False(t, result.Rows[4].MedicationCreated)

	lot, err := f.svc.Ledger.GetLot(context.Background(), result.Rows[4].LotID)
	require.NoError(t, err)
	assert.Zero(t, lot.Quantity)
	assert.Equal(t, "2026-09-01", lot.ExpirationDate.String())
}

func TestImporter_StopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, "2025-03-01")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Importer.Import(ctx, []domain.ImportRow{
		formulary.ClassifyRow("Cetirizine", "10 mg", "30", "C1", "2026-01-01"),
	}, domain.ImportOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
