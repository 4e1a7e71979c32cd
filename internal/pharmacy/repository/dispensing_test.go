package repository_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/repository"
	"github.com/medflow/medtrack/pkg/clinicdate"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dispensingCols = []string{
	"id", "log_date", "patient_id", "patient_initials", "medication_id", "medication_name",
	"dose_instructions", "lot_id", "lot_number", "expiration_date", "amount_dispensed", "consumed_quantity",
	"physician_name", "student_name", "dispensed_by", "clinic_site", "indication", "notes", "entered_by",
	"client_ref", "created_at",
}

func TestDispensingRepository_Create(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := repository.NewDispensingRepository(mockDB.Database())

	rec := &domain.DispensingRecord{
		LogDate:          clinicdate.MustParse("2025-03-14"),
		PatientID:        "john-doe",
		PatientInitials:  "J.D.",
		MedicationID:     "med-1",
		MedicationName:   "Amoxicillin",
		LotID:            "lot-1",
		LotNumber:        "A1",
		ExpirationDate:   clinicdate.MustParse("2026-01-01"),
		Quantity:         3,
		ConsumedQuantity: 3,
	}

	mockDB.ExpectQuery("INSERT INTO dispensing_logs").
		WithArgs(
			testutil.AnyUUID{}, "2025-03-14", "john-doe", "J.D.", "med-1", "Amoxicillin",
			"", "lot-1", "A1", "2026-01-01", "3 tabs",
			3, "", "", "", "",
			"", "", "", "",
		).
		WillReturnRows(testutil.MockRows("created_at").AddRow(time.Now()))

	require.NoError(t, repo.Create(context.Background(), rec))
	assert.Equal(t, time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC), rec.DispensedAt)
	mockDB.ExpectationsWereMet(t)
}

func TestDispensingRepository_GetByID(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := repository.NewDispensingRepository(mockDB.Database())
	now := time.Now()

	mockDB.ExpectQuery("FROM dispensing_logs WHERE id = $1").
		WithArgs("rec-1").
		WillReturnRows(testutil.MockRows(dispensingCols...).AddRow(
			"rec-1", time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), "john-doe", "J.D.", "med-1", "Amoxicillin",
			"1 tab BID", nil, "A1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "6 capsules", 6,
			"Dr. Lee", "", "Dana", "east", "otitis", "", "Dana", "", now,
		))

	rec, err := repo.GetByID(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Quantity)
	assert.Equal(t, "capsules", rec.Unit)
	assert.Empty(t, rec.LotID)
	assert.Equal(t, "2025-03-14", rec.LogDate.String())
	assert.Equal(t, 12, rec.DispensedAt.Hour())
	mockDB.ExpectationsWereMet(t)
}

func TestDispensingRepository_GetByID_NotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := repository.NewDispensingRepository(mockDB.Database())

	mockDB.ExpectQuery("FROM dispensing_logs WHERE id = $1").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "nope")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestDispensingRepository_Update_OnlyEditableColumns(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := repository.NewDispensingRepository(mockDB.Database())

	rec := &domain.DispensingRecord{
		ID: "rec-1", PatientID: "ana-lopez", PatientInitials: "A.L.", Dose: "2 tabs",
		Quantity: 4, LotNumber: "A1", MedicationID: "must-not-change",
	}

	mockDB.ExpectExec("UPDATE dispensing_logs SET").
		WithArgs("rec-1", "ana-lopez", "A.L.", "2 tabs", "4 tabs", "A1", "", "", "", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Update(context.Background(), rec))
	mockDB.ExpectationsWereMet(t)
}

func TestDispensingRepository_Delete_NotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	repo := repository.NewDispensingRepository(mockDB.Database())

	mockDB.ExpectExec("DELETE FROM dispensing_logs WHERE id = $1").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "gone")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
