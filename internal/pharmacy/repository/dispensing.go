package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/clinicdate"
	"github.com/medflow/medtrack/pkg/database"
	"github.com/medflow/medtrack/pkg/errors"
)

const dispensingColumns = `id, log_date, patient_id, patient_initials, medication_id, medication_name,
	dose_instructions, lot_id, lot_number, expiration_date, amount_dispensed, consumed_quantity,
	physician_name, student_name, dispensed_by, clinic_site, indication, notes, entered_by,
	client_ref, created_at`

type dispensingRow struct {
	domain.DispensingRecord
	LotID           sql.NullString `db:"lot_id"`
	AmountDispensed string         `db:"amount_dispensed"`
}

func (row *dispensingRow) toDomain() *domain.DispensingRecord {
	rec := row.DispensingRecord
	rec.LotID = row.LotID.String
	rec.Quantity, rec.Unit = domain.ParseAmount(row.AmountDispensed)
	rec.Anchor()
	return &rec
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// DispensingRepository handles dispensing log persistence
type DispensingRepository struct {
	db *database.DB
}

// NewDispensingRepository creates a new dispensing repository
func NewDispensingRepository(db *database.DB) *DispensingRepository {
	return &DispensingRepository{db: db}
}

// Create inserts a log row
func (r *DispensingRepository) Create(ctx context.Context, rec *domain.DispensingRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	query := `
		INSERT INTO dispensing_logs (
			id, log_date, patient_id, patient_initials, medication_id, medication_name,
			dose_instructions, lot_id, lot_number, expiration_date, amount_dispensed,
			consumed_quantity, physician_name, student_name, dispensed_by, clinic_site,
			indication, notes, entered_by, client_ref
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		rec.ID, rec.LogDate, rec.PatientID, rec.PatientInitials, rec.MedicationID, rec.MedicationName,
		rec.Dose, nullable(rec.LotID), rec.LotNumber, rec.ExpirationDate, rec.AmountDispensed(),
		rec.ConsumedQuantity, rec.PhysicianName, rec.StudentName, rec.DispensedBy, rec.ClinicSite,
		rec.Indication, rec.Notes, rec.EnteredBy, rec.ClientRef,
	).Scan(&rec.CreatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	if err != nil {
		return err
	}
	rec.Anchor()
	return nil
}

// GetByID gets a log row by ID
func (r *DispensingRepository) GetByID(ctx context.Context, id string) (*domain.DispensingRecord, error) {
	var row dispensingRow
	query := `SELECT ` + dispensingColumns + ` FROM dispensing_logs WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("dispensing record")
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// Update writes back the editable columns only
func (r *DispensingRepository) Update(ctx context.Context, rec *domain.DispensingRecord) error {
	query := `
		UPDATE dispensing_logs SET
			patient_id = $2, patient_initials = $3, dose_instructions = $4, amount_dispensed = $5,
			lot_number = $6, physician_name = $7, student_name = $8, notes = $9, clinic_site = $10
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.PatientID, rec.PatientInitials, rec.Dose, rec.AmountDispensed(),
		rec.LotNumber, rec.PhysicianName, rec.StudentName, rec.Notes, rec.ClinicSite,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("dispensing record")
	}
	return nil
}

// Delete removes a log row
func (r *DispensingRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM dispensing_logs WHERE id = $1`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("dispensing record")
	}
	return nil
}

func (r *DispensingRepository) List(ctx context.Context, from clinicdate.Date, medicationID string) ([]*domain.DispensingRecord, error) {
	var rows []dispensingRow
	query := `
		SELECT ` + dispensingColumns + ` FROM dispensing_logs
		WHERE ($1::date IS NULL OR log_date >= $1::date)
		AND ($2 = '' OR medication_id::text = $2)
		ORDER BY log_date DESC, created_at DESC
	`
	if err := r.db.SelectContext(ctx, &rows, query, from, medicationID); err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func (r *DispensingRepository) FindByClientRef(ctx context.Context, clientRef string) ([]*domain.DispensingRecord, error) {
	var rows []dispensingRow
	query := `SELECT ` + dispensingColumns + ` FROM dispensing_logs WHERE client_ref = $1 ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &rows, query, clientRef); err != nil {
		return nil, err
	}
	return toRecords(rows), nil
}

func toRecords(rows []dispensingRow) []*domain.DispensingRecord {
	recs := make([]*domain.DispensingRecord, 0, len(rows))
	for i := range rows {
		recs = append(recs, rows[i].toDomain())
	}
	return recs
}
