package repository

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/database"
	"github.com/medflow/medtrack/pkg/errors"
)

const medicationColumns = `id, name, generic_name, strength, dosage_form, category, min_stock,
	max_stock, alternatives, common_uses, contraindications, is_active, last_updated, created_at`

type medicationRow struct {
	domain.Medication
	Alternatives      pq.StringArray `db:"alternatives"`
	CommonUses        pq.StringArray `db:"common_uses"`
	Contraindications pq.StringArray `db:"contraindications"`
}

func (row *medicationRow) toDomain() *domain.Medication {
	m := row.Medication
	m.Alternatives = []string(row.Alternatives)
	m.CommonUses = []string(row.CommonUses)
	m.Contraindications = []string(row.Contraindications)
	return &m
}

// MedicationRepository handles medication persistence
type MedicationRepository struct {
	db *database.DB
}

// NewMedicationRepository creates a new medication repository
func NewMedicationRepository(db *database.DB) *MedicationRepository {
	return &MedicationRepository{db: db}
}

// Create inserts a medication
func (r *MedicationRepository) Create(ctx context.Context, m *domain.Medication) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medications (
			id, name, generic_name, strength, dosage_form, category, min_stock, max_stock,
			alternatives, common_uses, contraindications, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING last_updated, created_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		m.ID, m.Name, m.GenericName, m.Strength, m.DosageForm, m.Category, m.MinStock, m.MaxStock,
		pq.Array(m.Alternatives), pq.Array(m.CommonUses), pq.Array(m.Contraindications), m.IsActive,
	).Scan(&m.LastUpdated, &m.CreatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// GetByID gets a medication by ID
func (r *MedicationRepository) GetByID(ctx context.Context, id string) (*domain.Medication, error) {
	var row medicationRow
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("medication")
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *MedicationRepository) FindByIdentity(ctx context.Context, name, strength, dosageForm string) (*domain.Medication, error) {
	var row medicationRow
	query := `
		SELECT ` + medicationColumns + ` FROM medications
		WHERE LOWER(name) = LOWER($1) AND LOWER(strength) = LOWER($2) AND LOWER(dosage_form) = LOWER($3)
		ORDER BY created_at
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &row, query, name, strength, dosageForm); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("medication")
		}
		return nil, err
	}
	return row.toDomain(), nil
}

// List lists medications by name
func (r *MedicationRepository) List(ctx context.Context, includeInactive bool) ([]*domain.Medication, error) {
	var rows []medicationRow
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE is_active = true OR $1 ORDER BY name, strength`
	if err := r.db.SelectContext(ctx, &rows, query, includeInactive); err != nil {
		return nil, err
	}

	meds := make([]*domain.Medication, 0, len(rows))
	for i := range rows {
		meds = append(meds, rows[i].toDomain())
	}
	return meds, nil
}

// Update replaces the editable attributes of a medication
func (r *MedicationRepository) Update(ctx context.Context, m *domain.Medication) error {
	query := `
		UPDATE medications SET
			name = $2, generic_name = $3, strength = $4, dosage_form = $5, category = $6,
			min_stock = $7, max_stock = $8, alternatives = $9, common_uses = $10,
			contraindications = $11, is_active = $12, last_updated = NOW()
		WHERE id = $1
		RETURNING last_updated
	`

	err := r.db.QueryRowxContext(ctx, query,
		m.ID, m.Name, m.GenericName, m.Strength, m.DosageForm, m.Category, m.MinStock, m.MaxStock,
		pq.Array(m.Alternatives), pq.Array(m.CommonUses), pq.Array(m.Contraindications), m.IsActive,
	).Scan(&m.LastUpdated)
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("medication")
	}
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}
