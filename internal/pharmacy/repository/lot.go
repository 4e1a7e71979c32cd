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

const lotColumns = `id, medication_id, site, lot_number, expiration_date, quantity,
	low_stock_threshold, notes, created_at, updated_at`

// LotRepository handles inventory lot persistence
type LotRepository struct {
	db *database.DB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB) *LotRepository {
	return &LotRepository{db: db}
}

// Create inserts a lot
func (r *LotRepository) Create(ctx context.Context, lot *domain.InventoryLot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO inventory_lots (
			id, medication_id, site, lot_number, expiration_date, quantity,
			low_stock_threshold, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		lot.ID, lot.MedicationID, lot.Site, lot.LotNumber, lot.ExpirationDate,
		lot.Quantity, lot.LowStockThreshold, lot.Notes,
	).Scan(&lot.CreatedAt, &lot.UpdatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// GetByID gets a lot by ID
func (r *LotRepository) GetByID(ctx context.Context, id string) (*domain.InventoryLot, error) {
	var lot domain.InventoryLot
	query := `SELECT ` + lotColumns + ` FROM inventory_lots WHERE id = $1`
	if err := r.db.GetContext(ctx, &lot, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// ListByMedication lists lots earliest expiration first
func (r *LotRepository) ListByMedication(ctx context.Context, medicationID string) ([]*domain.InventoryLot, error) {
	lots := []*domain.InventoryLot{}
	query := `
		SELECT ` + lotColumns + ` FROM inventory_lots
		WHERE medication_id = $1
		ORDER BY expiration_date, created_at, id
	`
	if err := r.db.SelectContext(ctx, &lots, query, medicationID); err != nil {
		return nil, err
	}
	return lots, nil
}

func (r *LotRepository) FindByNumber(ctx context.Context, medicationID, lotNumber string) ([]*domain.InventoryLot, error) {
	lots := []*domain.InventoryLot{}
	query := `
		SELECT ` + lotColumns + ` FROM inventory_lots
		WHERE medication_id = $1 AND lot_number = $2
		ORDER BY expiration_date, created_at, id
	`
	if err := r.db.SelectContext(ctx, &lots, query, medicationID, lotNumber); err != nil {
		return nil, err
	}
	return lots, nil
}

// TotalStock sums the quantity of lots not yet expired on today
func (r *LotRepository) TotalStock(ctx context.Context, medicationID string, today clinicdate.Date) (int, error) {
	var total sql.NullInt64
	query := `SELECT SUM(quantity) FROM inventory_lots WHERE medication_id = $1 AND expiration_date >= $2`
	if err := r.db.GetContext(ctx, &total, query, medicationID, today); err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return int(total.Int64), nil
}

func (r *LotRepository) TotalsByMedication(ctx context.Context, today clinicdate.Date) (map[string]int, error) {
	var rows []struct {
		MedicationID string `db:"medication_id"`
		Total        int    `db:"total"`
	}
	query := `
		SELECT medication_id, COALESCE(SUM(quantity), 0) AS total
		FROM inventory_lots
		WHERE expiration_date >= $1
		GROUP BY medication_id
	`
	if err := r.db.SelectContext(ctx, &rows, query, today); err != nil {
		return nil, err
	}
	totals := make(map[string]int, len(rows))
	for _, row := range rows {
		totals[row.MedicationID] = row.Total
	}
	return totals, nil
}

// SetQuantity overwrites a lot's quantity and returns the previous value
func (r *LotRepository) SetQuantity(ctx context.Context, id string, qty int) (int, error) {
	query := `
		WITH prev AS (SELECT id, quantity FROM inventory_lots WHERE id = $1 FOR UPDATE)
		UPDATE inventory_lots l SET quantity = $2, updated_at = NOW()
		FROM prev WHERE l.id = prev.id
		RETURNING prev.quantity
	`
	var previous int
	if err := r.db.GetContext(ctx, &previous, query, id, qty); err != nil {
		return 0, r.mapMutationErr(err)
	}
	return previous, nil
}

// Decrement subtracts amount, never going below zero
func (r *LotRepository) Decrement(ctx context.Context, id string, amount int) (int, int, error) {
	query := `
		WITH prev AS (SELECT id, quantity FROM inventory_lots WHERE id = $1 FOR UPDATE)
		UPDATE inventory_lots l SET quantity = GREATEST(l.quantity - $2, 0), updated_at = NOW()
		FROM prev WHERE l.id = prev.id
		RETURNING prev.quantity AS previous, prev.quantity - l.quantity AS removed
	`
	var res struct {
		Previous int `db:"previous"`
		Removed  int `db:"removed"`
	}
	if err := r.db.GetContext(ctx, &res, query, id, amount); err != nil {
		return 0, 0, r.mapMutationErr(err)
	}
	return res.Previous, res.Removed, nil
}

func (r *LotRepository) Increment(ctx context.Context, id string, amount int) (int, error) {
	query := `
		WITH prev AS (SELECT id, quantity FROM inventory_lots WHERE id = $1 FOR UPDATE)
		UPDATE inventory_lots l SET quantity = l.quantity + $2, updated_at = NOW()
		FROM prev WHERE l.id = prev.id
		RETURNING prev.quantity
	`
	var previous int
	if err := r.db.GetContext(ctx, &previous, query, id, amount); err != nil {
		return 0, r.mapMutationErr(err)
	}
	return previous, nil
}

func (r *LotRepository) SetLowStockThreshold(ctx context.Context, id string, threshold int) error {
	query := `UPDATE inventory_lots SET low_stock_threshold = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, threshold)
	if err != nil {
		return r.mapMutationErr(err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("lot")
	}
	return nil
}

// Delete removes a lot and returns it as it was
func (r *LotRepository) Delete(ctx context.Context, id string) (*domain.InventoryLot, error) {
	var lot domain.InventoryLot
	query := `DELETE FROM inventory_lots WHERE id = $1 RETURNING ` + lotColumns
	if err := r.db.GetContext(ctx, &lot, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("lot")
		}
		return nil, err
	}
	return &lot, nil
}

// RecordAdjustment appends an audit row
func (r *LotRepository) RecordAdjustment(ctx context.Context, adj *domain.LotAdjustment) error {
	if adj.ID == "" {
		adj.ID = uuid.New().String()
	}

	query := `
		INSERT INTO lot_adjustments (
			id, lot_id, medication_id, adjustment_type, quantity, previous_quantity,
			new_quantity, reason, performed_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return r.db.QueryRowxContext(ctx, query,
		adj.ID, adj.LotID, adj.MedicationID, adj.Type, adj.Quantity,
		adj.PreviousQuantity, adj.NewQuantity, adj.Reason, adj.PerformedBy,
	).Scan(&adj.CreatedAt)
}

func (r *LotRepository) ListAdjustments(ctx context.Context, lotID string) ([]*domain.LotAdjustment, error) {
	adjs := []*domain.LotAdjustment{}
	query := `
		SELECT id, lot_id, medication_id, adjustment_type, quantity, previous_quantity,
			new_quantity, reason, performed_by, created_at
		FROM lot_adjustments WHERE lot_id = $1
		ORDER BY created_at, id
	`
	if err := r.db.SelectContext(ctx, &adjs, query, lotID); err != nil {
		return nil, err
	}
	return adjs, nil
}

func (r *LotRepository) mapMutationErr(err error) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound("lot")
	}
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}
