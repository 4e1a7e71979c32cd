package repository

import (
	"context"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/clinicdate"
)

// MedicationStore persists formulary entries. It never stores stock.
type MedicationStore interface {
	Create(ctx context.Context, m *domain.Medication) error
	GetByID(ctx context.Context, id string) (*domain.Medication, error)
	// FindByIdentity matches name, strength and dosage form case-insensitively.
	FindByIdentity(ctx context.Context, name, strength, dosageForm string) (*domain.Medication, error)
	List(ctx context.Context, includeInactive bool) ([]*domain.Medication, error)
	Update(ctx context.Context, m *domain.Medication) error
}

// LotStore is the row-level store behind the inventory ledger. Every
// quantity mutation is a single atomic statement.
type LotStore interface {
	Create(ctx context.Context, lot *domain.InventoryLot) error
	GetByID(ctx context.Context, id string) (*domain.InventoryLot, error)
	// ListByMedication returns all lots in FEFO order.
	ListByMedication(ctx context.Context, medicationID string) ([]*domain.InventoryLot, error)
	FindByNumber(ctx context.Context, medicationID, lotNumber string) ([]*domain.InventoryLot, error)
	TotalStock(ctx context.Context, medicationID string, today clinicdate.Date) (int, error)
	TotalsByMedication(ctx context.Context, today clinicdate.Date) (map[string]int, error)
	SetQuantity(ctx context.Context, id string, qty int) (previous int, err error)
	// Decrement clamps at zero and reports how much was actually removed.
	Decrement(ctx context.Context, id string, amount int) (previous, removed int, err error)
	Increment(ctx context.Context, id string, amount int) (previous int, err error)
	SetLowStockThreshold(ctx context.Context, id string, threshold int) error
	Delete(ctx context.Context, id string) (*domain.InventoryLot, error)
	RecordAdjustment(ctx context.Context, adj *domain.LotAdjustment) error
	ListAdjustments(ctx context.Context, lotID string) ([]*domain.LotAdjustment, error)
}

// DispensingStore persists dispensing log rows.
type DispensingStore interface {
	Create(ctx context.Context, r *domain.DispensingRecord) error
	GetByID(ctx context.Context, id string) (*domain.DispensingRecord, error)
	Update(ctx context.Context, r *domain.DispensingRecord) error
	Delete(ctx context.Context, id string) error
	// List returns rows with log_date >= from (all rows when from is zero),
	// optionally restricted to one medication.
	List(ctx context.Context, from clinicdate.Date, medicationID string) ([]*domain.DispensingRecord, error)
	FindByClientRef(ctx context.Context, clientRef string) ([]*domain.DispensingRecord, error)
}
