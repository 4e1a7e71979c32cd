package domain

import (
	"sort"
	"time"

	"github.com/medflow/medtrack/pkg/clinicdate"
)

// InventoryLot is a physical batch of a medication.
type InventoryLot struct {
	ID                string          `json:"id" db:"id"`
	MedicationID      string          `json:"medication_id" db:"medication_id"`
	Site              string          `json:"site" db:"site"`
	LotNumber         string          `json:"lot_number" db:"lot_number"`
	ExpirationDate    clinicdate.Date `json:"expiration_date" db:"expiration_date"`
	Quantity          int             `json:"quantity" db:"quantity"`
	LowStockThreshold int             `json:"low_stock_threshold" db:"low_stock_threshold"`
	Notes             string          `json:"notes" db:"notes"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`

	IsExpired bool `json:"is_expired" db:"-"`
}

// ExpiredOn reports whether the lot is past its expiration on day today.
// A lot is still usable on its expiration date.
func (l *InventoryLot) ExpiredOn(today clinicdate.Date) bool {
	return l.ExpirationDate.Before(today)
}

// Usable reports whether the lot can be allocated from on day today.
func (l *InventoryLot) Usable(today clinicdate.Date) bool {
	return l.Quantity > 0 && !l.ExpiredOn(today)
}

// IsLow reports whether the lot sits at or below its own threshold.
func (l *InventoryLot) IsLow() bool {
	return l.Quantity <= l.LowStockThreshold
}

// SortFEFO orders lots by expiration ascending, then creation time, then id.
func SortFEFO(lots []*InventoryLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if c := a.ExpirationDate.Compare(b.ExpirationDate); c != 0 {
			return c < 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// MarkExpired fills IsExpired for each lot.
func MarkExpired(lots []*InventoryLot, today clinicdate.Date) {
	for _, l := range lots {
		l.IsExpired = l.ExpiredOn(today)
	}
}

// SumUsable is the derived stock of a set of lots.
func SumUsable(lots []*InventoryLot, today clinicdate.Date) int {
	total := 0
	for _, l := range lots {
		if !l.ExpiredOn(today) {
			total += l.Quantity
		}
	}
	return total
}

// NewLot is the input to AddLot.
type NewLot struct {
	MedicationID      string `json:"medication_id"`
	Site              string `json:"site" validate:"max=100"`
	LotNumber         string `json:"lot_number" validate:"required,max=100"`
	ExpirationDate    string `json:"expiration_date" validate:"required"`
	Quantity          int    `json:"quantity" validate:"gte=0"`
	LowStockThreshold *int   `json:"low_stock_threshold,omitempty" validate:"omitempty,gte=0"`
	Notes             string `json:"notes" validate:"max=1000"`
}

// AdjustmentType names a ledger mutation in the audit trail.
type AdjustmentType string

const (
	AdjustmentReceive   AdjustmentType = "receive"
	AdjustmentSet       AdjustmentType = "set"
	AdjustmentDecrement AdjustmentType = "decrement"
	AdjustmentRestore   AdjustmentType = "restore"
	AdjustmentDelete    AdjustmentType = "delete"
)

// LotAdjustment is one audit row for a ledger mutation.
type LotAdjustment struct {
	ID               string         `json:"id" db:"id"`
	LotID            string         `json:"lot_id" db:"lot_id"`
	MedicationID     string         `json:"medication_id" db:"medication_id"`
	Type             AdjustmentType `json:"adjustment_type" db:"adjustment_type"`
	Quantity         int            `json:"quantity" db:"quantity"`
	PreviousQuantity int            `json:"previous_quantity" db:"previous_quantity"`
	NewQuantity      int            `json:"new_quantity" db:"new_quantity"`
	Reason           string         `json:"reason" db:"reason"`
	PerformedBy      string         `json:"performed_by" db:"performed_by"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
}
