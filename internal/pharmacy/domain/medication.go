package domain

import (
	"strings"
	"time"
)

// StockStatus buckets a medication by derived stock.
type StockStatus string

const (
	StockOut  StockStatus = "out"
	StockLow  StockStatus = "low"
	StockGood StockStatus = "good"
)

// Medication is a formulary entry. CurrentStock and IsAvailable are never
// persisted; they are filled from lot sums by the ledger.
type Medication struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	GenericName       string    `json:"generic_name" db:"generic_name"`
	Strength          string    `json:"strength" db:"strength"`
	DosageForm        string    `json:"dosage_form" db:"dosage_form"`
	Category          string    `json:"category" db:"category"`
	MinStock          int       `json:"min_stock" db:"min_stock"`
	MaxStock          int       `json:"max_stock" db:"max_stock"`
	Alternatives      []string  `json:"alternatives" db:"-"`
	CommonUses        []string  `json:"common_uses" db:"-"`
	Contraindications []string  `json:"contraindications" db:"-"`
	IsActive          bool      `json:"is_active" db:"is_active"`
	LastUpdated       time.Time `json:"last_updated" db:"last_updated"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`

	CurrentStock int  `json:"current_stock" db:"-"`
	IsAvailable  bool `json:"is_available" db:"-"`
}

// WithStock sets the derived fields from a ledger total.
func (m *Medication) WithStock(total int) *Medication {
	if total < 0 {
		total = 0
	}
	m.CurrentStock = total
	m.IsAvailable = total > 0
	return m
}

// StockStatus classifies the derived stock against MinStock.
func (m *Medication) StockStatus() StockStatus {
	switch {
	case !m.IsAvailable:
		return StockOut
	case m.CurrentStock <= m.MinStock:
		return StockLow
	default:
		return StockGood
	}
}

// IdentityKey is the match key used by bulk import.
func IdentityKey(name, strength, dosageForm string) string {
	norm := func(s string) string { return strings.ToLower(strings.Join(strings.Fields(s), " ")) }
	return norm(name) + "|" + norm(strength) + "|" + norm(dosageForm)
}

func (m *Medication) IdentityKey() string {
	return IdentityKey(m.Name, m.Strength, m.DosageForm)
}

// MedicationInput creates or replaces the editable attributes of a medication.
type MedicationInput struct {
	Name              string   `json:"name" validate:"required,max=200"`
	GenericName       string   `json:"generic_name" validate:"max=200"`
	Strength          string   `json:"strength" validate:"required,max=100"`
	DosageForm        string   `json:"dosage_form" validate:"max=50"`
	Category          string   `json:"category" validate:"max=100"`
	MinStock          int      `json:"min_stock" validate:"gte=0"`
	MaxStock          int      `json:"max_stock" validate:"gte=0"`
	Alternatives      []string `json:"alternatives"`
	CommonUses        []string `json:"common_uses"`
	Contraindications []string `json:"contraindications"`
}

// MedicationFilter narrows formulary listings.
type MedicationFilter struct {
	Search string
	Status StockStatus
	// IncludeInactive lists retired formulary entries too.
	IncludeInactive bool
}
