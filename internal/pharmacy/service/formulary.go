package service

import (
	"context"
	"sort"
	"strings"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/logger"
	"golang.org/x/text/cases"
)

// Formulary serves medication browsing with derived stock.
type Formulary struct {
	d      Deps
	ledger *Ledger
	logger *logger.Logger
}

// NewFormulary creates the formulary service
func NewFormulary(d Deps, ledger *Ledger) *Formulary {
	d = d.withDefaults()
	return &Formulary{d: d, ledger: ledger, logger: d.Logger.WithComponent("formulary")}
}

var statusRank = map[domain.StockStatus]int{
	domain.StockOut:  0,
	domain.StockLow:  1,
	domain.StockGood: 2,
}

// ListMedications returns medications with derived stock, out of stock
// first, then low, then by name.
func (f *Formulary) ListMedications(ctx context.Context, filter domain.MedicationFilter) ([]*domain.Medication, error) {
	meds, err := f.d.Medications.List(ctx, filter.IncludeInactive)
	if err != nil {
		return nil, err
	}
	totals, err := f.d.Lots.TotalsByMedication(ctx, f.ledger.Today())
	if err != nil {
		return nil, err
	}

	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(filter.Search))

	out := make([]*domain.Medication, 0, len(meds))
	for _, m := range meds {
		m.WithStock(totals[m.ID])
		if filter.Status != "" && m.StockStatus() != filter.Status {
			continue
		}
		if needle != "" && !matchesAny(fold, needle, m.Name, m.GenericName, m.Category) {
			continue
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := statusRank[out[i].StockStatus()], statusRank[out[j].StockStatus()]
		if ri != rj {
			return ri < rj
		}
		return fold.String(out[i].Name) < fold.String(out[j].Name)
	})
	return out, nil
}

func matchesAny(fold cases.Caser, needle string, fields ...string) bool {
	for _, field := range fields {
		if strings.Contains(fold.String(field), needle) {
			return true
		}
	}
	return false
}

// GetMedication returns one medication with its derived stock.
func (f *Formulary) GetMedication(ctx context.Context, id string) (*domain.Medication, error) {
	med, err := f.d.Medications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	total, err := f.ledger.TotalStock(ctx, id)
	if err != nil {
		return nil, err
	}
	return med.WithStock(total), nil
}

// CreateMedication adds a formulary entry. Stock starts at zero; lots are
// received through the ledger.
func (f *Formulary) CreateMedication(ctx context.Context, in domain.MedicationInput) (*domain.Medication, error) {
	if err := validateMedication(in); err != nil {
		return nil, err
	}
	med := &domain.Medication{IsActive: true}
	f.apply(med, in)
	if err := f.d.Medications.Create(ctx, med); err != nil {
		return nil, err
	}
	f.logger.Info().Str("medication_id", med.ID).Str("name", med.Name).Msg("medication created")
	return med.WithStock(0), nil
}

// UpdateMedication replaces the editable attributes of a medication.
func (f *Formulary) UpdateMedication(ctx context.Context, id string, in domain.MedicationInput) (*domain.Medication, error) {
	if err := validateMedication(in); err != nil {
		return nil, err
	}
	med, err := f.d.Medications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	f.apply(med, in)
	if err := f.d.Medications.Update(ctx, med); err != nil {
		return nil, err
	}
	return f.GetMedication(ctx, id)
}

// SetActive retires or reinstates a medication.
func (f *Formulary) SetActive(ctx context.Context, id string, active bool) (*domain.Medication, error) {
	med, err := f.d.Medications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	med.IsActive = active
	if err := f.d.Medications.Update(ctx, med); err != nil {
		return nil, err
	}
	return f.GetMedication(ctx, id)
}

func validateMedication(in domain.MedicationInput) error {
	fields := map[string]string{}
	if strings.TrimSpace(in.Name) == "" {
		fields["name"] = "is required"
	}
	if strings.TrimSpace(in.Strength) == "" {
		fields["strength"] = "is required"
	}
	if in.MinStock < 0 {
		fields["min_stock"] = "must not be negative"
	}
	if in.MaxStock < 0 {
		fields["max_stock"] = "must not be negative"
	}
	if len(fields) > 0 {
		return errors.Validation(fields)
	}
	return nil
}

func (f *Formulary) apply(med *domain.Medication, in domain.MedicationInput) {
	med.Name = strings.TrimSpace(in.Name)
	med.GenericName = strings.TrimSpace(in.GenericName)
	med.Strength = strings.TrimSpace(in.Strength)
	med.DosageForm = strings.TrimSpace(in.DosageForm)
	if med.DosageForm == "" {
		med.DosageForm = f.d.Clinic.DefaultDosageForm
	}
	med.Category = strings.TrimSpace(in.Category)
	med.MinStock = in.MinStock
	med.MaxStock = in.MaxStock
	med.Alternatives = in.Alternatives
	med.CommonUses = in.CommonUses
	med.Contraindications = in.Contraindications
}

// Alternatives returns the available alternatives of a medication.
// Alternatives that no longer exist are skipped.
func (f *Formulary) Alternatives(ctx context.Context, id string) ([]*domain.Medication, error) {
	med, err := f.d.Medications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	out := []*domain.Medication{}
	for _, altID := range med.Alternatives {
		alt, err := f.GetMedication(ctx, altID)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if alt.IsAvailable && alt.IsActive {
			out = append(out, alt)
		}
	}
	return out, nil
}
