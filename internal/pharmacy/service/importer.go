package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/internal/pharmacy/formulary"
	"github.com/medflow/medtrack/pkg/actor"
	"github.com/medflow/medtrack/pkg/clinicdate"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/logger"
)

// Lot notes written by bulk import.
const (
	NoteImported    = "Imported from formulary"
	NotePlaceholder = "Bulk import - placeholder lot number, please update"
)

const defaultImportCategory = "General"

// Importer reconciles pre-parsed formulary rows against medications and
// lots. Rows are independent: one failing row never aborts the batch.
type Importer struct {
	d      Deps
	ledger *Ledger
	logger *logger.Logger
}

// NewImporter creates the bulk importer
func NewImporter(d Deps, ledger *Ledger) *Importer {
	d = d.withDefaults()
	return &Importer{d: d, ledger: ledger, logger: d.Logger.WithComponent("importer")}
}

// Import resolves or creates the medication of each row and receives a new
// lot under it. Rows missing a lot number or expiration get a generated
// placeholder lot number and an expiration one year from today.
func (im *Importer) Import(ctx context.Context, rows []domain.ImportRow, opts domain.ImportOptions) (*domain.ImportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := &domain.ImportResult{Errors: []string{}, Rows: []domain.RowOutcome{}}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("import cancelled at row %d", i+1))
			break
		}
		outcome := im.importRow(ctx, i+1, row, opts)
		if outcome.Error != "" {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d (%s %s): %s", outcome.Row, row.Name, row.Strength, outcome.Error))
		} else {
			result.Success++
		}
		result.Rows = append(result.Rows, outcome)
	}

	im.d.Publisher.PublishImportCompleted(ctx, result, actor.OrSystem(ctx).DisplayName())
	im.d.Metrics.ObserveImport(result.Success, result.Failed)
	im.logger.Info().
		Int("rows", len(rows)).
		Int("success", result.Success).
		Int("failed", result.Failed).
		Msg("bulk import finished")
	return result, nil
}

func (im *Importer) importRow(ctx context.Context, n int, row domain.ImportRow, opts domain.ImportOptions) domain.RowOutcome {
	out := domain.RowOutcome{Row: n, Name: strings.TrimSpace(row.Name), Strength: strings.TrimSpace(row.Strength)}
	fail := func(err error) domain.RowOutcome {
		out.Error = message(err)
		return out
	}

	if row.Status == domain.RowError {
		msg := row.Message
		if msg == "" {
			msg = "row was rejected by the parser"
		}
		return fail(errors.BadRequest(msg))
	}
	if out.Name == "" || out.Strength == "" {
		return fail(errors.Invalid("name", "name and strength are required"))
	}
	if row.Quantity < 0 {
		return fail(errors.Invalid("quantity", "must not be negative"))
	}

	today := im.ledger.Today()
	expiration := today.AddYears(1)
	if raw := strings.TrimSpace(row.ExpirationDate); raw != "" {
		normalized, ok := formulary.NormalizeExpiration(raw)
		parsed, err := clinicdate.Parse(normalized)
		if !ok || err != nil {
			return fail(errors.Invalid("expiration_date", fmt.Sprintf("unrecognized date %q", raw)))
		}
		expiration = parsed
	}

	lotNumber := strings.TrimSpace(row.LotNumber)
	note := NoteImported
	if lotNumber == "" {
		lotNumber = im.placeholderLotNumber()
		note = NotePlaceholder
		out.Placeholder = true
	}

	med, created, err := im.resolveMedication(ctx, out.Name, out.Strength, im.dosageForm(row, opts), opts)
	if err != nil {
		return fail(err)
	}
	out.MedicationID, out.MedicationCreated = med.ID, created

	threshold := im.d.Clinic.LowStockThreshold
	lot, err := im.ledger.AddLot(ctx, domain.NewLot{
		MedicationID:      med.ID,
		Site:              opts.Site,
		LotNumber:         lotNumber,
		ExpirationDate:    expiration.String(),
		Quantity:          row.Quantity,
		LowStockThreshold: &threshold,
		Notes:             note,
	})
	if err != nil {
		return fail(err)
	}
	out.LotID, out.LotNumber = lot.ID, lot.LotNumber
	return out
}

func (im *Importer) dosageForm(row domain.ImportRow, opts domain.ImportOptions) string {
	for _, form := range []string{row.DosageForm, opts.DosageForm} {
		if f := strings.TrimSpace(form); f != "" {
			return f
		}
	}
	return im.d.Clinic.DefaultDosageForm
}

// resolveMedication matches name, strength and dosage form
// case-insensitively, creating the medication when none matches.
func (im *Importer) resolveMedication(ctx context.Context, name, strength, dosageForm string, opts domain.ImportOptions) (*domain.Medication, bool, error) {
	med, err := im.d.Medications.FindByIdentity(ctx, name, strength, dosageForm)
	if err == nil {
		return med, false, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, false, err
	}

	category := strings.TrimSpace(opts.Category)
	if category == "" {
		category = defaultImportCategory
	}
	med = &domain.Medication{
		Name:       name,
		Strength:   strength,
		DosageForm: dosageForm,
		Category:   category,
		MinStock:   im.d.Clinic.DefaultMinStock,
		MaxStock:   im.d.Clinic.DefaultMaxStock,
		IsActive:   true,
	}
	if err := im.d.Medications.Create(ctx, med); err != nil {
		return nil, false, err
	}
	return med, true, nil
}

const placeholderAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// placeholderLotNumber returns BULK-<unix millis>-<6 random characters>.
func (im *Importer) placeholderLotNumber() string {
	id := uuid.New()
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = placeholderAlphabet[int(id[i])%len(placeholderAlphabet)]
	}
	return fmt.Sprintf("BULK-%d-%s", im.d.Clock.Now().UnixMilli(), suffix)
}

// message flattens err for the per-row report.
func message(err error) string {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	if !errors.Is(err, errors.ErrValidation) || len(appErr.Details) == 0 {
		return appErr.Message
	}
	fields := make([]string, 0, len(appErr.Details))
	for field := range appErr.Details {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, len(fields))
	for i, field := range fields {
		parts[i] = field + " " + appErr.Details[field]
	}
	return strings.Join(parts, "; ")
}
