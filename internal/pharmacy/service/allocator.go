package service

import (
	"context"
	"strings"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/actor"
	"github.com/medflow/medtrack/pkg/clinicdate"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/logger"
)

// Dispense modes, used as a metrics label.
const (
	ModeFEFO   = "fefo"
	ModeManual = "manual"
	ModeSync   = "sync"
)

// Allocator turns a dispense request into lot decrements and log rows.
// Each plan step is decrement-then-record; steps are applied one at a
// time and reported individually.
type Allocator struct {
	d      Deps
	ledger *Ledger
	log    *DispensingLog
	logger *logger.Logger
}

// NewAllocator creates the allocator
func NewAllocator(d Deps, ledger *Ledger, dlog *DispensingLog) *Allocator {
	d = d.withDefaults()
	return &Allocator{d: d, ledger: ledger, log: dlog, logger: d.Logger.WithComponent("allocator")}
}

// Plan computes the FEFO plan for qty units without mutating anything.
func (a *Allocator) Plan(ctx context.Context, medicationID string, qty int) (*domain.AllocationPlan, error) {
	if qty <= 0 {
		return nil, errors.Invalid("quantity", "must be positive")
	}
	if _, err := a.d.Medications.GetByID(ctx, medicationID); err != nil {
		return nil, err
	}
	return a.planFEFO(ctx, medicationID, qty)
}

func (a *Allocator) planFEFO(ctx context.Context, medicationID string, qty int) (*domain.AllocationPlan, error) {
	lots, err := a.d.Lots.ListByMedication(ctx, medicationID)
	if err != nil {
		return nil, err
	}
	plan, remaining := domain.PlanFEFO(medicationID, qty, lots, a.ledger.Today())
	if remaining > 0 {
		return nil, errors.InsufficientStock(qty, qty-remaining)
	}
	return plan, nil
}

// Dispense allocates req.Quantity across lots first-expired-first-out.
// Nothing is applied when usable stock cannot cover the whole request.
func (a *Allocator) Dispense(ctx context.Context, req domain.DispenseRequest) (*domain.AllocationResult, error) {
	med, dup, err := a.prepare(ctx, &req)
	if err != nil || dup != nil {
		return dup, err
	}
	plan, err := a.planFEFO(ctx, med.ID, req.Quantity)
	if err != nil {
		return nil, err
	}
	return a.apply(ctx, ModeFEFO, med, req, plan), nil
}

// DispenseFromLots applies a user-chosen set of (lot number, quantity)
// pairs. Every pair is checked against its lot before any step runs.
// Expiration order is not enforced, but expired lots are refused.
func (a *Allocator) DispenseFromLots(ctx context.Context, req domain.DispenseRequest, selections []domain.LotSelection) (*domain.AllocationResult, error) {
	if len(selections) == 0 {
		return nil, errors.Invalid("lots", "at least one lot is required")
	}
	total := 0
	for _, sel := range selections {
		if strings.TrimSpace(sel.LotNumber) == "" {
			return nil, errors.Invalid("lot_number", "is required")
		}
		if sel.Quantity <= 0 {
			return nil, errors.Invalid("quantity", "must be positive for lot "+sel.LotNumber)
		}
		total += sel.Quantity
	}
	req.Quantity = total

	med, dup, err := a.prepare(ctx, &req)
	if err != nil || dup != nil {
		return dup, err
	}

	today := a.ledger.Today()
	plan := &domain.AllocationPlan{MedicationID: med.ID, Requested: total}
	claimed := map[string]int{}
	for _, sel := range selections {
		lot, err := a.selectLot(ctx, med.ID, sel.LotNumber, req.ClinicSite)
		if err != nil {
			return nil, err
		}
		if lot.ExpiredOn(today) {
			return nil, errors.Invalid("lot_number", "lot "+lot.LotNumber+" expired on "+lot.ExpirationDate.String())
		}
		claimed[lot.ID] += sel.Quantity
		if claimed[lot.ID] > lot.Quantity {
			return nil, errors.InsufficientLotStock(lot.LotNumber, claimed[lot.ID], lot.Quantity)
		}
		plan.Steps = append(plan.Steps, domain.AllocationStep{
			LotID:          lot.ID,
			LotNumber:      lot.LotNumber,
			ExpirationDate: lot.ExpirationDate,
			Take:           sel.Quantity,
		})
	}
	return a.apply(ctx, ModeManual, med, req, plan), nil
}

// selectLot resolves a lot number, preferring the lot at site.
func (a *Allocator) selectLot(ctx context.Context, medicationID, lotNumber, site string) (*domain.InventoryLot, error) {
	lots, err := a.ledger.FindLot(ctx, medicationID, lotNumber)
	if err != nil {
		return nil, err
	}
	for _, lot := range lots {
		if site != "" && lot.Site == site {
			return lot, nil
		}
	}
	return lots[0], nil
}

// ReconcileIntent applies a dispense captured offline. The lot the device
// chose is used when it still covers the whole quantity; otherwise the
// request is allocated FEFO against current lots. The intent's client
// reference makes a replay of an already-applied intent a no-op.
func (a *Allocator) ReconcileIntent(ctx context.Context, req domain.DispenseRequest, preferredLot string) (*domain.AllocationResult, error) {
	med, dup, err := a.prepare(ctx, &req)
	if err != nil || dup != nil {
		return dup, err
	}

	if preferredLot = strings.TrimSpace(preferredLot); preferredLot != "" {
		lot, err := a.selectLot(ctx, med.ID, preferredLot, req.ClinicSite)
		switch {
		case err == nil && lot.Usable(a.ledger.Today()) && lot.Quantity >= req.Quantity:
			plan := &domain.AllocationPlan{
				MedicationID: med.ID,
				Requested:    req.Quantity,
				Steps: []domain.AllocationStep{{
					LotID:          lot.ID,
					LotNumber:      lot.LotNumber,
					ExpirationDate: lot.ExpirationDate,
					Take:           req.Quantity,
				}},
			}
			return a.apply(ctx, ModeSync, med, req, plan), nil
		case err != nil && !errors.Is(err, errors.ErrNotFound):
			return nil, err
		}
		a.logger.Debug().Str("lot_number", preferredLot).Msg("preferred lot unavailable, falling back to FEFO")
	}

	plan, err := a.planFEFO(ctx, med.ID, req.Quantity)
	if err != nil {
		return nil, err
	}
	return a.apply(ctx, ModeSync, med, req, plan), nil
}

// prepare validates req and resolves its medication. When req carries a
// client reference that already produced records, it returns a duplicate
// result instead.
func (a *Allocator) prepare(ctx context.Context, req *domain.DispenseRequest) (*domain.Medication, *domain.AllocationResult, error) {
	if fields := req.Validate(); len(fields) > 0 {
		return nil, nil, errors.Validation(fields)
	}

	if ref := strings.TrimSpace(req.ClientRef); ref != "" {
		existing, err := a.d.Dispensing.FindByClientRef(ctx, ref)
		if err != nil {
			return nil, nil, err
		}
		if len(existing) > 0 {
			a.logger.Info().Str("client_ref", ref).Int("records", len(existing)).Msg("replayed dispense already applied")
			return nil, duplicateResult(req, existing), nil
		}
	}

	med, err := a.d.Medications.GetByID(ctx, req.MedicationID)
	if err != nil {
		return nil, nil, err
	}
	return med, nil, nil
}

func duplicateResult(req *domain.DispenseRequest, records []*domain.DispensingRecord) *domain.AllocationResult {
	result := &domain.AllocationResult{MedicationID: req.MedicationID, Requested: req.Quantity, Duplicate: true}
	for _, r := range records {
		result.Steps = append(result.Steps, domain.StepResult{
			AllocationStep: domain.AllocationStep{
				LotID:          r.LotID,
				LotNumber:      r.LotNumber,
				ExpirationDate: r.ExpirationDate,
				Take:           r.ConsumedQuantity,
			},
			Status:  domain.StepApplied,
			Removed: r.ConsumedQuantity,
			Record:  r,
		})
	}
	return result
}

// apply runs the plan step by step. Each step re-reads its lot right
// before decrementing. A failed decrement stops the walk and the rest of
// the plan is skipped; a failed log write after a successful decrement
// is reported as a partial application and the walk continues.
func (a *Allocator) apply(ctx context.Context, mode string, med *domain.Medication, req domain.DispenseRequest, plan *domain.AllocationPlan) *domain.AllocationResult {
	result := &domain.AllocationResult{MedicationID: med.ID, Requested: plan.Requested}
	stopped := false
	today := a.ledger.Today()

	for _, step := range plan.Steps {
		sr := domain.StepResult{AllocationStep: step}
		if stopped {
			sr.Status = domain.StepSkipped
			result.Steps = append(result.Steps, sr)
			continue
		}

		lot, err := a.d.Lots.GetByID(ctx, step.LotID)
		if err == nil && (lot.Quantity == 0 || lot.ExpiredOn(today)) {
			err = errors.InsufficientLotStock(lot.LotNumber, step.Take, 0)
		}
		var removed int
		if err == nil {
			removed, err = a.ledger.decrement(ctx, lot, step.Take, "dispense")
		}
		if err == nil && removed == 0 {
			err = errors.InsufficientLotStock(step.LotNumber, step.Take, 0)
		}
		if err != nil {
			sr.Status, sr.Error = domain.StepFailed, err.Error()
			result.Steps = append(result.Steps, sr)
			stopped = true
			a.logger.WithMedication(med.ID).WithError(err).Error().Str("lot_id", step.LotID).Msg("dispense step failed")
			continue
		}
		sr.Removed = removed
		if removed < step.Take {
			result.Warnings = append(result.Warnings, domain.PartialApplicationWarning{
				LotID:     step.LotID,
				LotNumber: step.LotNumber,
				Planned:   step.Take,
				Removed:   removed,
				Reason:    "lot held less than planned",
			})
		}

		rec, err := a.log.Create(ctx, a.record(req, med, step, removed, today))
		if err != nil {
			sr.Status, sr.Error = domain.StepLogFailed, err.Error()
			warning := domain.PartialApplicationWarning{
				LotID:     step.LotID,
				LotNumber: step.LotNumber,
				Planned:   step.Take,
				Removed:   removed,
				Reason:    "dispensing record not written: " + err.Error(),
			}
			result.Warnings = append(result.Warnings, warning)
			a.logger.WithMedication(med.ID).WithError(warning).Warn().Str("lot_id", step.LotID).Msg("inventory decremented without log row")
		} else {
			sr.Status, sr.Record = domain.StepApplied, rec
		}
		result.Steps = append(result.Steps, sr)
	}

	by := actor.OrSystem(ctx).DisplayName()
	if len(result.Records()) > 0 {
		a.d.Publisher.PublishDispenseRecorded(ctx, result, req.ClientRef, by)
	}
	if result.Dispensed() > 0 {
		a.ledger.checkLowStock(ctx, med)
	}
	a.d.Metrics.ObserveDispense(mode, string(result.Outcome()), result.Dispensed(), len(result.Warnings))

	a.logger.Info().
		Str("medication_id", med.ID).
		Str("mode", mode).
		Int("requested", result.Requested).
		Int("dispensed", result.Dispensed()).
		Str("outcome", string(result.Outcome())).
		Msg("dispense applied")
	return result
}

// record builds the log row for one applied step.
func (a *Allocator) record(req domain.DispenseRequest, med *domain.Medication, step domain.AllocationStep, removed int, today clinicdate.Date) *domain.DispensingRecord {
	logDate := today
	if !req.DispensedAt.IsZero() {
		logDate = a.d.Clock.DayOf(req.DispensedAt)
	}
	return &domain.DispensingRecord{
		LogDate:          logDate,
		PatientID:        strings.TrimSpace(req.PatientID),
		PatientInitials:  strings.TrimSpace(req.PatientInitials),
		MedicationID:     med.ID,
		MedicationName:   med.Name,
		Dose:             req.Dose,
		LotID:            step.LotID,
		LotNumber:        step.LotNumber,
		ExpirationDate:   step.ExpirationDate,
		Quantity:         removed,
		Unit:             req.Unit,
		PhysicianName:    req.PhysicianName,
		StudentName:      req.StudentName,
		DispensedBy:      req.DispensedBy,
		ClinicSite:       req.ClinicSite,
		Indication:       req.Indication,
		Notes:            req.Notes,
		ClientRef:        strings.TrimSpace(req.ClientRef),
		ConsumedQuantity: removed,
	}
}
