package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/actor"
	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/logger"
	"golang.org/x/text/cases"
)

// DispensingLog owns dispensing records: creation, bounded edits,
// withdrawal with inventory restoration, and filtered listing.
type DispensingLog struct {
	d      Deps
	ledger *Ledger
	logger *logger.Logger

	mu     sync.Mutex
	recent map[string]*domain.RecentWindow
}

// NewDispensingLog creates the dispensing log service
func NewDispensingLog(d Deps, ledger *Ledger) *DispensingLog {
	d = d.withDefaults()
	return &DispensingLog{
		d:      d,
		ledger: ledger,
		logger: d.Logger.WithComponent("dispensing_log"),
		recent: map[string]*domain.RecentWindow{},
	}
}

func (s *DispensingLog) window(actorID string) *domain.RecentWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.recent[actorID]
	if !ok {
		w = domain.NewRecentWindow(s.d.Clinic.RecentWindow)
		s.recent[actorID] = w
	}
	return w
}

func (s *DispensingLog) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.recent {
		w.Remove(id)
	}
}

// Create stores a record. The server fills id, initials, log date and the
// denormalized medication name when missing.
func (s *DispensingLog) Create(ctx context.Context, rec *domain.DispensingRecord) (*domain.DispensingRecord, error) {
	fields := map[string]string{}
	if strings.TrimSpace(rec.MedicationID) == "" {
		fields["medication_id"] = "is required"
	}
	if strings.TrimSpace(rec.PatientID) == "" {
		fields["patient_id"] = "is required"
	}
	if rec.Quantity <= 0 {
		fields["quantity"] = "must be positive"
	}
	if len(fields) > 0 {
		return nil, errors.Validation(fields)
	}

	if rec.MedicationName == "" {
		med, err := s.d.Medications.GetByID(ctx, rec.MedicationID)
		if err != nil {
			return nil, err
		}
		rec.MedicationName = med.Name
	}
	if rec.PatientInitials == "" {
		rec.PatientInitials = domain.DeriveInitials(rec.PatientID)
	}
	if rec.LogDate.IsZero() {
		rec.LogDate = s.d.Clock.Today()
	}
	if rec.Unit == "" {
		rec.Unit = s.d.Clinic.DispenseUnit
	}
	if rec.ClinicSite == "" {
		rec.ClinicSite = s.d.Clinic.DefaultSite
	}
	by := actor.OrSystem(ctx)
	if rec.EnteredBy == "" {
		rec.EnteredBy = by.DisplayName()
	}
	if rec.DispensedBy == "" {
		rec.DispensedBy = by.DisplayName()
	}

	if err := s.d.Dispensing.Create(ctx, rec); err != nil {
		return nil, err
	}
	if !by.IsSystem() {
		s.window(by.ID).Push(rec.ID)
	}
	return rec, nil
}

// Get returns one record.
func (s *DispensingLog) Get(ctx context.Context, id string) (*domain.DispensingRecord, error) {
	return s.d.Dispensing.GetByID(ctx, id)
}

// Update applies the whitelisted fields present in u. Medication and log
// date never change.
func (s *DispensingLog) Update(ctx context.Context, id string, u domain.RecordUpdate) (*domain.DispensingRecord, error) {
	if u.IsEmpty() {
		return nil, errors.BadRequest("no editable fields in update")
	}
	if fields := u.Validate(); len(fields) > 0 {
		return nil, errors.Validation(fields)
	}

	rec, err := s.d.Dispensing.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Apply(rec)
	if err := s.d.Dispensing.Update(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info().Str("record_id", id).Msg("dispensing record updated")
	return rec, nil
}

// List returns records in the filter's date bucket matching its search
// term, newest first.
func (s *DispensingLog) List(ctx context.Context, filter domain.LogFilter) ([]*domain.DispensingRecord, error) {
	from, _ := filter.Range.Since(s.d.Clock.Today())
	records, err := s.d.Dispensing.List(ctx, from, filter.MedicationID)
	if err != nil {
		return nil, err
	}

	term := strings.TrimSpace(filter.Search)
	if term != "" {
		fold := cases.Fold()
		needle := fold.String(term)
		matched := records[:0]
		for _, r := range records {
			for _, field := range []string{r.MedicationName, r.PatientInitials, r.DispensedBy, r.Indication} {
				if strings.Contains(fold.String(field), needle) {
					matched = append(matched, r)
					break
				}
			}
		}
		records = matched
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.DispensedAt.Equal(b.DispensedAt) {
			return a.DispensedAt.After(b.DispensedAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return records, nil
}

// Recent returns the records in an actor's undo window, newest first.
// Records already withdrawn elsewhere are skipped.
func (s *DispensingLog) Recent(ctx context.Context, actorID string) ([]*domain.DispensingRecord, error) {
	out := []*domain.DispensingRecord{}
	for _, id := range s.window(actorID).IDs() {
		rec, err := s.d.Dispensing.GetByID(ctx, id)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Withdraw reverses a record: the quantity it consumed goes back to
// inventory, then the record is deleted.
//
// The restore target is the record's original lot when it still exists,
// else a lot of the same medication carrying the same lot number, else a
// re-created lot with the record's lot number and expiration.
func (s *DispensingLog) Withdraw(ctx context.Context, id string) (*domain.WithdrawResult, error) {
	rec, err := s.d.Dispensing.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	amount := rec.ConsumedQuantity
	if amount == 0 {
		amount = rec.Quantity
	}
	result := &domain.WithdrawResult{Record: rec, RestoredQuantity: amount}
	reason := fmt.Sprintf("withdraw of dispensing record %s", rec.ID)

	lot, err := s.restoreTarget(ctx, rec)
	if err != nil {
		return nil, err
	}
	if lot == nil {
		lot, err = s.ledger.AddLot(ctx, domain.NewLot{
			MedicationID:   rec.MedicationID,
			Site:           rec.ClinicSite,
			LotNumber:      rec.LotNumber,
			ExpirationDate: rec.ExpirationDate.String(),
			Quantity:       amount,
			Notes:          "Re-created by " + reason,
		})
		if err != nil {
			return nil, err
		}
		result.LotRecreated = true
	} else if err := s.ledger.restore(ctx, lot, amount, reason); err != nil {
		return nil, err
	}
	result.RestoredLotID = lot.ID

	if err := s.d.Dispensing.Delete(ctx, rec.ID); err != nil {
		s.compensate(ctx, lot, amount, result.LotRecreated)
		return nil, err
	}
	s.forget(rec.ID)

	by := actor.OrSystem(ctx).DisplayName()
	s.d.Publisher.PublishDispenseWithdrawn(ctx, result, by)
	s.d.Metrics.ObserveWithdraw()
	s.logger.Info().
		Str("record_id", rec.ID).
		Str("lot_id", lot.ID).
		Int("restored", amount).
		Bool("lot_recreated", result.LotRecreated).
		Msg("dispensing record withdrawn")
	return result, nil
}

func (s *DispensingLog) restoreTarget(ctx context.Context, rec *domain.DispensingRecord) (*domain.InventoryLot, error) {
	if rec.LotID != "" {
		lot, err := s.d.Lots.GetByID(ctx, rec.LotID)
		if err == nil {
			return lot, nil
		}
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
	}

	candidates, err := s.d.Lots.FindByNumber(ctx, rec.MedicationID, rec.LotNumber)
	if err != nil {
		return nil, err
	}
	var fallback *domain.InventoryLot
	for _, lot := range candidates {
		if lot.ExpirationDate == rec.ExpirationDate && (lot.Site == rec.ClinicSite || rec.ClinicSite == "") {
			return lot, nil
		}
		if fallback == nil {
			fallback = lot
		}
	}
	return fallback, nil
}

// compensate undoes a restore whose record delete failed, so inventory
// does not count the same units twice.
func (s *DispensingLog) compensate(ctx context.Context, lot *domain.InventoryLot, amount int, recreated bool) {
	var err error
	if recreated {
		_, err = s.ledger.DeleteLot(ctx, lot.ID)
	} else {
		_, err = s.ledger.decrement(ctx, lot, amount, "withdraw rolled back")
	}
	if err != nil {
		s.logger.Error().Err(err).Str("lot_id", lot.ID).Int("amount", amount).
			Msg("failed to roll back restore after record delete failed")
	}
}
