// Package memstore is an in-memory implementation of the pharmacy
// repositories. It backs the service and handler tests and the sync
// agent's dry-run mode. Values are copied in and out so callers never
// share pointers with the store.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/clinicdate"
	"github.com/medflow/medtrack/pkg/errors"
)

type state struct {
	medications map[string]domain.Medication
	lots        map[string]domain.InventoryLot
	adjustments []domain.LotAdjustment
	records     map[string]domain.DispensingRecord
}

// Store holds all pharmacy state behind one mutex.
type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
	last  time.Time
	// faults are one-shot errors keyed by operation name, e.g.
	// "dispensing.create" or "lots.decrement".
	faults map[string][]error
}

func New() *Store {
	return &Store{
		state: state{
			medications: map[string]domain.Medication{},
			lots:        map[string]domain.InventoryLot{},
			records:     map[string]domain.DispensingRecord{},
		},
		now:    time.Now,
		faults: map[string][]error{},
	}
}

// FailNext makes the next call of op return err.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// fault pops a pending error for op. Caller holds s.mu.
func (s *Store) fault(op string) error {
	queue := s.faults[op]
	if len(queue) == 0 {
		return nil
	}
	s.faults[op] = queue[1:]
	return queue[0]
}

// tick returns a strictly increasing timestamp so creation order is
// total. Caller holds s.mu.
func (s *Store) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *Store) Medications() *Medications { return &Medications{s} }
func (s *Store) Lots() *Lots               { return &Lots{s} }
func (s *Store) Dispensing() *Dispensing   { return &Dispensing{s} }

// Medications implements repository.MedicationStore.
type Medications struct{ s *Store }

func cloneMedication(m domain.Medication) *domain.Medication {
	m.Alternatives = append([]string(nil), m.Alternatives...)
	m.CommonUses = append([]string(nil), m.CommonUses...)
	m.Contraindications = append([]string(nil), m.Contraindications...)
	return &m
}

func (r *Medications) Create(ctx context.Context, m *domain.Medication) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("medications.create"); err != nil {
		return err
	}
	key := m.IdentityKey()
	for _, existing := range s.state.medications {
		if existing.IdentityKey() == key {
			return errors.Conflict("a medication with this name, strength and dosage form already exists")
		}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := s.tick()
	m.CreatedAt, m.LastUpdated = now, now
	s.state.medications[m.ID] = *cloneMedication(*m)
	return nil
}

func (r *Medications) GetByID(ctx context.Context, id string) (*domain.Medication, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.state.medications[id]
	if !ok {
		return nil, errors.NotFound("medication")
	}
	return cloneMedication(m), nil
}

func (r *Medications) FindByIdentity(ctx context.Context, name, strength, dosageForm string) (*domain.Medication, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	key := domain.IdentityKey(name, strength, dosageForm)
	for _, m := range s.state.medications {
		if m.IdentityKey() == key {
			return cloneMedication(m), nil
		}
	}
	return nil, errors.NotFound("medication")
}

func (r *Medications) List(ctx context.Context, includeInactive bool) ([]*domain.Medication, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.Medication{}
	for _, m := range s.state.medications {
		if m.IsActive || includeInactive {
			out = append(out, cloneMedication(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Strength < out[j].Strength
	})
	return out, nil
}

func (r *Medications) Update(ctx context.Context, m *domain.Medication) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.state.medications[m.ID]
	if !ok {
		return errors.NotFound("medication")
	}
	m.CreatedAt = existing.CreatedAt
	m.LastUpdated = s.tick()
	s.state.medications[m.ID] = *cloneMedication(*m)
	return nil
}

// Lots implements repository.LotStore.
type Lots struct{ s *Store }

func (r *Lots) Create(ctx context.Context, lot *domain.InventoryLot) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("lots.create"); err != nil {
		return err
	}
	if _, ok := s.state.medications[lot.MedicationID]; !ok {
		return errors.NotFound("medication")
	}
	for _, l := range s.state.lots {
		if l.MedicationID == lot.MedicationID && l.Site == lot.Site && l.LotNumber == lot.LotNumber {
			return errors.Conflict("a lot with this lot number already exists for the medication at this site")
		}
	}
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}
	now := s.tick()
	lot.CreatedAt, lot.UpdatedAt = now, now
	s.state.lots[lot.ID] = *lot
	return nil
}

func (r *Lots) GetByID(ctx context.Context, id string) (*domain.InventoryLot, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.state.lots[id]
	if !ok {
		return nil, errors.NotFound("lot")
	}
	return &l, nil
}

func (r *Lots) ListByMedication(ctx context.Context, medicationID string) ([]*domain.InventoryLot, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("lots.list"); err != nil {
		return nil, err
	}
	return s.lotsWhere(func(l domain.InventoryLot) bool { return l.MedicationID == medicationID }), nil
}

func (r *Lots) FindByNumber(ctx context.Context, medicationID, lotNumber string) ([]*domain.InventoryLot, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lotsWhere(func(l domain.InventoryLot) bool {
		return l.MedicationID == medicationID && l.LotNumber == lotNumber
	}), nil
}

func (s *Store) lotsWhere(keep func(domain.InventoryLot) bool) []*domain.InventoryLot {
	out := []*domain.InventoryLot{}
	for _, l := range s.state.lots {
		if keep(l) {
			l := l
			out = append(out, &l)
		}
	}
	domain.SortFEFO(out)
	return out
}

func (r *Lots) TotalStock(ctx context.Context, medicationID string, today clinicdate.Date) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SumUsable(s.lotsWhere(func(l domain.InventoryLot) bool { return l.MedicationID == medicationID }), today), nil
}

func (r *Lots) TotalsByMedication(ctx context.Context, today clinicdate.Date) (map[string]int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := map[string]int{}
	for _, l := range s.state.lots {
		if !l.ExpiredOn(today) {
			totals[l.MedicationID] += l.Quantity
		}
	}
	return totals, nil
}

func (r *Lots) mutate(op, id string, fn func(l *domain.InventoryLot) error) (int, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(op); err != nil {
		return 0, err
	}
	l, ok := s.state.lots[id]
	if !ok {
		return 0, errors.NotFound("lot")
	}
	previous := l.Quantity
	if err := fn(&l); err != nil {
		return 0, err
	}
	l.UpdatedAt = s.tick()
	s.state.lots[id] = l
	return previous, nil
}

func (r *Lots) SetQuantity(ctx context.Context, id string, qty int) (int, error) {
	return r.mutate("lots.set", id, func(l *domain.InventoryLot) error {
		if qty < 0 {
			return errors.Invalid("quantity", "must not be negative")
		}
		l.Quantity = qty
		return nil
	})
}

func (r *Lots) Decrement(ctx context.Context, id string, amount int) (int, int, error) {
	removed := 0
	previous, err := r.mutate("lots.decrement", id, func(l *domain.InventoryLot) error {
		removed = min(amount, l.Quantity)
		l.Quantity -= removed
		return nil
	})
	return previous, removed, err
}

func (r *Lots) Increment(ctx context.Context, id string, amount int) (int, error) {
	return r.mutate("lots.increment", id, func(l *domain.InventoryLot) error {
		l.Quantity += amount
		return nil
	})
}

func (r *Lots) SetLowStockThreshold(ctx context.Context, id string, threshold int) error {
	_, err := r.mutate("lots.threshold", id, func(l *domain.InventoryLot) error {
		l.LowStockThreshold = threshold
		return nil
	})
	return err
}

func (r *Lots) Delete(ctx context.Context, id string) (*domain.InventoryLot, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.state.lots[id]
	if !ok {
		return nil, errors.NotFound("lot")
	}
	delete(s.state.lots, id)
	return &l, nil
}

func (r *Lots) RecordAdjustment(ctx context.Context, adj *domain.LotAdjustment) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if adj.ID == "" {
		adj.ID = uuid.New().String()
	}
	adj.CreatedAt = s.tick()
	s.state.adjustments = append(s.state.adjustments, *adj)
	return nil
}

func (r *Lots) ListAdjustments(ctx context.Context, lotID string) ([]*domain.LotAdjustment, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.LotAdjustment{}
	for _, a := range s.state.adjustments {
		if a.LotID == lotID {
			a := a
			out = append(out, &a)
		}
	}
	return out, nil
}

// Dispensing implements repository.DispensingStore.
type Dispensing struct{ s *Store }

func (r *Dispensing) Create(ctx context.Context, rec *domain.DispensingRecord) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("dispensing.create"); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.CreatedAt = s.tick()
	rec.Anchor()
	s.state.records[rec.ID] = *rec
	return nil
}

func (r *Dispensing) GetByID(ctx context.Context, id string) (*domain.DispensingRecord, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.state.records[id]
	if !ok {
		return nil, errors.NotFound("dispensing record")
	}
	return &rec, nil
}

// Update writes back the editable fields only.
func (r *Dispensing) Update(ctx context.Context, rec *domain.DispensingRecord) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("dispensing.update"); err != nil {
		return err
	}
	stored, ok := s.state.records[rec.ID]
	if !ok {
		return errors.NotFound("dispensing record")
	}
	stored.PatientID = rec.PatientID
	stored.PatientInitials = rec.PatientInitials
	stored.Dose = rec.Dose
	stored.Quantity = rec.Quantity
	stored.LotNumber = rec.LotNumber
	stored.PhysicianName = rec.PhysicianName
	stored.StudentName = rec.StudentName
	stored.Notes = rec.Notes
	stored.ClinicSite = rec.ClinicSite
	s.state.records[rec.ID] = stored
	return nil
}

func (r *Dispensing) Delete(ctx context.Context, id string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("dispensing.delete"); err != nil {
		return err
	}
	if _, ok := s.state.records[id]; !ok {
		return errors.NotFound("dispensing record")
	}
	delete(s.state.records, id)
	return nil
}

func (r *Dispensing) List(ctx context.Context, from clinicdate.Date, medicationID string) ([]*domain.DispensingRecord, error) {
	return r.where(func(rec domain.DispensingRecord) bool {
		if !from.IsZero() && rec.LogDate.Before(from) {
			return false
		}
		return medicationID == "" || rec.MedicationID == medicationID
	}), nil
}

func (r *Dispensing) FindByClientRef(ctx context.Context, clientRef string) ([]*domain.DispensingRecord, error) {
	if strings.TrimSpace(clientRef) == "" {
		return nil, nil
	}
	return r.where(func(rec domain.DispensingRecord) bool { return rec.ClientRef == clientRef }), nil
}

func (r *Dispensing) where(keep func(domain.DispensingRecord) bool) []*domain.DispensingRecord {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*domain.DispensingRecord{}
	for _, rec := range s.state.records {
		if keep(rec) {
			rec := rec
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].LogDate.Compare(out[j].LogDate); c != 0 {
			return c > 0
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
