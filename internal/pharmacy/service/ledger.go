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

// Ledger owns lot quantities. Medication stock is never stored: it is
// always the sum of non-expired lot quantities as of the clinic's today.
type Ledger struct {
	d      Deps
	logger *logger.Logger
}

// NewLedger creates the inventory ledger
func NewLedger(d Deps) *Ledger {
	d = d.withDefaults()
	return &Ledger{d: d, logger: d.Logger.WithComponent("ledger")}
}

// Today is the clinic calendar day used for expiry decisions.
func (l *Ledger) Today() clinicdate.Date {
	return l.d.Clock.Today()
}

// TotalStock returns the derived stock of a medication.
func (l *Ledger) TotalStock(ctx context.Context, medicationID string) (int, error) {
	today := l.Today()
	if total, ok := l.d.Cache.Get(ctx, medicationID, today); ok {
		l.d.Metrics.ObserveCacheLookup(true)
		return total, nil
	}
	l.d.Metrics.ObserveCacheLookup(false)
	return l.RecomputeStock(ctx, medicationID)
}

// RecomputeStock sums the lots directly, ignoring any cached total, and
// overwrites the cache entry with the result.
func (l *Ledger) RecomputeStock(ctx context.Context, medicationID string) (int, error) {
	if _, err := l.d.Medications.GetByID(ctx, medicationID); err != nil {
		return 0, err
	}
	today := l.Today()
	total, err := l.d.Lots.TotalStock(ctx, medicationID, today)
	if err != nil {
		return 0, err
	}
	l.d.Cache.Set(ctx, medicationID, today, total)
	return total, nil
}

// ListLots returns every lot of a medication in FEFO order, expired and
// empty lots included, with IsExpired filled.
func (l *Ledger) ListLots(ctx context.Context, medicationID string) ([]*domain.InventoryLot, error) {
	if _, err := l.d.Medications.GetByID(ctx, medicationID); err != nil {
		return nil, err
	}
	lots, err := l.d.Lots.ListByMedication(ctx, medicationID)
	if err != nil {
		return nil, err
	}
	domain.MarkExpired(lots, l.Today())
	return lots, nil
}

// GetLot returns one lot.
func (l *Ledger) GetLot(ctx context.Context, lotID string) (*domain.InventoryLot, error) {
	lot, err := l.d.Lots.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	lot.IsExpired = lot.ExpiredOn(l.Today())
	return lot, nil
}

// FindLot returns the lots of a medication carrying lotNumber, one per
// site, in FEFO order.
func (l *Ledger) FindLot(ctx context.Context, medicationID, lotNumber string) ([]*domain.InventoryLot, error) {
	lotNumber = strings.TrimSpace(lotNumber)
	if lotNumber == "" {
		return nil, errors.Invalid("lot_number", "is required")
	}
	lots, err := l.d.Lots.FindByNumber(ctx, medicationID, lotNumber)
	if err != nil {
		return nil, err
	}
	if len(lots) == 0 {
		return nil, errors.NotFound("lot")
	}
	domain.MarkExpired(lots, l.Today())
	return lots, nil
}

// AddLot receives a new lot into inventory.
func (l *Ledger) AddLot(ctx context.Context, in domain.NewLot) (*domain.InventoryLot, error) {
	fields := map[string]string{}
	lotNumber := strings.TrimSpace(in.LotNumber)
	if lotNumber == "" {
		fields["lot_number"] = "is required"
	}
	if in.Quantity < 0 {
		fields["quantity"] = "must not be negative"
	}
	expiration, err := clinicdate.Parse(in.ExpirationDate)
	if err != nil {
		fields["expiration_date"] = "must be a date in YYYY-MM-DD form"
	}
	if in.LowStockThreshold != nil && *in.LowStockThreshold < 0 {
		fields["low_stock_threshold"] = "must not be negative"
	}
	if len(fields) > 0 {
		return nil, errors.Validation(fields)
	}

	if _, err := l.d.Medications.GetByID(ctx, in.MedicationID); err != nil {
		return nil, err
	}

	lot := &domain.InventoryLot{
		MedicationID:      in.MedicationID,
		Site:              strings.TrimSpace(in.Site),
		LotNumber:         lotNumber,
		ExpirationDate:    expiration,
		Quantity:          in.Quantity,
		LowStockThreshold: l.d.Clinic.LowStockThreshold,
		Notes:             in.Notes,
	}
	if lot.Site == "" {
		lot.Site = l.d.Clinic.DefaultSite
	}
	if in.LowStockThreshold != nil {
		lot.LowStockThreshold = *in.LowStockThreshold
	}

	if err := l.d.Lots.Create(ctx, lot); err != nil {
		return nil, err
	}
	lot.IsExpired = lot.ExpiredOn(l.Today())

	l.changed(ctx, lot, domain.AdjustmentReceive, lot.Quantity, 0, lot.Quantity, "lot received")
	l.logger.Info().
		Str("lot_id", lot.ID).
		Str("medication_id", lot.MedicationID).
		Str("lot_number", lot.LotNumber).
		Int("quantity", lot.Quantity).
		Msg("lot added")
	return lot, nil
}

// SetLotQuantity overwrites a lot's quantity. Used for corrections and
// counts, never for dispensing.
func (l *Ledger) SetLotQuantity(ctx context.Context, lotID string, qty int) (*domain.InventoryLot, error) {
	if qty < 0 {
		return nil, errors.Invalid("quantity", "must not be negative")
	}
	lot, err := l.d.Lots.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	previous, err := l.d.Lots.SetQuantity(ctx, lotID, qty)
	if err != nil {
		return nil, err
	}
	lot.Quantity = qty
	lot.IsExpired = lot.ExpiredOn(l.Today())

	l.changed(ctx, lot, domain.AdjustmentSet, qty-previous, previous, qty, "quantity corrected")
	return lot, nil
}

// DecrementLot removes up to amount from a lot, clamping at zero, and
// returns how much was actually removed.
func (l *Ledger) DecrementLot(ctx context.Context, lotID string, amount int) (int, error) {
	if amount < 0 {
		return 0, errors.Invalid("amount", "must not be negative")
	}
	lot, err := l.d.Lots.GetByID(ctx, lotID)
	if err != nil {
		return 0, err
	}
	return l.decrement(ctx, lot, amount, "manual decrement")
}

// decrement is DecrementLot for a lot the caller already holds.
func (l *Ledger) decrement(ctx context.Context, lot *domain.InventoryLot, amount int, reason string) (int, error) {
	if amount == 0 {
		return 0, nil
	}
	previous, removed, err := l.d.Lots.Decrement(ctx, lot.ID, amount)
	if err != nil {
		return 0, err
	}
	if removed < amount {
		l.logger.Warn().
			Str("lot_id", lot.ID).
			Int("requested", amount).
			Int("removed", removed).
			Msg("decrement clamped at zero")
	}
	lot.Quantity = previous - removed
	l.changed(ctx, lot, domain.AdjustmentDecrement, -removed, previous, lot.Quantity, reason)
	return removed, nil
}

// RestoreLot adds amount back to a lot.
func (l *Ledger) RestoreLot(ctx context.Context, lotID string, amount int) (*domain.InventoryLot, error) {
	if amount < 0 {
		return nil, errors.Invalid("amount", "must not be negative")
	}
	lot, err := l.d.Lots.GetByID(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if err := l.restore(ctx, lot, amount, "manual restore"); err != nil {
		return nil, err
	}
	return lot, nil
}

func (l *Ledger) restore(ctx context.Context, lot *domain.InventoryLot, amount int, reason string) error {
	if amount == 0 {
		return nil
	}
	previous, err := l.d.Lots.Increment(ctx, lot.ID, amount)
	if err != nil {
		return err
	}
	lot.Quantity = previous + amount
	lot.IsExpired = lot.ExpiredOn(l.Today())
	l.changed(ctx, lot, domain.AdjustmentRestore, amount, previous, lot.Quantity, reason)
	return nil
}

// DeleteLot removes a lot entirely.
func (l *Ledger) DeleteLot(ctx context.Context, lotID string) (*domain.InventoryLot, error) {
	lot, err := l.d.Lots.Delete(ctx, lotID)
	if err != nil {
		return nil, err
	}
	l.changed(ctx, lot, domain.AdjustmentDelete, -lot.Quantity, lot.Quantity, 0, "lot deleted")
	l.logger.Info().Str("lot_id", lot.ID).Str("lot_number", lot.LotNumber).Msg("lot deleted")
	return lot, nil
}

// SetLowStockThreshold sets the per-lot low stock threshold.
func (l *Ledger) SetLowStockThreshold(ctx context.Context, lotID string, threshold int) (*domain.InventoryLot, error) {
	if threshold < 0 {
		return nil, errors.Invalid("low_stock_threshold", "must not be negative")
	}
	if err := l.d.Lots.SetLowStockThreshold(ctx, lotID, threshold); err != nil {
		return nil, err
	}
	return l.GetLot(ctx, lotID)
}

// Adjustments returns the audit trail of a lot, oldest first.
func (l *Ledger) Adjustments(ctx context.Context, lotID string) ([]*domain.LotAdjustment, error) {
	if _, err := l.d.Lots.GetByID(ctx, lotID); err != nil {
		return nil, err
	}
	return l.d.Lots.ListAdjustments(ctx, lotID)
}

// changed records the audit row, drops the cached total and notifies
// subscribers. The mutation has already happened, so failures here are
// logged and swallowed.
func (l *Ledger) changed(ctx context.Context, lot *domain.InventoryLot, kind domain.AdjustmentType, delta, previous, current int, reason string) {
	adj := &domain.LotAdjustment{
		LotID:            lot.ID,
		MedicationID:     lot.MedicationID,
		Type:             kind,
		Quantity:         delta,
		PreviousQuantity: previous,
		NewQuantity:      current,
		Reason:           reason,
		PerformedBy:      actor.OrSystem(ctx).DisplayName(),
	}
	if err := l.d.Lots.RecordAdjustment(ctx, adj); err != nil {
		l.logger.Error().Err(err).Str("lot_id", lot.ID).Str("type", string(kind)).Msg("failed to record lot adjustment")
	}
	l.d.Cache.Invalidate(ctx, lot.MedicationID)
	l.d.Publisher.PublishLotChanged(ctx, adj, lot.LotNumber)
}

// checkLowStock publishes a low stock event when med's derived stock sits
// at or below its minimum.
func (l *Ledger) checkLowStock(ctx context.Context, med *domain.Medication) {
	total, err := l.d.Lots.TotalStock(ctx, med.ID, l.Today())
	if err != nil {
		l.logger.WithMedication(med.ID).WithError(err).Warn().Msg("low stock check failed")
		return
	}
	med.WithStock(total)
	if med.StockStatus() != domain.StockGood {
		l.d.Publisher.PublishStockLow(ctx, med)
	}
}
