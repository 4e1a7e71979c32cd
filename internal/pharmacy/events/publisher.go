package events

import (
	"context"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/medflow/medtrack/pkg/messaging"
)

// PharmacyEventPublisher publishes pharmacy events. A nil publisher is
// valid and drops everything, which is how the service runs without a
// broker. Publish failures are logged, never returned: the ledger is the
// source of truth and subscribers recompute from it.
type PharmacyEventPublisher struct {
	publisher messaging.EventPublisher
	logger    *logger.Logger
}

// NewPharmacyEventPublisher declares the pharmacy exchange on rmq.
func NewPharmacyEventPublisher(rmq *messaging.RabbitMQ, source string, log *logger.Logger) (*PharmacyEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangePharmacyEvents, source, log)
	if err != nil {
		return nil, err
	}
	return New(publisher, log), nil
}

// New wraps any EventPublisher.
func New(publisher messaging.EventPublisher, log *logger.Logger) *PharmacyEventPublisher {
	if log == nil {
		log = logger.Nop()
	}
	return &PharmacyEventPublisher{publisher: publisher, logger: log}
}

func (p *PharmacyEventPublisher) publish(ctx context.Context, eventType string, data interface{}, key string) {
	if err := p.publisher.Publish(ctx, eventType, data); err != nil {
		p.logger.Error().Err(err).Str("event_type", eventType).Str("key", key).Msg("failed to publish event")
	}
}

// PublishLotChanged publishes a ledger mutation.
func (p *PharmacyEventPublisher) PublishLotChanged(ctx context.Context, adj *domain.LotAdjustment, lotNumber string) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventLotChanged, messaging.LotChangedEvent{
		LotID:            adj.LotID,
		MedicationID:     adj.MedicationID,
		LotNumber:        lotNumber,
		Change:           string(adj.Type),
		PreviousQuantity: adj.PreviousQuantity,
		NewQuantity:      adj.NewQuantity,
		PerformedBy:      adj.PerformedBy,
	}, adj.LotID)
}

// PublishStockLow publishes a low-stock crossing for med.
func (p *PharmacyEventPublisher) PublishStockLow(ctx context.Context, med *domain.Medication) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventStockLow, messaging.StockLowEvent{
		MedicationID:   med.ID,
		MedicationName: med.Name,
		CurrentStock:   med.CurrentStock,
		MinStock:       med.MinStock,
	}, med.ID)
}

// PublishDispenseRecorded publishes an allocation that wrote log rows.
func (p *PharmacyEventPublisher) PublishDispenseRecorded(ctx context.Context, result *domain.AllocationResult, clientRef, dispensedBy string) {
	if p == nil {
		return
	}
	ids := []string{}
	for _, r := range result.Records() {
		ids = append(ids, r.ID)
	}
	p.publish(ctx, messaging.EventDispenseRecorded, messaging.DispenseRecordedEvent{
		MedicationID: result.MedicationID,
		RecordIDs:    ids,
		Requested:    result.Requested,
		Dispensed:    result.Dispensed(),
		Outcome:      string(result.Outcome()),
		ClientRef:    clientRef,
		DispensedBy:  dispensedBy,
	}, result.MedicationID)
}

// PublishDispenseWithdrawn publishes an undone record.
func (p *PharmacyEventPublisher) PublishDispenseWithdrawn(ctx context.Context, wr *domain.WithdrawResult, withdrawnBy string) {
	if p == nil {
		return
	}
	p.publish(ctx, messaging.EventDispenseWithdrawn, messaging.DispenseWithdrawnEvent{
		RecordID:         wr.Record.ID,
		MedicationID:     wr.Record.MedicationID,
		LotID:            wr.RestoredLotID,
		RestoredQuantity: wr.RestoredQuantity,
		LotRecreated:     wr.LotRecreated,
		WithdrawnBy:      withdrawnBy,
	}, wr.Record.ID)
}

// PublishImportCompleted publishes a bulk import summary.
func (p *PharmacyEventPublisher) PublishImportCompleted(ctx context.Context, result *domain.ImportResult, importedBy string) {
	if p == nil {
		return
	}
	seen := map[string]bool{}
	ids := []string{}
	for _, row := range result.Rows {
		if row.MedicationID != "" && !seen[row.MedicationID] {
			seen[row.MedicationID] = true
			ids = append(ids, row.MedicationID)
		}
	}
	p.publish(ctx, messaging.EventImportCompleted, messaging.ImportCompletedEvent{
		Success:       result.Success,
		Failed:        result.Failed,
		MedicationIDs: ids,
		ImportedBy:    importedBy,
	}, "import")
}
