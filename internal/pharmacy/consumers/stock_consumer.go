package consumers

import (
	"context"

	"github.com/medflow/medtrack/pkg/errors"
	"github.com/medflow/medtrack/pkg/logger"
	"github.com/medflow/medtrack/pkg/messaging"
)

// QueueName is the durable queue the pharmacy service consumes its own
// events from.
const QueueName = "pharmacy-service.stock-events"

// StockReader recomputes derived stock from the lots and rewrites the
// stock cache.
type StockReader interface {
	RecomputeStock(ctx context.Context, medicationID string) (int, error)
}

// StockEventHandler keeps cached stock warm after ledger mutations
// (testable without RabbitMQ)
type StockEventHandler struct {
	stock  StockReader
	logger *logger.Logger
}

// NewStockEventHandler creates the handler
func NewStockEventHandler(stock StockReader, log *logger.Logger) *StockEventHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &StockEventHandler{stock: stock, logger: log.WithComponent("stock_consumer")}
}

// HandleEvent processes one pharmacy event.
func (h *StockEventHandler) HandleEvent(ctx context.Context, event *messaging.Event) error {
	switch event.Type {
	case messaging.EventLotChanged:
		return h.handleLotChanged(ctx, event)
	case messaging.EventDispenseRecorded:
		return h.handleDispenseRecorded(ctx, event)
	case messaging.EventDispenseWithdrawn:
		return h.handleDispenseWithdrawn(ctx, event)
	case messaging.EventImportCompleted:
		return h.handleImportCompleted(ctx, event)
	case messaging.EventStockLow:
		return h.handleStockLow(ctx, event)
	default:
		h.logger.Warn().Str("event_type", event.Type).Msg("unknown event type received")
		return nil
	}
}

// StockEventConsumer binds the handler to the pharmacy exchange.
type StockEventConsumer struct {
	consumer *messaging.Consumer
	handler  *StockEventHandler
	logger   *logger.Logger
}

// NewStockEventConsumer declares the queue and registers every handler.
func NewStockEventConsumer(rmq *messaging.RabbitMQ, stock StockReader, log *logger.Logger) (*StockEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, QueueName, log)
	if err != nil {
		return nil, err
	}
	if err := consumer.Subscribe(messaging.ExchangePharmacyEvents, "pharmacy.#"); err != nil {
		return nil, err
	}

	handler := NewStockEventHandler(stock, log)
	consumer.RegisterHandler(messaging.EventLotChanged, handler.handleLotChanged)
	consumer.RegisterHandler(messaging.EventDispenseRecorded, handler.handleDispenseRecorded)
	consumer.RegisterHandler(messaging.EventDispenseWithdrawn, handler.handleDispenseWithdrawn)
	consumer.RegisterHandler(messaging.EventImportCompleted, handler.handleImportCompleted)
	consumer.RegisterHandler(messaging.EventStockLow, handler.handleStockLow)

	return &StockEventConsumer{consumer: consumer, handler: handler, logger: log}, nil
}

// Start starts consuming messages
func (c *StockEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Resume restores the queue topology and consumption after a reconnect.
func (c *StockEventConsumer) Resume(ctx context.Context) error {
	return c.consumer.Resume(ctx)
}

func (h *StockEventHandler) handleLotChanged(ctx context.Context, event *messaging.Event) error {
	var data messaging.LotChangedEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal LotChangedEvent")
		return err
	}
	return h.refresh(ctx, data.MedicationID)
}

func (h *StockEventHandler) handleDispenseRecorded(ctx context.Context, event *messaging.Event) error {
	var data messaging.DispenseRecordedEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal DispenseRecordedEvent")
		return err
	}
	return h.refresh(ctx, data.MedicationID)
}

func (h *StockEventHandler) handleDispenseWithdrawn(ctx context.Context, event *messaging.Event) error {
	var data messaging.DispenseWithdrawnEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal DispenseWithdrawnEvent")
		return err
	}
	return h.refresh(ctx, data.MedicationID)
}

func (h *StockEventHandler) handleImportCompleted(ctx context.Context, event *messaging.Event) error {
	var data messaging.ImportCompletedEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal ImportCompletedEvent")
		return err
	}
	for _, id := range data.MedicationIDs {
		if err := h.refresh(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (h *StockEventHandler) handleStockLow(ctx context.Context, event *messaging.Event) error {
	var data messaging.StockLowEvent
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.Error().Err(err).Msg("failed to unmarshal StockLowEvent")
		return err
	}
	h.logger.Warn().
		Str("medication_id", data.MedicationID).
		Str("medication", data.MedicationName).
		Int("current_stock", data.CurrentStock).
		Int("min_stock", data.MinStock).
		Msg("medication at or below minimum stock")
	return nil
}

// refresh recomputes one medication's stock. A medication deleted since
// the event was published is not an error.
func (h *StockEventHandler) refresh(ctx context.Context, medicationID string) error {
	if medicationID == "" {
		return nil
	}
	log := h.logger.WithMedication(medicationID)
	total, err := h.stock.RecomputeStock(ctx, medicationID)
	if errors.Is(err, errors.ErrNotFound) {
		log.Debug().Msg("medication gone, nothing to refresh")
		return nil
	}
	if err != nil {
		log.WithError(err).Error().Msg("failed to refresh derived stock")
		return err
	}
	log.Debug().Int("total", total).Msg("derived stock refreshed")
	return nil
}
