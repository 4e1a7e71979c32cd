package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Ledger events
	EventLotChanged = "pharmacy.lot.changed"
	EventStockLow   = "pharmacy.stock.low"

	// Dispensing events
	EventDispenseRecorded  = "pharmacy.dispense.recorded"
	EventDispenseWithdrawn = "pharmacy.dispense.withdrawn"

	// Import events
	EventImportCompleted = "pharmacy.import.completed"
)

// Exchange names
const (
	ExchangePharmacyEvents = "pharmacy.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.ID)
	}
	return json.Unmarshal(e.Data, v)
}

// GenerateEventID returns a fresh event id.
func GenerateEventID() string {
	return uuid.New().String()
}

// LotChangedEvent is published after every ledger mutation. Subscribers
// recompute derived stock for MedicationID; the payload is a hint, not the
// new total.
type LotChangedEvent struct {
	LotID            string `json:"lot_id"`
	MedicationID     string `json:"medication_id"`
	LotNumber        string `json:"lot_number"`
	Change           string `json:"change"`
	PreviousQuantity int    `json:"previous_quantity"`
	NewQuantity      int    `json:"new_quantity"`
	PerformedBy      string `json:"performed_by"`
}

// StockLowEvent is published when a dispense leaves derived stock at or
// below the medication's minimum.
type StockLowEvent struct {
	MedicationID   string `json:"medication_id"`
	MedicationName string `json:"medication_name"`
	CurrentStock   int    `json:"current_stock"`
	MinStock       int    `json:"min_stock"`
}

// DispenseRecordedEvent is published once per allocation that wrote at
// least one log row.
type DispenseRecordedEvent struct {
	MedicationID string   `json:"medication_id"`
	RecordIDs    []string `json:"record_ids"`
	Requested    int      `json:"requested"`
	Dispensed    int      `json:"dispensed"`
	Outcome      string   `json:"outcome"`
	ClientRef    string   `json:"client_ref,omitempty"`
	DispensedBy  string   `json:"dispensed_by"`
}

// DispenseWithdrawnEvent is published after a record is withdrawn and its
// quantity returned to inventory.
type DispenseWithdrawnEvent struct {
	RecordID         string `json:"record_id"`
	MedicationID     string `json:"medication_id"`
	LotID            string `json:"lot_id"`
	RestoredQuantity int    `json:"restored_quantity"`
	LotRecreated     bool   `json:"lot_recreated"`
	WithdrawnBy      string `json:"withdrawn_by"`
}

// ImportCompletedEvent summarises a bulk formulary import.
type ImportCompletedEvent struct {
	Success       int      `json:"success"`
	Failed        int      `json:"failed"`
	MedicationIDs []string `json:"medication_ids"`
	ImportedBy    string   `json:"imported_by"`
}
