package domain

import "time"

// IntentStatus tracks a queued offline dispense. Applied intents are
// removed from the queue rather than stored with a status.
type IntentStatus string

const (
	IntentQueued  IntentStatus = "queued"
	IntentSyncing IntentStatus = "syncing"
	IntentFailed  IntentStatus = "failed"
	IntentApplied IntentStatus = "applied"
)

// PendingIntent is a dispense captured while offline.
type PendingIntent struct {
	ID string `json:"id" db:"id"`
	// Seq is the local enqueue order.
	Seq          int64           `json:"seq" db:"seq"`
	Request      DispenseRequest `json:"request" db:"-"`
	PreferredLot string          `json:"preferred_lot,omitempty" db:"preferred_lot"`
	Status       IntentStatus    `json:"status" db:"status"`
	Attempts     int             `json:"attempts" db:"attempts"`
	LastError    string          `json:"last_error,omitempty" db:"last_error"`
	EnqueuedAt   time.Time       `json:"enqueued_at" db:"created_at"`
}

// IntentSubmission is what the device sends to the server for one intent.
type IntentSubmission struct {
	IntentID     string          `json:"intent_id" validate:"required"`
	PreferredLot string          `json:"preferred_lot,omitempty"`
	Request      DispenseRequest `json:"request"`
}
