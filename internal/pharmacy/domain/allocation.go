package domain

import (
	"fmt"

	"github.com/medflow/medtrack/pkg/clinicdate"
)

// AllocationStep takes Take units from one lot.
type AllocationStep struct {
	LotID          string          `json:"lot_id"`
	LotNumber      string          `json:"lot_number"`
	ExpirationDate clinicdate.Date `json:"expiration_date"`
	Take           int             `json:"take"`
}

// AllocationPlan is the FEFO decision for a request, before any mutation.
type AllocationPlan struct {
	MedicationID string           `json:"medication_id"`
	Requested    int              `json:"requested"`
	Steps        []AllocationStep `json:"steps"`
}

// PlanFEFO walks lots (already FEFO sorted) and takes from each usable lot
// until qty is covered. It returns the plan and the uncovered remainder.
func PlanFEFO(medicationID string, qty int, lots []*InventoryLot, today clinicdate.Date) (*AllocationPlan, int) {
	plan := &AllocationPlan{MedicationID: medicationID, Requested: qty}
	remaining := qty
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		if !lot.Usable(today) {
			continue
		}
		take := min(remaining, lot.Quantity)
		plan.Steps = append(plan.Steps, AllocationStep{
			LotID:          lot.ID,
			LotNumber:      lot.LotNumber,
			ExpirationDate: lot.ExpirationDate,
			Take:           take,
		})
		remaining -= take
	}
	return plan, remaining
}

// StepStatus is the result of applying one plan step.
type StepStatus string

const (
	// StepApplied: lot decremented and log row written.
	StepApplied StepStatus = "applied"
	// StepLogFailed: lot decremented but the log row could not be written.
	StepLogFailed StepStatus = "log_failed"
	// StepFailed: the decrement itself failed; nothing changed for this step.
	StepFailed StepStatus = "failed"
	// StepSkipped: not attempted because an earlier step failed.
	StepSkipped StepStatus = "skipped"
)

// StepResult records what happened to one step.
type StepResult struct {
	AllocationStep
	Status  StepStatus        `json:"status"`
	Removed int               `json:"removed"`
	Record  *DispensingRecord `json:"record,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Outcome summarises an allocation.
type Outcome string

const (
	OutcomeFullyApplied     Outcome = "fully_applied"
	OutcomePartiallyApplied Outcome = "partially_applied"
	OutcomeFailed           Outcome = "failed"
)

// PartialApplicationWarning names an inventory change that happened without
// its matching effect: a decrement with no log row, or a decrement that
// removed less than planned.
type PartialApplicationWarning struct {
	LotID     string `json:"lot_id"`
	LotNumber string `json:"lot_number"`
	Planned   int    `json:"planned"`
	Removed   int    `json:"removed"`
	Reason    string `json:"reason"`
}

func (w PartialApplicationWarning) Error() string {
	return fmt.Sprintf("partial application on lot %s (planned %d, removed %d): %s", w.LotNumber, w.Planned, w.Removed, w.Reason)
}

// AllocationResult is returned by every dispense entry point.
type AllocationResult struct {
	MedicationID string                      `json:"medication_id"`
	Requested    int                         `json:"requested"`
	Steps        []StepResult                `json:"steps"`
	Warnings     []PartialApplicationWarning `json:"warnings,omitempty"`
	// Duplicate is set when a replay matched records already written for
	// the same client reference; nothing was applied again.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Dispensed is the total actually removed from inventory.
func (r *AllocationResult) Dispensed() int {
	n := 0
	for _, s := range r.Steps {
		n += s.Removed
	}
	return n
}

// Records returns the log rows written.
func (r *AllocationResult) Records() []*DispensingRecord {
	var out []*DispensingRecord
	for _, s := range r.Steps {
		if s.Record != nil {
			out = append(out, s.Record)
		}
	}
	return out
}

// Outcome classifies the result.
func (r *AllocationResult) Outcome() Outcome {
	if r.Duplicate {
		return OutcomeFullyApplied
	}
	if r.Dispensed() == 0 {
		return OutcomeFailed
	}
	for _, s := range r.Steps {
		if s.Status != StepApplied {
			return OutcomePartiallyApplied
		}
	}
	if r.Dispensed() != r.Requested {
		return OutcomePartiallyApplied
	}
	return OutcomeFullyApplied
}

// FailedSteps lists the steps that did not fully apply.
func (r *AllocationResult) FailedSteps() []StepResult {
	var out []StepResult
	for _, s := range r.Steps {
		if s.Status != StepApplied {
			out = append(out, s)
		}
	}
	return out
}

// DispenseSummary is the wire form of an AllocationResult, with the
// derived totals spelled out for clients.
type DispenseSummary struct {
	*AllocationResult
	Outcome   Outcome `json:"outcome"`
	Dispensed int     `json:"dispensed"`
}

// Summary returns the wire form of r.
func (r *AllocationResult) Summary() DispenseSummary {
	return DispenseSummary{AllocationResult: r, Outcome: r.Outcome(), Dispensed: r.Dispensed()}
}
