package domain

import (
	"strings"
	"time"
)

// DispenseRequest is a request to dispense a quantity of one medication to
// a patient. It is the payload of both live dispenses and queued intents.
type DispenseRequest struct {
	MedicationID    string    `json:"medication_id" validate:"required"`
	Quantity        int       `json:"quantity" validate:"required,gt=0"`
	PatientID       string    `json:"patient_id" validate:"required,max=100"`
	PatientInitials string    `json:"patient_initials,omitempty" validate:"max=20"`
	Dose            string    `json:"dose" validate:"max=500"`
	Indication      string    `json:"indication" validate:"max=500"`
	PhysicianName   string    `json:"physician_name" validate:"max=200"`
	StudentName     string    `json:"student_name" validate:"max=200"`
	DispensedBy     string    `json:"dispensed_by" validate:"max=200"`
	ClinicSite      string    `json:"clinic_site" validate:"max=100"`
	Notes           string    `json:"notes" validate:"max=2000"`
	Unit            string    `json:"unit,omitempty" validate:"max=20"`
	DispensedAt     time.Time `json:"dispensed_at,omitempty"`
	// ClientRef makes replays of the same request idempotent.
	ClientRef string `json:"client_ref,omitempty" validate:"max=100"`
}

// Validate checks the fields every entry point requires.
func (r *DispenseRequest) Validate() map[string]string {
	errs := map[string]string{}
	if strings.TrimSpace(r.MedicationID) == "" {
		errs["medication_id"] = "is required"
	}
	if r.Quantity <= 0 {
		errs["quantity"] = "must be positive"
	}
	if strings.TrimSpace(r.PatientID) == "" {
		errs["patient_id"] = "is required"
	}
	return errs
}

// LotSelection is one user-chosen (lot, quantity) pair for a manual dispense.
type LotSelection struct {
	LotNumber string `json:"lot_number" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}
