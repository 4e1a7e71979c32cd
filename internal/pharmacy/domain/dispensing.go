package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/medflow/medtrack/pkg/clinicdate"
)

// DefaultUnit is appended to stored dispense amounts.
const DefaultUnit = "tabs"

// DispensingRecord is one log row: a quantity dispensed from a single lot.
type DispensingRecord struct {
	ID              string          `json:"id" db:"id"`
	LogDate         clinicdate.Date `json:"log_date" db:"log_date"`
	DispensedAt     time.Time       `json:"dispensed_at" db:"-"`
	PatientID       string          `json:"patient_id" db:"patient_id"`
	PatientInitials string          `json:"patient_initials" db:"patient_initials"`
	MedicationID    string          `json:"medication_id" db:"medication_id"`
	MedicationName  string          `json:"medication_name" db:"medication_name"`
	Dose            string          `json:"dose" db:"dose_instructions"`
	LotID           string          `json:"lot_id,omitempty" db:"-"`
	LotNumber       string          `json:"lot_number" db:"lot_number"`
	ExpirationDate  clinicdate.Date `json:"expiration_date" db:"expiration_date"`
	Quantity        int             `json:"quantity" db:"-"`
	Unit            string          `json:"unit" db:"-"`
	PhysicianName   string          `json:"physician_name" db:"physician_name"`
	StudentName     string          `json:"student_name" db:"student_name"`
	DispensedBy     string          `json:"dispensed_by" db:"dispensed_by"`
	ClinicSite      string          `json:"clinic_site" db:"clinic_site"`
	Indication      string          `json:"indication" db:"indication"`
	Notes           string          `json:"notes" db:"notes"`
	EnteredBy       string          `json:"entered_by" db:"entered_by"`
	ClientRef       string          `json:"client_ref,omitempty" db:"client_ref"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`

	// ConsumedQuantity is what the dispense actually removed from LotID.
	// Quantity may later be corrected; withdraw restores ConsumedQuantity.
	ConsumedQuantity int `json:"-" db:"consumed_quantity"`
}

// AmountDispensed renders the stored "<qty> <unit>" text.
func (r *DispensingRecord) AmountDispensed() string {
	unit := r.Unit
	if unit == "" {
		unit = DefaultUnit
	}
	return fmt.Sprintf("%d %s", r.Quantity, unit)
}

// ParseAmount splits stored "<qty> <unit>" text. Text without a leading
// integer yields quantity 0.
func ParseAmount(s string) (int, string) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	qty := 0
	for _, c := range s[:i] {
		qty = qty*10 + int(c-'0')
	}
	unit := strings.TrimSpace(s[i:])
	if unit == "" {
		unit = DefaultUnit
	}
	return qty, unit
}

// Anchor sets DispensedAt from LogDate.
func (r *DispensingRecord) Anchor() {
	r.DispensedAt = r.LogDate.Noon()
}

// DeriveInitials builds "J.D." style initials from a patient identifier:
// the first letter of each alphabetic word, at most three. Identifiers
// without letters are returned unchanged.
func DeriveInitials(patientID string) string {
	words := strings.FieldsFunc(patientID, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '_' || r == '.' || r == ','
	})
	var b strings.Builder
	n := 0
	for _, w := range words {
		first := []rune(w)[0]
		if !unicode.IsLetter(first) {
			continue
		}
		b.WriteRune(unicode.ToUpper(first))
		b.WriteByte('.')
		n++
		if n == 3 {
			break
		}
	}
	if n == 0 {
		return strings.TrimSpace(patientID)
	}
	return b.String()
}

// RecordUpdate is the editable subset of a DispensingRecord. Nil fields are
// left unchanged.
type RecordUpdate struct {
	PatientID     *string `json:"patient_id,omitempty"`
	Dose          *string `json:"dose,omitempty"`
	Quantity      *int    `json:"quantity,omitempty"`
	LotNumber     *string `json:"lot_number,omitempty"`
	PhysicianName *string `json:"physician_name,omitempty"`
	StudentName   *string `json:"student_name,omitempty"`
	Notes         *string `json:"notes,omitempty"`
	ClinicSite    *string `json:"clinic_site,omitempty"`
}

// EditableFields lists the JSON names accepted by RecordUpdate.
var EditableFields = []string{
	"patient_id", "dose", "quantity", "lot_number",
	"physician_name", "student_name", "notes", "clinic_site",
}

func (u RecordUpdate) IsEmpty() bool {
	return u.PatientID == nil && u.Dose == nil && u.Quantity == nil && u.LotNumber == nil &&
		u.PhysicianName == nil && u.StudentName == nil && u.Notes == nil && u.ClinicSite == nil
}

// Validate returns field errors keyed by JSON name.
func (u RecordUpdate) Validate() map[string]string {
	errs := map[string]string{}
	if u.Quantity != nil && *u.Quantity <= 0 {
		errs["quantity"] = "must be positive"
	}
	if u.PatientID != nil && strings.TrimSpace(*u.PatientID) == "" {
		errs["patient_id"] = "must not be empty"
	}
	if u.LotNumber != nil && strings.TrimSpace(*u.LotNumber) == "" {
		errs["lot_number"] = "must not be empty"
	}
	return errs
}

// Apply copies the present fields onto r. A new patient id re-derives the
// initials.
func (u RecordUpdate) Apply(r *DispensingRecord) {
	if u.PatientID != nil {
		r.PatientID = strings.TrimSpace(*u.PatientID)
		r.PatientInitials = DeriveInitials(r.PatientID)
	}
	if u.Dose != nil {
		r.Dose = *u.Dose
	}
	if u.Quantity != nil {
		r.Quantity = *u.Quantity
	}
	if u.LotNumber != nil {
		r.LotNumber = strings.TrimSpace(*u.LotNumber)
	}
	if u.PhysicianName != nil {
		r.PhysicianName = *u.PhysicianName
	}
	if u.StudentName != nil {
		r.StudentName = *u.StudentName
	}
	if u.Notes != nil {
		r.Notes = *u.Notes
	}
	if u.ClinicSite != nil {
		r.ClinicSite = *u.ClinicSite
	}
}

// DateRange is a list bucket relative to the clinic's today.
type DateRange string

const (
	RangeToday DateRange = "today"
	RangeWeek  DateRange = "week"
	RangeMonth DateRange = "month"
	RangeAll   DateRange = "all"
)

// ParseDateRange maps empty to RangeAll and rejects unknown buckets.
func ParseDateRange(s string) (DateRange, bool) {
	switch r := DateRange(strings.ToLower(strings.TrimSpace(s))); r {
	case "":
		return RangeAll, true
	case RangeToday, RangeWeek, RangeMonth, RangeAll:
		return r, true
	default:
		return "", false
	}
}

// Since returns the first log date inside the bucket. ok is false for
// RangeAll.
func (r DateRange) Since(today clinicdate.Date) (from clinicdate.Date, ok bool) {
	switch r {
	case RangeToday:
		return today, true
	case RangeWeek:
		return today.AddDays(-7), true
	case RangeMonth:
		return today.AddMonths(-1), true
	default:
		return clinicdate.Date{}, false
	}
}

// LogFilter selects dispensing records for listing.
type LogFilter struct {
	Search string
	Range  DateRange
	// MedicationID restricts to a single medication when set.
	MedicationID string
}

// WithdrawResult describes how a withdrawn record's inventory came back.
type WithdrawResult struct {
	Record           *DispensingRecord `json:"record"`
	RestoredLotID    string            `json:"restored_lot_id"`
	RestoredQuantity int               `json:"restored_quantity"`
	LotRecreated     bool              `json:"lot_recreated"`
}
