package domain

// RowStatus classifies a formulary row before import.
type RowStatus string

const (
	RowValid   RowStatus = "valid"
	RowWarning RowStatus = "warning"
	RowError   RowStatus = "error"
)

// ImportRow is one pre-parsed formulary row.
type ImportRow struct {
	Name           string    `json:"name"`
	Strength       string    `json:"strength"`
	Quantity       int       `json:"quantity"`
	LotNumber      string    `json:"lot_number,omitempty"`
	ExpirationDate string    `json:"expiration_date,omitempty"`
	DosageForm     string    `json:"dosage_form,omitempty"`
	Status         RowStatus `json:"status"`
	Message        string    `json:"message,omitempty"`
}

// ImportOptions applies to every row of a batch.
type ImportOptions struct {
	Site       string `json:"site"`
	DosageForm string `json:"dosage_form"`
	Category   string `json:"category"`
}

// RowOutcome reports how one row was imported.
type RowOutcome struct {
	Row               int    `json:"row"`
	Name              string `json:"name"`
	Strength          string `json:"strength"`
	MedicationID      string `json:"medication_id,omitempty"`
	MedicationCreated bool   `json:"medication_created,omitempty"`
	LotID             string `json:"lot_id,omitempty"`
	LotNumber         string `json:"lot_number,omitempty"`
	Placeholder       bool   `json:"placeholder,omitempty"`
	Error             string `json:"error,omitempty"`
}

// ImportResult aggregates a batch.
type ImportResult struct {
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Errors  []string     `json:"errors"`
	Rows    []RowOutcome `json:"rows"`
}
