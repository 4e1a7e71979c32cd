package formulary

import (
	"testing"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{"30", 30, true},
		{"90 tabs", 90, true},
		{" 12 capsules ", 12, true},
		{"x", 0, true},
		{"N/A", 0, true},
		{"dispense on-site", 0, true},
		{"Dispense on site", 0, true},
		{"", 0, false},
		{"plenty", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseQuantity(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeExpiration(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"2025-12-31", "2025-12-31", true},
		{"2/24", "2024-02-01", true},
		{"12/24", "2024-12-01", true},
		{"3/2026", "2026-03-01", true},
		{"Dec 2025", "2025-12-01", true},
		{"december 2025", "2025-12-01", true},
		{"Sept. 2026", "2026-09-01", true},
		{"13/25", "13/25", false},
		{"2025-02-30", "2025-02-30", false},
		{"soon", "soon", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeExpiration(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyRow(t *testing.T) {
	valid := ClassifyRow("Amoxicillin", "500mg", "30", "A123", "6/26")
	assert.Equal(t, domain.RowValid, valid.Status)
	assert.Equal(t, 30, valid.Quantity)
	assert.Equal(t, "2026-06-01", valid.ExpirationDate)

	warn := ClassifyRow("X", "10mg", "5", "", "")
	assert.Equal(t, domain.RowWarning, warn.Status)
	assert.Equal(t, "Missing lot number and expiration date", warn.Message)

	badExp := ClassifyRow("X", "10mg", "5", "L1", "someday")
	assert.Equal(t, domain.RowWarning, badExp.Status)
	assert.Equal(t, "someday", badExp.ExpirationDate)
	assert.Equal(t, `Unrecognized expiration date: "someday"`, badExp.Message)

	both := ClassifyRow("X", "10mg", "5", "", "someday")
	assert.Equal(t, domain.RowWarning, both.Status)
	assert.Equal(t, `Missing lot number; Unrecognized expiration date: "someday"`, both.Message)

	onsite := ClassifyRow("Ibuprofen", "200mg", "dispense on-site", "L2", "2026-01-01")
	assert.Equal(t, domain.RowValid, onsite.Status)
	assert.Zero(t, onsite.Quantity)

	assert.Equal(t, domain.RowError, ClassifyRow("", "10mg", "5", "", "").Status)
	assert.Equal(t, domain.RowError, ClassifyRow("X", "10mg", "lots", "", "").Status)
}

func TestParseRows(t *testing.T) {
	rows := ParseRows([][]string{
		{"Name", "Strength", "Quantity", "Lot", "Expiration"},
		{"Metformin", "500mg", "100 tabs", "M-1", "Jan 2027"},
		{"", "", ""},
		{},
		{"Lisinopril", "10mg", "x"},
		{"Cetirizine"},
	})

	require.Len(t, rows, 3)
	assert.Equal(t, "Metformin", rows[0].Name)
	assert.Equal(t, domain.RowValid, rows[0].Status)
	assert.Equal(t, "2027-01-01", rows[0].ExpirationDate)
	assert.Equal(t, domain.RowWarning, rows[1].Status)
	assert.Equal(t, domain.RowError, rows[2].Status)

	noHeader := ParseRows([][]string{{"Aspirin", "81mg", "12"}})
	require.Len(t, noHeader, 1)
	assert.Equal(t, 12, noHeader[0].Quantity)
}
