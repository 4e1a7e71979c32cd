// Package formulary turns loosely formatted formulary cells into import
// rows: quantity and expiration normalisation plus per-row classification.
package formulary

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/medflow/medtrack/internal/pharmacy/domain"
	"github.com/medflow/medtrack/pkg/clinicdate"
)

// Quantities that mean "nothing to stock" rather than a parse error.
var zeroQuantities = map[string]bool{
	"x":                true,
	"n/a":              true,
	"na":               true,
	"dispense on-site": true,
	"dispense on site": true,
}

var firstNumber = regexp.MustCompile(`\d+`)

// ParseQuantity reads "30", "90 tabs" and similar. Sentinel values such as
// "x", "n/a" and "dispense on-site" yield 0. ok is false when no quantity
// can be read.
func ParseQuantity(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if zeroQuantities[strings.ToLower(s)] {
		return 0, true
	}
	match := firstNumber.FindString(s)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return n, true
}

var (
	isoDate      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	monthYear2   = regexp.MustCompile(`^(\d{1,2})/(\d{2})$`)
	monthYear4   = regexp.MustCompile(`^(\d{1,2})/(\d{4})$`)
	namedMonthYr = regexp.MustCompile(`^([A-Za-z]+)\.?\s+(\d{4})$`)
)

var monthPrefixes = []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}

// NormalizeExpiration converts YYYY-MM-DD, M/YY, M/YYYY and "Mon YYYY"
// to YYYY-MM-DD. Month-only forms resolve to the first of the month. When
// the input is not recognised it is returned trimmed and ok is false.
func NormalizeExpiration(s string) (string, bool) {
	s = strings.TrimSpace(s)

	if isoDate.MatchString(s) {
		_, err := clinicdate.Parse(s)
		return s, err == nil
	}
	if m := monthYear2.FindStringSubmatch(s); m != nil {
		return firstOfMonth(s, "20"+m[2], m[1])
	}
	if m := monthYear4.FindStringSubmatch(s); m != nil {
		return firstOfMonth(s, m[2], m[1])
	}
	if m := namedMonthYr.FindStringSubmatch(s); m != nil && len(m[1]) >= 3 {
		prefix := strings.ToLower(m[1][:3])
		for i, name := range monthPrefixes {
			if name == prefix {
				return firstOfMonth(s, m[2], strconv.Itoa(i+1))
			}
		}
	}
	return s, false
}

func firstOfMonth(raw, year, month string) (string, bool) {
	mo, _ := strconv.Atoi(month)
	if mo < 1 || mo > 12 {
		return raw, false
	}
	return fmt.Sprintf("%s-%02d-01", year, mo), true
}

// ClassifyRow builds an import row from raw cell text.
//
//   - error: name or strength missing, or quantity unreadable
//   - warning: lot number or expiration missing, or expiration unreadable
//   - valid: everything present and readable
func ClassifyRow(name, strength, quantity, lotNumber, expiration string) domain.ImportRow {
	row := domain.ImportRow{
		Name:      strings.TrimSpace(name),
		Strength:  strings.TrimSpace(strength),
		LotNumber: strings.TrimSpace(lotNumber),
		Status:    domain.RowValid,
	}

	if row.Name == "" || row.Strength == "" {
		row.Status = domain.RowError
		row.Message = "Name and strength are required"
		return row
	}

	qty, ok := ParseQuantity(quantity)
	if !ok {
		row.Status = domain.RowError
		row.Message = fmt.Sprintf("Invalid quantity: %q", strings.TrimSpace(quantity))
		return row
	}
	row.Quantity = qty

	var missing, reasons []string
	if row.LotNumber == "" {
		missing = append(missing, "lot number")
	}
	if exp := strings.TrimSpace(expiration); exp == "" {
		missing = append(missing, "expiration date")
	} else {
		normalized, ok := NormalizeExpiration(exp)
		row.ExpirationDate = normalized
		if !ok {
			reasons = append(reasons, fmt.Sprintf("Unrecognized expiration date: %q", exp))
		}
	}
	if len(missing) > 0 {
		reasons = append([]string{"Missing " + strings.Join(missing, " and ")}, reasons...)
	}
	if len(reasons) > 0 {
		row.Status = domain.RowWarning
		row.Message = strings.Join(reasons, "; ")
	}
	return row
}

// ParseRows reads a cell grid laid out as
// [name, strength, quantity, lot number?, expiration?]. A first row
// naming any of those columns is treated as a header. Rows with an empty
// first cell are skipped.
func ParseRows(cells [][]string) []domain.ImportRow {
	rows := []domain.ImportRow{}
	for i, line := range cells {
		if i == 0 && isHeader(line) {
			continue
		}
		if len(line) == 0 || strings.TrimSpace(line[0]) == "" {
			continue
		}
		rows = append(rows, ClassifyRow(cell(line, 0), cell(line, 1), cell(line, 2), cell(line, 3), cell(line, 4)))
	}
	return rows
}

func isHeader(cells []string) bool {
	for _, c := range cells {
		c = strings.ToLower(c)
		if strings.Contains(c, "name") || strings.Contains(c, "strength") || strings.Contains(c, "quantity") {
			return true
		}
	}
	return false
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}
