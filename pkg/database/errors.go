package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/medflow/medtrack/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError.
// Returns nil if the error is not a pq.Error or has no mapping.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	case "23514":
		return mapCheckConstraint(pqErr)

	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	case "23503":
		if strings.Contains(pqErr.Constraint, "medication") {
			return errors.NotFound("medication")
		}
		return errors.BadRequest("referenced record does not exist")

	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Invalid(col, "must not be empty")

	default:
		return nil
	}
}

func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "quantity_nonnegative"):
		return errors.Invalid("quantity", "must not be negative")
	case strings.Contains(constraint, "threshold_nonnegative"):
		return errors.Invalid("low_stock_threshold", "must not be negative")
	case strings.Contains(constraint, "consumed_positive"):
		return errors.Invalid("quantity", "must be positive")
	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	switch {
	case strings.Contains(pqErr.Constraint, "lot_number"):
		return "a lot with this lot number already exists for the medication at this site"
	case strings.Contains(pqErr.Constraint, "medications_identity"):
		return "a medication with this name, strength and dosage form already exists"
	default:
		return "a record with these values already exists"
	}
}
