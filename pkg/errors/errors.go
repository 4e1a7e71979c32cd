package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Standard error types
var (
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrBadRequest        = errors.New("bad request")
	ErrConflict          = errors.New("resource conflict")
	ErrInternal          = errors.New("internal server error")
	ErrValidation        = errors.New("validation error")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSync              = errors.New("sync failed")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenInvalid      = errors.New("invalid token")
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	StatusCode int               `json:"status_code"`
	Details    map[string]string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code string, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code string, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Common error constructors

func NotFound(resource string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Details:    map[string]string{"resource": resource},
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrBadRequest,
		Code:       "BAD_REQUEST",
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Code:       "CONFLICT",
		Message:    message,
		StatusCode: http.StatusConflict,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Err:        ErrInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func Validation(details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    "validation failed",
		StatusCode: http.StatusBadRequest,
		Details:    details,
	}
}

// Invalid is a single-field validation error.
func Invalid(field, message string) *AppError {
	return Validation(map[string]string{field: message})
}

// InsufficientStock reports that the usable stock of a medication cannot
// cover a request. Details carry the shortfall.
func InsufficientStock(requested, available int) *AppError {
	return &AppError{
		Err:        ErrInsufficientStock,
		Code:       "INSUFFICIENT_STOCK",
		Message:    fmt.Sprintf("insufficient stock: requested %d, available %d", requested, available),
		StatusCode: http.StatusConflict,
		Details: map[string]string{
			"requested": strconv.Itoa(requested),
			"available": strconv.Itoa(available),
			"shortfall": strconv.Itoa(requested - available),
		},
	}
}

// InsufficientLotStock is InsufficientStock scoped to a single lot.
func InsufficientLotStock(lotNumber string, requested, available int) *AppError {
	e := InsufficientStock(requested, available)
	e.Message = fmt.Sprintf("insufficient stock in lot %s: requested %d, available %d", lotNumber, requested, available)
	e.Details["lot_number"] = lotNumber
	return e
}

// SyncFailed wraps a transport or remote failure hit while replaying
// queued offline work.
func SyncFailed(err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %v", ErrSync, err),
		Code:       "SYNC_FAILED",
		Message:    "sync failed",
		StatusCode: http.StatusServiceUnavailable,
	}
}

func TokenExpired() *AppError {
	return &AppError{
		Err:        ErrTokenExpired,
		Code:       "TOKEN_EXPIRED",
		Message:    "token has expired",
		StatusCode: http.StatusUnauthorized,
	}
}

func TokenInvalid() *AppError {
	return &AppError{
		Err:        ErrTokenInvalid,
		Code:       "TOKEN_INVALID",
		Message:    "invalid token",
		StatusCode: http.StatusUnauthorized,
	}
}

// Shortfall extracts the shortfall carried by an insufficient stock error.
func Shortfall(err error) (int, bool) {
	var appErr *AppError
	if !errors.As(err, &appErr) || !errors.Is(appErr, ErrInsufficientStock) {
		return 0, false
	}
	n, convErr := strconv.Atoi(appErr.Details["shortfall"])
	if convErr != nil {
		return 0, false
	}
	return n, true
}

// Is checks if the error matches a target error
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As attempts to convert an error to a specific type
func As(err error, target any) bool {
	return errors.As(err, target)
}

var sentinels = map[string]error{
	"NOT_FOUND":          ErrNotFound,
	"UNAUTHORIZED":       ErrUnauthorized,
	"FORBIDDEN":          ErrForbidden,
	"BAD_REQUEST":        ErrBadRequest,
	"CONFLICT":           ErrConflict,
	"INTERNAL_ERROR":     ErrInternal,
	"VALIDATION_ERROR":   ErrValidation,
	"INSUFFICIENT_STOCK": ErrInsufficientStock,
	"SYNC_FAILED":        ErrSync,
	"TOKEN_EXPIRED":      ErrTokenExpired,
	"TOKEN_INVALID":      ErrTokenInvalid,
}

// FromWire rebuilds an AppError received in an API error body, so the
// caller can match it with Is like a local one.
func FromWire(code, message string, statusCode int, details map[string]string) *AppError {
	return &AppError{
		Err:        sentinels[code],
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}
