package errors

import (
	"errors"
	"fmt"
)

const (
	HttpInternalError   = "internal_error"
	HttpValidationError = "validation_failed"
	HttpNotFoundError   = "not_found"
)

// ErrorResponse is the error response body returned by the API layer.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

// ValidationError marks a caller-caused failure: unknown dataset, invalid
// identifier, invalid sort key, pagination out of bounds. Its message is
// always safe to return to the caller verbatim. Everything else that
// surfaces from the query layer is an opaque back-end failure.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError with a formatted message.
func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err (or anything it wraps) is caller-caused.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
