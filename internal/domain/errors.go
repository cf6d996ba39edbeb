package domain

import "errors"

// Sentinel errors for domain records. Field-level errors in this package
// wrap ErrValidation, so callers can test for the class with errors.Is.
var (
	// ErrValidation is returned when a record is missing a required field
	// or holds an out-of-range value.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when a JSON document field does not parse.
	ErrInvalidFormat = errors.New("invalid format")
)

// IsValidationError reports whether err means the record itself is bad,
// as opposed to a storage failure. Handlers do not retry such records.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidFormat)
}
