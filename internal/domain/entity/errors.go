package entity

import "errors"

var (
	// ErrNotFound is returned by stores when no row matches.
	ErrNotFound = errors.New("entity not found")

	// ErrValidationFailed matches every *ValidationError via errors.Is.
	ErrValidationFailed = errors.New("validation failed")
)

// ValidationError names the request or record field that was rejected.
// Handlers surface it as a 400 with Message passed through to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid: " + e.Message
	}
	return "invalid " + e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}
