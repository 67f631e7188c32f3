package domain

import "errors"

// ErrNotFound is returned when a session or reminder does not exist
var ErrNotFound = errors.New("not found")

// ValidationError is a user-facing configuration error raised while parsing
// command arguments or settings. State is never changed when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err carries a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
