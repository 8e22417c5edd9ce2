package models

import "errors"

var (
	// ErrExtractionNotFound means no extraction record has the requested ID.
	ErrExtractionNotFound = errors.New("extraction not found")

	// ErrOutputNotAvailable means the extraction has no stored audio.
	ErrOutputNotAvailable = errors.New("extraction output not available")
)

// FieldError rejects a request or record because of one field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + " " + e.Message
}
