package scheduling

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotNotFound means the referenced slot does not exist.
	ErrSlotNotFound = errors.New("scheduling: slot not found")

	// ErrSlotUnavailable means the slot exists but is no longer open,
	// typically because a concurrent booking won the race.
	ErrSlotUnavailable = errors.New("scheduling: slot is no longer available")
)

// ValidationError reports malformed input rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scheduling: invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
