package service

import (
	"errors"
	"fmt"
)

// ErrValidation marks requests rejected before any write.
var ErrValidation = errors.New("validation failed")

func validationError(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}

// PartialWriteError reports a message stored in the sender's copy whose
// receiver copy could not be written.
type PartialWriteError struct {
	Owner       string
	Counterpart string
	MessageID   string
	Err         error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("message %s stored for %s but not for %s: %v", e.MessageID, e.Counterpart, e.Owner, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}
