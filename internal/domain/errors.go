package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrValidation          = errors.New("validation failed")
	ErrBoardLocked         = errors.New("board geometry locked")
	ErrBoardFull           = errors.New("board full")
	ErrPlacementContention = errors.New("placement contention")
	ErrSponsorNotFound     = errors.New("sponsor not found")
	ErrMemberAlreadyPlaced = errors.New("member already placed")
	ErrSlotTaken           = errors.New("slot already taken")
	ErrInstanceClosed      = errors.New("instance closed")
	ErrLockHeld            = errors.New("lock already held")
	ErrPayoutRejected      = errors.New("payout rejected")
)

// ValidationError names the input field that was rejected. It matches
// ErrValidation under errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
