package types

import "errors"

// Store errors shared by every record store backend.
var (
	// ErrNotFound is returned by writes that target a missing record.
	ErrNotFound          = errors.New("analysis record not found")
	// ErrConflict is returned when a conditional write loses: the record's
	// status or version no longer matches the caller's precondition.
	ErrConflict          = errors.New("analysis record changed concurrently")
	// ErrInvalidTransition matches every *TransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
)
