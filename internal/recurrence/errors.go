package recurrence

import "errors"

var (
	// ErrInvalidConfig marks a template whose recurrence parameters cannot be
	// evaluated (missing or non-numeric interval, missing date, bad ranges).
	// Such templates are skipped, never fatal to the batch.
	ErrInvalidConfig = errors.New("invalid recurrence configuration")

	ErrUnknownDecision = errors.New("unknown scheduling decision")
)
