package jobs

import "errors"

var (
	// ErrInvalidConfig rejects a submission with an absent or empty config.
	ErrInvalidConfig = errors.New("config must be present and non-empty")

	// ErrInvalidTransition signals an attempted status change that violates
	// the job state machine. Always a caller or worker bug.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidProgress signals a progress report that would move progress
	// backward or past 100. Rejected rather than clamped so ordering bugs in
	// the caller surface immediately.
	ErrInvalidProgress = errors.New("invalid progress value")
)
