package queue

import "hive/internal/errs"

var (
	// ErrNoTaskAvailable means no pending task matched the claim filter.
	ErrNoTaskAvailable = errs.Contention("no task available")
	// ErrInvalidTransition is returned when a task is not in a state the
	// requested operation can move it out of.
	ErrInvalidTransition = errs.Validation("invalid task transition")
	// ErrInvalidRequest is returned for malformed enqueue or claim requests.
	ErrInvalidRequest = errs.Validation("invalid request")
)
