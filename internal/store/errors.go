package store

import "hive/internal/errs"

var (
	// ErrNotFound is returned when a task or worker id does not exist.
	ErrNotFound = errs.Validation("not found")
	// ErrConflict is returned when a record is not in the state an operation requires.
	ErrConflict = errs.Validation("conflicting state")
	// ErrLockTimeout is returned when the file backend cannot take its lock in time.
	ErrLockTimeout = errs.Contention("store lock timeout")
	// ErrNoSlot is returned when every capacity slot is taken.
	ErrNoSlot = errs.Contention("no capacity slot available")
	// ErrUnsupported is returned by backends that do not implement an optional feature.
	ErrUnsupported = errs.Validation("not supported by this store backend")
)
