package fleet

import "hive/internal/errs"

var (
	// ErrPolicyViolation is returned when provisioning would break a hierarchy
	// or emergency-brake limit. Nothing is created.
	ErrPolicyViolation = errs.Validation("hierarchy policy violation")
	// ErrWorkerRetired is returned when spawning a finished or shut-down worker.
	ErrWorkerRetired = errs.Validation("worker is retired")
)
