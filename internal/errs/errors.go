// Package errs classifies hive errors into the three outcomes callers act on.
//
// Contention errors mean "no result right now, try later". Validation errors are
// caller mistakes reported synchronously. Everything else is internal.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Class markers. Package-level sentinels elsewhere wrap one of these so that
// errors.Is can classify them without importing the defining package.
var (
	ErrContention = errors.New("contention")
	ErrValidation = errors.New("validation error")
)

// Kind is the coarse class of an error.
type Kind string

const (
	KindNone       Kind = ""
	KindContention Kind = "contention"
	KindValidation Kind = "validation"
	KindInternal   Kind = "internal"
)

// Contention returns a sentinel tagged as a contention error.
func Contention(message string) error {
	return fmt.Errorf("%w: %s", ErrContention, message)
}

// Validation returns a sentinel tagged as a validation error.
func Validation(message string) error {
	return fmt.Errorf("%w: %s", ErrValidation, message)
}

// Wrap builds an error message that includes operation context while tagging it
// with marker for later classification.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		if err != nil {
			return fmt.Errorf("%s: %w", detail, err)
		}
		return errors.New(detail)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps err to its class.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrContention):
		return KindContention
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// IsContention reports whether err should be treated as "no result".
func IsContention(err error) bool {
	return KindOf(err) == KindContention
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "operation failed"
	}
	return strings.Join(parts, ": ")
}
