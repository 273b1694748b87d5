package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"hive/internal/errs"
)

func TestKindOf(t *testing.T) {
	notFound := errs.Validation("not found")
	busy := errs.Contention("lock timeout")

	tests := []struct {
		name string
		err  error
		want errs.Kind
	}{
		{"nil", nil, errs.KindNone},
		{"validation", notFound, errs.KindValidation},
		{"wrapped validation", fmt.Errorf("complete task 7: %w", notFound), errs.KindValidation},
		{"contention", busy, errs.KindContention},
		{"wrap helper", errs.Wrap(errs.ErrContention, "claim", "store busy", errors.New("sqlite busy")), errs.KindContention},
		{"internal", errors.New("disk on fire"), errs.KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := errs.KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := errs.Wrap(errs.ErrValidation, "provision", "layer too deep", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if got := err.Error(); got != "validation error: provision: layer too deep: root cause" {
		t.Fatalf("unexpected message %q", got)
	}
	if !errs.IsContention(errs.Contention("x")) {
		t.Fatal("expected contention helper to classify")
	}
}
