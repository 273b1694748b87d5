package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"hive/internal/fleet"
	"hive/internal/queue"
)

func TestFormatErrorAndExitCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		prefix string
		code   int
	}{
		{name: "contention", err: fmt.Errorf("claim: %w", queue.ErrNoTaskAvailable), prefix: "no result:", code: 3},
		{name: "validation", err: fmt.Errorf("provision: %w", fleet.ErrPolicyViolation), prefix: "invalid request:", code: 2},
		{name: "internal", err: errors.New("disk on fire"), prefix: "error:", code: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatError(tt.err); !strings.HasPrefix(got, tt.prefix) {
				t.Fatalf("formatError() = %q, want prefix %q", got, tt.prefix)
			}
			if got := exitCode(tt.err); got != tt.code {
				t.Fatalf("exitCode() = %d, want %d", got, tt.code)
			}
		})
	}
}
