package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hive/internal/errs"
)

// errInvalidArgument marks malformed command-line input.
var errInvalidArgument = errs.Validation("invalid argument")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, formatError(err))
		}
		os.Exit(exitCode(err))
	}
}

func formatError(err error) string {
	switch errs.KindOf(err) {
	case errs.KindContention:
		return fmt.Sprintf("no result: %v", err)
	case errs.KindValidation:
		return fmt.Sprintf("invalid request: %v", err)
	default:
		return fmt.Sprintf("error: %v", err)
	}
}

// exitCode maps error classes to distinct statuses for scripting.
func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.KindContention:
		return 3
	case errs.KindValidation:
		return 2
	default:
		return 1
	}
}
