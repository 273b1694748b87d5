// Package logging assembles structured slog loggers and formatting helpers used
// across hive.
//
// It owns the console/JSON handlers, centralizes level and output plumbing, and
// exposes context-aware helpers so runtime code can tag log lines with worker
// IDs, task IDs, and correlation IDs. The package also provides a no-op logger
// for tests and wiring code that cannot fail.
package logging
