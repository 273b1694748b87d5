// Package daemon coordinates the long-running supervisor process.
//
// It wires configuration, the durable store, the fleet manager and its
// supervisor into a single lifecycle with flock-based locking to prevent
// multiple instances against the same store root. When configured it also
// serves a read-only HTTP status API over the dashboard views.
//
// Keep orchestration logic here: health checking and recovery live in the
// fleet package while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
