// Package notifications sends fleet alerts to an ntfy topic.
//
// The supervisor raises an alert when a worker turns unresponsive, when a
// restart succeeds or fails, and optionally when the queue drains. Without a
// configured topic every call is a no-op.
package notifications
