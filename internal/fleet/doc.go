// Package fleet provisions workers into a delegation hierarchy, launches them,
// and keeps them alive.
//
// Provisioning rules are checked inside store.CreateWorker so that the policy
// sees a consistent view of every worker. The health check releases the tasks
// of workers whose heartbeats went stale and, after a fixed number of
// consecutive failures, attempts a single restart. Failure counters live in
// memory only: a restarted supervisor starts counting from zero.
package fleet
