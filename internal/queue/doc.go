// Package queue drives the task lifecycle on top of the durable store.
//
// A Queue enqueues tasks in bulk, hands them to workers through an atomic
// claim, and moves them through completion, failure, release and the audit
// sub-flow for quality-gated tasks. Every transition is a single
// read-modify-write on the store; bookkeeping on the owning worker (current
// task pointer, counters) is a second, separate step that readers must
// tolerate lagging behind.
//
// Claimable tasks are pending and childless. A pending task can be turned into
// a mega-task with Decompose; it rolls up to task_completed or failed once all
// of its children settle.
//
// Treat this package as the single source of truth for task semantics; the
// store only knows how to persist and claim.
package queue
