// Package worker is the runtime of a single launched worker: it claims tasks
// matching its layer, hands them to an Executor, reports the outcome, and
// emits heartbeats until the queue has nothing left for it.
package worker
