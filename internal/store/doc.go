// Package store defines the durable coordination store shared by every hive
// participant: the task table, the worker registry, capacity slots, and the
// append-only event log.
//
// Two backends implement Store. sqlitestore keeps everything in one embedded
// database and relies on its transactions; filestore keeps one YAML document per
// entity under a root directory and serializes mutations with an advisory lock
// file. Callers never touch backend internals; they express each change as a
// read-modify-write callback (UpdateTask, UpdateWorker, CreateWorker) or as one of
// the dedicated atomic primitives (ClaimTask, ReleaseTasks).
package store
