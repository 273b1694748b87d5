package store

import (
	"context"
	"time"
)

// TaskStore covers the task table.
type TaskStore interface {
	// AddTasks inserts tasks with fresh ascending ids. A non-zero parentID attaches
	// them as children of that task, which must exist and still be pending.
	AddTasks(ctx context.Context, parentID int64, tasks []Task) ([]int64, error)
	GetTask(ctx context.Context, id int64) (Task, error)
	// UpdateTask applies mutate to the current record and persists the result
	// atomically. If mutate returns an error nothing is written.
	UpdateTask(ctx context.Context, id int64, mutate func(*Task) error) (Task, error)
	// ClaimTask flips the lowest-id pending, childless task matching filter to
	// processing for owner. ok is false when nothing matched.
	ClaimTask(ctx context.Context, filter TaskFilter, owner string, at time.Time) (task Task, ok bool, err error)
	// ReleaseTasks reverts every processing task owned by owner to pending.
	ReleaseTasks(ctx context.Context, owner string, at time.Time) ([]int64, error)
	ListTasks(ctx context.Context, query TaskQuery) ([]Task, error)
	// CountTasks returns totals per status from one consistent snapshot.
	CountTasks(ctx context.Context) (TaskCounts, error)
}

// WorkerStore covers the worker registry.
type WorkerStore interface {
	// CreateWorker calls build with every existing worker and the next sequence
	// number, then inserts the returned record. The read and the insert are one
	// atomic step, so build may enforce fleet-wide limits.
	CreateWorker(ctx context.Context, build func(existing []Worker, nextSeq int64) (Worker, error)) (Worker, error)
	GetWorker(ctx context.Context, id string) (Worker, error)
	UpdateWorker(ctx context.Context, id string, mutate func(*Worker) error) (Worker, error)
	ListWorkers(ctx context.Context) ([]Worker, error)
	RecordHeartbeat(ctx context.Context, hb Heartbeat) error
	// MarkFinished writes the one-shot finished sentinel for a worker.
	MarkFinished(ctx context.Context, workerID string, at time.Time) error
	IsFinished(ctx context.Context, workerID string) (bool, error)
}

// EventLog is the append-only activity record.
type EventLog interface {
	AppendEvent(ctx context.Context, event Event) error
	// ListEvents returns events newest first.
	ListEvents(ctx context.Context, query EventQuery) ([]Event, error)
}

// SlotStore caps concurrently active workers. Backends without slot support
// return ErrUnsupported from every method.
type SlotStore interface {
	InitSlots(ctx context.Context, total int) error
	// AcquireSlot returns the slot held by workerID, taking a free one if needed.
	AcquireSlot(ctx context.Context, workerID string) (int, error)
	ReleaseSlot(ctx context.Context, workerID string) error
	SlotUsage(ctx context.Context) (SlotUsage, error)
}

// Store is the full durable coordination store.
type Store interface {
	TaskStore
	WorkerStore
	EventLog
	SlotStore
	CheckHealth(ctx context.Context) (Health, error)
	Close() error
}

// Watcher is implemented by backends that can signal when shared state changes.
// The channel receives coalesced notifications and closes when ctx ends.
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}
