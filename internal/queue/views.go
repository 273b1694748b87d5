package queue

import (
	"context"
	"fmt"
	"math"

	"hive/internal/store"
)

// Stats is one consistent snapshot of task counts.
type Stats struct {
	Counts            store.TaskCounts `json:"counts"`
	Total             int              `json:"total"`
	Done              int              `json:"done"`
	Outstanding       int              `json:"outstanding"`
	CompletionPercent float64          `json:"completion_percent"`
}

// Stats returns per-status counts with a derived completion percentage.
// Done counts audit_passed tasks and completed tasks that need no audit,
// matching Task.Succeeded.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.store.CountTasks(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count tasks: %w", err)
	}
	stats := Stats{Counts: counts, Total: counts.Total()}
	stats.Done = counts[store.TaskAuditPassed]
	if counts[store.TaskCompleted] > 0 {
		completed, err := q.store.ListTasks(ctx, store.TaskQuery{Statuses: []store.TaskStatus{store.TaskCompleted}})
		if err != nil {
			return Stats{}, fmt.Errorf("list completed tasks: %w", err)
		}
		for _, t := range completed {
			if t.Succeeded() {
				stats.Done++
			}
		}
	}
	stats.Outstanding = counts[store.TaskPending] + counts[store.TaskProcessing]
	if stats.Total > 0 {
		stats.CompletionPercent = math.Round(float64(stats.Done)/float64(stats.Total)*1000) / 10
	}
	return stats, nil
}

// HasOutstanding reports whether any task is pending or processing.
func (q *Queue) HasOutstanding(ctx context.Context) (bool, error) {
	stats, err := q.Stats(ctx)
	if err != nil {
		return false, err
	}
	return stats.Outstanding > 0, nil
}

// HasOutstandingFor reports whether any task matching filter is pending or
// processing, including tasks another worker may yet release.
func (q *Queue) HasOutstandingFor(ctx context.Context, filter Filter) (bool, error) {
	tasks, err := q.store.ListTasks(ctx, store.TaskQuery{
		Statuses: []store.TaskStatus{store.TaskPending, store.TaskProcessing},
		Class:    filter.Class,
		Layer:    filter.Layer,
		Limit:    1,
	})
	if err != nil {
		return false, fmt.Errorf("list outstanding tasks: %w", err)
	}
	return len(tasks) > 0, nil
}

// Get returns a single task.
func (q *Queue) Get(ctx context.Context, id int64) (store.Task, error) {
	return q.store.GetTask(ctx, id)
}

// DefaultListLimit caps task listings when the caller gives no limit.
const DefaultListLimit = 50

// Query selects tasks for List. Zero values match everything.
type Query struct {
	Status store.TaskStatus
	Class  string
	Layer  *int
	Owner  string
	Limit  int
}

// List returns tasks matching query in id order.
func (q *Queue) List(ctx context.Context, query Query) ([]store.Task, error) {
	tq := store.TaskQuery{Class: query.Class, Layer: query.Layer, Owner: query.Owner, Limit: query.Limit}
	if query.Status != "" {
		tq.Statuses = []store.TaskStatus{query.Status}
	}
	return q.store.ListTasks(ctx, tq)
}

// ByStatus returns every task in status.
func (q *Queue) ByStatus(ctx context.Context, status store.TaskStatus) ([]store.Task, error) {
	return q.List(ctx, Query{Status: status})
}

// ByOwner returns every task ever claimed by workerID that still names it as owner.
func (q *Queue) ByOwner(ctx context.Context, workerID string) ([]store.Task, error) {
	return q.List(ctx, Query{Owner: workerID})
}

// Children returns the subtasks of a mega-task.
func (q *Queue) Children(ctx context.Context, parentID int64) ([]store.Task, error) {
	return q.store.ListTasks(ctx, store.TaskQuery{ParentID: parentID})
}
