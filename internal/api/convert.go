package api

import (
	"maps"
	"slices"
	"time"

	"hive/internal/store"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromTask converts a task record to its API representation.
func FromTask(task store.Task) TaskView {
	return TaskView{
		ID:             task.ID,
		Class:          task.Class,
		Layer:          task.Layer,
		Title:          task.Title,
		Description:    task.Description,
		Status:         string(task.Status),
		Owner:          task.Owner,
		CreatedAt:      formatTime(task.CreatedAt),
		StartedAt:      formatTimePtr(task.StartedAt),
		CompletedAt:    formatTimePtr(task.CompletedAt),
		RetryCount:     task.RetryCount,
		MaxRetries:     task.MaxRetries,
		LastError:      task.LastError,
		Params:         maps.Clone(task.Params),
		ResultLocation: task.ResultLocation,
		QualityGated:   task.QualityGated,
		ParentID:       task.ParentID,
		Children:       slices.Clone(task.Children),
	}
}

// FromTasks converts a slice of task records.
func FromTasks(tasks []store.Task) []TaskView {
	if len(tasks) == 0 {
		return nil
	}
	out := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, FromTask(task))
	}
	return out
}

// FromWorker converts a worker record. unresponsive is supplied by the caller
// because it depends on the clock and threshold in force.
func FromWorker(w store.Worker, unresponsive bool) WorkerView {
	return WorkerView{
		ID:           w.ID,
		Role:         w.Role,
		Layer:        w.Layer,
		ParentID:     w.ParentID,
		Position:     w.Position,
		Status:       string(w.Status),
		CurrentTask:  w.CurrentTask,
		Stage:        w.Stage,
		Completed:    w.Completed,
		Failed:       w.Failed,
		LastSeen:     formatTime(w.LastSeen()),
		LastError:    w.LastError,
		SessionID:    w.SessionID,
		OutputDir:    w.OutputDir,
		Unresponsive: unresponsive,
	}
}

// FromEvent converts an activity log entry.
func FromEvent(e store.Event) EventView {
	return EventView{
		ID:       e.ID,
		At:       formatTime(e.At),
		Type:     e.Type,
		WorkerID: e.WorkerID,
		TaskID:   e.TaskID,
		Detail:   e.Detail,
	}
}

// FromEvents converts a slice of events, keeping their order.
func FromEvents(events []store.Event) []EventView {
	if len(events) == 0 {
		return nil
	}
	out := make([]EventView, 0, len(events))
	for _, e := range events {
		out = append(out, FromEvent(e))
	}
	return out
}

// MergeTaskCounts returns per-status counts keyed by status string, with every
// known status present.
func MergeTaskCounts(counts store.TaskCounts) map[string]int {
	merged := make(map[string]int, len(store.AllTaskStatuses))
	for _, status := range store.AllTaskStatuses {
		merged[string(status)] = counts[status]
	}
	return merged
}

// MergeWorkerCounts tallies workers by status with every known status present.
func MergeWorkerCounts(workers []store.Worker) map[string]int {
	merged := make(map[string]int, len(store.AllWorkerStatuses))
	for _, status := range store.AllWorkerStatuses {
		merged[string(status)] = 0
	}
	for _, w := range workers {
		merged[string(w.Status)]++
	}
	return merged
}
