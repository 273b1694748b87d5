package store

import (
	"strings"
	"time"
)

// TaskStatus represents the lifecycle of a task.
type TaskStatus string

const (
	TaskPending         TaskStatus = "pending"
	TaskProcessing      TaskStatus = "processing"
	TaskCompleted       TaskStatus = "task_completed"
	TaskAuditInProgress TaskStatus = "audit_in_progress"
	TaskAuditPassed     TaskStatus = "audit_passed"
	TaskFailed          TaskStatus = "failed"
)

// AllTaskStatuses lists task statuses in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskPending,
	TaskProcessing,
	TaskCompleted,
	TaskAuditInProgress,
	TaskAuditPassed,
	TaskFailed,
}

// ParseTaskStatus normalizes user input into a known status.
func ParseTaskStatus(value string) (TaskStatus, bool) {
	normalized := TaskStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range AllTaskStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// Task is one unit of work.
type Task struct {
	ID             int64             `yaml:"id" json:"id"`
	Class          string            `yaml:"class" json:"class"`
	Layer          int               `yaml:"layer" json:"layer"`
	Title          string            `yaml:"title" json:"title"`
	Description    string            `yaml:"description,omitempty" json:"description,omitempty"`
	Status         TaskStatus        `yaml:"status" json:"status"`
	Owner          string            `yaml:"owner,omitempty" json:"owner,omitempty"`
	CreatedAt      time.Time         `yaml:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `yaml:"updated_at" json:"updated_at"`
	StartedAt      *time.Time        `yaml:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt    *time.Time        `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
	RetryCount     int               `yaml:"retry_count" json:"retry_count"`
	MaxRetries     int               `yaml:"max_retries" json:"max_retries"`
	LastError      string            `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	Params         map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
	ResultLocation string            `yaml:"result_location,omitempty" json:"result_location,omitempty"`
	QualityGated   bool              `yaml:"quality_gated" json:"quality_gated"`
	ParentID       int64             `yaml:"parent_id,omitempty" json:"parent_id,omitempty"`
	Children       []int64           `yaml:"children,omitempty" json:"children,omitempty"`
}

// HasChildren reports whether the task was decomposed into subtasks.
func (t Task) HasChildren() bool { return len(t.Children) > 0 }

// Succeeded reports whether the task reached a terminal success state.
func (t Task) Succeeded() bool {
	switch t.Status {
	case TaskAuditPassed:
		return true
	case TaskCompleted:
		return !t.QualityGated
	}
	return false
}

// Settled reports whether the task will not move again without operator action.
func (t Task) Settled() bool {
	return t.Status == TaskFailed || t.Succeeded()
}

// TaskFilter narrows ClaimTask to a class and/or layer. Zero values match everything.
type TaskFilter struct {
	Class string
	Layer *int
}

// Matches reports whether a task satisfies the filter's class and layer constraints.
func (f TaskFilter) Matches(t Task) bool {
	if f.Class != "" && t.Class != f.Class {
		return false
	}
	if f.Layer != nil && t.Layer != *f.Layer {
		return false
	}
	return true
}

// TaskQuery selects tasks for listing. Results are ordered by ascending id.
type TaskQuery struct {
	Statuses []TaskStatus
	Class    string
	Layer    *int
	Owner    string
	ParentID int64
	Limit    int
}

// Matches reports whether t satisfies every constraint in the query.
func (q TaskQuery) Matches(t Task) bool {
	if len(q.Statuses) > 0 {
		found := false
		for _, status := range q.Statuses {
			if t.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !(TaskFilter{Class: q.Class, Layer: q.Layer}).Matches(t) {
		return false
	}
	if q.Owner != "" && t.Owner != q.Owner {
		return false
	}
	if q.ParentID != 0 && t.ParentID != q.ParentID {
		return false
	}
	return true
}

// TaskCounts is a snapshot of task totals keyed by status.
type TaskCounts map[TaskStatus]int

// Total sums every status.
func (c TaskCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// WorkerStatus represents the lifecycle of a worker.
type WorkerStatus string

const (
	WorkerQueued   WorkerStatus = "queued"
	WorkerIdle     WorkerStatus = "idle"
	WorkerWorking  WorkerStatus = "working"
	WorkerError    WorkerStatus = "error"
	WorkerFinished WorkerStatus = "finished"
	WorkerShutdown WorkerStatus = "shutdown"
)

// AllWorkerStatuses lists worker statuses in lifecycle order.
var AllWorkerStatuses = []WorkerStatus{
	WorkerQueued,
	WorkerIdle,
	WorkerWorking,
	WorkerError,
	WorkerFinished,
	WorkerShutdown,
}

// Terminal reports whether no further transitions are expected.
func (s WorkerStatus) Terminal() bool {
	return s == WorkerFinished || s == WorkerShutdown
}

// ParseWorkerStatus normalizes user input into a known status.
func ParseWorkerStatus(value string) (WorkerStatus, bool) {
	normalized := WorkerStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range AllWorkerStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// Worker is the registry record for one participant in the fleet.
type Worker struct {
	ID            string       `yaml:"id" json:"id"`
	Seq           int64        `yaml:"seq" json:"seq"`
	Role          string       `yaml:"role" json:"role"`
	Layer         int          `yaml:"layer" json:"layer"`
	ParentID      string       `yaml:"parent_id,omitempty" json:"parent_id,omitempty"`
	Position      int          `yaml:"position" json:"position"`
	Status        WorkerStatus `yaml:"status" json:"status"`
	CreatedAt     time.Time    `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time    `yaml:"updated_at" json:"updated_at"`
	LastHeartbeat *time.Time   `yaml:"last_heartbeat,omitempty" json:"last_heartbeat,omitempty"`
	SpawnedAt     *time.Time   `yaml:"spawned_at,omitempty" json:"spawned_at,omitempty"`
	Completed     int          `yaml:"completed" json:"completed"`
	Failed        int          `yaml:"failed" json:"failed"`
	CurrentTask   int64        `yaml:"current_task,omitempty" json:"current_task,omitempty"`
	Stage         string       `yaml:"stage,omitempty" json:"stage,omitempty"`
	LastError     string       `yaml:"last_error,omitempty" json:"last_error,omitempty"`
	OutputDir     string       `yaml:"output_dir" json:"output_dir"`
	SessionID     string       `yaml:"session_id,omitempty" json:"session_id,omitempty"`
	PID           int          `yaml:"pid,omitempty" json:"pid,omitempty"`
}

// LastSeen is the most recent sign of life: heartbeat, spawn, or creation.
func (w Worker) LastSeen() time.Time {
	seen := w.CreatedAt
	if w.SpawnedAt != nil && w.SpawnedAt.After(seen) {
		seen = *w.SpawnedAt
	}
	if w.LastHeartbeat != nil && w.LastHeartbeat.After(seen) {
		seen = *w.LastHeartbeat
	}
	return seen
}

// Heartbeat is the self-reported state a worker sends periodically. An empty
// Status leaves the recorded status unchanged.
type Heartbeat struct {
	WorkerID    string       `yaml:"worker_id" json:"worker_id"`
	Status      WorkerStatus `yaml:"status,omitempty" json:"status,omitempty"`
	CurrentTask int64        `yaml:"current_task,omitempty" json:"current_task,omitempty"`
	Stage       string       `yaml:"stage,omitempty" json:"stage,omitempty"`
	Completed   int          `yaml:"completed" json:"completed"`
	Failed      int          `yaml:"failed" json:"failed"`
	At          time.Time    `yaml:"at" json:"at"`
}

// Event is an immutable entry in the activity log.
type Event struct {
	ID       int64     `json:"id"`
	At       time.Time `json:"at"`
	Type     string    `json:"type"`
	WorkerID string    `json:"worker_id,omitempty"`
	TaskID   int64     `json:"task_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// EventQuery selects events newest first.
type EventQuery struct {
	WorkerID string
	Limit    int
}

// DefaultEventLimit bounds ListEvents when no limit is given.
const DefaultEventLimit = 50

// SlotUsage reports capacity slot utilization.
type SlotUsage struct {
	Total int `json:"total"`
	Used  int `json:"used"`
}

// Health summarizes a backend's diagnostic state.
type Health struct {
	Backend       string        `json:"backend"`
	Location      string        `json:"location"`
	Reachable     bool          `json:"reachable"`
	SchemaVersion int           `json:"schema_version,omitempty"`
	Integrity     bool          `json:"integrity"`
	LockHeld      bool          `json:"lock_held"`
	LockAge       time.Duration `json:"lock_age,omitempty"`
	Tasks         int           `json:"tasks"`
	Workers       int           `json:"workers"`
	Error         string        `json:"error,omitempty"`
}
