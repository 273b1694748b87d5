package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hive/internal/errs"
	"hive/internal/logging"
	"hive/internal/store"
	"hive/internal/telemetry"
)

// Filter narrows ClaimNext. Zero values match everything.
type Filter struct {
	Class string
	Layer *int
}

// ClaimNext atomically takes the lowest-id claimable task for workerID, then
// points the worker at it. Returns ErrNoTaskAvailable when nothing matches.
func (q *Queue) ClaimNext(ctx context.Context, workerID string, filter Filter) (task store.Task, err error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return store.Task{}, fmt.Errorf("%w: worker id is required", ErrInvalidRequest)
	}
	ctx, span := telemetry.StartSpan(ctx, q.telemetry.Tracer, "queue.claim",
		telemetry.AttrWorkerID.String(workerID),
		telemetry.AttrClass.String(filter.Class),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	task, ok, err := q.store.ClaimTask(ctx, store.TaskFilter{Class: filter.Class, Layer: filter.Layer}, workerID, q.now())
	if err != nil {
		return store.Task{}, fmt.Errorf("claim: %w", err)
	}
	if !ok {
		return store.Task{}, ErrNoTaskAvailable
	}
	span.SetAttributes(telemetry.AttrTaskID.Int64(task.ID))

	q.touchWorker(ctx, workerID, func(w *store.Worker) {
		w.CurrentTask = task.ID
		if !w.Status.Terminal() {
			w.Status = store.WorkerWorking
		}
	})
	q.record(ctx, EventTaskClaimed, task.ID, workerID, task.Class)
	q.metrics().Claimed(ctx, task.Class)
	q.logger.Info("task claimed",
		logging.EventType(EventTaskClaimed),
		logging.TaskID(task.ID),
		logging.WorkerID(workerID),
		logging.String("class", task.Class),
	)
	return task, nil
}

// transition runs a guarded status change. from lists the statuses the task
// may currently be in; apply performs the change on the loaded copy.
func (q *Queue) transition(ctx context.Context, taskID int64, op string, from []store.TaskStatus, apply func(*store.Task) error) (store.Task, error) {
	task, err := q.store.UpdateTask(ctx, taskID, func(t *store.Task) error {
		allowed := false
		for _, status := range from {
			if t.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: cannot %s task %d in status %s", ErrInvalidTransition, op, taskID, t.Status)
		}
		return apply(t)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Task{}, fmt.Errorf("%s task %d: %w", op, taskID, store.ErrNotFound)
		}
		return store.Task{}, err
	}
	return task, nil
}

// Complete marks a processing task done and records where its result lives.
// Quality-gated tasks wait in task_completed for an audit. Complete does not
// check ownership; workers report through CompleteAs.
func (q *Queue) Complete(ctx context.Context, taskID int64, resultLocation string) (store.Task, error) {
	return q.complete(ctx, "", taskID, resultLocation)
}

// CompleteAs is Complete for a worker reporting its own claim. It returns
// ErrInvalidTransition when workerID no longer owns the task.
func (q *Queue) CompleteAs(ctx context.Context, workerID string, taskID int64, resultLocation string) (store.Task, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return store.Task{}, fmt.Errorf("%w: worker id is required", ErrInvalidRequest)
	}
	return q.complete(ctx, workerID, taskID, resultLocation)
}

func (q *Queue) complete(ctx context.Context, workerID string, taskID int64, resultLocation string) (task store.Task, err error) {
	ctx, span := telemetry.StartSpan(ctx, q.telemetry.Tracer, "queue.complete", telemetry.AttrTaskID.Int64(taskID))
	defer func() { telemetry.EndSpan(span, err) }()

	now := q.now()
	task, err = q.transition(ctx, taskID, "complete", []store.TaskStatus{store.TaskProcessing}, func(t *store.Task) error {
		if err := checkOwner(t, workerID, "complete"); err != nil {
			return err
		}
		t.Status = store.TaskCompleted
		t.CompletedAt = &now
		t.ResultLocation = strings.TrimSpace(resultLocation)
		t.LastError = ""
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}

	q.touchWorker(ctx, task.Owner, func(w *store.Worker) {
		if w.CurrentTask == task.ID {
			w.CurrentTask = 0
		}
		w.Completed++
	})
	q.record(ctx, EventTaskCompleted, task.ID, task.Owner, task.ResultLocation)
	q.metrics().Completed(ctx, task.Class)
	q.logger.Info("task completed",
		logging.EventType(EventTaskCompleted),
		logging.TaskID(task.ID),
		logging.WorkerID(task.Owner),
		logging.String("result", task.ResultLocation),
		logging.Bool("awaiting_audit", task.QualityGated),
	)
	q.rollUp(ctx, task.ParentID)
	return task, nil
}

// Fail moves a processing task to failed. Failed tasks are never reclaimed.
// Like Complete it ignores ownership; workers report through FailAs.
func (q *Queue) Fail(ctx context.Context, taskID int64, message string) (store.Task, error) {
	return q.fail(ctx, "", taskID, message)
}

// FailAs is Fail for a worker reporting its own claim. It returns
// ErrInvalidTransition when workerID no longer owns the task.
func (q *Queue) FailAs(ctx context.Context, workerID string, taskID int64, message string) (store.Task, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return store.Task{}, fmt.Errorf("%w: worker id is required", ErrInvalidRequest)
	}
	return q.fail(ctx, workerID, taskID, message)
}

func (q *Queue) fail(ctx context.Context, workerID string, taskID int64, message string) (store.Task, error) {
	now := q.now()
	task, err := q.transition(ctx, taskID, "fail", []store.TaskStatus{store.TaskProcessing}, func(t *store.Task) error {
		if err := checkOwner(t, workerID, "fail"); err != nil {
			return err
		}
		t.Status = store.TaskFailed
		t.CompletedAt = &now
		t.LastError = strings.TrimSpace(message)
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}

	q.touchWorker(ctx, task.Owner, func(w *store.Worker) {
		if w.CurrentTask == task.ID {
			w.CurrentTask = 0
		}
		w.Failed++
		w.LastError = task.LastError
	})
	q.record(ctx, EventTaskFailed, task.ID, task.Owner, task.LastError)
	q.metrics().Failed(ctx, task.Class)
	logging.WarnWithContext(q.logger, "task failed", EventTaskFailed,
		logging.TaskID(task.ID),
		logging.WorkerID(task.Owner),
		logging.String("reason", task.LastError),
		logging.String(logging.FieldErrorHint, "inspect the task output and re-enqueue if needed"),
		logging.String(logging.FieldImpact, "task will not be retried"),
	)
	q.rollUp(ctx, task.ParentID)
	return task, nil
}

// checkOwner rejects a report from a worker whose claim was released and
// possibly retaken. An empty workerID skips the check.
func checkOwner(t *store.Task, workerID, op string) error {
	if workerID == "" || t.Owner == workerID {
		return nil
	}
	return errs.Wrap(ErrInvalidTransition, op, fmt.Sprintf("task %d is no longer owned by %s (owner %q)", t.ID, workerID, t.Owner), nil)
}

// Release returns every task workerID is processing to pending. The fleet
// manager calls this for unresponsive workers.
func (q *Queue) Release(ctx context.Context, workerID string) (count int, err error) {
	ctx, span := telemetry.StartSpan(ctx, q.telemetry.Tracer, "queue.release", telemetry.AttrWorkerID.String(workerID))
	defer func() { telemetry.EndSpan(span, err) }()

	ids, err := q.store.ReleaseTasks(ctx, workerID, q.now())
	if err != nil {
		return 0, fmt.Errorf("release tasks for %s: %w", workerID, err)
	}
	for _, id := range ids {
		q.record(ctx, EventTaskReleased, id, workerID, "")
		q.logger.Info("task released",
			logging.EventType(EventTaskReleased),
			logging.TaskID(id),
			logging.WorkerID(workerID),
		)
	}
	if len(ids) > 0 {
		q.touchWorker(ctx, workerID, func(w *store.Worker) { w.CurrentTask = 0 })
	}
	q.metrics().Released(ctx, len(ids))
	return len(ids), nil
}

// BeginAudit starts the audit of a completed quality-gated task.
func (q *Queue) BeginAudit(ctx context.Context, taskID int64) (store.Task, error) {
	task, err := q.transition(ctx, taskID, "audit", []store.TaskStatus{store.TaskCompleted}, func(t *store.Task) error {
		if !t.QualityGated {
			return fmt.Errorf("%w: task %d is not quality gated", ErrInvalidTransition, t.ID)
		}
		t.Status = store.TaskAuditInProgress
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}
	q.record(ctx, EventAuditStarted, task.ID, task.Owner, "")
	q.logger.Info("audit started", logging.EventType(EventAuditStarted), logging.TaskID(task.ID))
	return task, nil
}

// PassAudit accepts an audited task as a terminal success.
func (q *Queue) PassAudit(ctx context.Context, taskID int64) (store.Task, error) {
	now := q.now()
	task, err := q.transition(ctx, taskID, "pass audit of", []store.TaskStatus{store.TaskAuditInProgress}, func(t *store.Task) error {
		t.Status = store.TaskAuditPassed
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}
	q.record(ctx, EventAuditPassed, task.ID, task.Owner, "")
	q.logger.Info("audit passed", logging.EventType(EventAuditPassed), logging.TaskID(task.ID))
	q.rollUp(ctx, task.ParentID)
	return task, nil
}

// FailAudit rejects an audited task. It goes back to pending with its retry
// counter incremented, or to failed once the counter exceeds max retries.
func (q *Queue) FailAudit(ctx context.Context, taskID int64, reason string) (store.Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "audit failed"
	}
	now := q.now()
	task, err := q.transition(ctx, taskID, "fail audit of", []store.TaskStatus{store.TaskAuditInProgress}, func(t *store.Task) error {
		t.RetryCount++
		t.LastError = reason
		if t.RetryCount > t.MaxRetries {
			t.Status = store.TaskFailed
			t.CompletedAt = &now
			return nil
		}
		t.Status = store.TaskPending
		t.Owner = ""
		t.StartedAt = nil
		t.CompletedAt = nil
		t.ResultLocation = ""
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}

	q.record(ctx, EventAuditFailed, task.ID, "", reason)
	if task.Status == store.TaskFailed {
		q.record(ctx, EventTaskFailed, task.ID, "", fmt.Sprintf("retries exhausted after %d attempts: %s", task.RetryCount, reason))
		q.metrics().Failed(ctx, task.Class)
		logging.WarnWithContext(q.logger, "audit failed, retries exhausted", EventTaskFailed,
			logging.TaskID(task.ID),
			logging.Int("retry_count", task.RetryCount),
			logging.Int("max_retries", task.MaxRetries),
			logging.String("reason", reason),
			logging.String(logging.FieldErrorHint, "raise max retries or fix the task payload"),
			logging.String(logging.FieldImpact, "task moved to failed"),
		)
		q.rollUp(ctx, task.ParentID)
		return task, nil
	}
	q.record(ctx, EventTaskRequeued, task.ID, "", fmt.Sprintf("retry %d of %d", task.RetryCount, task.MaxRetries))
	q.logger.Info("audit failed, task requeued",
		logging.EventType(EventAuditFailed),
		logging.TaskID(task.ID),
		logging.Int("retry_count", task.RetryCount),
		logging.String("reason", reason),
	)
	return task, nil
}
