package queue

import (
	"context"
	"errors"
	"fmt"

	"hive/internal/logging"
	"hive/internal/store"
)

var errAlreadySettled = errors.New("parent already settled")

// rollUp settles a mega-task once every child has settled. Failures are
// logged; RollUpParents retries them on the next supervisor tick.
func (q *Queue) rollUp(ctx context.Context, parentID int64) {
	if parentID == 0 {
		return
	}
	if _, err := q.settleParent(ctx, parentID); err != nil {
		logging.WarnWithContext(q.logger, "parent roll-up failed", "rollup_failed",
			logging.TaskID(parentID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the supervisor retries roll-ups on its next tick"),
		)
	}
}

// settleParent reports whether parentID changed status.
func (q *Queue) settleParent(ctx context.Context, parentID int64) (bool, error) {
	children, err := q.store.ListTasks(ctx, store.TaskQuery{ParentID: parentID})
	if err != nil {
		return false, fmt.Errorf("list subtasks of %d: %w", parentID, err)
	}
	if len(children) == 0 {
		return false, nil
	}
	failed := 0
	for _, child := range children {
		if !child.Settled() {
			return false, nil
		}
		if !child.Succeeded() {
			failed++
		}
	}

	now := q.now()
	parent, err := q.store.UpdateTask(ctx, parentID, func(t *store.Task) error {
		if t.Status != store.TaskPending {
			return errAlreadySettled
		}
		t.CompletedAt = &now
		if failed == 0 {
			t.Status = store.TaskCompleted
			t.LastError = ""
			return nil
		}
		t.Status = store.TaskFailed
		t.LastError = fmt.Sprintf("%d of %d subtasks failed", failed, len(children))
		return nil
	})
	if errors.Is(err, errAlreadySettled) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("settle parent %d: %w", parentID, err)
	}

	q.record(ctx, EventTaskRolledUp, parent.ID, "", string(parent.Status))
	if parent.Status == store.TaskFailed {
		q.record(ctx, EventTaskFailed, parent.ID, "", parent.LastError)
	} else {
		q.record(ctx, EventTaskCompleted, parent.ID, "", "all subtasks succeeded")
	}
	q.logger.Info("mega-task rolled up",
		logging.EventType(EventTaskRolledUp),
		logging.TaskID(parent.ID),
		logging.String("status", string(parent.Status)),
		logging.Int("subtasks", len(children)),
		logging.Int("failed", failed),
	)
	q.rollUp(ctx, parent.ParentID)
	return true, nil
}

// RollUpParents settles every pending mega-task whose children have all
// settled, covering roll-ups lost to a crash between the two steps.
func (q *Queue) RollUpParents(ctx context.Context) (int, error) {
	pending, err := q.store.ListTasks(ctx, store.TaskQuery{Statuses: []store.TaskStatus{store.TaskPending}})
	if err != nil {
		return 0, fmt.Errorf("list pending tasks: %w", err)
	}
	settled := 0
	for _, task := range pending {
		if !task.HasChildren() {
			continue
		}
		changed, err := q.settleParent(ctx, task.ID)
		if err != nil {
			return settled, err
		}
		if changed {
			settled++
		}
	}
	return settled, nil
}
