package queue

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"hive/internal/logging"
	"hive/internal/store"
	"hive/internal/telemetry"
)

const maxTitleLength = 80

// EnqueueRequest describes a batch of tasks sharing class, layer and policy.
// Each payload becomes one task.
type EnqueueRequest struct {
	Class        string
	Layer        int
	Payloads     []string
	MaxRetries   int
	QualityGated bool
	Params       map[string]string
}

func (r EnqueueRequest) validate() error {
	if strings.TrimSpace(r.Class) == "" {
		return fmt.Errorf("%w: class is required", ErrInvalidRequest)
	}
	if r.Layer < 0 {
		return fmt.Errorf("%w: layer must be >= 0", ErrInvalidRequest)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0", ErrInvalidRequest)
	}
	if len(r.Payloads) == 0 {
		return fmt.Errorf("%w: at least one payload is required", ErrInvalidRequest)
	}
	for i, payload := range r.Payloads {
		if strings.TrimSpace(payload) == "" {
			return fmt.Errorf("%w: payload %d is empty", ErrInvalidRequest, i+1)
		}
	}
	return nil
}

func (r EnqueueRequest) tasks(now func() time.Time) []store.Task {
	at := now()
	tasks := make([]store.Task, 0, len(r.Payloads))
	for _, payload := range r.Payloads {
		tasks = append(tasks, store.Task{
			Class:        strings.TrimSpace(r.Class),
			Layer:        r.Layer,
			Title:        titleFor(payload),
			Description:  strings.TrimSpace(payload),
			Status:       store.TaskPending,
			CreatedAt:    at,
			MaxRetries:   r.MaxRetries,
			QualityGated: r.QualityGated,
			Params:       maps.Clone(r.Params),
		})
	}
	return tasks
}

// titleFor uses the first line of a payload, shortened for listings.
func titleFor(payload string) string {
	title := strings.TrimSpace(payload)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	if utf8.RuneCountInString(title) <= maxTitleLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxTitleLength-1]) + "…"
}

// Enqueue adds one pending task per payload and returns their ids in order.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (ids []int64, err error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ctx, span := telemetry.StartSpan(ctx, q.telemetry.Tracer, "queue.enqueue",
		telemetry.AttrClass.String(req.Class),
		telemetry.AttrLayer.Int(req.Layer),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	ids, err = q.store.AddTasks(ctx, 0, req.tasks(q.now))
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	for _, id := range ids {
		q.record(ctx, EventTaskCreated, id, "", req.Class)
	}
	q.metrics().Enqueued(ctx, req.Class, len(ids))
	q.logger.Info("tasks enqueued",
		logging.EventType(EventTaskCreated),
		logging.String("class", req.Class),
		logging.Int("layer", req.Layer),
		logging.Int("count", len(ids)),
	)
	return ids, nil
}

// Decompose attaches children to a pending task, turning it into a
// mega-task that is no longer claimable on its own.
func (q *Queue) Decompose(ctx context.Context, parentID int64, req EnqueueRequest) ([]int64, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	ids, err := q.store.AddTasks(ctx, parentID, req.tasks(q.now))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("decompose task %d: %w: only pending tasks can be decomposed", parentID, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("decompose task %d: %w", parentID, err)
	}
	q.record(ctx, EventTaskDecomposed, parentID, "", fmt.Sprintf("%d subtasks", len(ids)))
	for _, id := range ids {
		q.record(ctx, EventTaskCreated, id, "", req.Class)
	}
	q.metrics().Enqueued(ctx, req.Class, len(ids))
	q.logger.Info("task decomposed",
		logging.EventType(EventTaskDecomposed),
		logging.TaskID(parentID),
		logging.Int("subtasks", len(ids)),
	)
	return ids, nil
}
