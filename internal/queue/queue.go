package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"hive/internal/logging"
	"hive/internal/store"
	"hive/internal/telemetry"
)

// Queue is the task store: lifecycle operations over store.Store.
type Queue struct {
	store     store.Store
	logger    *slog.Logger
	telemetry *telemetry.Provider
	now       func() time.Time
}

// Option customizes a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithTelemetry sets the tracer and metrics provider.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(q *Queue) {
		if p != nil {
			q.telemetry = p
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// New wraps st.
func New(st store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:     st,
		logger:    logging.NewNop(),
		telemetry: telemetry.Disabled(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = logging.NewComponentLogger(q.logger, "queue")
	return q
}

// Store exposes the underlying store.
func (q *Queue) Store() store.Store { return q.store }

func (q *Queue) metrics() *telemetry.Metrics { return q.telemetry.Metrics }

// record appends to the event log. The transition it describes has already
// committed, so a failed append is logged rather than returned.
func (q *Queue) record(ctx context.Context, eventType string, taskID int64, workerID, detail string) {
	err := q.store.AppendEvent(ctx, store.Event{
		At:       q.now(),
		Type:     eventType,
		TaskID:   taskID,
		WorkerID: workerID,
		Detail:   detail,
	})
	if err != nil {
		logging.WarnWithContext(q.logger, "event append failed", "event_append_failed",
			logging.String("event", eventType),
			logging.TaskID(taskID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "event log is missing an entry"),
		)
	}
}

// touchWorker applies mutate to the task owner's record. Missing workers are
// ignored: tasks may be driven by hand from the CLI with ad-hoc owner names.
func (q *Queue) touchWorker(ctx context.Context, workerID string, mutate func(*store.Worker)) {
	if workerID == "" {
		return
	}
	_, err := q.store.UpdateWorker(ctx, workerID, func(w *store.Worker) error {
		mutate(w)
		return nil
	})
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return
	}
	logging.WarnWithContext(q.logger, "worker bookkeeping failed", "worker_update_failed",
		logging.WorkerID(workerID),
		logging.Error(err),
		logging.String(logging.FieldImpact, "worker counters or current task may be stale"),
	)
}
