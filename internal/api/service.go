package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hive/internal/config"
	"hive/internal/fleet"
	"hive/internal/queue"
	"hive/internal/store"
	"hive/internal/storeaccess"
)

// Service exposes read-only fleet and queue views as API DTOs.
type Service struct {
	cfg   *config.Config
	queue *queue.Queue
	store store.Store
	now   func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source used for health evaluation.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service around the queue and its store.
func NewService(cfg *config.Config, q *queue.Queue, opts ...ServiceOption) *Service {
	s := &Service{cfg: cfg, queue: q, store: q.Store(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dashboard aggregates worker counts, task counts, slot usage and the ids of
// workers currently failing the health rule.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	workers, err := s.store.ListWorkers(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("list workers: %w", err)
	}
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	slots, err := s.slots(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	unresponsive, err := s.unresponsive(ctx, workers)
	if err != nil {
		return Dashboard{}, err
	}
	ids := make([]string, 0, len(unresponsive))
	for _, w := range workers {
		if unresponsive[w.ID] {
			ids = append(ids, w.ID)
		}
	}

	return Dashboard{
		GeneratedAt: formatTime(s.now()),
		Backend:     s.cfg.Store.Backend,
		Location:    storeaccess.Location(s.cfg),
		Workers: WorkerSummary{
			Total:    len(workers),
			ByStatus: MergeWorkerCounts(workers),
		},
		Tasks: TaskSummary{
			Total:             stats.Total,
			ByStatus:          MergeTaskCounts(stats.Counts),
			Done:              stats.Done,
			Outstanding:       stats.Outstanding,
			CompletionPercent: stats.CompletionPercent,
		},
		Slots:        slots,
		Unresponsive: ids,
	}, nil
}

func (s *Service) slots(ctx context.Context) (SlotSummary, error) {
	usage, err := s.store.SlotUsage(ctx)
	if errors.Is(err, store.ErrUnsupported) {
		return SlotSummary{}, nil
	}
	if err != nil {
		return SlotSummary{}, fmt.Errorf("slot usage: %w", err)
	}
	return SlotSummary{Tracked: usage.Total > 0, Used: usage.Used, Total: usage.Total}, nil
}

// unresponsive applies the supervisor's health rule without acting on it.
func (s *Service) unresponsive(ctx context.Context, workers []store.Worker) (map[string]bool, error) {
	now := s.now()
	threshold := s.cfg.UnresponsiveThreshold()
	out := make(map[string]bool)
	for _, w := range workers {
		if w.Status.Terminal() || !fleet.Unhealthy(w, now, threshold) {
			continue
		}
		finished, err := s.store.IsFinished(ctx, w.ID)
		if err != nil {
			return nil, fmt.Errorf("finished sentinel for %s: %w", w.ID, err)
		}
		if !finished {
			out[w.ID] = true
		}
	}
	return out, nil
}

// Workers lists every worker in registry order.
func (s *Service) Workers(ctx context.Context) ([]WorkerView, error) {
	workers, err := s.store.ListWorkers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	unresponsive, err := s.unresponsive(ctx, workers)
	if err != nil {
		return nil, err
	}
	out := make([]WorkerView, 0, len(workers))
	for _, w := range workers {
		out = append(out, FromWorker(w, unresponsive[w.ID]))
	}
	return out, nil
}

// Worker describes a single worker.
func (s *Service) Worker(ctx context.Context, id string) (WorkerView, error) {
	w, err := s.store.GetWorker(ctx, id)
	if err != nil {
		return WorkerView{}, fmt.Errorf("get worker %s: %w", id, err)
	}
	unresponsive, err := s.unresponsive(ctx, []store.Worker{w})
	if err != nil {
		return WorkerView{}, err
	}
	return FromWorker(w, unresponsive[w.ID]), nil
}

// Tasks lists tasks matching query.
func (s *Service) Tasks(ctx context.Context, query queue.Query) ([]TaskView, error) {
	tasks, err := s.queue.List(ctx, query)
	if err != nil {
		return nil, err
	}
	return FromTasks(tasks), nil
}

// Task describes a single task.
func (s *Service) Task(ctx context.Context, id int64) (TaskView, error) {
	task, err := s.queue.Get(ctx, id)
	if err != nil {
		return TaskView{}, err
	}
	return FromTask(task), nil
}

// Events lists activity newest first.
func (s *Service) Events(ctx context.Context, query store.EventQuery) ([]EventView, error) {
	events, err := s.store.ListEvents(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return FromEvents(events), nil
}
