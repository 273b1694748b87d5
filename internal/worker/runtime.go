package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hive/internal/config"
	"hive/internal/errs"
	"hive/internal/fleet"
	"hive/internal/logging"
	"hive/internal/queue"
	"hive/internal/store"
)

// Stage descriptors reported in heartbeats.
const (
	StageWaiting   = "waiting"
	StageExecuting = "executing"
	StageReporting = "reporting"
)

// Runtime drives one worker identity until the queue is drained for it.
type Runtime struct {
	cfg      *config.Config
	identity fleet.Identity
	queue    *queue.Queue
	manager  *fleet.Manager
	executor Executor
	logger   *slog.Logger

	pollInterval  time.Duration
	retryInterval time.Duration
	beatInterval  time.Duration
	taskTimeout   time.Duration

	mu        sync.Mutex
	status    store.WorkerStatus
	current   int64
	stage     string
	completed int
	failed    int
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIntervals overrides the poll, error retry and heartbeat cadence.
func WithIntervals(poll, retry, heartbeat time.Duration) Option {
	return func(r *Runtime) {
		if poll > 0 {
			r.pollInterval = poll
		}
		if retry > 0 {
			r.retryInterval = retry
		}
		if heartbeat > 0 {
			r.beatInterval = heartbeat
		}
	}
}

// New builds a runtime for identity. A nil executor runs the configured
// executor command.
func New(cfg *config.Config, q *queue.Queue, m *fleet.Manager, identity fleet.Identity, exec Executor, opts ...Option) *Runtime {
	if exec == nil {
		exec = CommandExecutor{Command: cfg.Worker.ExecutorCommand}
	}
	r := &Runtime{
		cfg:           cfg,
		identity:      identity,
		queue:         q,
		manager:       m,
		executor:      exec,
		logger:        logging.NewNop(),
		pollInterval:  time.Duration(cfg.Worker.PollInterval) * time.Second,
		retryInterval: time.Duration(cfg.Worker.ErrorRetryInterval) * time.Second,
		beatInterval:  time.Duration(cfg.Worker.HeartbeatInterval) * time.Second,
		taskTimeout:   time.Duration(cfg.Hierarchy.Timeout) * time.Second,
		status:        store.WorkerIdle,
		stage:         StageWaiting,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "worker").With(logging.WorkerID(identity.WorkerID))
	return r
}

// Counts returns the tasks completed and failed so far.
func (r *Runtime) Counts() (completed, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed, r.failed
}

func (r *Runtime) filter() queue.Filter {
	layer := r.identity.Layer
	return queue.Filter{Class: r.cfg.Worker.ClassFilter, Layer: &layer}
}

// Run claims and executes tasks until nothing is left for this worker or the
// task budget is spent, then writes the finished sentinel. Cancelling ctx
// stops the loop without finishing, leaving recovery to the supervisor.
func (r *Runtime) Run(ctx context.Context) error {
	if r.identity.WorkerID == "" {
		return errors.New("worker identity has no worker id")
	}
	ctx = logging.WithWorkerID(ctx, r.identity.WorkerID)

	beatCtx, stopBeats := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go r.heartbeatLoop(beatCtx, &wg)
	defer func() {
		stopBeats()
		wg.Wait()
	}()

	r.beat(ctx)
	wake := r.watch(ctx)
	budget := r.cfg.Hierarchy.MaxTasksPerWorker

	r.logger.Info("worker started",
		logging.Int("layer", r.identity.Layer),
		logging.String("class_filter", r.cfg.Worker.ClassFilter),
		logging.Int("max_tasks", budget),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if budget > 0 {
			if done, failed := r.Counts(); done+failed >= budget {
				r.logger.Info("task budget spent", logging.Int("max_tasks", budget))
				return r.finish(ctx)
			}
		}

		task, err := r.queue.ClaimNext(ctx, r.identity.WorkerID, r.filter())
		switch {
		case err == nil:
			r.process(ctx, task)
			continue
		case errors.Is(err, queue.ErrNoTaskAvailable):
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			r.handleClaimError(ctx, err)
			continue
		}

		outstanding, err := r.queue.HasOutstandingFor(ctx, r.filter())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.handleClaimError(ctx, err)
			continue
		}
		if !outstanding {
			return r.finish(ctx)
		}
		if !r.wait(ctx, wake, r.pollInterval) {
			r.logger.Debug("store watch closed; polling only")
			wake = nil
		}
	}
}

func (r *Runtime) handleClaimError(ctx context.Context, err error) {
	eventType := "task_claim_failed"
	if errs.IsContention(err) {
		eventType = "task_claim_contention"
	}
	logging.WarnWithContext(r.logger, "claim failed; retrying", eventType,
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check store accessibility"),
		logging.String(logging.FieldImpact, "worker is idle until the store recovers"),
	)
	r.wait(ctx, nil, r.retryInterval)
}

func (r *Runtime) process(ctx context.Context, task store.Task) {
	requestID := uuid.NewString()
	taskCtx := logging.WithRequestID(logging.WithTaskID(ctx, task.ID), requestID)
	logger := logging.WithContext(taskCtx, r.logger)

	r.setState(store.WorkerWorking, task.ID, StageExecuting)
	r.beat(ctx)

	execCtx := taskCtx
	if r.taskTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(taskCtx, r.taskTimeout)
		defer cancel()
	}

	started := time.Now()
	result, execErr := r.executor.Execute(execCtx, Job{
		Task:      task,
		WorkerID:  r.identity.WorkerID,
		OutputDir: r.identity.OutputDir,
		RequestID: requestID,
	})
	r.setState(store.WorkerWorking, task.ID, StageReporting)

	if execErr != nil {
		if ctx.Err() != nil {
			// Shutting down; the supervisor releases the claim.
			return
		}
		if _, err := r.queue.FailAs(ctx, r.identity.WorkerID, task.ID, execErr.Error()); err != nil {
			r.reportRejected(logger, "report task failure", err)
		} else {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
		}
		logger.Info("task failed",
			logging.String("class", task.Class),
			logging.Duration("elapsed", time.Since(started)),
			logging.Error(execErr),
		)
	} else {
		if _, err := r.queue.CompleteAs(ctx, r.identity.WorkerID, task.ID, result.Location); err != nil {
			r.reportRejected(logger, "report task completion", err)
		} else {
			r.mu.Lock()
			r.completed++
			r.mu.Unlock()
		}
		logger.Info("task completed",
			logging.String("class", task.Class),
			logging.String("result", result.Location),
			logging.Duration("elapsed", time.Since(started)),
		)
	}

	r.setState(store.WorkerIdle, 0, StageWaiting)
	r.beat(ctx)
}

// reportRejected logs a result the queue refused. A rejected transition means
// the claim was released by the supervisor and may be held by another worker.
func (r *Runtime) reportRejected(logger *slog.Logger, msg string, err error) {
	if errors.Is(err, queue.ErrInvalidTransition) {
		logging.WarnWithContext(logger, msg, "task_report_rejected",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the claim was released; check the supervisor's health log"),
			logging.String(logging.FieldImpact, "result was not recorded"),
		)
		return
	}
	logger.Warn(msg, logging.Error(err))
}

func (r *Runtime) finish(ctx context.Context) error {
	r.setState(store.WorkerFinished, 0, "")
	worker, err := r.manager.Finish(ctx, r.identity.WorkerID)
	if err != nil {
		return fmt.Errorf("finish worker: %w", err)
	}
	r.logger.Info("worker drained",
		logging.Int("completed", worker.Completed),
		logging.Int("failed", worker.Failed),
	)
	return nil
}

func (r *Runtime) setState(status store.WorkerStatus, taskID int64, stage string) {
	r.mu.Lock()
	r.status = status
	r.current = taskID
	r.stage = stage
	r.mu.Unlock()
}

func (r *Runtime) snapshot() store.Heartbeat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return store.Heartbeat{
		WorkerID:    r.identity.WorkerID,
		Status:      r.status,
		CurrentTask: r.current,
		Stage:       r.stage,
		Completed:   r.completed,
		Failed:      r.failed,
	}
}

func (r *Runtime) beat(ctx context.Context) {
	hb := r.snapshot()
	if hb.Status == store.WorkerFinished {
		return
	}
	if err := r.manager.Heartbeat(ctx, hb); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.Warn("heartbeat update failed", logging.Error(err))
	}
}

func (r *Runtime) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(r.beatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.beat(ctx)
		}
	}
}

// watch subscribes to store change notifications when the backend offers them.
func (r *Runtime) watch(ctx context.Context) <-chan struct{} {
	if !r.cfg.Worker.WatchStore {
		return nil
	}
	watcher, ok := r.queue.Store().(store.Watcher)
	if !ok {
		return nil
	}
	changes, err := watcher.Watch(ctx)
	if err != nil {
		r.logger.Debug("store watch unavailable; polling only", logging.Error(err))
		return nil
	}
	return changes
}

// wait blocks for d, a store change or cancellation. It returns false once
// wake has been closed so the caller can stop selecting on it.
func (r *Runtime) wait(ctx context.Context, wake <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case _, ok := <-wake:
		return ok
	case <-timer.C:
	}
	return true
}
