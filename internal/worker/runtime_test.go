package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hive/internal/config"
	"hive/internal/fleet"
	"hive/internal/queue"
	"hive/internal/store"
	"hive/internal/testsupport"
	"hive/internal/worker"
)

type env struct {
	cfg      *config.Config
	store    store.Store
	queue    *queue.Queue
	manager  *fleet.Manager
	identity fleet.Identity
}

func newEnv(t *testing.T, backend string, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithBackend(backend)}, opts...)...)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st)
	m := fleet.NewManager(cfg, st, q, nil)
	w, err := m.Provision(context.Background(), fleet.ProvisionRequest{Layer: 0})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	return &env{
		cfg:      cfg,
		store:    st,
		queue:    q,
		manager:  m,
		identity: fleet.Identity{WorkerID: w.ID, Role: w.Role, Layer: w.Layer, OutputDir: w.OutputDir},
	}
}

func (e *env) enqueue(t *testing.T, layer int, payloads ...string) []int64 {
	t.Helper()
	ids, err := e.queue.Enqueue(context.Background(), queue.EnqueueRequest{Class: "build", Layer: layer, Payloads: payloads})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return ids
}

func (e *env) runtime(exec worker.Executor) *worker.Runtime {
	return worker.New(e.cfg, e.queue, e.manager, e.identity, exec,
		worker.WithIntervals(5*time.Millisecond, 5*time.Millisecond, 10*time.Millisecond))
}

func runWithTimeout(t *testing.T, rt *worker.Runtime) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return rt.Run(ctx)
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend string)) {
	for _, backend := range testsupport.Backends() {
		t.Run(backend, func(t *testing.T) { fn(t, backend) })
	}
}

func okExecutor(seen *[]int64, mu *sync.Mutex) worker.Executor {
	return worker.ExecutorFunc(func(_ context.Context, job worker.Job) (worker.Result, error) {
		mu.Lock()
		*seen = append(*seen, job.Task.ID)
		mu.Unlock()
		if job.RequestID == "" {
			return worker.Result{}, errors.New("missing request id")
		}
		return worker.Result{Location: fmt.Sprintf("%s/task-%d.out", job.OutputDir, job.Task.ID)}, nil
	})
}

func TestRunDrainsQueueAndFinishes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		e := newEnv(t, backend)
		ids := e.enqueue(t, 0, "one", "two", "three")

		var mu sync.Mutex
		var seen []int64
		rt := e.runtime(okExecutor(&seen, &mu))
		if err := runWithTimeout(t, rt); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if len(seen) != 3 || seen[0] != ids[0] || seen[2] != ids[2] {
			t.Fatalf("expected tasks in id order %v, got %v", ids, seen)
		}
		for _, id := range ids {
			task := testsupport.MustGetTask(t, e.store, id)
			if task.Status != store.TaskCompleted || task.ResultLocation == "" {
				t.Fatalf("task %d not completed: %+v", id, task)
			}
		}
		w := testsupport.MustGetWorker(t, e.store, e.identity.WorkerID)
		if w.Status != store.WorkerFinished || w.Completed != 3 {
			t.Fatalf("expected finished worker with 3 completions, got %+v", w)
		}
		finished, err := e.store.IsFinished(context.Background(), e.identity.WorkerID)
		if err != nil || !finished {
			t.Fatalf("expected finished sentinel, got %v (err %v)", finished, err)
		}
	})
}

func TestRunRecordsExecutorFailure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		e := newEnv(t, backend)
		ids := e.enqueue(t, 0, "good", "bad")

		rt := e.runtime(worker.ExecutorFunc(func(_ context.Context, job worker.Job) (worker.Result, error) {
			if job.Task.Description == "bad" {
				return worker.Result{}, errors.New("compiler exploded")
			}
			return worker.Result{Location: "ok"}, nil
		}))
		if err := runWithTimeout(t, rt); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		failed := testsupport.MustGetTask(t, e.store, ids[1])
		if failed.Status != store.TaskFailed || failed.LastError != "compiler exploded" {
			t.Fatalf("expected failed task with error, got %+v", failed)
		}
		completed, failures := rt.Counts()
		if completed != 1 || failures != 1 {
			t.Fatalf("expected 1 completed and 1 failed, got %d and %d", completed, failures)
		}
		w := testsupport.MustGetWorker(t, e.store, e.identity.WorkerID)
		if w.Failed != 1 || w.Completed != 1 {
			t.Fatalf("unexpected worker counters: %+v", w)
		}
	})
}

func TestRunHonoursTaskBudget(t *testing.T) {
	e := newEnv(t, config.BackendSQLite, testsupport.WithMaxTasksPerWorker(1))
	ids := e.enqueue(t, 0, "first", "second")

	var mu sync.Mutex
	var seen []int64
	if err := runWithTimeout(t, e.runtime(okExecutor(&seen, &mu))); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected one task executed, got %v", seen)
	}
	if task := testsupport.MustGetTask(t, e.store, ids[1]); task.Status != store.TaskPending {
		t.Fatalf("expected second task left pending, got %s", task.Status)
	}
	if w := testsupport.MustGetWorker(t, e.store, e.identity.WorkerID); w.Status != store.WorkerFinished {
		t.Fatalf("expected finished worker, got %s", w.Status)
	}
}

func TestRunOnlyClaimsOwnLayer(t *testing.T) {
	e := newEnv(t, config.BackendSQLite)
	ids := e.enqueue(t, 1, "for a lead")

	var mu sync.Mutex
	var seen []int64
	if err := runWithTimeout(t, e.runtime(okExecutor(&seen, &mu))); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(seen) != 0 {
		t.Fatalf("layer 0 worker executed layer 1 tasks: %v", seen)
	}
	if task := testsupport.MustGetTask(t, e.store, ids[0]); task.Status != store.TaskPending {
		t.Fatalf("expected task to stay pending, got %s", task.Status)
	}
}

func TestRunWaitsForOutstandingWork(t *testing.T) {
	e := newEnv(t, config.BackendSQLite)
	ids := e.enqueue(t, 0, "held elsewhere")
	other := "w-9999"
	if _, err := e.queue.ClaimNext(context.Background(), other, queue.Filter{}); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	var mu sync.Mutex
	var seen []int64
	done := make(chan error, 1)
	go func() { done <- runWithTimeout(t, e.runtime(okExecutor(&seen, &mu))) }()

	select {
	case err := <-done:
		t.Fatalf("Run returned while work was outstanding: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := e.queue.Release(context.Background(), other); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not finish after the task was released")
	}
	if task := testsupport.MustGetTask(t, e.store, ids[0]); task.Status != store.TaskCompleted || task.Owner != e.identity.WorkerID {
		t.Fatalf("expected task completed by runtime, got %+v", task)
	}
}

func TestRunStopsOnCancelWithoutFinishing(t *testing.T) {
	e := newEnv(t, config.BackendSQLite)
	ids := e.enqueue(t, 0, "slow")

	started := make(chan struct{})
	rt := e.runtime(worker.ExecutorFunc(func(ctx context.Context, _ worker.Job) (worker.Result, error) {
		close(started)
		<-ctx.Done()
		return worker.Result{}, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	<-started
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if task := testsupport.MustGetTask(t, e.store, ids[0]); task.Status != store.TaskProcessing {
		t.Fatalf("expected claim left for the supervisor, got %s", task.Status)
	}
	finished, err := e.store.IsFinished(context.Background(), e.identity.WorkerID)
	if err != nil || finished {
		t.Fatalf("expected no finished sentinel, got %v (err %v)", finished, err)
	}
}

func TestRunDoesNotCountResultForReleasedClaim(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		e := newEnv(t, backend)
		ids := e.enqueue(t, 0, "reclaimed")

		var mu sync.Mutex
		calls := 0
		exec := worker.ExecutorFunc(func(ctx context.Context, job worker.Job) (worker.Result, error) {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				if _, err := e.queue.Release(ctx, e.identity.WorkerID); err != nil {
					return worker.Result{}, err
				}
			}
			return worker.Result{Location: fmt.Sprintf("%s/task-%d.out", job.OutputDir, job.Task.ID)}, nil
		})

		rt := e.runtime(exec)
		if err := runWithTimeout(t, rt); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if calls != 2 {
			t.Fatalf("expected the released task to be executed twice, got %d", calls)
		}
		if completed, _ := rt.Counts(); completed != 1 {
			t.Fatalf("expected one counted completion, got %d", completed)
		}
		if task := testsupport.MustGetTask(t, e.store, ids[0]); task.Status != store.TaskCompleted {
			t.Fatalf("expected task completed by the second claim, got %s", task.Status)
		}
	})
}
