// Package storetest holds the behavioural suite every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"hive/internal/store"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full suite against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"AddTasksAssignsAscendingIDs", testAddTasks},
		{"GetTaskMissing", testGetTaskMissing},
		{"ClaimLowestIDFirst", testClaimOrder},
		{"ClaimFilters", testClaimFilters},
		{"ConcurrentClaimsSingleWinner", testConcurrentClaims},
		{"ReleaseThenReclaim", testReleaseThenReclaim},
		{"UpdateTaskAbortsOnError", testUpdateTaskAbort},
		{"DecomposedParentNotClaimable", testDecomposedParent},
		{"CountTasksSnapshot", testCountTasks},
		{"CreateWorkerSequence", testCreateWorker},
		{"CreateWorkerBuildErrorCreatesNothing", testCreateWorkerAbort},
		{"HeartbeatUpdatesLiveness", testHeartbeat},
		{"FinishedSentinel", testFinishedSentinel},
		{"EventsNewestFirst", testEvents},
		{"Slots", testSlots},
		{"Health", testHealth},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

func newTasks(class string, layer int, titles ...string) []store.Task {
	tasks := make([]store.Task, 0, len(titles))
	for _, title := range titles {
		tasks = append(tasks, store.Task{Class: class, Layer: layer, Title: title, MaxRetries: 2, CreatedAt: time.Now()})
	}
	return tasks
}

func mustAdd(t *testing.T, s store.Store, tasks []store.Task) []int64 {
	t.Helper()
	ids, err := s.AddTasks(context.Background(), 0, tasks)
	if err != nil {
		t.Fatalf("AddTasks failed: %v", err)
	}
	return ids
}

func mustWorker(t *testing.T, s store.Store, role string) store.Worker {
	t.Helper()
	w, err := s.CreateWorker(context.Background(), func(_ []store.Worker, seq int64) (store.Worker, error) {
		return store.Worker{ID: fmt.Sprintf("w-%04d", seq), Role: role, Status: store.WorkerQueued}, nil
	})
	if err != nil {
		t.Fatalf("CreateWorker failed: %v", err)
	}
	return w
}

func testAddTasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := mustAdd(t, s, newTasks("build", 0, "a", "b", "c"))
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %v", ids)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("expected ascending ids, got %v", ids)
		}
	}
	task, err := s.GetTask(ctx, ids[1])
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Title != "b" || task.Status != store.TaskPending || task.Owner != "" {
		t.Fatalf("unexpected task: %+v", task)
	}
	more := mustAdd(t, s, newTasks("build", 0, "d"))
	if more[0] <= ids[2] {
		t.Fatalf("expected later batch to get larger id, got %d after %d", more[0], ids[2])
	}
}

func testGetTaskMissing(t *testing.T, s store.Store) {
	_, err := s.GetTask(context.Background(), 7)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = s.UpdateTask(context.Background(), 7, func(*store.Task) error { return nil })
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from UpdateTask, got %v", err)
	}
}

func testClaimOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := mustAdd(t, s, newTasks("build", 0, "first", "second"))
	task, ok, err := s.ClaimTask(ctx, store.TaskFilter{}, "w-0001", time.Now())
	if err != nil || !ok {
		t.Fatalf("ClaimTask failed: ok=%v err=%v", ok, err)
	}
	if task.ID != ids[0] || task.Status != store.TaskProcessing || task.Owner != "w-0001" || task.StartedAt == nil {
		t.Fatalf("unexpected claimed task: %+v", task)
	}
	task, ok, err = s.ClaimTask(ctx, store.TaskFilter{}, "w-0002", time.Now())
	if err != nil || !ok || task.ID != ids[1] {
		t.Fatalf("expected second task, got %+v ok=%v err=%v", task, ok, err)
	}
	_, ok, err = s.ClaimTask(ctx, store.TaskFilter{}, "w-0003", time.Now())
	if err != nil {
		t.Fatalf("ClaimTask on empty queue returned error: %v", err)
	}
	if ok {
		t.Fatal("expected no task available")
	}
}

func testClaimFilters(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustAdd(t, s, newTasks("build", 0, "b0"))
	mustAdd(t, s, newTasks("review", 1, "r1"))
	mustAdd(t, s, newTasks("review", 2, "r2"))

	layer := 2
	task, ok, err := s.ClaimTask(ctx, store.TaskFilter{Class: "review", Layer: &layer}, "w-0001", time.Now())
	if err != nil || !ok {
		t.Fatalf("ClaimTask failed: ok=%v err=%v", ok, err)
	}
	if task.Title != "r2" {
		t.Fatalf("expected layer 2 review task, got %+v", task)
	}
	task, ok, err = s.ClaimTask(ctx, store.TaskFilter{Class: "review"}, "w-0001", time.Now())
	if err != nil || !ok || task.Title != "r1" {
		t.Fatalf("expected r1, got %+v ok=%v err=%v", task, ok, err)
	}
	_, ok, err = s.ClaimTask(ctx, store.TaskFilter{Class: "review"}, "w-0001", time.Now())
	if err != nil || ok {
		t.Fatalf("expected no more review tasks, ok=%v err=%v", ok, err)
	}
}

func testConcurrentClaims(t *testing.T, s store.Store) {
	ids := mustAdd(t, s, newTasks("build", 0, "only"))

	const claimants = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		errs    []error
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			task, ok, err := s.ClaimTask(context.Background(), store.TaskFilter{}, owner, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				if task.ID != ids[0] {
					errs = append(errs, fmt.Errorf("claimed unexpected task %d", task.ID))
				}
				winners = append(winners, owner)
			}
		}(fmt.Sprintf("w-%04d", i+1))
	}
	wg.Wait()
	if len(errs) > 0 {
		t.Fatalf("claims returned errors: %v", errs)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %v", winners)
	}
	task, err := s.GetTask(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Owner != winners[0] || task.Status != store.TaskProcessing {
		t.Fatalf("stored owner %q does not match winner %q", task.Owner, winners[0])
	}
}

func testReleaseThenReclaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := mustAdd(t, s, newTasks("build", 0, "a", "b"))
	for i := 0; i < 2; i++ {
		if _, ok, err := s.ClaimTask(ctx, store.TaskFilter{}, "w-0001", time.Now()); err != nil || !ok {
			t.Fatalf("ClaimTask failed: ok=%v err=%v", ok, err)
		}
	}
	released, err := s.ReleaseTasks(ctx, "w-0001", time.Now())
	if err != nil {
		t.Fatalf("ReleaseTasks failed: %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("expected 2 released tasks, got %v", released)
	}
	task, err := s.GetTask(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != store.TaskPending || task.Owner != "" || task.StartedAt != nil {
		t.Fatalf("expected released task to be pending and unowned, got %+v", task)
	}
	task, ok, err := s.ClaimTask(ctx, store.TaskFilter{}, "w-0002", time.Now())
	if err != nil || !ok || task.ID != ids[0] || task.Owner != "w-0002" {
		t.Fatalf("expected reclaim by w-0002, got %+v ok=%v err=%v", task, ok, err)
	}
	again, err := s.ReleaseTasks(ctx, "w-0001", time.Now())
	if err != nil || len(again) != 0 {
		t.Fatalf("expected nothing left to release for w-0001, got %v err=%v", again, err)
	}
}

func testUpdateTaskAbort(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := mustAdd(t, s, newTasks("build", 0, "a"))
	boom := errors.New("boom")
	_, err := s.UpdateTask(ctx, ids[0], func(task *store.Task) error {
		task.Status = store.TaskFailed
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	task, err := s.GetTask(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task.Status != store.TaskPending {
		t.Fatalf("expected no change after aborted update, got %s", task.Status)
	}

	updated, err := s.UpdateTask(ctx, ids[0], func(task *store.Task) error {
		task.LastError = "flaky"
		task.RetryCount = 1
		task.Params = map[string]string{"k": "v"}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	reloaded, err := s.GetTask(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if reloaded.LastError != "flaky" || reloaded.RetryCount != 1 || reloaded.Params["k"] != "v" || updated.ID != ids[0] {
		t.Fatalf("update not persisted: %+v", reloaded)
	}
}

func testDecomposedParent(t *testing.T, s store.Store) {
	ctx := context.Background()
	parent := mustAdd(t, s, newTasks("epic", 0, "parent"))[0]
	children, err := s.AddTasks(ctx, parent, newTasks("build", 1, "c1", "c2"))
	if err != nil {
		t.Fatalf("AddTasks with parent failed: %v", err)
	}
	got, err := s.GetTask(ctx, parent)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if len(got.Children) != 2 || got.Children[0] != children[0] {
		t.Fatalf("expected children %v on parent, got %v", children, got.Children)
	}
	task, ok, err := s.ClaimTask(ctx, store.TaskFilter{}, "w-0001", time.Now())
	if err != nil || !ok {
		t.Fatalf("ClaimTask failed: ok=%v err=%v", ok, err)
	}
	if task.ID == parent {
		t.Fatal("decomposed parent must not be claimable")
	}
	if task.ParentID != parent {
		t.Fatalf("expected child task, got %+v", task)
	}

	listed, err := s.ListTasks(ctx, store.TaskQuery{ParentID: parent})
	if err != nil || len(listed) != 2 {
		t.Fatalf("expected two children listed, got %d err=%v", len(listed), err)
	}

	if _, err := s.AddTasks(ctx, task.ID, newTasks("build", 2, "nested")); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict attaching to a processing task, got %v", err)
	}
	if _, err := s.AddTasks(ctx, 999, newTasks("build", 2, "orphan")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing parent, got %v", err)
	}
}

func testCountTasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustAdd(t, s, newTasks("build", 0, "a", "b", "c"))
	if _, ok, err := s.ClaimTask(ctx, store.TaskFilter{}, "w-0001", time.Now()); err != nil || !ok {
		t.Fatalf("ClaimTask failed: ok=%v err=%v", ok, err)
	}
	counts, err := s.CountTasks(ctx)
	if err != nil {
		t.Fatalf("CountTasks failed: %v", err)
	}
	if counts[store.TaskPending] != 2 || counts[store.TaskProcessing] != 1 || counts.Total() != 3 {
		t.Fatalf("unexpected counts: %v", counts)
	}
	listed, err := s.ListTasks(ctx, store.TaskQuery{Statuses: []store.TaskStatus{store.TaskPending}, Limit: 1})
	if err != nil || len(listed) != 1 {
		t.Fatalf("expected limited listing, got %d err=%v", len(listed), err)
	}
	owned, err := s.ListTasks(ctx, store.TaskQuery{Owner: "w-0001"})
	if err != nil || len(owned) != 1 {
		t.Fatalf("expected one owned task, got %d err=%v", len(owned), err)
	}
}

func testCreateWorker(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := mustWorker(t, s, "coordinator")
	second := mustWorker(t, s, "lead")
	if first.ID != "w-0001" || second.ID != "w-0002" {
		t.Fatalf("unexpected ids %q %q", first.ID, second.ID)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("expected increasing sequence, got %d then %d", first.Seq, second.Seq)
	}

	var seen int
	_, err := s.CreateWorker(ctx, func(existing []store.Worker, seq int64) (store.Worker, error) {
		seen = len(existing)
		return store.Worker{ID: fmt.Sprintf("w-%04d", seq), Role: "worker", Layer: 1, ParentID: first.ID, Status: store.WorkerQueued, OutputDir: "/tmp/out"}, nil
	})
	if err != nil {
		t.Fatalf("CreateWorker failed: %v", err)
	}
	if seen != 2 {
		t.Fatalf("expected build to see 2 existing workers, saw %d", seen)
	}
	got, err := s.GetWorker(ctx, "w-0003")
	if err != nil {
		t.Fatalf("GetWorker failed: %v", err)
	}
	if got.ParentID != first.ID || got.Layer != 1 || got.OutputDir != "/tmp/out" {
		t.Fatalf("unexpected worker: %+v", got)
	}
	workers, err := s.ListWorkers(ctx)
	if err != nil || len(workers) != 3 || workers[0].ID != "w-0001" {
		t.Fatalf("unexpected worker listing: %v err=%v", workers, err)
	}
	if _, err := s.GetWorker(ctx, "w-0099"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testCreateWorkerAbort(t *testing.T, s store.Store) {
	ctx := context.Background()
	policy := errors.New("too deep")
	_, err := s.CreateWorker(ctx, func([]store.Worker, int64) (store.Worker, error) {
		return store.Worker{}, policy
	})
	if !errors.Is(err, policy) {
		t.Fatalf("expected build error, got %v", err)
	}
	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers failed: %v", err)
	}
	if len(workers) != 0 {
		t.Fatalf("expected no workers after rejected build, got %d", len(workers))
	}
}

func testHeartbeat(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := mustWorker(t, s, "worker")
	at := time.Now().Add(time.Second)
	if err := s.RecordHeartbeat(ctx, store.Heartbeat{WorkerID: w.ID, Status: store.WorkerWorking, CurrentTask: 4, Stage: "compile", Completed: 2, At: at}); err != nil {
		t.Fatalf("RecordHeartbeat failed: %v", err)
	}
	got, err := s.GetWorker(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorker failed: %v", err)
	}
	if got.Status != store.WorkerWorking || got.CurrentTask != 4 || got.Stage != "compile" || got.Completed != 2 {
		t.Fatalf("heartbeat not applied: %+v", got)
	}
	if got.LastHeartbeat == nil || got.LastSeen().Before(at.Add(-time.Millisecond)) {
		t.Fatalf("expected last heartbeat to drive liveness, got %v", got.LastHeartbeat)
	}

	if _, err := s.UpdateWorker(ctx, w.ID, func(w *store.Worker) error {
		w.Status = store.WorkerShutdown
		return nil
	}); err != nil {
		t.Fatalf("UpdateWorker failed: %v", err)
	}
	if err := s.RecordHeartbeat(ctx, store.Heartbeat{WorkerID: w.ID, Status: store.WorkerIdle, At: time.Now().Add(2 * time.Second)}); err != nil {
		t.Fatalf("RecordHeartbeat failed: %v", err)
	}
	got, err = s.GetWorker(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorker failed: %v", err)
	}
	if got.Status != store.WorkerShutdown {
		t.Fatalf("terminal status overwritten by heartbeat: %s", got.Status)
	}
	if got.Completed != 2 {
		t.Fatalf("expected counters not to move backwards, got %d", got.Completed)
	}

	if err := s.RecordHeartbeat(ctx, store.Heartbeat{WorkerID: "w-0404"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown worker, got %v", err)
	}
}

func testFinishedSentinel(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := mustWorker(t, s, "worker")
	finished, err := s.IsFinished(ctx, w.ID)
	if err != nil || finished {
		t.Fatalf("expected no sentinel yet, finished=%v err=%v", finished, err)
	}
	if err := s.MarkFinished(ctx, w.ID, time.Now()); err != nil {
		t.Fatalf("MarkFinished failed: %v", err)
	}
	if err := s.MarkFinished(ctx, w.ID, time.Now()); err != nil {
		t.Fatalf("second MarkFinished failed: %v", err)
	}
	finished, err = s.IsFinished(ctx, w.ID)
	if err != nil || !finished {
		t.Fatalf("expected sentinel, finished=%v err=%v", finished, err)
	}
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i, ev := range []store.Event{
		{Type: "task_created", TaskID: 1},
		{Type: "task_claimed", TaskID: 1, WorkerID: "w-0001"},
		{Type: "task_claimed", TaskID: 2, WorkerID: "w-0002"},
		{Type: "task_completed", TaskID: 1, WorkerID: "w-0001", Detail: "out/1"},
	} {
		ev.At = time.Now().Add(time.Duration(i) * time.Millisecond)
		if err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}
	events, err := s.ListEvents(ctx, store.EventQuery{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 4 || events[0].Type != "task_completed" || events[3].Type != "task_created" {
		t.Fatalf("expected newest first, got %+v", events)
	}
	if events[0].ID <= events[1].ID {
		t.Fatalf("expected descending ids, got %d then %d", events[0].ID, events[1].ID)
	}
	mine, err := s.ListEvents(ctx, store.EventQuery{WorkerID: "w-0001", Limit: 1})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(mine) != 1 || mine[0].Detail != "out/1" {
		t.Fatalf("unexpected filtered events: %+v", mine)
	}
}

func testSlots(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.InitSlots(ctx, 2); err != nil {
		if errors.Is(err, store.ErrUnsupported) {
			if _, err := s.AcquireSlot(ctx, "w-0001"); !errors.Is(err, store.ErrUnsupported) {
				t.Fatalf("expected ErrUnsupported from AcquireSlot, got %v", err)
			}
			return
		}
		t.Fatalf("InitSlots failed: %v", err)
	}
	first, err := s.AcquireSlot(ctx, "w-0001")
	if err != nil {
		t.Fatalf("AcquireSlot failed: %v", err)
	}
	again, err := s.AcquireSlot(ctx, "w-0001")
	if err != nil || again != first {
		t.Fatalf("expected idempotent acquire, got %d err=%v", again, err)
	}
	if _, err := s.AcquireSlot(ctx, "w-0002"); err != nil {
		t.Fatalf("AcquireSlot failed: %v", err)
	}
	if _, err := s.AcquireSlot(ctx, "w-0003"); !errors.Is(err, store.ErrNoSlot) {
		t.Fatalf("expected ErrNoSlot, got %v", err)
	}
	usage, err := s.SlotUsage(ctx)
	if err != nil || usage.Total != 2 || usage.Used != 2 {
		t.Fatalf("unexpected usage %+v err=%v", usage, err)
	}
	if err := s.ReleaseSlot(ctx, "w-0001"); err != nil {
		t.Fatalf("ReleaseSlot failed: %v", err)
	}
	if _, err := s.AcquireSlot(ctx, "w-0003"); err != nil {
		t.Fatalf("expected freed slot to be acquirable, got %v", err)
	}
}

func testHealth(t *testing.T, s store.Store) {
	ctx := context.Background()
	mustAdd(t, s, newTasks("build", 0, "a"))
	mustWorker(t, s, "worker")
	health, err := s.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.Reachable || health.Tasks != 1 || health.Workers != 1 || !health.Integrity {
		t.Fatalf("unexpected health: %+v", health)
	}
}
