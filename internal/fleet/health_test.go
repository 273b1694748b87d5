package fleet_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"hive/internal/fleet"
	"hive/internal/launcher"
	"hive/internal/queue"
	"hive/internal/store"
	"hive/internal/testsupport"
)

const pastThreshold = 121 * time.Second

func (h *harness) spawnedWorker(t *testing.T) store.Worker {
	t.Helper()
	w := h.provision(t, "", 0)
	if _, err := h.manager.Spawn(context.Background(), w.ID); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	return w
}

func (h *harness) tick(t *testing.T) fleet.HealthReport {
	t.Helper()
	report, err := h.manager.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	return report
}

func hasEvent(t *testing.T, st store.Store, eventType, workerID string) bool {
	t.Helper()
	events, err := st.ListEvents(context.Background(), store.EventQuery{WorkerID: workerID, Limit: 200})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	for _, ev := range events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

func TestHealthyWorkerStaysHealthy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		w := h.spawnedWorker(t)
		h.clock.Advance(60 * time.Second)
		report := h.tick(t)
		if len(report.Healthy) != 1 || len(report.Unresponsive) != 0 || h.manager.Failures(w.ID) != 0 {
			t.Fatalf("expected healthy worker, got %+v", report)
		}
	})
}

func TestUnresponsiveWorkerReleasedAndRestarted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		ctx := context.Background()
		w := h.spawnedWorker(t)
		ids, err := h.queue.Enqueue(ctx, queue.EnqueueRequest{Class: "build", Payloads: []string{"a"}})
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		if _, err := h.queue.ClaimNext(ctx, w.ID, queue.Filter{}); err != nil {
			t.Fatalf("ClaimNext failed: %v", err)
		}

		h.clock.Advance(pastThreshold)
		report := h.tick(t)
		if h.manager.Failures(w.ID) != 1 || report.Released != 1 {
			t.Fatalf("expected first failure with release, got failures=%d report=%+v", h.manager.Failures(w.ID), report)
		}
		task := testsupport.MustGetTask(t, h.store, ids[0])
		if task.Status != store.TaskPending || task.Owner != "" {
			t.Fatalf("expected claimed task released, got %+v", task)
		}
		if got := testsupport.MustGetWorker(t, h.store, w.ID); got.Status != store.WorkerError {
			t.Fatalf("expected worker in error, got %s", got.Status)
		}
		if !hasEvent(t, h.store, fleet.EventWorkerUnresponsive, w.ID) {
			t.Fatal("expected worker_unresponsive event")
		}

		h.clock.Advance(30 * time.Second)
		h.tick(t)
		if h.manager.Failures(w.ID) != 2 || h.launcher.Calls() != 1 {
			t.Fatalf("expected no restart before threshold, failures=%d launches=%d", h.manager.Failures(w.ID), h.launcher.Calls())
		}

		h.clock.Advance(30 * time.Second)
		report = h.tick(t)
		if len(report.Restarted) != 1 || h.launcher.Calls() != 2 {
			t.Fatalf("expected restart on third failure, report=%+v launches=%d", report, h.launcher.Calls())
		}
		if h.manager.Failures(w.ID) != 0 {
			t.Fatalf("expected counter reset after restart, got %d", h.manager.Failures(w.ID))
		}
		got := testsupport.MustGetWorker(t, h.store, w.ID)
		if got.Status != store.WorkerIdle {
			t.Fatalf("expected restarted worker idle, got %s", got.Status)
		}
		if !hasEvent(t, h.store, fleet.EventWorkerRestarted, w.ID) {
			t.Fatal("expected worker_restarted event")
		}

		report = h.tick(t)
		if len(report.Unresponsive) != 0 {
			t.Fatalf("expected restarted worker healthy, got %+v", report)
		}
	})
}

func TestRestartFailureRaisesAlert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		h.launcher.fail = func(call int) error {
			if call > 1 {
				return errors.New("launcher unavailable")
			}
			return nil
		}
		w := h.spawnedWorker(t)
		for i := 0; i < 3; i++ {
			h.clock.Advance(pastThreshold)
			h.tick(t)
		}
		if h.launcher.Calls() != 2 {
			t.Fatalf("expected exactly one restart attempt, got %d launches", h.launcher.Calls())
		}
		got := testsupport.MustGetWorker(t, h.store, w.ID)
		if got.Status != store.WorkerError {
			t.Fatalf("expected worker left in error, got %s", got.Status)
		}
		if !hasEvent(t, h.store, fleet.EventRestartFailed, w.ID) {
			t.Fatal("expected restart_failed event")
		}

		// The budget is spent: further failures do not retry.
		h.clock.Advance(pastThreshold)
		h.tick(t)
		if h.launcher.Calls() != 2 || h.manager.Failures(w.ID) != 4 {
			t.Fatalf("expected no further restarts, launches=%d failures=%d", h.launcher.Calls(), h.manager.Failures(w.ID))
		}
	})
}

func TestHeartbeatResetsCounter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		w := h.spawnedWorker(t)
		h.clock.Advance(pastThreshold)
		h.tick(t)
		if h.manager.Failures(w.ID) != 1 {
			t.Fatalf("expected one failure, got %d", h.manager.Failures(w.ID))
		}

		if err := h.manager.Heartbeat(context.Background(), store.Heartbeat{WorkerID: w.ID, Status: store.WorkerIdle}); err != nil {
			t.Fatalf("Heartbeat failed: %v", err)
		}
		h.tick(t)
		if h.manager.Failures(w.ID) != 0 {
			t.Fatalf("expected heartbeat to reset the counter, got %d", h.manager.Failures(w.ID))
		}

		for i := 0; i < 2; i++ {
			h.clock.Advance(pastThreshold)
			h.tick(t)
		}
		if h.launcher.Calls() != 1 {
			t.Fatalf("expected no restart after reset, got %d launches", h.launcher.Calls())
		}
	})
}

func TestFinishedSentinelKeepsWorkerHealthy(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		w := h.spawnedWorker(t)
		if err := h.store.MarkFinished(context.Background(), w.ID, h.clock.Now()); err != nil {
			t.Fatalf("MarkFinished failed: %v", err)
		}
		h.clock.Advance(10 * pastThreshold)
		report := h.tick(t)
		if len(report.Unresponsive) != 0 || h.manager.Failures(w.ID) != 0 {
			t.Fatalf("expected sentinel to keep worker healthy, got %+v", report)
		}
	})
}

func TestSupervisorStopsWhenDrained(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		h := newHarness(t, backend)
		sup := fleet.NewSupervisor(h.manager, h.queue, 10*time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sup.Run(ctx); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if ctx.Err() != nil {
			t.Fatal("expected supervisor to return before the deadline on an empty queue")
		}
	})
}

func TestSupervisorTicksWhileWorkOutstanding(t *testing.T) {
	h := newHarness(t, "sqlite")
	ctx := context.Background()
	if _, err := h.queue.Enqueue(ctx, queue.EnqueueRequest{Class: "build", Payloads: []string{"a"}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	sup := fleet.NewSupervisor(h.manager, h.queue, 5*time.Millisecond)
	ticks := make(chan fleet.HealthReport, 16)
	sup.OnTick = func(r fleet.HealthReport) {
		select {
		case ticks <- r:
		default:
		}
	}
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-ticks:
	case <-time.After(5 * time.Second):
		t.Fatal("expected at least one tick")
	}
	sup.Stop()
	if sup.Running() {
		t.Fatal("expected supervisor stopped")
	}
}

type stoppingLauncher struct {
	fakeLauncher
	order   []string
	stopErr error
}

func (l *stoppingLauncher) Launch(ctx context.Context, req launcher.Request) (launcher.Session, error) {
	l.mu.Lock()
	l.order = append(l.order, "launch")
	l.mu.Unlock()
	return l.fakeLauncher.Launch(ctx, req)
}

func (l *stoppingLauncher) Stop(_ context.Context, pid int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, fmt.Sprintf("stop %d", pid))
	return l.stopErr
}

func newStoppingHarness(t *testing.T, backend string, l *stoppingLauncher) *harness {
	t.Helper()
	h := newHarness(t, backend)
	h.manager = fleet.NewManager(h.cfg, h.store, h.queue, l, fleet.WithClock(h.clock.Now), fleet.WithConfigPath("/etc/hive.toml"))
	h.launcher = &l.fakeLauncher
	return h
}

func TestRestartStopsPreviousSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		l := &stoppingLauncher{}
		h := newStoppingHarness(t, backend, l)
		w := h.spawnedWorker(t)
		for i := 0; i < 3; i++ {
			h.clock.Advance(pastThreshold)
			h.tick(t)
		}

		want := []string{"launch", "stop 4242", "launch"}
		if fmt.Sprint(l.order) != fmt.Sprint(want) {
			t.Fatalf("expected %v, got %v", want, l.order)
		}
		if !hasEvent(t, h.store, fleet.EventSessionStopped, w.ID) {
			t.Fatal("expected session_stopped event")
		}
		if got := testsupport.MustGetWorker(t, h.store, w.ID); got.Status != store.WorkerIdle {
			t.Fatalf("expected restarted worker idle, got %s", got.Status)
		}
	})
}

func TestRestartFailsWhenPreviousSessionCannotBeStopped(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend string) {
		l := &stoppingLauncher{stopErr: errors.New("operation not permitted")}
		h := newStoppingHarness(t, backend, l)
		w := h.spawnedWorker(t)
		var report fleet.HealthReport
		for i := 0; i < 3; i++ {
			h.clock.Advance(pastThreshold)
			report = h.tick(t)
		}

		if len(report.RestartFailed) != 1 || h.launcher.Calls() != 1 {
			t.Fatalf("expected restart to fail without relaunching, report=%+v launches=%d", report, h.launcher.Calls())
		}
		if !hasEvent(t, h.store, fleet.EventRestartFailed, w.ID) {
			t.Fatal("expected restart_failed event")
		}
	})
}
