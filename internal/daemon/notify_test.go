package daemon_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"hive/internal/daemon"
	"hive/internal/fleet"
	"hive/internal/queue"
	"hive/internal/testsupport"
)

type recordingNotifier struct {
	mu           sync.Mutex
	unresponsive []string
	drained      []int
	errors       []string
}

func (r *recordingNotifier) NotifyWorkerUnresponsive(_ context.Context, workerID string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unresponsive = append(r.unresponsive, workerID)
	return nil
}

func (r *recordingNotifier) NotifyWorkerRestarted(context.Context, string) error { return nil }
func (r *recordingNotifier) NotifyRestartFailed(context.Context, string) error   { return nil }
func (r *recordingNotifier) NotifyError(_ context.Context, err error, label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, label+": "+err.Error())
	return nil
}

func (r *recordingNotifier) TestNotification(context.Context) error { return nil }

func (r *recordingNotifier) NotifyQueueDrained(_ context.Context, done, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drained = append(r.drained, done, failed)
	return nil
}

func (r *recordingNotifier) snapshot() ([]string, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.unresponsive...), append([]int(nil), r.drained...)
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func TestDaemonNotifiesUnresponsiveWorker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st)
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, queue.EnqueueRequest{Class: "build", Payloads: []string{"compile"}}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	if _, err := fleet.NewManager(cfg, st, q, nil).Provision(ctx, fleet.ProvisionRequest{Layer: 0}); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	later := func() time.Time { return time.Now().Add(time.Hour) }
	m := fleet.NewManager(cfg, st, q, nil, fleet.WithClock(later))

	notifier := &recordingNotifier{}
	d, err := daemon.New(cfg, q, m, daemon.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	waitFor(t, 5*time.Second, func() bool {
		unresponsive, _ := notifier.snapshot()
		return len(unresponsive) == 1 && unresponsive[0] == "w-0001"
	})
	if report := d.Status().LastReport; len(report.Unresponsive) != 1 {
		t.Fatalf("expected last report to list one unresponsive worker, got %+v", report)
	}
}

func TestDaemonNotifiesWhenDrained(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.OnDrained = true
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st)

	notifier := &recordingNotifier{}
	d, err := daemon.New(cfg, q, fleet.NewManager(cfg, st, q, nil),
		daemon.WithStopWhenDrained(),
		daemon.WithNotifier(notifier),
	)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	waitFor(t, 5*time.Second, func() bool {
		_, drained := notifier.snapshot()
		return len(drained) == 2
	})
}

func TestDaemonNotifiesHealthCheckFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st)
	m := fleet.NewManager(cfg, st, q, nil)
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	notifier := &recordingNotifier{}
	d, err := daemon.New(cfg, q, m, daemon.WithNotifier(notifier))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	waitFor(t, 5*time.Second, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.errors) == 1
	})
	if d.Status().LastError == "" {
		t.Fatal("expected the failed health check to be reported in status")
	}
}
