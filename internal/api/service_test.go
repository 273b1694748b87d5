package api_test

import (
	"context"
	"testing"
	"time"

	"hive/internal/api"
	"hive/internal/config"
	"hive/internal/fleet"
	"hive/internal/launcher"
	"hive/internal/queue"
	"hive/internal/store"
	"hive/internal/testsupport"
)

type fixture struct {
	store   store.Store
	queue   *queue.Queue
	manager *fleet.Manager
	service *api.Service
	now     time.Time
}

func newFixture(t *testing.T, backend string) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend), testsupport.WithSlots(3))
	st := testsupport.MustOpenStore(t, cfg)
	f := &fixture{store: st, now: time.Now().UTC()}
	clock := func() time.Time { return f.now }
	f.queue = queue.New(st, queue.WithClock(clock))
	noop := launcher.Func(func(_ context.Context, req launcher.Request) (launcher.Session, error) {
		return launcher.Session{ID: "s-" + req.WorkerID, PID: 1}, nil
	})
	f.manager = fleet.NewManager(cfg, st, f.queue, noop, fleet.WithClock(clock))
	f.service = api.NewService(cfg, f.queue, api.WithClock(clock))
	return f
}

func TestDashboardAggregates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.BackendSQLite)

	root, err := f.manager.Provision(ctx, fleet.ProvisionRequest{Layer: 0})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	lead, err := f.manager.Provision(ctx, fleet.ProvisionRequest{ParentID: root.ID, Layer: 1})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if _, err := f.manager.Spawn(ctx, root.ID); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	ids, err := f.queue.Enqueue(ctx, queue.EnqueueRequest{Class: "build", Payloads: []string{"a", "b", "c", "d"}})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := f.queue.ClaimNext(ctx, root.ID, queue.Filter{}); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if _, err := f.queue.Complete(ctx, ids[0], "out"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// lead was never spawned or heard from; root spawned at the same instant.
	f.now = f.now.Add(10 * time.Minute)
	if err := f.manager.Heartbeat(ctx, store.Heartbeat{WorkerID: root.ID, Status: store.WorkerIdle, At: f.now}); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}

	dash, err := f.service.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if dash.Workers.Total != 2 || dash.Workers.ByStatus["queued"] != 1 || dash.Workers.ByStatus["idle"] != 1 {
		t.Fatalf("unexpected worker summary: %+v", dash.Workers)
	}
	if dash.Tasks.Total != 4 || dash.Tasks.ByStatus["pending"] != 3 || dash.Tasks.Done != 1 {
		t.Fatalf("unexpected task summary: %+v", dash.Tasks)
	}
	if dash.Tasks.CompletionPercent != 25 {
		t.Fatalf("expected 25%% completion, got %v", dash.Tasks.CompletionPercent)
	}
	if !dash.Slots.Tracked || dash.Slots.Total != 3 || dash.Slots.Used != 1 {
		t.Fatalf("unexpected slot summary: %+v", dash.Slots)
	}
	if len(dash.Unresponsive) != 1 || dash.Unresponsive[0] != lead.ID {
		t.Fatalf("expected only %s unresponsive, got %v", lead.ID, dash.Unresponsive)
	}
}

func TestDashboardFileBackendHasNoSlots(t *testing.T) {
	f := newFixture(t, config.BackendFile)
	dash, err := f.service.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("Dashboard failed: %v", err)
	}
	if dash.Slots.Tracked || dash.Tasks.Total != 0 || len(dash.Unresponsive) != 0 {
		t.Fatalf("unexpected empty dashboard: %+v", dash)
	}
	if dash.Backend != config.BackendFile {
		t.Fatalf("expected backend %q, got %q", config.BackendFile, dash.Backend)
	}
}

func TestFinishedWorkerNeverUnresponsive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.BackendSQLite)
	w, err := f.manager.Provision(ctx, fleet.ProvisionRequest{Layer: 0})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if err := f.store.MarkFinished(ctx, w.ID, f.now); err != nil {
		t.Fatalf("MarkFinished failed: %v", err)
	}
	f.now = f.now.Add(time.Hour)

	views, err := f.service.Workers(ctx)
	if err != nil {
		t.Fatalf("Workers failed: %v", err)
	}
	if len(views) != 1 || views[0].Unresponsive {
		t.Fatalf("expected finished worker to be healthy, got %+v", views)
	}
}

func TestTaskAndEventViews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, config.BackendSQLite)
	ids, err := f.queue.Enqueue(ctx, queue.EnqueueRequest{
		Class:    "review",
		Layer:    1,
		Payloads: []string{"check the parser\nwith extra detail"},
		Params:   map[string]string{"lang": "go"},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	view, err := f.service.Task(ctx, ids[0])
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	if view.Title != "check the parser" || view.Status != "pending" || view.Params["lang"] != "go" || view.CreatedAt == "" {
		t.Fatalf("unexpected task view: %+v", view)
	}
	if api.ParseTime(view.CreatedAt).IsZero() {
		t.Fatalf("expected parseable createdAt, got %q", view.CreatedAt)
	}

	events, err := f.service.Events(ctx, store.EventQuery{Limit: 5})
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != queue.EventTaskCreated || events[0].TaskID != ids[0] {
		t.Fatalf("unexpected events: %+v", events)
	}
}
