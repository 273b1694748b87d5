package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"hive/internal/config"
	"hive/internal/daemon"
	"hive/internal/fleet"
	"hive/internal/queue"
	"hive/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st)
	m := fleet.NewManager(cfg, st, q, nil)
	d, err := daemon.New(cfg, q, m)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if status := d.Status(); !status.Running || status.LockFilePath != cfg.DaemonLockPath() {
		t.Fatalf("unexpected status: %+v", status)
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := newDaemon(t, cfg)
	second := newDaemon(t, cfg)

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := second.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start after release failed: %v", err)
	}
	second.Stop()
}

func TestDaemonKeepsSupervisingWhenDrained(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	select {
	case <-d.Done():
		t.Fatal("supervisor stopped on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}
	if !d.Status().SupervisorRunning {
		t.Fatal("expected supervisor to be running")
	}
}

func TestDaemonServesDashboard(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Daemon.APIBind = "127.0.0.1:0"
	cfg.Daemon.APIToken = "secret"
	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer d.Stop()

	url := "http://" + d.APIAddr() + "/api/dashboard"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var dash struct {
		Backend string `json:"backend"`
		Tasks   struct {
			Total int `json:"total"`
		} `json:"tasks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dash); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dash.Backend != config.BackendSQLite || dash.Tasks.Total != 0 {
		t.Fatalf("unexpected dashboard: %+v", dash)
	}
}

func TestDaemonStopWhenDrained(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st)
	d, err := daemon.New(cfg, q, fleet.NewManager(cfg, st, q, nil), daemon.WithStopWhenDrained())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer d.Stop()
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor kept running on an empty queue")
	}
}
