package launcher_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hive/internal/launcher"
	"hive/internal/testsupport"
)

func TestExpand(t *testing.T) {
	got := launcher.Expand(
		[]string{"agent", "--identity={identity}", "--id", "{worker_id}", "{config}"},
		launcher.Request{WorkerID: "w-0002", IdentityPath: "/o/w-0002/worker.toml", ConfigPath: "/p/hive.toml"},
	)
	want := []string{"agent", "--identity=/o/w-0002/worker.toml", "--id", "w-0002", "/p/hive.toml"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("Expand = %v, want %v", got, want)
	}
}

func TestExecLaunchWritesLog(t *testing.T) {
	dir := t.TempDir()
	script := testsupport.WriteScript(t, filepath.Join(dir, "agent.sh"), `echo "started $1 $HIVE_WORKER_ID"`)
	logDir := filepath.Join(dir, "logs")

	l := launcher.Exec{Command: []string{script, "{worker_id}"}, LogDir: logDir}
	session, err := l.Launch(context.Background(), launcher.Request{WorkerID: "w-0001", OutputDir: dir})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if session.ID == "" || session.PID <= 0 {
		t.Fatalf("unexpected session: %+v", session)
	}

	logPath := filepath.Join(logDir, "w-0001.log")
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(logPath)
		if strings.Contains(string(data), "started w-0001 w-0001") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected launcher output in log, got %q", string(data))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestExecLaunchMissingBinary(t *testing.T) {
	l := launcher.Exec{Command: []string{filepath.Join(t.TempDir(), "missing")}}
	if _, err := l.Launch(context.Background(), launcher.Request{WorkerID: "w-0001"}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestProcessAlive(t *testing.T) {
	if !launcher.ProcessAlive(os.Getpid()) {
		t.Fatal("expected current process to be alive")
	}
	if launcher.ProcessAlive(0) || launcher.ProcessAlive(-1) {
		t.Fatal("expected non-positive pids to be reported dead")
	}
}

func TestFuncAdapter(t *testing.T) {
	var got launcher.Request
	l := launcher.Func(func(_ context.Context, req launcher.Request) (launcher.Session, error) {
		got = req
		return launcher.Session{ID: "s-1"}, nil
	})
	session, err := l.Launch(context.Background(), launcher.Request{WorkerID: "w-0009"})
	if err != nil || session.ID != "s-1" || got.WorkerID != "w-0009" {
		t.Fatalf("unexpected adapter result: %+v %v %+v", session, err, got)
	}
}

func TestExecStopEndsSession(t *testing.T) {
	l := launcher.Exec{Command: []string{"sleep", "30"}, StopGrace: 2 * time.Second}
	session, err := l.Launch(context.Background(), launcher.Request{WorkerID: "w-0001", OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if !launcher.ProcessAlive(session.PID) {
		t.Fatal("expected launched session to be running")
	}

	if err := l.Stop(context.Background(), session.PID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for launcher.ProcessAlive(session.PID) {
		if time.Now().After(deadline) {
			t.Fatalf("expected session %d to be stopped", session.PID)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := l.Stop(context.Background(), session.PID); err != nil {
		t.Fatalf("expected stopping an ended session to be a no-op, got %v", err)
	}
}
