package worker_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hive/internal/store"
	"hive/internal/testsupport"
	"hive/internal/worker"
)

func TestCommandExecutorCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	script := testsupport.WriteScript(t, filepath.Join(dir, "exec.sh"),
		`echo "$HIVE_TASK_CLASS $HIVE_TASK_ID $HIVE_PARAM_BUILD_MODE"; cat`)

	exec := worker.CommandExecutor{Command: []string{script}}
	result, err := exec.Execute(context.Background(), worker.Job{
		Task: store.Task{
			ID:          7,
			Class:       "build",
			Description: "compile the parser",
			Params:      map[string]string{"build-mode": "release"},
		},
		WorkerID:  "w-0001",
		OutputDir: filepath.Join(dir, "out"),
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Location != filepath.Join(dir, "out", "task-7.out") {
		t.Fatalf("unexpected result location %q", result.Location)
	}
	data, err := os.ReadFile(result.Location)
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	want := "build 7 release\ncompile the parser"
	if got := strings.TrimSpace(string(data)); got != want {
		t.Fatalf("unexpected output %q, want %q", got, want)
	}
}

func TestCommandExecutorReportsStderr(t *testing.T) {
	dir := t.TempDir()
	script := testsupport.WriteScript(t, filepath.Join(dir, "fail.sh"), "echo 'starting' >&2; echo 'disk full' >&2; exit 3")

	exec := worker.CommandExecutor{Command: []string{script}}
	_, err := exec.Execute(context.Background(), worker.Job{
		Task:      store.Task{ID: 1, Class: "build", Description: "x"},
		OutputDir: filepath.Join(dir, "out"),
	})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected error carrying last stderr line, got %v", err)
	}
}

func TestCommandExecutorRequiresCommand(t *testing.T) {
	if _, err := (worker.CommandExecutor{}).Execute(context.Background(), worker.Job{OutputDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for missing command")
	}
}
