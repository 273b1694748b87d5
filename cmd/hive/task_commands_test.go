package main

import (
	"encoding/json"
	"testing"

	"hive/internal/api"
	"hive/internal/errs"
)

func TestTaskAddListShow(t *testing.T) {
	env := setupCLITestEnv(t)

	out := mustRunCLI(t, env, "task", "add", "--class", "build", "--param", "target=linux", "compile the parser", "write the docs")
	requireContains(t, out, "Enqueued 2 task(s): 1, 2")

	out = mustRunCLI(t, env, "task", "list")
	requireContains(t, out, "compile the parser")
	requireContains(t, out, "write the docs")

	out = mustRunCLI(t, env, "task", "show", "1")
	requireContains(t, out, "build")
	requireContains(t, out, "Pending")
	requireContains(t, out, "linux")

	out = mustRunCLI(t, env, "task", "list", "--json", "--status", "pending")
	var tasks []api.TaskView
	if err := json.Unmarshal([]byte(out), &tasks); err != nil {
		t.Fatalf("decode task list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(tasks))
	}
}

func TestTaskAddRequiresClass(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"task", "add", "orphan payload"}, env.configPath); err == nil {
		t.Fatal("expected task add without --class to fail")
	}
}

func TestTaskCompleteRejectsPendingTask(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRunCLI(t, env, "task", "add", "--class", "build", "compile")

	_, _, err := runCLI(t, []string{"task", "complete", "1"}, env.configPath)
	if err == nil {
		t.Fatal("expected completing a pending task to fail")
	}
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("expected validation error, got %v (%s)", err, errs.KindOf(err))
	}
	if code := exitCode(err); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestTaskListRejectsUnknownStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"task", "list", "--status", "sleeping"}, env.configPath)
	if errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTaskDecomposeInheritsClass(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRunCLI(t, env, "task", "add", "--class", "build", "release everything")

	out := mustRunCLI(t, env, "task", "decompose", "1", "release linux", "release darwin")
	requireContains(t, out, "Task 1 decomposed into 2 subtask(s): 2, 3")

	out = mustRunCLI(t, env, "task", "list", "--class", "build")
	requireContains(t, out, "release darwin")

	out = mustRunCLI(t, env, "task", "show", "1")
	requireContains(t, out, "2, 3")
}

func TestParseTaskID(t *testing.T) {
	if id, err := parseTaskID(" 42 "); err != nil || id != 42 {
		t.Fatalf("parseTaskID(42) = %d, %v", id, err)
	}
	for _, value := range []string{"", "0", "-3", "abc"} {
		if _, err := parseTaskID(value); err == nil {
			t.Fatalf("expected parseTaskID(%q) to fail", value)
		}
	}
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"target = linux", "opt=O2"})
	if err != nil {
		t.Fatalf("parseParams failed: %v", err)
	}
	if params["target"] != "linux" || params["opt"] != "O2" {
		t.Fatalf("unexpected params: %v", params)
	}
	if _, err := parseParams([]string{"=value"}); err == nil {
		t.Fatal("expected empty key to fail")
	}
	if _, err := parseParams([]string{"novalue"}); err == nil {
		t.Fatal("expected missing '=' to fail")
	}
}
