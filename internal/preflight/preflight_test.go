package preflight_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hive/internal/config"
	"hive/internal/preflight"
	"hive/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", t.TempDir())
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := preflight.CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := preflight.CheckDirectoryAccess("test", f); result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckStore(t *testing.T) {
	for _, backend := range testsupport.Backends() {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend))
			st := testsupport.MustOpenStore(t, cfg)

			result := preflight.CheckStore(context.Background(), st)
			if !result.Passed {
				t.Fatalf("expected healthy store, got: %s", result.Detail)
			}
			if !strings.Contains(result.Detail, backend) {
				t.Fatalf("expected backend in detail, got: %s", result.Detail)
			}
		})
	}
}

func TestRunAllReportsMissingLauncher(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithLauncherCommand("clearly-not-present-launcher", "{identity}"),
		testsupport.WithStubbedBinaries(0, "task-runner"),
	)
	cfg.Worker.ExecutorCommand = []string{"task-runner"}
	st := testsupport.MustOpenStore(t, cfg)

	results := preflight.RunAll(context.Background(), cfg, st)
	byName := make(map[string]preflight.Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	for _, name := range []string{"Store root", "Output root", "Store"} {
		if !byName[name].Passed {
			t.Fatalf("expected %s to pass, got: %s", name, byName[name].Detail)
		}
	}
	if byName["Launcher"].Passed {
		t.Fatal("expected missing launcher to fail")
	}
	if !byName["Executor"].Passed || !strings.HasSuffix(byName["Executor"].Detail, "task-runner") {
		t.Fatalf("expected executor to resolve, got: %+v", byName["Executor"])
	}
}

func TestRunAllTreatsExecutorAsOptional(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	results := preflight.RunAll(context.Background(), cfg, nil)
	for _, r := range results {
		if r.Name == "Store" {
			t.Fatal("store check should be skipped without a store")
		}
		if r.Name == "Executor" && !r.Passed {
			t.Fatalf("expected unset executor to be optional, got: %s", r.Detail)
		}
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if results := preflight.RunAll(context.Background(), (*config.Config)(nil), nil); results != nil {
		t.Fatalf("expected nil results, got %v", results)
	}
}
