package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"hive/internal/config"
	"hive/internal/deps"
	"hive/internal/launcher"
	"hive/internal/store"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll checks the store directories and, when st is non-nil, the store
// itself, followed by the configured commands.
func RunAll(ctx context.Context, cfg *config.Config, st store.Store) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Store root", cfg.Store.Root),
		CheckDirectoryAccess("Output root", cfg.OutputRoot()),
	}
	if cfg.Launcher.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Launcher logs", cfg.Launcher.LogDir))
	}
	if st != nil {
		results = append(results, CheckStore(ctx, st))
	}
	for _, status := range CheckSystemDeps(cfg) {
		result := Result{Name: status.Name, Passed: status.Available || status.Optional}
		switch {
		case status.Available:
			result.Detail = status.Path
		case status.Optional:
			result.Detail = status.Detail + " (optional)"
		default:
			result.Detail = status.Detail
		}
		results = append(results, result)
	}
	return results
}

// CheckDirectoryAccess verifies path is a directory the process can use.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckStore runs the backend's own health probe.
func CheckStore(ctx context.Context, st store.Store) Result {
	const name = "Store"
	health, err := st.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if health.Error != "" {
		return Result{Name: name, Detail: health.Error}
	}
	detail := fmt.Sprintf("%s at %s: %d tasks, %d workers", health.Backend, health.Location, health.Tasks, health.Workers)
	if health.SchemaVersion > 0 {
		detail += fmt.Sprintf(", schema v%d", health.SchemaVersion)
	}
	if health.LockHeld {
		detail += fmt.Sprintf(", lock held for %s", health.LockAge.Round(time.Millisecond))
	}
	if !health.Integrity {
		return Result{Name: name, Detail: detail + " (integrity check failed)"}
	}
	return Result{Name: name, Passed: health.Reachable, Detail: detail}
}

// CheckSystemDeps resolves the launcher and executor commands. An empty
// launcher template falls back to re-invoking the current binary.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	launch := cfg.Launcher.Command
	if len(launch) == 0 {
		if fallback, err := launcher.DefaultCommand(); err == nil {
			launch = fallback
		}
	}
	return deps.CheckBinaries([]deps.Requirement{
		deps.FromArgv("Launcher", "Starts worker sessions", launch, false),
		deps.FromArgv("Executor", "Runs task payloads in `hive worker run`", cfg.Worker.ExecutorCommand, true),
	})
}
