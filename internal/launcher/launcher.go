// Package launcher starts the execution environment for a provisioned worker.
//
// The fleet manager only depends on the Launcher interface. Exec is the
// default implementation: it expands a command template and starts a detached
// process whose output goes to a per-worker log file.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Template placeholders substituted per worker.
const (
	PlaceholderIdentity = "{identity}"
	PlaceholderWorkerID = "{worker_id}"
	PlaceholderConfig   = "{config}"
)

// Request identifies the worker being launched.
type Request struct {
	WorkerID     string
	Role         string
	Layer        int
	IdentityPath string
	ConfigPath   string
	OutputDir    string
}

// Session describes a launched worker environment.
type Session struct {
	ID        string
	PID       int
	StartedAt time.Time
}

// Launcher starts a worker's execution environment.
type Launcher interface {
	Launch(ctx context.Context, req Request) (Session, error)
}

// Stopper is implemented by launchers that can end a session they started.
// The fleet manager stops the previous session before a restart so a paused
// process does not end up running alongside its replacement.
type Stopper interface {
	Stop(ctx context.Context, pid int) error
}

// Func adapts a function to Launcher.
type Func func(ctx context.Context, req Request) (Session, error)

// Launch calls f.
func (f Func) Launch(ctx context.Context, req Request) (Session, error) { return f(ctx, req) }

// Exec launches workers as local processes.
type Exec struct {
	// Command is the argv template. Empty means re-invoking the current
	// binary as `worker run`.
	Command []string
	// LogDir receives <worker_id>.log; empty discards output.
	LogDir string
	// StopGrace is how long Stop waits after SIGTERM before SIGKILL.
	StopGrace time.Duration
}

const defaultStopGrace = 5 * time.Second

// DefaultCommand re-invokes the running executable as a worker.
func DefaultCommand() ([]string, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return []string{self, "worker", "run", "--identity", PlaceholderIdentity, "--config", PlaceholderConfig}, nil
}

// Expand substitutes the placeholders in template for req.
func Expand(template []string, req Request) []string {
	replacer := strings.NewReplacer(
		PlaceholderIdentity, req.IdentityPath,
		PlaceholderWorkerID, req.WorkerID,
		PlaceholderConfig, req.ConfigPath,
	)
	out := make([]string, 0, len(template))
	for _, arg := range template {
		out = append(out, replacer.Replace(arg))
	}
	return out
}

// Launch starts the process and returns without waiting for it.
func (e Exec) Launch(ctx context.Context, req Request) (Session, error) {
	if strings.TrimSpace(req.WorkerID) == "" {
		return Session{}, errors.New("launch: worker id is required")
	}
	template := e.Command
	if len(template) == 0 {
		var err error
		if template, err = DefaultCommand(); err != nil {
			return Session{}, err
		}
	}
	argv := Expand(template, req)
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	sessionID := uuid.NewString()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = req.OutputDir
	cmd.Env = append(os.Environ(),
		"HIVE_WORKER_ID="+req.WorkerID,
		"HIVE_SESSION_ID="+sessionID,
		"HIVE_IDENTITY="+req.IdentityPath,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var logFile *os.File
	if e.LogDir != "" {
		if err := os.MkdirAll(e.LogDir, 0o755); err != nil {
			return Session{}, fmt.Errorf("create launcher log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(e.LogDir, req.WorkerID+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return Session{}, fmt.Errorf("open worker log: %w", err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return Session{}, fmt.Errorf("start %s: %w", argv[0], err)
	}
	go func() {
		_ = cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
	}()

	return Session{ID: sessionID, PID: cmd.Process.Pid, StartedAt: time.Now().UTC()}, nil
}

// ProcessAlive reports whether pid refers to a running process.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Stop ends the process group Launch started for pid: SIGTERM first, then
// SIGKILL once the grace period passes. A pid that is gone, or that no longer
// leads its own process group, belongs to no live session and is ignored.
func (e Exec) Stop(ctx context.Context, pid int) error {
	if !ProcessAlive(pid) {
		return nil
	}
	if pgid, err := unix.Getpgid(pid); err != nil || pgid != pid {
		return nil
	}
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("terminate session %d: %w", pid, err)
	}

	grace := e.StopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !ProcessAlive(pid) {
				return nil
			}
		case <-deadline.C:
			if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
				return fmt.Errorf("kill session %d: %w", pid, err)
			}
			return nil
		}
	}
}
