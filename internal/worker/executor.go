package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"hive/internal/store"
)

// Job is one claimed task handed to an Executor.
type Job struct {
	Task      store.Task
	WorkerID  string
	OutputDir string
	RequestID string
}

// Result is what an Executor reports on success.
type Result struct {
	Location string
}

// Executor performs a task's content.
type Executor interface {
	Execute(ctx context.Context, job Job) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, job Job) (Result, error) { return f(ctx, job) }

// CommandExecutor runs an external command per task. The task description is
// written to stdin; stdout is saved as the task's result file.
type CommandExecutor struct {
	Command []string
}

// Execute runs the command and returns the path of the captured output.
func (e CommandExecutor) Execute(ctx context.Context, job Job) (Result, error) {
	if len(e.Command) == 0 {
		return Result{}, errors.New("executor command is not configured")
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	outPath := filepath.Join(job.OutputDir, fmt.Sprintf("task-%d.out", job.Task.ID))
	out, err := os.Create(outPath)
	if err != nil {
		return Result{}, fmt.Errorf("create result file: %w", err)
	}
	defer out.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Dir = job.OutputDir
	cmd.Stdin = strings.NewReader(job.Task.Description)
	cmd.Stdout = out
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), jobEnv(job)...)

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return Result{}, fmt.Errorf("run %s: %w", filepath.Base(e.Command[0]), err)
		}
		return Result{}, fmt.Errorf("run %s: %w: %s", filepath.Base(e.Command[0]), err, lastLine(msg))
	}
	return Result{Location: outPath}, nil
}

func jobEnv(job Job) []string {
	env := []string{
		"HIVE_WORKER_ID=" + job.WorkerID,
		"HIVE_REQUEST_ID=" + job.RequestID,
		"HIVE_TASK_ID=" + strconv.FormatInt(job.Task.ID, 10),
		"HIVE_TASK_CLASS=" + job.Task.Class,
		"HIVE_TASK_TITLE=" + job.Task.Title,
		"HIVE_TASK_LAYER=" + strconv.Itoa(job.Task.Layer),
		"HIVE_OUTPUT_DIR=" + job.OutputDir,
	}
	keys := make([]string, 0, len(job.Task.Params))
	for key := range job.Task.Params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		env = append(env, "HIVE_PARAM_"+envKey(key)+"="+job.Task.Params[key])
	}
	return env
}

func envKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
}

func lastLine(s string) string {
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
