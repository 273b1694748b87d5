package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"hive/internal/config"
	"hive/internal/store"
)

const (
	tasksFileName  = "tasks.yaml"
	eventsFileName = "events.jsonl"
	workersDir     = "workers"
	heartbeatsDir  = "heartbeats"
	sentinelsDir   = "sentinels"
)

// Options tunes the advisory lock.
type Options struct {
	LockTimeout time.Duration
	LockPoll    time.Duration
}

// Store manages coordination state as documents under a root directory.
type Store struct {
	root string
	lock fileLock
}

var _ store.Store = (*Store)(nil)

// Open prepares the document tree under cfg.Store.Root.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return New(cfg.Store.Root, Options{LockTimeout: cfg.LockTimeout(), LockPoll: cfg.LockPoll()})
}

// New prepares the document tree under root.
func New(root string, opts Options) (*Store, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if opts.LockPoll <= 0 {
		opts.LockPoll = 100 * time.Millisecond
	}
	for _, dir := range []string{root, filepath.Join(root, workersDir), filepath.Join(root, heartbeatsDir), filepath.Join(root, sentinelsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{
		root: root,
		lock: fileLock{path: filepath.Join(root, LockFileName), timeout: opts.LockTimeout, poll: opts.LockPoll},
	}, nil
}

// Root returns the document directory.
func (s *Store) Root() string { return s.root }

// Close is a no-op; every operation opens and closes its own files.
func (s *Store) Close() error { return nil }

func (s *Store) withLock(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	release, err := s.lock.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (s *Store) tasksPath() string { return filepath.Join(s.root, tasksFileName) }

func (s *Store) eventsPath() string { return filepath.Join(s.root, eventsFileName) }

func (s *Store) workerPath(id string) string {
	return filepath.Join(s.root, workersDir, id+".yaml")
}

func (s *Store) heartbeatPath(id string) string {
	return filepath.Join(s.root, heartbeatsDir, id+".yaml")
}

func (s *Store) sentinelPath(id string) string {
	return filepath.Join(s.root, sentinelsDir, id+".finished")
}
