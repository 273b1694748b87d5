package filestore

import (
	"context"
	"fmt"
	"os"

	"hive/internal/config"
	"hive/internal/store"
)

// CheckHealth reports whether the document tree is readable and who holds the lock.
func (s *Store) CheckHealth(ctx context.Context) (store.Health, error) {
	health := store.Health{Backend: config.BackendFile, Location: s.root, Integrity: true}

	info, err := os.Stat(s.root)
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("stat store root: %w", err)
	}
	if !info.IsDir() {
		return health, fmt.Errorf("store root %q is not a directory", s.root)
	}
	health.Reachable = true

	if age, ok := s.lock.age(); ok {
		health.LockHeld = true
		health.LockAge = age
	}

	doc, err := s.loadTasks()
	if err != nil {
		health.Integrity = false
		health.Error = err.Error()
		return health, nil
	}
	health.Tasks = len(doc.Tasks)

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		health.Integrity = false
		health.Error = err.Error()
		return health, nil
	}
	health.Workers = len(workers)
	return health, nil
}
