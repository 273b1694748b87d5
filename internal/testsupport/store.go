package testsupport

import (
	"context"
	"testing"

	"hive/internal/config"
	"hive/internal/store"
	"hive/internal/storeaccess"
)

// MustOpenStore opens the configured backend for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) store.Store {
	t.Helper()

	st, err := storeaccess.Open(cfg)
	if err != nil {
		t.Fatalf("storeaccess.Open: %v", err)
	}
	if _, err := storeaccess.Initialize(context.Background(), cfg, st); err != nil {
		t.Fatalf("storeaccess.Initialize: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// Backends lists every store backend so tests can run against each.
func Backends() []string {
	return []string{config.BackendSQLite, config.BackendFile}
}

// MustGetTask fetches a task or fails the test.
func MustGetTask(t testing.TB, st store.Store, id int64) store.Task {
	t.Helper()

	task, err := st.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask(%d): %v", id, err)
	}
	return task
}

// MustGetWorker fetches a worker or fails the test.
func MustGetWorker(t testing.TB, st store.Store, id string) store.Worker {
	t.Helper()

	w, err := st.GetWorker(context.Background(), id)
	if err != nil {
		t.Fatalf("GetWorker(%s): %v", id, err)
	}
	return w
}
