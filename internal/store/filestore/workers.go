package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"hive/internal/store"
)

// heartbeatDocument is the on-disk heartbeat. RecordedAt is the store's own
// clock, so ordering against registry writes does not depend on the worker's.
type heartbeatDocument struct {
	store.Heartbeat `yaml:",inline"`
	RecordedAt      time.Time `yaml:"recorded_at"`
}

// overlay folds a worker's own heartbeat document into its registry record.
// The heartbeat wins for status and position-in-work only when it was
// recorded after the last registry write; counters never move backwards.
func overlay(w store.Worker, doc heartbeatDocument) store.Worker {
	hb := doc.Heartbeat
	if hb.At.IsZero() {
		return w
	}
	if w.LastHeartbeat == nil || hb.At.After(*w.LastHeartbeat) {
		at := hb.At
		w.LastHeartbeat = &at
	}
	if doc.RecordedAt.After(w.UpdatedAt) {
		if hb.Status != "" && !w.Status.Terminal() {
			w.Status = hb.Status
		}
		w.CurrentTask = hb.CurrentTask
		w.Stage = hb.Stage
	}
	w.Completed = max(w.Completed, hb.Completed)
	w.Failed = max(w.Failed, hb.Failed)
	return w
}

func (s *Store) readWorker(id string) (store.Worker, error) {
	var worker store.Worker
	found, err := readYAML(s.workerPath(id), &worker)
	if err != nil {
		return store.Worker{}, err
	}
	if !found {
		return store.Worker{}, fmt.Errorf("worker %s: %w", id, store.ErrNotFound)
	}
	var hb heartbeatDocument
	if _, err := readYAML(s.heartbeatPath(id), &hb); err != nil {
		return store.Worker{}, err
	}
	return overlay(worker, hb), nil
}

func (s *Store) readWorkers() ([]store.Worker, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, workersDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	workers := make([]store.Worker, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") || strings.HasPrefix(name, ".") {
			continue
		}
		worker, err := s.readWorker(strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			return nil, err
		}
		workers = append(workers, worker)
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].Seq < workers[j].Seq })
	return workers, nil
}

// CreateWorker runs build against every existing worker under the lock.
func (s *Store) CreateWorker(ctx context.Context, build func(existing []store.Worker, nextSeq int64) (store.Worker, error)) (store.Worker, error) {
	var created store.Worker
	err := s.withLock(ctx, func() error {
		existing, err := s.readWorkers()
		if err != nil {
			return err
		}
		var maxSeq int64
		for _, w := range existing {
			if w.Seq > maxSeq {
				maxSeq = w.Seq
			}
		}
		worker, err := build(existing, maxSeq+1)
		if err != nil {
			return err
		}
		if strings.TrimSpace(worker.ID) == "" {
			return errors.New("create worker: build returned an empty id")
		}
		if _, err := os.Stat(s.workerPath(worker.ID)); err == nil {
			return fmt.Errorf("worker %s already exists: %w", worker.ID, store.ErrConflict)
		}
		if worker.Seq == 0 {
			worker.Seq = maxSeq + 1
		}
		now := time.Now().UTC()
		if worker.CreatedAt.IsZero() {
			worker.CreatedAt = now
		}
		worker.UpdatedAt = now
		if err := writeYAML(s.workerPath(worker.ID), worker); err != nil {
			return err
		}
		created = worker
		return nil
	})
	if err != nil {
		return store.Worker{}, err
	}
	return created, nil
}

// GetWorker returns the registry record with its latest heartbeat folded in.
func (s *Store) GetWorker(_ context.Context, id string) (store.Worker, error) {
	return s.readWorker(id)
}

// UpdateWorker applies mutate to the merged view and rewrites the registry record.
func (s *Store) UpdateWorker(ctx context.Context, id string, mutate func(*store.Worker) error) (store.Worker, error) {
	var updated store.Worker
	err := s.withLock(ctx, func() error {
		worker, err := s.readWorker(id)
		if err != nil {
			return err
		}
		if err := mutate(&worker); err != nil {
			return err
		}
		worker.ID = id
		worker.UpdatedAt = time.Now().UTC()
		if err := writeYAML(s.workerPath(id), worker); err != nil {
			return err
		}
		updated = worker
		return nil
	})
	if err != nil {
		return store.Worker{}, err
	}
	return updated, nil
}

// ListWorkers returns every worker in sequence order.
func (s *Store) ListWorkers(_ context.Context) ([]store.Worker, error) {
	return s.readWorkers()
}

// RecordHeartbeat replaces the worker's heartbeat document. Only the worker
// itself writes this file, so no lock is taken.
func (s *Store) RecordHeartbeat(_ context.Context, hb store.Heartbeat) error {
	if _, err := os.Stat(s.workerPath(hb.WorkerID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("worker %s: %w", hb.WorkerID, store.ErrNotFound)
		}
		return fmt.Errorf("stat worker: %w", err)
	}
	if hb.At.IsZero() {
		hb.At = time.Now()
	}
	hb.At = hb.At.UTC()

	var previous heartbeatDocument
	if _, err := readYAML(s.heartbeatPath(hb.WorkerID), &previous); err != nil {
		return err
	}
	hb.Completed = max(hb.Completed, previous.Completed)
	hb.Failed = max(hb.Failed, previous.Failed)
	return writeYAML(s.heartbeatPath(hb.WorkerID), heartbeatDocument{Heartbeat: hb, RecordedAt: time.Now().UTC()})
}

// MarkFinished creates the worker's sentinel file if it does not exist yet.
func (s *Store) MarkFinished(_ context.Context, workerID string, at time.Time) error {
	if _, err := os.Stat(s.workerPath(workerID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("worker %s: %w", workerID, store.ErrNotFound)
		}
		return fmt.Errorf("stat worker: %w", err)
	}
	file, err := os.OpenFile(s.sentinelPath(workerID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	defer file.Close()
	if _, err := file.WriteString(at.UTC().Format(time.RFC3339Nano) + "\n"); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	return nil
}

// IsFinished reports whether the sentinel file exists.
func (s *Store) IsFinished(_ context.Context, workerID string) (bool, error) {
	_, err := os.Stat(s.sentinelPath(workerID))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat sentinel: %w", err)
}
