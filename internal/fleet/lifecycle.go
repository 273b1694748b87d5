package fleet

import (
	"context"
	"errors"
	"fmt"

	"hive/internal/launcher"
	"hive/internal/logging"
	"hive/internal/store"
	"hive/internal/telemetry"
)

// Spawn takes a capacity slot when capacity is tracked and launches the
// worker. A failed launch frees the slot, records the error and keeps the
// worker for a later retry.
func (m *Manager) Spawn(ctx context.Context, workerID string) (worker store.Worker, err error) {
	ctx, span := telemetry.StartSpan(ctx, m.telemetry.Tracer, "fleet.spawn", telemetry.AttrWorkerID.String(workerID))
	defer func() { telemetry.EndSpan(span, err) }()

	worker, err = m.store.GetWorker(ctx, workerID)
	if err != nil {
		return store.Worker{}, err
	}
	if worker.Status.Terminal() {
		return worker, fmt.Errorf("spawn %s: %w", workerID, ErrWorkerRetired)
	}

	slotHeld := false
	if _, err := m.store.AcquireSlot(ctx, workerID); err != nil {
		if !errors.Is(err, store.ErrUnsupported) {
			return worker, m.spawnFailed(ctx, worker, false, fmt.Errorf("acquire slot: %w", err))
		}
	} else {
		slotHeld = true
	}

	session, err := m.launcher.Launch(ctx, launcher.Request{
		WorkerID:     worker.ID,
		Role:         worker.Role,
		Layer:        worker.Layer,
		IdentityPath: m.IdentityPath(worker.ID),
		ConfigPath:   m.configPath,
		OutputDir:    worker.OutputDir,
	})
	if err != nil {
		return worker, m.spawnFailed(ctx, worker, slotHeld, err)
	}

	spawnedAt := m.now()
	worker, err = m.store.UpdateWorker(ctx, workerID, func(w *store.Worker) error {
		w.SessionID = session.ID
		w.PID = session.PID
		w.SpawnedAt = &spawnedAt
		w.LastError = ""
		return nil
	})
	if err != nil {
		return store.Worker{}, fmt.Errorf("record spawn of %s: %w", workerID, err)
	}
	m.record(ctx, EventWorkerSpawned, workerID, session.ID)
	m.logger.Info("worker spawned",
		logging.EventType(EventWorkerSpawned),
		logging.WorkerID(workerID),
		logging.String("session_id", session.ID),
		logging.Int("pid", session.PID),
	)
	return worker, nil
}

func (m *Manager) spawnFailed(ctx context.Context, worker store.Worker, slotHeld bool, cause error) error {
	if slotHeld {
		if err := m.store.ReleaseSlot(ctx, worker.ID); err != nil {
			m.logger.Warn("release slot after failed spawn", logging.WorkerID(worker.ID), logging.Error(err))
		}
	}
	if _, err := m.store.UpdateWorker(ctx, worker.ID, func(w *store.Worker) error {
		w.LastError = cause.Error()
		return nil
	}); err != nil {
		m.logger.Warn("record spawn failure", logging.WorkerID(worker.ID), logging.Error(err))
	}
	m.record(ctx, EventSpawnFailed, worker.ID, cause.Error())
	m.telemetry.Metrics.SpawnFailed(ctx)
	logging.WarnWithContext(m.logger, "worker spawn failed", EventSpawnFailed,
		logging.WorkerID(worker.ID),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "check launcher.command and the worker log"),
		logging.String(logging.FieldImpact, "worker stays registered and can be spawned again"),
	)
	return fmt.Errorf("spawn %s: %w", worker.ID, cause)
}

// Heartbeat records a worker's self-reported state.
func (m *Manager) Heartbeat(ctx context.Context, hb store.Heartbeat) error {
	if hb.At.IsZero() {
		hb.At = m.now()
	}
	if err := m.store.RecordHeartbeat(ctx, hb); err != nil {
		return fmt.Errorf("heartbeat %s: %w", hb.WorkerID, err)
	}
	return nil
}

// Finish writes the worker's finished sentinel and retires it.
func (m *Manager) Finish(ctx context.Context, workerID string) (store.Worker, error) {
	if err := m.store.MarkFinished(ctx, workerID, m.now()); err != nil {
		return store.Worker{}, fmt.Errorf("finish %s: %w", workerID, err)
	}
	worker, err := m.store.UpdateWorker(ctx, workerID, func(w *store.Worker) error {
		w.Status = store.WorkerFinished
		w.CurrentTask = 0
		w.Stage = ""
		return nil
	})
	if err != nil {
		return store.Worker{}, fmt.Errorf("finish %s: %w", workerID, err)
	}
	if err := m.store.ReleaseSlot(ctx, workerID); err != nil && !errors.Is(err, store.ErrUnsupported) {
		m.logger.Warn("release slot of finished worker", logging.WorkerID(workerID), logging.Error(err))
	}
	m.mu.Lock()
	delete(m.failures, workerID)
	m.mu.Unlock()

	m.record(ctx, EventWorkerFinished, workerID, fmt.Sprintf("completed %d failed %d", worker.Completed, worker.Failed))
	m.logger.Info("worker finished",
		logging.EventType(EventWorkerFinished),
		logging.WorkerID(workerID),
		logging.Int("completed", worker.Completed),
		logging.Int("failed", worker.Failed),
	)
	return worker, nil
}
