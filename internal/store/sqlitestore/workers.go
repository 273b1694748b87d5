package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"hive/internal/store"
)

const workerColumns = "id, seq, role, layer, parent_id, position, status, created_at, updated_at, last_heartbeat, spawned_at, completed, failed, current_task, stage, last_error, output_dir, session_id, pid"

func scanWorker(scanner rowScanner) (store.Worker, error) {
	var (
		worker      store.Worker
		parentID    sql.NullString
		status      string
		createdRaw  string
		updatedRaw  string
		heartbeat   sql.NullString
		spawned     sql.NullString
		currentTask sql.NullInt64
		stage       sql.NullString
		lastError   sql.NullString
		sessionID   sql.NullString
		pid         sql.NullInt64
	)
	if err := scanner.Scan(
		&worker.ID,
		&worker.Seq,
		&worker.Role,
		&worker.Layer,
		&parentID,
		&worker.Position,
		&status,
		&createdRaw,
		&updatedRaw,
		&heartbeat,
		&spawned,
		&worker.Completed,
		&worker.Failed,
		&currentTask,
		&stage,
		&lastError,
		&worker.OutputDir,
		&sessionID,
		&pid,
	); err != nil {
		return store.Worker{}, err
	}
	worker.ParentID = parentID.String
	worker.Status = store.WorkerStatus(status)
	if created, err := parseTimeString(createdRaw); err == nil {
		worker.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		worker.UpdatedAt = updated
	}
	worker.LastHeartbeat = parseNullTime(heartbeat)
	worker.SpawnedAt = parseNullTime(spawned)
	worker.CurrentTask = currentTask.Int64
	worker.Stage = stage.String
	worker.LastError = lastError.String
	worker.SessionID = sessionID.String
	worker.PID = int(pid.Int64)
	return worker, nil
}

func listWorkers(ctx context.Context, q queryer) ([]store.Worker, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()
	var workers []store.Worker
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		workers = append(workers, worker)
	}
	return workers, rows.Err()
}

// CreateWorker runs build against a consistent snapshot and inserts its result.
func (s *Store) CreateWorker(ctx context.Context, build func(existing []store.Worker, nextSeq int64) (store.Worker, error)) (store.Worker, error) {
	var created store.Worker
	err := s.withTx(ctx, func(tx txExecer) error {
		existing, err := listWorkers(ctx, tx)
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
		if worker.Seq == 0 {
			worker.Seq = maxSeq + 1
		}
		now := time.Now().UTC()
		if worker.CreatedAt.IsZero() {
			worker.CreatedAt = now
		}
		worker.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workers (
                id, seq, role, layer, parent_id, position, status, created_at, updated_at,
                last_heartbeat, spawned_at, completed, failed, current_task, stage, last_error,
                output_dir, session_id, pid
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			worker.ID,
			worker.Seq,
			worker.Role,
			worker.Layer,
			nullableString(worker.ParentID),
			worker.Position,
			worker.Status,
			formatTime(worker.CreatedAt),
			formatTime(worker.UpdatedAt),
			nullableTime(worker.LastHeartbeat),
			nullableTime(worker.SpawnedAt),
			worker.Completed,
			worker.Failed,
			nullableInt64(worker.CurrentTask),
			nullableString(worker.Stage),
			nullableString(worker.LastError),
			worker.OutputDir,
			nullableString(worker.SessionID),
			nullableInt64(int64(worker.PID)),
		); err != nil {
			return fmt.Errorf("insert worker: %w", err)
		}
		created = worker
		return nil
	})
	if err != nil {
		return store.Worker{}, err
	}
	return created, nil
}

// GetWorker fetches a worker by identifier.
func (s *Store) GetWorker(ctx context.Context, id string) (store.Worker, error) {
	ctx = ensureContext(ctx)
	worker, err := scanWorker(s.db.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Worker{}, fmt.Errorf("worker %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Worker{}, fmt.Errorf("get worker: %w", err)
	}
	return worker, nil
}

// UpdateWorker runs mutate against the current row inside one transaction.
func (s *Store) UpdateWorker(ctx context.Context, id string, mutate func(*store.Worker) error) (store.Worker, error) {
	var updated store.Worker
	err := s.withTx(ctx, func(tx txExecer) error {
		worker, err := scanWorker(tx.QueryRowContext(ctx, `SELECT `+workerColumns+` FROM workers WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("worker %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load worker: %w", err)
		}
		if err := mutate(&worker); err != nil {
			return err
		}
		worker.ID = id
		worker.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE workers SET
                role = ?, status = ?, updated_at = ?, last_heartbeat = ?, spawned_at = ?,
                completed = ?, failed = ?, current_task = ?, stage = ?, last_error = ?,
                output_dir = ?, session_id = ?, pid = ?
            WHERE id = ?`,
			worker.Role,
			worker.Status,
			formatTime(worker.UpdatedAt),
			nullableTime(worker.LastHeartbeat),
			nullableTime(worker.SpawnedAt),
			worker.Completed,
			worker.Failed,
			nullableInt64(worker.CurrentTask),
			nullableString(worker.Stage),
			nullableString(worker.LastError),
			worker.OutputDir,
			nullableString(worker.SessionID),
			nullableInt64(int64(worker.PID)),
			id,
		); err != nil {
			return fmt.Errorf("update worker: %w", err)
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
func (s *Store) ListWorkers(ctx context.Context) ([]store.Worker, error) {
	return listWorkers(ensureContext(ctx), s.db)
}

// RecordHeartbeat stores a worker's self-reported state. Terminal statuses are
// never overwritten and counters only move forward.
func (s *Store) RecordHeartbeat(ctx context.Context, hb store.Heartbeat) error {
	ctx = ensureContext(ctx)
	at := hb.At
	if at.IsZero() {
		at = time.Now()
	}
	stamp := formatTime(at)
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var err error
		res, err = s.db.ExecContext(ctx,
			`UPDATE workers SET
                last_heartbeat = ?,
                updated_at = ?,
                status = CASE WHEN status IN ('finished', 'shutdown') OR ? = '' THEN status ELSE ? END,
                current_task = ?,
                stage = ?,
                completed = MAX(completed, ?),
                failed = MAX(failed, ?)
            WHERE id = ?`,
			stamp,
			stamp,
			string(hb.Status),
			string(hb.Status),
			nullableInt64(hb.CurrentTask),
			nullableString(hb.Stage),
			hb.Completed,
			hb.Failed,
			hb.WorkerID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("worker %s: %w", hb.WorkerID, store.ErrNotFound)
	}
	return nil
}

// MarkFinished records the one-shot finished sentinel.
func (s *Store) MarkFinished(ctx context.Context, workerID string, at time.Time) error {
	ctx = ensureContext(ctx)
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE workers SET finished_at = COALESCE(finished_at, ?) WHERE id = ?`,
			formatTime(at), workerID,
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("mark finished: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("worker %s: %w", workerID, store.ErrNotFound)
	}
	return nil
}

// IsFinished reports whether the finished sentinel exists for workerID.
func (s *Store) IsFinished(ctx context.Context, workerID string) (bool, error) {
	ctx = ensureContext(ctx)
	var finished sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT finished_at FROM workers WHERE id = ?`, workerID).Scan(&finished)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check finished sentinel: %w", err)
	}
	return finished.Valid, nil
}
