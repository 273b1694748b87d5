package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hive/internal/store"
)

// AppendEvent writes an immutable event row.
func (s *Store) AppendEvent(ctx context.Context, event store.Event) error {
	ctx = ensureContext(ctx)
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO events (at, type, worker_id, task_id, detail) VALUES (?, ?, ?, ?, ?)`,
			formatTime(at),
			event.Type,
			nullableString(event.WorkerID),
			nullableInt64(event.TaskID),
			nullableString(event.Detail),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns events newest first, optionally for one worker.
func (s *Store) ListEvents(ctx context.Context, query store.EventQuery) ([]store.Event, error) {
	ctx = ensureContext(ctx)
	limit := query.Limit
	if limit <= 0 {
		limit = store.DefaultEventLimit
	}
	sqlText := `SELECT id, at, type, worker_id, task_id, detail FROM events`
	args := []any{}
	if query.WorkerID != "" {
		sqlText += ` WHERE worker_id = ?`
		args = append(args, query.WorkerID)
	}
	sqlText += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []store.Event
	for rows.Next() {
		var (
			event    store.Event
			atRaw    string
			workerID sql.NullString
			taskID   sql.NullInt64
			detail   sql.NullString
		)
		if err := rows.Scan(&event.ID, &atRaw, &event.Type, &workerID, &taskID, &detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if at, err := parseTimeString(atRaw); err == nil {
			event.At = at
		}
		event.WorkerID = workerID.String
		event.TaskID = taskID.Int64
		event.Detail = detail.String
		events = append(events, event)
	}
	return events, rows.Err()
}
