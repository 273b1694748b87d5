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

const taskColumns = "id, class, layer, title, description, status, owner, created_at, updated_at, started_at, completed_at, retry_count, max_retries, last_error, params_json, result_location, quality_gated, parent_id"

type rowScanner interface{ Scan(dest ...any) error }

func scanTask(scanner rowScanner) (store.Task, error) {
	var (
		task        store.Task
		description sql.NullString
		status      string
		owner       sql.NullString
		createdRaw  string
		updatedRaw  string
		startedRaw  sql.NullString
		completeRaw sql.NullString
		lastError   sql.NullString
		params      sql.NullString
		result      sql.NullString
		gated       int
		parentID    sql.NullInt64
	)
	if err := scanner.Scan(
		&task.ID,
		&task.Class,
		&task.Layer,
		&task.Title,
		&description,
		&status,
		&owner,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&completeRaw,
		&task.RetryCount,
		&task.MaxRetries,
		&lastError,
		&params,
		&result,
		&gated,
		&parentID,
	); err != nil {
		return store.Task{}, err
	}
	task.Description = description.String
	task.Status = store.TaskStatus(status)
	task.Owner = owner.String
	if created, err := parseTimeString(createdRaw); err == nil {
		task.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		task.UpdatedAt = updated
	}
	task.StartedAt = parseNullTime(startedRaw)
	task.CompletedAt = parseNullTime(completeRaw)
	task.LastError = lastError.String
	task.Params = decodeParams(params)
	task.ResultLocation = result.String
	task.QualityGated = gated != 0
	task.ParentID = parentID.Int64
	return task, nil
}

// AddTasks inserts tasks in one transaction, optionally under a pending parent.
func (s *Store) AddTasks(ctx context.Context, parentID int64, tasks []store.Task) ([]int64, error) {
	var ids []int64
	err := s.withTx(ctx, func(tx txExecer) error {
		ids = ids[:0]
		if parentID != 0 {
			var status string
			err := tx.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, parentID).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("parent task %d: %w", parentID, store.ErrNotFound)
			}
			if err != nil {
				return fmt.Errorf("load parent task: %w", err)
			}
			if store.TaskStatus(status) != store.TaskPending {
				return fmt.Errorf("parent task %d is %s: %w", parentID, status, store.ErrConflict)
			}
		}
		for _, task := range tasks {
			params, err := encodeParams(task.Params)
			if err != nil {
				return err
			}
			createdAt := task.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			created := formatTime(createdAt)
			res, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (
                    class, layer, title, description, status, created_at, updated_at,
                    retry_count, max_retries, params_json, quality_gated, parent_id
                ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
				task.Class,
				task.Layer,
				task.Title,
				nullableString(task.Description),
				store.TaskPending,
				created,
				created,
				task.MaxRetries,
				params,
				boolToInt(task.QualityGated),
				nullableInt64(parentID),
			)
			if err != nil {
				return fmt.Errorf("insert task: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("last insert id: %w", err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetTask fetches a task by identifier.
func (s *Store) GetTask(ctx context.Context, id int64) (store.Task, error) {
	ctx = ensureContext(ctx)
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return store.Task{}, fmt.Errorf("task %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Task{}, fmt.Errorf("get task: %w", err)
	}
	tasks := []store.Task{task}
	if err := attachChildren(ctx, s.db, tasks); err != nil {
		return store.Task{}, err
	}
	return tasks[0], nil
}

// UpdateTask runs mutate against the current row inside one transaction.
func (s *Store) UpdateTask(ctx context.Context, id int64, mutate func(*store.Task) error) (store.Task, error) {
	var updated store.Task
	err := s.withTx(ctx, func(tx txExecer) error {
		task, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %d: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}
		current := []store.Task{task}
		if err := attachChildren(ctx, tx, current); err != nil {
			return err
		}
		task = current[0]
		if err := mutate(&task); err != nil {
			return err
		}
		task.ID = id
		task.UpdatedAt = time.Now().UTC()
		params, err := encodeParams(task.Params)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET
                class = ?, layer = ?, title = ?, description = ?, status = ?, owner = ?,
                updated_at = ?, started_at = ?, completed_at = ?, retry_count = ?, max_retries = ?,
                last_error = ?, params_json = ?, result_location = ?, quality_gated = ?
            WHERE id = ?`,
			task.Class,
			task.Layer,
			task.Title,
			nullableString(task.Description),
			task.Status,
			nullableString(task.Owner),
			formatTime(task.UpdatedAt),
			nullableTime(task.StartedAt),
			nullableTime(task.CompletedAt),
			task.RetryCount,
			task.MaxRetries,
			nullableString(task.LastError),
			params,
			nullableString(task.ResultLocation),
			boolToInt(task.QualityGated),
			id,
		); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		updated = task
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}
	return updated, nil
}

// ClaimTask atomically assigns the lowest-id eligible pending task to owner.
func (s *Store) ClaimTask(ctx context.Context, filter store.TaskFilter, owner string, at time.Time) (store.Task, bool, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(owner) == "" {
		return store.Task{}, false, fmt.Errorf("claim requires an owner: %w", store.ErrConflict)
	}
	stamp := formatTime(at)
	args := []any{owner, stamp, stamp}
	var where strings.Builder
	where.WriteString(`t.status = 'pending' AND NOT EXISTS (SELECT 1 FROM tasks c WHERE c.parent_id = t.id)`)
	if filter.Class != "" {
		where.WriteString(` AND t.class = ?`)
		args = append(args, filter.Class)
	}
	if filter.Layer != nil {
		where.WriteString(` AND t.layer = ?`)
		args = append(args, *filter.Layer)
	}
	query := `UPDATE tasks SET status = 'processing', owner = ?, started_at = ?, updated_at = ?
        WHERE id = (SELECT t.id FROM tasks t WHERE ` + where.String() + ` ORDER BY t.id LIMIT 1)
          AND status = 'pending'
        RETURNING ` + taskColumns

	var (
		task    store.Task
		claimed bool
	)
	err := retryOnBusy(ctx, func() error {
		scanned, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			claimed = false
			return nil
		}
		if err != nil {
			return err
		}
		task, claimed = scanned, true
		return nil
	})
	if err != nil {
		return store.Task{}, false, fmt.Errorf("claim task: %w", err)
	}
	return task, claimed, nil
}

// ReleaseTasks reverts every processing task owned by owner to pending.
func (s *Store) ReleaseTasks(ctx context.Context, owner string, at time.Time) ([]int64, error) {
	ctx = ensureContext(ctx)
	var ids []int64
	err := retryOnBusy(ctx, func() error {
		ids = ids[:0]
		rows, err := s.db.QueryContext(ctx,
			`UPDATE tasks SET status = 'pending', owner = NULL, started_at = NULL, updated_at = ?
            WHERE owner = ? AND status = 'processing'
            RETURNING id`,
			formatTime(at), owner,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("release tasks: %w", err)
	}
	return ids, nil
}

// ListTasks returns tasks matching query ordered by id.
func (s *Store) ListTasks(ctx context.Context, query store.TaskQuery) ([]store.Task, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if len(query.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(query.Statuses))+")")
		for _, status := range query.Statuses {
			args = append(args, status)
		}
	}
	if query.Class != "" {
		clauses = append(clauses, "class = ?")
		args = append(args, query.Class)
	}
	if query.Layer != nil {
		clauses = append(clauses, "layer = ?")
		args = append(args, *query.Layer)
	}
	if query.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, query.Owner)
	}
	if query.ParentID != 0 {
		clauses = append(clauses, "parent_id = ?")
		args = append(args, query.ParentID)
	}
	sqlText := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		sqlText += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	sqlText += ` ORDER BY id`
	if query.Limit > 0 {
		sqlText += ` LIMIT ?`
		args = append(args, query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []store.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachChildren(ctx, s.db, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountTasks returns totals per status in a single statement.
func (s *Store) CountTasks(ctx context.Context) (store.TaskCounts, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(store.TaskCounts)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[store.TaskStatus(status)] = count
	}
	return counts, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func attachChildren(ctx context.Context, q queryer, tasks []store.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	index := make(map[int64]int, len(tasks))
	args := make([]any, 0, len(tasks))
	for i, task := range tasks {
		index[task.ID] = i
		args = append(args, task.ID)
	}
	rows, err := q.QueryContext(ctx,
		`SELECT parent_id, id FROM tasks WHERE parent_id IN (`+makePlaceholders(len(args))+`) ORDER BY id`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("load child tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var parentID, childID int64
		if err := rows.Scan(&parentID, &childID); err != nil {
			return fmt.Errorf("scan child task: %w", err)
		}
		if i, ok := index[parentID]; ok {
			tasks[i].Children = append(tasks[i].Children, childID)
		}
	}
	return rows.Err()
}
