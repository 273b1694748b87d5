package filestore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"hive/internal/store"
)

type taskDocument struct {
	NextID int64        `yaml:"next_id"`
	Tasks  []store.Task `yaml:"tasks"`
}

func (d *taskDocument) index(id int64) int {
	i := sort.Search(len(d.Tasks), func(i int) bool { return d.Tasks[i].ID >= id })
	if i < len(d.Tasks) && d.Tasks[i].ID == id {
		return i
	}
	return -1
}

func (s *Store) loadTasks() (taskDocument, error) {
	var doc taskDocument
	if _, err := readYAML(s.tasksPath(), &doc); err != nil {
		return taskDocument{}, err
	}
	sort.Slice(doc.Tasks, func(i, j int) bool { return doc.Tasks[i].ID < doc.Tasks[j].ID })
	if doc.NextID <= 0 {
		doc.NextID = 1
	}
	if n := len(doc.Tasks); n > 0 && doc.Tasks[n-1].ID >= doc.NextID {
		doc.NextID = doc.Tasks[n-1].ID + 1
	}
	return doc, nil
}

func (s *Store) saveTasks(doc taskDocument) error {
	return writeYAML(s.tasksPath(), doc)
}

// AddTasks appends tasks under the lock, optionally as children of a pending parent.
func (s *Store) AddTasks(ctx context.Context, parentID int64, tasks []store.Task) ([]int64, error) {
	var ids []int64
	err := s.withLock(ctx, func() error {
		doc, err := s.loadTasks()
		if err != nil {
			return err
		}
		parentIdx := -1
		if parentID != 0 {
			parentIdx = doc.index(parentID)
			if parentIdx < 0 {
				return fmt.Errorf("parent task %d: %w", parentID, store.ErrNotFound)
			}
			if status := doc.Tasks[parentIdx].Status; status != store.TaskPending {
				return fmt.Errorf("parent task %d is %s: %w", parentID, status, store.ErrConflict)
			}
		}
		now := time.Now().UTC()
		for _, task := range tasks {
			task.ID = doc.NextID
			doc.NextID++
			task.Status = store.TaskPending
			task.Owner = ""
			task.RetryCount = 0
			task.ParentID = parentID
			task.Children = nil
			if task.CreatedAt.IsZero() {
				task.CreatedAt = now
			}
			task.CreatedAt = task.CreatedAt.UTC()
			task.UpdatedAt = task.CreatedAt
			doc.Tasks = append(doc.Tasks, task)
			ids = append(ids, task.ID)
		}
		if parentIdx >= 0 {
			doc.Tasks[parentIdx].Children = append(doc.Tasks[parentIdx].Children, ids...)
			doc.Tasks[parentIdx].UpdatedAt = now
		}
		return s.saveTasks(doc)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetTask reads one task from the current document.
func (s *Store) GetTask(_ context.Context, id int64) (store.Task, error) {
	doc, err := s.loadTasks()
	if err != nil {
		return store.Task{}, err
	}
	idx := doc.index(id)
	if idx < 0 {
		return store.Task{}, fmt.Errorf("task %d: %w", id, store.ErrNotFound)
	}
	return doc.Tasks[idx], nil
}

// UpdateTask applies mutate under the lock. Identity and tree links are preserved.
func (s *Store) UpdateTask(ctx context.Context, id int64, mutate func(*store.Task) error) (store.Task, error) {
	var updated store.Task
	err := s.withLock(ctx, func() error {
		doc, err := s.loadTasks()
		if err != nil {
			return err
		}
		idx := doc.index(id)
		if idx < 0 {
			return fmt.Errorf("task %d: %w", id, store.ErrNotFound)
		}
		original := doc.Tasks[idx]
		task := original
		if err := mutate(&task); err != nil {
			return err
		}
		task.ID = original.ID
		task.ParentID = original.ParentID
		task.Children = original.Children
		task.UpdatedAt = time.Now().UTC()
		doc.Tasks[idx] = task
		if err := s.saveTasks(doc); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if err != nil {
		return store.Task{}, err
	}
	return updated, nil
}

// ClaimTask assigns the lowest-id eligible pending task to owner under the lock.
func (s *Store) ClaimTask(ctx context.Context, filter store.TaskFilter, owner string, at time.Time) (store.Task, bool, error) {
	if strings.TrimSpace(owner) == "" {
		return store.Task{}, false, fmt.Errorf("claim requires an owner: %w", store.ErrConflict)
	}
	var (
		claimed store.Task
		ok      bool
	)
	err := s.withLock(ctx, func() error {
		doc, err := s.loadTasks()
		if err != nil {
			return err
		}
		for i := range doc.Tasks {
			task := &doc.Tasks[i]
			if task.Status != store.TaskPending || task.HasChildren() || !filter.Matches(*task) {
				continue
			}
			started := at.UTC()
			task.Status = store.TaskProcessing
			task.Owner = owner
			task.StartedAt = &started
			task.UpdatedAt = started
			if err := s.saveTasks(doc); err != nil {
				return err
			}
			claimed, ok = *task, true
			return nil
		}
		return nil
	})
	if err != nil {
		return store.Task{}, false, err
	}
	return claimed, ok, nil
}

// ReleaseTasks reverts every processing task owned by owner to pending.
func (s *Store) ReleaseTasks(ctx context.Context, owner string, at time.Time) ([]int64, error) {
	var ids []int64
	err := s.withLock(ctx, func() error {
		doc, err := s.loadTasks()
		if err != nil {
			return err
		}
		for i := range doc.Tasks {
			task := &doc.Tasks[i]
			if task.Status != store.TaskProcessing || task.Owner != owner {
				continue
			}
			task.Status = store.TaskPending
			task.Owner = ""
			task.StartedAt = nil
			task.UpdatedAt = at.UTC()
			ids = append(ids, task.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		return s.saveTasks(doc)
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListTasks filters the current document.
func (s *Store) ListTasks(_ context.Context, query store.TaskQuery) ([]store.Task, error) {
	doc, err := s.loadTasks()
	if err != nil {
		return nil, err
	}
	var tasks []store.Task
	for _, task := range doc.Tasks {
		if !query.Matches(task) {
			continue
		}
		tasks = append(tasks, task)
		if query.Limit > 0 && len(tasks) >= query.Limit {
			break
		}
	}
	return tasks, nil
}

// CountTasks totals statuses from a single read of the task document.
func (s *Store) CountTasks(_ context.Context) (store.TaskCounts, error) {
	doc, err := s.loadTasks()
	if err != nil {
		return nil, err
	}
	counts := make(store.TaskCounts)
	for _, task := range doc.Tasks {
		counts[task.Status]++
	}
	return counts, nil
}
