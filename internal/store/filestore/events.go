package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"hive/internal/store"
)

// AppendEvent writes one JSON line under the lock. Ids are line numbers.
func (s *Store) AppendEvent(ctx context.Context, event store.Event) error {
	return s.withLock(ctx, func() error {
		next, err := countLines(s.eventsPath())
		if err != nil {
			return err
		}
		event.ID = next + 1
		if event.At.IsZero() {
			event.At = time.Now()
		}
		event.At = event.At.UTC()
		line, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		file, err := os.OpenFile(s.eventsPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open event log: %w", err)
		}
		defer file.Close()
		if _, err := file.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
		return nil
	})
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(_ context.Context, query store.EventQuery) ([]store.Event, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = store.DefaultEventLimit
	}
	file, err := os.Open(s.eventsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	var matched []store.Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event store.Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if query.WorkerID != "" && event.WorkerID != query.WorkerID {
			continue
		}
		matched = append(matched, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}

	events := make([]store.Event, 0, min(limit, len(matched)))
	for i := len(matched) - 1; i >= 0 && len(events) < limit; i-- {
		events = append(events, matched[i])
	}
	return events, nil
}

func countLines(path string) (int64, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open event log: %w", err)
	}
	defer file.Close()

	var count int64
	buf := make([]byte, 32*1024)
	for {
		n, err := file.Read(buf)
		count += int64(bytes.Count(buf[:n], []byte{'\n'}))
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read event log: %w", err)
		}
	}
}
