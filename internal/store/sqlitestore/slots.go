package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hive/internal/store"
)

// InitSlots sizes the slot table to total. Held slots above the new total are
// kept until released.
func (s *Store) InitSlots(ctx context.Context, total int) error {
	if total < 0 {
		return fmt.Errorf("slot total %d: %w", total, store.ErrConflict)
	}
	return s.withTx(ctx, func(tx txExecer) error {
		for id := 1; id <= total; id++ {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO slots (id) VALUES (?)`, id); err != nil {
				return fmt.Errorf("insert slot: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM slots WHERE id > ? AND worker_id IS NULL`, total); err != nil {
			return fmt.Errorf("trim slots: %w", err)
		}
		return nil
	})
}

// AcquireSlot returns the slot already held by workerID or takes the lowest free one.
// An empty slot table means capacity is not tracked.
func (s *Store) AcquireSlot(ctx context.Context, workerID string) (int, error) {
	var slot int
	err := s.withTx(ctx, func(tx txExecer) error {
		err := tx.QueryRowContext(ctx, `SELECT id FROM slots WHERE worker_id = ?`, workerID).Scan(&slot)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup held slot: %w", err)
		}
		var total int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM slots`).Scan(&total); err != nil {
			return fmt.Errorf("count slots: %w", err)
		}
		if total == 0 {
			return store.ErrUnsupported
		}
		err = tx.QueryRowContext(ctx,
			`UPDATE slots SET worker_id = ?
            WHERE id = (SELECT id FROM slots WHERE worker_id IS NULL ORDER BY id LIMIT 1)
              AND worker_id IS NULL
            RETURNING id`,
			workerID,
		).Scan(&slot)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNoSlot
		}
		if err != nil {
			return fmt.Errorf("acquire slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return slot, nil
}

// ReleaseSlot frees any slot held by workerID.
func (s *Store) ReleaseSlot(ctx context.Context, workerID string) error {
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE slots SET worker_id = NULL WHERE worker_id = ?`, workerID)
		return err
	})
	if err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// SlotUsage reports total and held slots from one statement.
func (s *Store) SlotUsage(ctx context.Context) (store.SlotUsage, error) {
	ctx = ensureContext(ctx)
	var usage store.SlotUsage
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1), COUNT(worker_id) FROM slots`).Scan(&usage.Total, &usage.Used); err != nil {
		return store.SlotUsage{}, fmt.Errorf("slot usage: %w", err)
	}
	return usage, nil
}
