package filestore

import (
	"context"

	"hive/internal/store"
)

// InitSlots is not supported; capacity is untracked on the file backend.
func (s *Store) InitSlots(context.Context, int) error { return store.ErrUnsupported }

func (s *Store) AcquireSlot(context.Context, string) (int, error) { return 0, store.ErrUnsupported }

func (s *Store) ReleaseSlot(context.Context, string) error { return store.ErrUnsupported }

func (s *Store) SlotUsage(context.Context) (store.SlotUsage, error) {
	return store.SlotUsage{}, store.ErrUnsupported
}
