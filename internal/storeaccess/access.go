// Package storeaccess opens the durable store selected by configuration.
package storeaccess

import (
	"context"
	"errors"
	"fmt"

	"hive/internal/config"
	"hive/internal/store"
	"hive/internal/store/filestore"
	"hive/internal/store/sqlitestore"
)

// Open returns the backend named by cfg.Store.Backend.
func Open(cfg *config.Config) (store.Store, error) {
	if cfg == nil {
		return nil, errors.New("open store: config is required")
	}
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		st, err := sqlitestore.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case config.BackendFile:
		st, err := filestore.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("open store: unsupported backend %q", cfg.Store.Backend)
	}
}

// Initialize prepares capacity slots for a freshly opened store. Backends that
// do not track capacity are left alone.
func Initialize(ctx context.Context, cfg *config.Config, st store.Store) (tracked bool, err error) {
	if cfg.Store.Slots <= 0 {
		return false, nil
	}
	if err := st.InitSlots(ctx, cfg.Store.Slots); err != nil {
		if errors.Is(err, store.ErrUnsupported) {
			return false, nil
		}
		return false, fmt.Errorf("init slots: %w", err)
	}
	return true, nil
}

// Location describes where the store keeps its data.
func Location(cfg *config.Config) string {
	if cfg.Store.Backend == config.BackendSQLite {
		return sqlitestore.PathFor(cfg)
	}
	return cfg.Store.Root
}
