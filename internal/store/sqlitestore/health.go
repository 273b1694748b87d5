package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"hive/internal/config"
	"hive/internal/store"
)

// CheckHealth returns diagnostic information about the database.
func (s *Store) CheckHealth(ctx context.Context) (store.Health, error) {
	ctx = ensureContext(ctx)
	health := store.Health{Backend: config.BackendSQLite, Location: s.path}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.Error = "database file missing"
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.Reachable = true

	if health.SchemaVersion, err = s.readSchemaVersion(connCtx); err != nil {
		health.Error = err.Error()
		return health, err
	}

	row := s.db.QueryRowContext(connCtx, `SELECT (SELECT COUNT(1) FROM tasks), (SELECT COUNT(1) FROM workers)`)
	if err := row.Scan(&health.Tasks, &health.Workers); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count records: %w", err)
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.Integrity = strings.EqualFold(integrity, "ok")
	return health, nil
}
