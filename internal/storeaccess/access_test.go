package storeaccess_test

import (
	"context"
	"path/filepath"
	"testing"

	"hive/internal/config"
	"hive/internal/storeaccess"
)

func TestOpenSelectsBackend(t *testing.T) {
	for _, tc := range []struct {
		backend string
		tracked bool
	}{
		{backend: config.BackendSQLite, tracked: true},
		{backend: config.BackendFile, tracked: false},
	} {
		t.Run(tc.backend, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store.Backend = tc.backend
			cfg.Store.Root = t.TempDir()
			cfg.Store.Slots = 2

			st, err := storeaccess.Open(&cfg)
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer st.Close()

			tracked, err := storeaccess.Initialize(context.Background(), &cfg, st)
			if err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}
			if tracked != tc.tracked {
				t.Fatalf("expected tracked=%v, got %v", tc.tracked, tracked)
			}
			health, err := st.CheckHealth(context.Background())
			if err != nil {
				t.Fatalf("CheckHealth failed: %v", err)
			}
			if health.Backend != tc.backend {
				t.Fatalf("expected backend %q, got %q", tc.backend, health.Backend)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Root = "/srv/hive"
	cfg.Store.Backend = config.BackendSQLite
	if got := storeaccess.Location(&cfg); got != filepath.Join("/srv/hive", "hive.db") {
		t.Fatalf("unexpected sqlite location %q", got)
	}
	cfg.Store.Backend = config.BackendFile
	if got := storeaccess.Location(&cfg); got != "/srv/hive" {
		t.Fatalf("unexpected file location %q", got)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "etcd"
	if _, err := storeaccess.Open(&cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
