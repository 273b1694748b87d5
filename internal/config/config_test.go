package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"hive/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("HIVE_ROOT", "")
	t.Setenv("HIVE_BACKEND", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantRoot := filepath.Join(tempHome, ".local", "share", "hive")
	if cfg.Store.Root != wantRoot {
		t.Fatalf("unexpected store root: got %q want %q", cfg.Store.Root, wantRoot)
	}
	if cfg.Store.Backend != config.BackendSQLite {
		t.Fatalf("unexpected backend: %q", cfg.Store.Backend)
	}
	if cfg.Store.Slots != 4 {
		t.Fatalf("expected 4 slots by default, got %d", cfg.Store.Slots)
	}
	if cfg.Fleet.UnresponsiveThreshold != 120 {
		t.Fatalf("unexpected unresponsive threshold: %d", cfg.Fleet.UnresponsiveThreshold)
	}
	if cfg.Fleet.HealthInterval != 30 {
		t.Fatalf("unexpected health interval: %d", cfg.Fleet.HealthInterval)
	}
	if cfg.Fleet.RestartThreshold != 3 {
		t.Fatalf("unexpected restart threshold: %d", cfg.Fleet.RestartThreshold)
	}
	if got := cfg.Hierarchy.Depth(); got != 2 {
		t.Fatalf("expected depth derived from layer table, got %d", got)
	}
	if cfg.LockTimeout().Seconds() != 5 {
		t.Fatalf("unexpected lock timeout: %s", cfg.LockTimeout())
	}
}

func TestLoadHonoursEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	root := t.TempDir()
	t.Setenv("HIVE_ROOT", root)
	t.Setenv("HIVE_BACKEND", "FILE")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Store.Root != root {
		t.Fatalf("expected HIVE_ROOT to win, got %q", cfg.Store.Root)
	}
	if cfg.Store.Backend != config.BackendFile {
		t.Fatalf("expected file backend, got %q", cfg.Store.Backend)
	}
}

func TestLoadPrefersProjectFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HIVE_ROOT", "")
	t.Setenv("HIVE_BACKEND", "")
	project := t.TempDir()
	t.Chdir(project)

	root := filepath.Join(project, "state")
	contents := "[store]\nbackend = \"file\"\nroot = \"" + root + "\"\nlabel = \"demo\"\n"
	if err := os.WriteFile(filepath.Join(project, config.ProjectFileName), []byte(contents), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || filepath.Base(resolved) != config.ProjectFileName {
		t.Fatalf("expected project config to be used, got %q (exists=%v)", resolved, exists)
	}
	if cfg.Store.Label != "demo" || cfg.Store.Root != root {
		t.Fatalf("unexpected store section: %+v", cfg.Store)
	}
}

func TestLoadCustomHierarchy(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HIVE_ROOT", "")
	t.Setenv("HIVE_BACKEND", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	custom := map[string]any{
		"store": map[string]any{"root": filepath.Join(dir, "root")},
		"hierarchy": map[string]any{
			"max_total_instances": 8,
			"max_depth":           5,
			"layers": []map[string]any{
				{"layer": 1, "role": " lead ", "can_delegate": false, "max_subordinates": 2},
				{"layer": 0, "role": "root", "can_delegate": true, "max_subordinates": 3},
			},
		},
	}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected explicit config to exist")
	}
	if cfg.Hierarchy.Depth() != 5 {
		t.Fatalf("expected explicit max depth, got %d", cfg.Hierarchy.Depth())
	}
	if cfg.Hierarchy.Layers[0].Layer != 0 {
		t.Fatalf("expected layers sorted by layer, got %+v", cfg.Hierarchy.Layers)
	}
	lead, ok := cfg.Hierarchy.Layer(1)
	if !ok || lead.Role != "lead" || lead.CanDelegate {
		t.Fatalf("unexpected layer 1 policy: %+v (ok=%v)", lead, ok)
	}
	if got := cfg.Hierarchy.RoleFor(4, "agent"); got != "agent" {
		t.Fatalf("expected fallback role, got %q", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"backend", func(c *config.Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"no layer zero", func(c *config.Config) { c.Hierarchy.Layers = []config.LayerPolicy{{Layer: 1}} }, "layer 0"},
		{"duplicate layer", func(c *config.Config) {
			c.Hierarchy.Layers = []config.LayerPolicy{{Layer: 0}, {Layer: 0}}
		}, "more than once"},
		{"brake", func(c *config.Config) { c.Hierarchy.MaxTotalInstances = 0 }, "max_total_instances"},
		{"threshold", func(c *config.Config) { c.Fleet.UnresponsiveThreshold = 10 }, "unresponsive_threshold"},
		{"lock poll", func(c *config.Config) { c.Store.LockPollMillis = 10000 }, "lock_poll_ms"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Store.Root = t.TempDir()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HIVE_ROOT", "")
	t.Setenv("HIVE_BACKEND", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if len(cfg.Hierarchy.Layers) != 3 {
		t.Fatalf("expected three layers in sample, got %d", len(cfg.Hierarchy.Layers))
	}
}

func TestSaveRoundTrips(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HIVE_ROOT", "")
	t.Setenv("HIVE_BACKEND", "")
	cfg := config.Default()
	cfg.Store.Root = t.TempDir()
	cfg.Store.Backend = config.BackendFile
	cfg.Store.Label = "batch-7"
	path := filepath.Join(t.TempDir(), config.ProjectFileName)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Store.Label != "batch-7" || loaded.Store.Backend != config.BackendFile {
		t.Fatalf("unexpected round trip: %+v", loaded.Store)
	}
}
