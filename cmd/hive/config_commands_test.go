package main

import (
	"os"
	"path/filepath"
	"testing"

	"hive/internal/config"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.configPath)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected config init to refuse overwriting")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}, ""); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestInitCreatesProject(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", filepath.Join(dir, "home"))
	target := filepath.Join(dir, "project", config.ProjectFileName)

	out, _, err := runCLI(t, []string{"init", "--path", target, "--backend", "file", "--label", "nightly"}, "")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	requireContains(t, out, "Wrote "+target)
	requireContains(t, out, "not tracked by this backend")

	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	if !exists {
		t.Fatal("expected written config to exist")
	}
	if cfg.Store.Backend != config.BackendFile || cfg.Store.Label != "nightly" {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if want := filepath.Join(dir, "project", ".hive"); cfg.Store.Root != want {
		t.Fatalf("expected store root %s, got %s", want, cfg.Store.Root)
	}

	out, _, err = runCLI(t, []string{"task", "add", "--class", "build", "first"}, target)
	if err != nil {
		t.Fatalf("task add after init: %v", err)
	}
	requireContains(t, out, "Enqueued 1 task(s): 1")

	if _, _, err := runCLI(t, []string{"init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting an existing config")
	}
}
