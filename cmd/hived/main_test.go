package main

import (
	"context"
	"errors"
	"testing"

	"hive/internal/daemon"
	"hive/internal/logging"
	"hive/internal/telemetry"
	"hive/internal/testsupport"
)

func TestBuildDaemonStartsAndStops(t *testing.T) {
	for _, backend := range testsupport.Backends() {
		t.Run(backend, func(t *testing.T) {
			cfg := testsupport.NewConfig(t, testsupport.WithBackend(backend))

			d, err := buildDaemon(cfg, "", logging.NewNop(), telemetry.Disabled())
			if err != nil {
				t.Fatalf("buildDaemon failed: %v", err)
			}
			defer d.Close()

			if err := d.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			status := d.Status()
			if !status.Running {
				t.Fatal("expected daemon to be running")
			}
			if status.Backend != backend {
				t.Fatalf("expected backend %s, got %s", backend, status.Backend)
			}

			second, err := buildDaemon(cfg, "", logging.NewNop(), telemetry.Disabled())
			if err != nil {
				t.Fatalf("second buildDaemon failed: %v", err)
			}
			defer second.Close()
			if err := second.Start(context.Background()); !errors.Is(err, daemon.ErrAlreadyRunning) {
				t.Fatalf("expected ErrAlreadyRunning, got %v", err)
			}

			d.Stop()
			if d.Status().Running {
				t.Fatal("expected daemon to be stopped")
			}
		})
	}
}

func TestBuildDaemonRequiresConfig(t *testing.T) {
	if _, err := buildDaemon(nil, "", logging.NewNop(), telemetry.Disabled()); err == nil {
		t.Fatal("expected buildDaemon without config to fail")
	}
}
