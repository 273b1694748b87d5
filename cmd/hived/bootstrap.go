package main

import (
	"fmt"
	"log/slog"

	"hive/internal/config"
	"hive/internal/daemon"
	"hive/internal/fleet"
	"hive/internal/queue"
	"hive/internal/storeaccess"
	"hive/internal/telemetry"
)

// configEnvVar overrides the config search path for hived.
const configEnvVar = "HIVE_CONFIG"

// buildDaemon opens the store and wires the queue, fleet manager and daemon.
// The daemon owns the store; Close releases it.
func buildDaemon(cfg *config.Config, configPath string, logger *slog.Logger, provider *telemetry.Provider) (*daemon.Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("build daemon: config is required")
	}
	st, err := storeaccess.Open(cfg)
	if err != nil {
		return nil, err
	}

	q := queue.New(st, queue.WithLogger(logger), queue.WithTelemetry(provider))
	m := fleet.NewManager(cfg, st, q, nil,
		fleet.WithLogger(logger),
		fleet.WithTelemetry(provider),
		fleet.WithConfigPath(configPath),
	)
	d, err := daemon.New(cfg, q, m, daemon.WithLogger(logger), daemon.WithTelemetry(provider))
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return d, nil
}
