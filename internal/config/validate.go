package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateFleet(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateHierarchy(); err != nil {
		return err
	}
	if topic := c.Notifications.NtfyTopic; topic != "" && !strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic: %q must be an http(s) URL", topic)
	}
	switch c.Telemetry.Exporter {
	case "stdout", "otlp-http", "none":
	default:
		return fmt.Errorf("telemetry.exporter: unsupported value %q", c.Telemetry.Exporter)
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendFile:
	default:
		return fmt.Errorf("store.backend: unsupported value %q (expected %q or %q)", c.Store.Backend, BackendSQLite, BackendFile)
	}
	if c.Store.Root == "" {
		return errors.New("store.root must be set")
	}
	if c.Store.Slots < 0 {
		return errors.New("store.slots must be >= 0")
	}
	if c.Store.LockPollMillis >= c.Store.LockTimeoutMillis {
		return errors.New("store.lock_poll_ms must be smaller than store.lock_timeout_ms")
	}
	return nil
}

func (c *Config) validateFleet() error {
	if c.Fleet.UnresponsiveThreshold <= c.Worker.HeartbeatInterval {
		return errors.New("fleet.unresponsive_threshold must be greater than worker.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateWorker() error {
	return ensurePositiveMap(map[string]int{
		"worker.heartbeat_interval":   c.Worker.HeartbeatInterval,
		"worker.poll_interval":        c.Worker.PollInterval,
		"worker.error_retry_interval": c.Worker.ErrorRetryInterval,
	})
}

func (c *Config) validateHierarchy() error {
	h := c.Hierarchy
	if h.MaxTotalInstances <= 0 {
		return errors.New("hierarchy.max_total_instances must be positive")
	}
	if h.MaxTasksPerWorker < 0 {
		return errors.New("hierarchy.max_tasks_per_worker must be >= 0")
	}
	if h.MaxDepth < 0 {
		return errors.New("hierarchy.max_depth must be >= 0")
	}
	if len(h.Layers) == 0 {
		return errors.New("hierarchy.layers must define at least layer 0")
	}
	seen := make(map[int]struct{}, len(h.Layers))
	for _, lp := range h.Layers {
		if lp.Layer < 0 {
			return fmt.Errorf("hierarchy.layers: layer %d must be >= 0", lp.Layer)
		}
		if _, dup := seen[lp.Layer]; dup {
			return fmt.Errorf("hierarchy.layers: layer %d defined more than once", lp.Layer)
		}
		seen[lp.Layer] = struct{}{}
		if lp.MaxSubordinates < 0 {
			return fmt.Errorf("hierarchy.layers: layer %d max_subordinates must be >= 0", lp.Layer)
		}
	}
	if _, ok := seen[0]; !ok {
		return errors.New("hierarchy.layers must define layer 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
