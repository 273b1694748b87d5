package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeStore(); err != nil {
		return err
	}
	c.normalizeFleet()
	c.normalizeWorker()
	if err := c.normalizeLauncher(); err != nil {
		return err
	}
	c.normalizeHierarchy()
	c.Daemon.APIBind = strings.TrimSpace(c.Daemon.APIBind)
	c.Daemon.APIToken = strings.TrimSpace(c.Daemon.APIToken)
	if value, ok := os.LookupEnv("HIVE_API_TOKEN"); ok && c.Daemon.APIToken == "" {
		c.Daemon.APIToken = strings.TrimSpace(value)
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	c.normalizeTelemetry()
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if value, ok := os.LookupEnv("HIVE_NTFY_TOPIC"); ok && c.Notifications.NtfyTopic == "" {
		c.Notifications.NtfyTopic = strings.TrimSpace(value)
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotificationTimeout
	}
}

func (c *Config) normalizeStore() error {
	if value, ok := os.LookupEnv("HIVE_ROOT"); ok && strings.TrimSpace(value) != "" {
		c.Store.Root = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("HIVE_BACKEND"); ok && strings.TrimSpace(value) != "" {
		c.Store.Backend = value
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultBackend
	}
	if strings.TrimSpace(c.Store.Root) == "" {
		c.Store.Root = defaultRoot
	}
	var err error
	if c.Store.Root, err = expandPath(c.Store.Root); err != nil {
		return fmt.Errorf("store.root: %w", err)
	}
	c.Store.Label = strings.TrimSpace(c.Store.Label)
	if c.Store.Slots == 0 {
		c.Store.Slots = defaultSlots
	}
	if c.Store.LockTimeoutMillis <= 0 {
		c.Store.LockTimeoutMillis = defaultLockTimeoutMillis
	}
	if c.Store.LockPollMillis <= 0 {
		c.Store.LockPollMillis = defaultLockPollMillis
	}
	return nil
}

func (c *Config) normalizeFleet() {
	if c.Fleet.HealthInterval <= 0 {
		c.Fleet.HealthInterval = defaultHealthInterval
	}
	if c.Fleet.UnresponsiveThreshold <= 0 {
		c.Fleet.UnresponsiveThreshold = defaultUnresponsiveThreshold
	}
	if c.Fleet.RestartThreshold <= 0 {
		c.Fleet.RestartThreshold = defaultRestartThreshold
	}
}

func (c *Config) normalizeWorker() {
	if c.Worker.HeartbeatInterval <= 0 {
		c.Worker.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.Worker.PollInterval <= 0 {
		c.Worker.PollInterval = defaultPollInterval
	}
	if c.Worker.ErrorRetryInterval <= 0 {
		c.Worker.ErrorRetryInterval = defaultErrorRetryInterval
	}
	c.Worker.ClassFilter = strings.TrimSpace(c.Worker.ClassFilter)
	c.Worker.ExecutorCommand = trimArgs(c.Worker.ExecutorCommand)
}

func (c *Config) normalizeLauncher() error {
	c.Launcher.Command = trimArgs(c.Launcher.Command)
	if strings.TrimSpace(c.Launcher.LogDir) == "" {
		return nil
	}
	var err error
	if c.Launcher.LogDir, err = expandPath(c.Launcher.LogDir); err != nil {
		return fmt.Errorf("launcher.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeHierarchy() {
	if c.Hierarchy.Timeout <= 0 {
		c.Hierarchy.Timeout = defaultHierarchyTimeout
	}
	for i := range c.Hierarchy.Layers {
		c.Hierarchy.Layers[i].Role = strings.TrimSpace(c.Hierarchy.Layers[i].Role)
	}
	sort.SliceStable(c.Hierarchy.Layers, func(i, j int) bool {
		return c.Hierarchy.Layers[i].Layer < c.Hierarchy.Layers[j].Layer
	})
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.File = strings.TrimSpace(c.Logging.File)
}

func (c *Config) normalizeTelemetry() {
	c.Telemetry.Exporter = strings.ToLower(strings.TrimSpace(c.Telemetry.Exporter))
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = defaultTelemetryExporter
	}
	c.Telemetry.Endpoint = strings.TrimSpace(c.Telemetry.Endpoint)
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		c.Telemetry.ServiceName = "hive"
	}
	if c.Telemetry.SampleRate <= 0 || c.Telemetry.SampleRate > 1 {
		c.Telemetry.SampleRate = 1
	}
}

func trimArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
