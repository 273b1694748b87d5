package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Backend names accepted by store.backend.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
)

// ProjectFileName is the per-project config written by `hive init`.
const ProjectFileName = "hive.toml"

// Store selects and tunes the durable store shared by every participant.
type Store struct {
	Backend           string `toml:"backend"`
	Root              string `toml:"root"`
	Label             string `toml:"label"`
	Slots             int    `toml:"slots"`
	LockTimeoutMillis int    `toml:"lock_timeout_ms"`
	LockPollMillis    int    `toml:"lock_poll_ms"`
}

// Fleet contains supervisor timing and the restart budget.
type Fleet struct {
	HealthInterval        int `toml:"health_interval"`
	UnresponsiveThreshold int `toml:"unresponsive_threshold"`
	RestartThreshold      int `toml:"restart_threshold"`
}

// Worker contains worker-side timing and the task executor command.
type Worker struct {
	HeartbeatInterval  int      `toml:"heartbeat_interval"`
	PollInterval       int      `toml:"poll_interval"`
	ErrorRetryInterval int      `toml:"error_retry_interval"`
	WatchStore         bool     `toml:"watch_store"`
	ClassFilter        string   `toml:"class_filter"`
	ExecutorCommand    []string `toml:"executor_command"`
}

// Launcher describes how the supervisor starts a worker session. The
// placeholders {identity}, {worker_id} and {config} are substituted per worker.
type Launcher struct {
	Command []string `toml:"command"`
	LogDir  string   `toml:"log_dir"`
}

// LayerPolicy bounds delegation for a single hierarchy layer.
type LayerPolicy struct {
	Layer           int    `toml:"layer"`
	Role            string `toml:"role"`
	CanDelegate     bool   `toml:"can_delegate"`
	MaxSubordinates int    `toml:"max_subordinates"`
}

// Hierarchy is the delegation policy plus the global emergency brake.
type Hierarchy struct {
	MaxTotalInstances int           `toml:"max_total_instances"`
	MaxTasksPerWorker int           `toml:"max_tasks_per_worker"`
	Timeout           int           `toml:"timeout"`
	MaxDepth          int           `toml:"max_depth"`
	Layers            []LayerPolicy `toml:"layers"`
}

// Daemon configures the hived process. An empty APIBind disables the HTTP
// status API.
type Daemon struct {
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Notifications configures ntfy alerts raised by the supervisor. An empty
// NtfyTopic disables them.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnDrained      bool   `toml:"on_drained"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Telemetry toggles OpenTelemetry traces and metrics.
type Telemetry struct {
	Enabled     bool    `toml:"enabled"`
	Exporter    string  `toml:"exporter"`
	Endpoint    string  `toml:"endpoint"`
	ServiceName string  `toml:"service_name"`
	SampleRate  float64 `toml:"sample_rate"`
}

// Config encapsulates all configuration values for hive.
//
// Configuration sections by subsystem:
//   - Store: backend selection, root location, capacity slots, lock tuning
//   - Fleet: health-check interval, unresponsive threshold, restart budget
//   - Worker: heartbeat/poll cadence and the executor command
//   - Launcher: command template used to start worker sessions
//   - Hierarchy: delegation policy and emergency brake
//   - Daemon: optional HTTP status API of hived
//   - Notifications: ntfy alerts for unresponsive workers and restarts
//   - Logging: log format and level
//   - Telemetry: trace export and metric collection
type Config struct {
	Store         Store         `toml:"store"`
	Fleet         Fleet         `toml:"fleet"`
	Worker        Worker        `toml:"worker"`
	Launcher      Launcher      `toml:"launcher"`
	Hierarchy     Hierarchy     `toml:"hierarchy"`
	Daemon        Daemon        `toml:"daemon"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
	Telemetry     Telemetry     `toml:"telemetry"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/hive/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		defaultLayers := cfg.Hierarchy.Layers
		cfg.Hierarchy.Layers = nil
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		if len(cfg.Hierarchy.Layers) == 0 {
			cfg.Hierarchy.Layers = defaultLayers
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(ProjectFileName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the store root, its output area and the launcher
// log directory when one is configured.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Store.Root, c.OutputRoot()}
	if c.Launcher.LogDir != "" {
		dirs = append(dirs, c.Launcher.LogDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// OutputRoot is the directory holding one output area per worker.
func (c *Config) OutputRoot() string {
	return filepath.Join(c.Store.Root, "outputs")
}

// DaemonLockPath is the single-instance lock held by the supervisor daemon.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Store.Root, "hived.lock")
}

// WorkerLogPath is where the launcher writes a worker session's output, or ""
// when launcher output is discarded.
func (c *Config) WorkerLogPath(workerID string) string {
	if c.Launcher.LogDir == "" {
		return ""
	}
	return filepath.Join(c.Launcher.LogDir, workerID+".log")
}

// NotificationTimeout bounds a single ntfy request.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// LockTimeout returns the file-lock acquisition timeout.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Store.LockTimeoutMillis) * time.Millisecond
}

// LockPoll returns the file-lock polling interval.
func (c *Config) LockPoll() time.Duration {
	return time.Duration(c.Store.LockPollMillis) * time.Millisecond
}

// HealthInterval returns the supervisor tick period.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Fleet.HealthInterval) * time.Second
}

// UnresponsiveThreshold returns the heartbeat age after which a worker is unhealthy.
func (c *Config) UnresponsiveThreshold() time.Duration {
	return time.Duration(c.Fleet.UnresponsiveThreshold) * time.Second
}

// Save writes the configuration as TOML to path.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
