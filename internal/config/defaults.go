package config

const (
	defaultRoot                  = "~/.local/share/hive"
	defaultBackend               = BackendSQLite
	defaultSlots                 = 4
	defaultLockTimeoutMillis     = 5000
	defaultLockPollMillis        = 100
	defaultHealthInterval        = 30
	defaultUnresponsiveThreshold = 120
	defaultRestartThreshold      = 3
	defaultHeartbeatInterval     = 15
	defaultPollInterval          = 5
	defaultErrorRetryInterval    = 10
	defaultMaxTotalInstances     = 16
	defaultHierarchyTimeout      = 3600
	defaultNotificationTimeout   = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultTelemetryExporter     = "stdout"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Store: Store{
			Backend:           defaultBackend,
			Root:              defaultRoot,
			Slots:             defaultSlots,
			LockTimeoutMillis: defaultLockTimeoutMillis,
			LockPollMillis:    defaultLockPollMillis,
		},
		Fleet: Fleet{
			HealthInterval:        defaultHealthInterval,
			UnresponsiveThreshold: defaultUnresponsiveThreshold,
			RestartThreshold:      defaultRestartThreshold,
		},
		Worker: Worker{
			HeartbeatInterval:  defaultHeartbeatInterval,
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			WatchStore:         true,
		},
		Hierarchy: Hierarchy{
			MaxTotalInstances: defaultMaxTotalInstances,
			Timeout:           defaultHierarchyTimeout,
			Layers: []LayerPolicy{
				{Layer: 0, Role: "coordinator", CanDelegate: true, MaxSubordinates: 4},
				{Layer: 1, Role: "lead", CanDelegate: true, MaxSubordinates: 4},
				{Layer: 2, Role: "worker", CanDelegate: false, MaxSubordinates: 0},
			},
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotificationTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Telemetry: Telemetry{
			Exporter:    defaultTelemetryExporter,
			ServiceName: "hive",
			SampleRate:  1,
		},
	}
}
