package fleet

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"hive/internal/config"
	"hive/internal/launcher"
	"hive/internal/logging"
	"hive/internal/queue"
	"hive/internal/store"
	"hive/internal/telemetry"
)

// Manager owns the worker lifecycle.
type Manager struct {
	cfg        *config.Config
	store      store.Store
	queue      *queue.Queue
	launcher   launcher.Launcher
	logger     *slog.Logger
	telemetry  *telemetry.Provider
	now        func() time.Time
	configPath string

	mu       sync.Mutex
	failures map[string]int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTelemetry sets the tracer and metrics provider.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(m *Manager) {
		if p != nil {
			m.telemetry = p
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithConfigPath records the config file handed to launched workers.
func WithConfigPath(path string) Option {
	return func(m *Manager) { m.configPath = path }
}

// NewManager builds a fleet manager. A nil launcher uses launcher.Exec with
// the configured command template.
func NewManager(cfg *config.Config, st store.Store, q *queue.Queue, l launcher.Launcher, opts ...Option) *Manager {
	if l == nil {
		l = launcher.Exec{Command: cfg.Launcher.Command, LogDir: cfg.Launcher.LogDir}
	}
	m := &Manager{
		cfg:       cfg,
		store:     st,
		queue:     q,
		launcher:  l,
		logger:    logging.NewNop(),
		telemetry: telemetry.Disabled(),
		now:       time.Now,
		failures:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "fleet")
	return m
}

// IdentityPath returns the worker.toml location for workerID.
func (m *Manager) IdentityPath(workerID string) string {
	return filepath.Join(m.cfg.OutputRoot(), workerID, IdentityFileName)
}

func (m *Manager) record(ctx context.Context, eventType, workerID, detail string) {
	err := m.store.AppendEvent(ctx, store.Event{At: m.now(), Type: eventType, WorkerID: workerID, Detail: detail})
	if err != nil {
		logging.WarnWithContext(m.logger, "event append failed", "event_append_failed",
			logging.String("event", eventType),
			logging.WorkerID(workerID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "event log is missing an entry"),
		)
	}
}

// Failures returns the consecutive health-check failures recorded for workerID.
func (m *Manager) Failures(workerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[workerID]
}
