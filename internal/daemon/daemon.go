package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"hive/internal/api"
	"hive/internal/config"
	"hive/internal/fleet"
	"hive/internal/logging"
	"hive/internal/notifications"
	"hive/internal/queue"
	"hive/internal/store"
	"hive/internal/storeaccess"
	"hive/internal/telemetry"
)

// ErrAlreadyRunning is returned when another daemon holds the lock for the
// same store root.
var ErrAlreadyRunning = errors.New("another hived instance is already running for this store")

// Daemon runs the supervisor and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	queue      *queue.Queue
	manager    *fleet.Manager
	supervisor *fleet.Supervisor
	views      *api.Service
	telemetry  *telemetry.Provider
	notifier   notifications.Service
	api        *apiServer

	lockPath    string
	lock        *flock.Flock
	stopDrained bool

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	last    fleet.HealthReport
	failing bool
}

// Status represents daemon runtime information.
type Status struct {
	Running           bool
	PID               int
	Backend           string
	StoreLocation     string
	LockFilePath      string
	SupervisorRunning bool
	LastError         string
	LastReport        fleet.HealthReport
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithLogger sets the daemon logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithTelemetry attaches the provider whose metric snapshot is logged on stop.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(d *Daemon) {
		if p != nil {
			d.telemetry = p
		}
	}
}

// WithNotifier replaces the ntfy service built from the config.
func WithNotifier(n notifications.Service) Option {
	return func(d *Daemon) {
		if n != nil {
			d.notifier = n
		}
	}
}

// WithStopWhenDrained makes the supervisor return once no task is pending or
// processing instead of idling for new work.
func WithStopWhenDrained() Option {
	return func(d *Daemon) { d.stopDrained = true }
}

// New constructs a daemon around an opened queue and fleet manager.
func New(cfg *config.Config, q *queue.Queue, m *fleet.Manager, opts ...Option) (*Daemon, error) {
	if cfg == nil || q == nil || m == nil {
		return nil, errors.New("daemon requires config, queue, and fleet manager")
	}
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewNop(),
		queue:     q,
		manager:   m,
		telemetry: telemetry.Disabled(),
		notifier:  notifications.NewService(cfg),
		lockPath:  cfg.DaemonLockPath(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.NewComponentLogger(d.logger, "daemon")
	d.lock = flock.New(d.lockPath)
	d.views = api.NewService(cfg, q)

	d.supervisor = fleet.NewSupervisor(m, q, cfg.HealthInterval())
	d.supervisor.IdleWhenDrained = !d.stopDrained
	d.supervisor.OnTick = d.recordReport
	d.supervisor.OnError = d.recordError

	srv, err := newAPIServer(cfg, d, d.logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock and launches the supervisor.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(d.cfg.Store.Root, 0o755); err != nil {
		return fmt.Errorf("create store root: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.supervisor.Start(runCtx); err != nil {
		_ = d.lock.Unlock()
		cancel()
		return fmt.Errorf("start supervisor: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.supervisor.Stop()
		_ = d.lock.Unlock()
		cancel()
		return err
	}

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	d.running.Store(true)
	go d.watchDrained(runCtx, d.supervisor.Done())
	d.logger.Info("hive daemon started",
		logging.String("lock", d.lockPath),
		logging.String("backend", d.cfg.Store.Backend),
		logging.String("store", storeaccess.Location(d.cfg)),
		logging.Duration("health_interval", d.cfg.HealthInterval()),
	)
	return nil
}

// Stop stops the supervisor and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.supervisor.Stop()
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.telemetry.LogSnapshot(context.Background(), d.logger)
	d.logger.Info("hive daemon stopped")
}

// Close stops the daemon and releases the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.queue.Store().Close()
}

// Done is closed when the supervisor returns.
func (d *Daemon) Done() <-chan struct{} {
	return d.supervisor.Done()
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	last := d.last
	d.mu.Unlock()

	status := Status{
		Running:           d.running.Load(),
		PID:               os.Getpid(),
		Backend:           d.cfg.Store.Backend,
		StoreLocation:     storeaccess.Location(d.cfg),
		LockFilePath:      d.lockPath,
		SupervisorRunning: d.supervisor.Running(),
		LastReport:        last,
	}
	if err := d.supervisor.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return status
}

// APIAddr returns the address the status API listens on, or "" when disabled.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Dashboard returns the aggregated fleet view.
func (d *Daemon) Dashboard(ctx context.Context) (api.Dashboard, error) {
	return d.views.Dashboard(ctx)
}

func (d *Daemon) recordReport(report fleet.HealthReport) {
	d.mu.Lock()
	d.last = report
	d.failing = false
	d.mu.Unlock()
	if len(report.Unresponsive) == 0 {
		return
	}
	d.logger.Info("health check found unresponsive workers",
		logging.Int("unresponsive", len(report.Unresponsive)),
		logging.Int("restarted", len(report.Restarted)),
		logging.Int("released", report.Released),
	)

	ctx := context.Background()
	for _, id := range report.Unresponsive {
		// Alert once per outage; later ticks only bump the failure count.
		if report.Failures[id] == 1 {
			d.notify("worker_unresponsive", d.notifier.NotifyWorkerUnresponsive(ctx, id, report.Failures[id]))
		}
	}
	for _, id := range report.Restarted {
		d.notify("worker_restarted", d.notifier.NotifyWorkerRestarted(ctx, id))
	}
	for _, id := range report.RestartFailed {
		d.notify("restart_failed", d.notifier.NotifyRestartFailed(ctx, id))
	}
}

// recordError alerts on the first failed health check of a streak. The
// streak ends with the next successful report.
func (d *Daemon) recordError(err error) {
	d.mu.Lock()
	first := !d.failing
	d.failing = true
	d.mu.Unlock()
	if !first {
		return
	}
	d.notify("health_check_failed", d.notifier.NotifyError(context.Background(), err, "health check"))
}

// watchDrained sends the drained alert when the supervisor returns on its own.
func (d *Daemon) watchDrained(ctx context.Context, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-done:
	}
	if ctx.Err() != nil || !d.stopDrained || !d.cfg.Notifications.OnDrained {
		return
	}
	stats, err := d.queue.Stats(ctx)
	if err != nil {
		d.logger.Warn("queue stats for drained alert failed", logging.Error(err))
		return
	}
	d.notify("queue_drained", d.notifier.NotifyQueueDrained(ctx, stats.Done, stats.Counts[store.TaskFailed]))
}

func (d *Daemon) notify(kind string, err error) {
	if err == nil {
		return
	}
	logging.WarnWithContext(d.logger, "notification failed", "notification_failed",
		logging.String("notification", kind),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		logging.String(logging.FieldImpact, "alert was not delivered"),
	)
}
