package fleet

import (
	"context"
	"fmt"
	"time"

	"hive/internal/launcher"
	"hive/internal/logging"
	"hive/internal/store"
	"hive/internal/telemetry"
)

// HealthReport summarizes one health-check pass.
type HealthReport struct {
	CheckedAt     time.Time      `json:"checked_at"`
	Checked       int            `json:"checked"`
	Healthy       []string       `json:"healthy,omitempty"`
	Unresponsive  []string       `json:"unresponsive,omitempty"`
	Released      int            `json:"released"`
	Restarted     []string       `json:"restarted,omitempty"`
	RestartFailed []string       `json:"restart_failed,omitempty"`
	Failures      map[string]int `json:"failures,omitempty"`
}

// Unhealthy reports whether w should be treated as unresponsive at now.
func Unhealthy(w store.Worker, now time.Time, threshold time.Duration) bool {
	return w.Status == store.WorkerError || now.Sub(w.LastSeen()) >= threshold
}

// CheckHealth runs one pass over every non-terminal worker. Unhealthy workers
// lose their claimed tasks and are marked error; on the restart threshold a
// single restart is attempted.
func (m *Manager) CheckHealth(ctx context.Context) (report HealthReport, err error) {
	ctx, span := telemetry.StartSpan(ctx, m.telemetry.Tracer, "fleet.check_health")
	defer func() { telemetry.EndSpan(span, err) }()

	started := time.Now()
	now := m.now()
	report = HealthReport{CheckedAt: now, Failures: make(map[string]int)}
	workers, err := m.store.ListWorkers(ctx)
	if err != nil {
		return report, fmt.Errorf("list workers: %w", err)
	}

	threshold := m.cfg.UnresponsiveThreshold()
	for _, w := range workers {
		if w.Status.Terminal() {
			continue
		}
		report.Checked++

		finished, err := m.store.IsFinished(ctx, w.ID)
		if err != nil {
			m.logger.Warn("finished sentinel check failed", logging.WorkerID(w.ID), logging.Error(err))
		}
		if finished || !Unhealthy(w, now, threshold) {
			m.resetFailures(w.ID)
			report.Healthy = append(report.Healthy, w.ID)
			continue
		}

		count := m.handleUnresponsive(ctx, w, now, &report)
		report.Failures[w.ID] = count
	}

	m.telemetry.Metrics.Tick(ctx, time.Since(started).Seconds(), len(report.Unresponsive))
	m.logger.Debug("health check complete",
		logging.Int("checked", report.Checked),
		logging.Int("unresponsive", len(report.Unresponsive)),
		logging.Int("released", report.Released),
	)
	return report, nil
}

func (m *Manager) resetFailures(workerID string) {
	m.mu.Lock()
	delete(m.failures, workerID)
	m.mu.Unlock()
}

func (m *Manager) handleUnresponsive(ctx context.Context, w store.Worker, now time.Time, report *HealthReport) int {
	m.mu.Lock()
	m.failures[w.ID]++
	count := m.failures[w.ID]
	m.mu.Unlock()
	report.Unresponsive = append(report.Unresponsive, w.ID)

	released, err := m.queue.Release(ctx, w.ID)
	if err != nil {
		m.logger.Warn("release of unresponsive worker's tasks failed", logging.WorkerID(w.ID), logging.Error(err))
	}
	report.Released += released

	silent := now.Sub(w.LastSeen()).Round(time.Second)
	if _, err := m.store.UpdateWorker(ctx, w.ID, func(rec *store.Worker) error {
		if rec.Status.Terminal() {
			return nil
		}
		rec.Status = store.WorkerError
		rec.CurrentTask = 0
		if rec.LastError == "" {
			rec.LastError = fmt.Sprintf("unresponsive: no heartbeat for %s", silent)
		}
		return nil
	}); err != nil {
		m.logger.Warn("mark worker error failed", logging.WorkerID(w.ID), logging.Error(err))
	}

	m.record(ctx, EventWorkerUnresponsive, w.ID, fmt.Sprintf("consecutive failures %d, released %d", count, released))
	logging.WarnWithContext(m.logger, "worker unresponsive", EventWorkerUnresponsive,
		logging.WorkerID(w.ID),
		logging.Int("consecutive_failures", count),
		logging.Int("released_tasks", released),
		logging.Duration("silent_for", silent),
		logging.String(logging.FieldErrorHint, "check the worker log and process"),
		logging.String(logging.FieldImpact, "claimed tasks returned to the queue"),
	)

	if count != m.cfg.Fleet.RestartThreshold {
		return count
	}
	return m.restart(ctx, w, count, report)
}

func (m *Manager) restart(ctx context.Context, w store.Worker, count int, report *HealthReport) int {
	err := m.stopSession(ctx, w)
	if err == nil {
		_, err = m.Spawn(ctx, w.ID)
	}
	if err != nil {
		report.RestartFailed = append(report.RestartFailed, w.ID)
		m.record(ctx, EventRestartFailed, w.ID, err.Error())
		logging.ErrorWithContext(m.logger, "worker restart failed", EventRestartFailed,
			logging.WorkerID(w.ID),
			logging.Alert(AlertRestartExhausted),
			logging.Int("consecutive_failures", count),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart the worker by hand with `hive worker spawn`"),
			logging.String(logging.FieldImpact, "fleet runs with one fewer healthy worker"),
		)
		return count
	}

	if _, err := m.store.UpdateWorker(ctx, w.ID, func(rec *store.Worker) error {
		rec.Status = store.WorkerIdle
		rec.LastError = ""
		return nil
	}); err != nil {
		m.logger.Warn("mark restarted worker idle failed", logging.WorkerID(w.ID), logging.Error(err))
	}
	m.resetFailures(w.ID)
	report.Restarted = append(report.Restarted, w.ID)
	m.telemetry.Metrics.Restarted(ctx)
	m.record(ctx, EventWorkerRestarted, w.ID, fmt.Sprintf("after %d consecutive failures", count))
	m.logger.Info("worker restarted",
		logging.EventType(EventWorkerRestarted),
		logging.WorkerID(w.ID),
		logging.Int("consecutive_failures", count),
	)
	return 0
}

// stopSession ends the worker's previous session when the launcher supports
// it, so a paused process cannot resume next to its replacement.
func (m *Manager) stopSession(ctx context.Context, w store.Worker) error {
	stopper, ok := m.launcher.(launcher.Stopper)
	if !ok || w.PID <= 0 {
		return nil
	}
	if err := stopper.Stop(ctx, w.PID); err != nil {
		return fmt.Errorf("stop previous session of %s: %w", w.ID, err)
	}
	m.record(ctx, EventSessionStopped, w.ID, fmt.Sprintf("pid %d", w.PID))
	m.logger.Info("previous session stopped",
		logging.EventType(EventSessionStopped),
		logging.WorkerID(w.ID),
		logging.Int("pid", w.PID),
	)
	return nil
}
