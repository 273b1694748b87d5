package fleet

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hive/internal/errs"
	"hive/internal/logging"
	"hive/internal/queue"
)

// Supervisor runs the health check on a fixed interval.
type Supervisor struct {
	manager  *Manager
	queue    *queue.Queue
	interval time.Duration
	logger   *slog.Logger

	// IdleWhenDrained keeps the supervisor waiting for new work instead of
	// returning once no task is pending or processing.
	IdleWhenDrained bool
	// OnTick, when set, receives every report.
	OnTick func(HealthReport)
	// OnError, when set, receives every failed health check.
	OnError func(error)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewSupervisor builds a supervisor ticking every interval.
func NewSupervisor(m *Manager, q *queue.Queue, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = m.cfg.HealthInterval()
	}
	return &Supervisor{
		manager:  m,
		queue:    q,
		interval: interval,
		logger:   logging.NewComponentLogger(m.logger, "supervisor"),
	}
}

// Run ticks until ctx is cancelled or, unless IdleWhenDrained, the queue has
// no pending or processing task left.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started", logging.Duration("interval", s.interval))
	for {
		outstanding, err := s.queue.HasOutstanding(ctx)
		switch {
		case err != nil:
			s.logger.Warn("queue stats failed", logging.Error(err))
			outstanding = true
		case !outstanding && !s.IdleWhenDrained:
			s.logger.Info("queue drained; supervisor stopping")
			return nil
		}

		if outstanding {
			s.tick(ctx)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopped")
			return nil
		case <-time.After(s.interval):
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	report, err := s.manager.CheckHealth(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.setLastError(err)
		s.logger.Error("health check failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "health_check_failed"),
			logging.String(logging.FieldErrorHint, "check store access"),
			logging.String("error_kind", string(errs.KindOf(err))),
		)
		if s.OnError != nil {
			s.OnError(err)
		}
		return
	}
	if n, err := s.queue.RollUpParents(ctx); err != nil {
		s.logger.Warn("parent roll-up sweep failed", logging.Error(err))
	} else if n > 0 {
		s.logger.Info("settled mega-tasks", logging.Int("count", n))
	}
	if s.OnTick != nil {
		s.OnTick(report)
	}
}

// Start runs the supervisor in the background.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("supervisor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := s.Run(runCtx); err != nil {
			s.setLastError(err)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}(s.done)
	return nil
}

// Stop cancels a background run and waits for it to return.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when a background run returns.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Running reports whether a background run is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastError returns the most recent health-check failure.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Supervisor) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
