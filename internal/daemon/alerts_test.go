package daemon

import (
	"context"
	"errors"
	"sync"
	"testing"

	"hive/internal/fleet"
	"hive/internal/notifications"
	"hive/internal/queue"
	"hive/internal/testsupport"
)

type errorCounter struct {
	notifications.Service
	mu    sync.Mutex
	count int
}

func (c *errorCounter) NotifyError(context.Context, error, string) error {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return nil
}

func TestHealthErrorAlertsOncePerStreak(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st)
	counter := &errorCounter{Service: notifications.NewService(nil)}
	d, err := New(cfg, q, fleet.NewManager(cfg, st, q, nil), WithNotifier(counter))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	failure := errors.New("store unreachable")
	d.recordError(failure)
	d.recordError(failure)
	if counter.count != 1 {
		t.Fatalf("expected one alert for consecutive failures, got %d", counter.count)
	}

	d.recordReport(fleet.HealthReport{})
	d.recordError(failure)
	if counter.count != 2 {
		t.Fatalf("expected a new alert after recovery, got %d", counter.count)
	}
}
