package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the coordination instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	TasksEnqueued  metric.Int64Counter
	TasksClaimed   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TasksReleased  metric.Int64Counter
	HealthTicks    metric.Int64Counter
	Unresponsive   metric.Int64Counter
	Restarts       metric.Int64Counter
	SpawnFailures  metric.Int64Counter
	TickDuration   metric.Float64Histogram
}

// NewMetrics creates every instrument from meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.TasksEnqueued, "hive.tasks.enqueued", "Tasks added to the queue"},
		{&m.TasksClaimed, "hive.tasks.claimed", "Tasks claimed by workers"},
		{&m.TasksCompleted, "hive.tasks.completed", "Tasks reported complete"},
		{&m.TasksFailed, "hive.tasks.failed", "Tasks moved to failed"},
		{&m.TasksReleased, "hive.tasks.released", "Tasks returned to pending by the supervisor"},
		{&m.HealthTicks, "hive.fleet.health_ticks", "Health-check passes run"},
		{&m.Unresponsive, "hive.fleet.unresponsive", "Workers found unresponsive"},
		{&m.Restarts, "hive.fleet.restarts", "Successful automatic restarts"},
		{&m.SpawnFailures, "hive.fleet.spawn_failures", "Failed worker launches"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	var err error
	m.TickDuration, err = meter.Float64Histogram("hive.fleet.tick.duration",
		metric.WithDescription("Health-check pass duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func add(ctx context.Context, counter metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if counter == nil || n == 0 {
		return
	}
	counter.Add(ctx, n, metric.WithAttributes(attrs...))
}

// Enqueued counts n new tasks of class.
func (m *Metrics) Enqueued(ctx context.Context, class string, n int) {
	if m != nil {
		add(ctx, m.TasksEnqueued, int64(n), AttrClass.String(class))
	}
}

// Claimed counts one successful claim.
func (m *Metrics) Claimed(ctx context.Context, class string) {
	if m != nil {
		add(ctx, m.TasksClaimed, 1, AttrClass.String(class))
	}
}

// Completed counts one task reported complete.
func (m *Metrics) Completed(ctx context.Context, class string) {
	if m != nil {
		add(ctx, m.TasksCompleted, 1, AttrClass.String(class))
	}
}

// Failed counts one task moved to failed.
func (m *Metrics) Failed(ctx context.Context, class string) {
	if m != nil {
		add(ctx, m.TasksFailed, 1, AttrClass.String(class))
	}
}

// Released counts tasks returned to pending.
func (m *Metrics) Released(ctx context.Context, n int) {
	if m != nil {
		add(ctx, m.TasksReleased, int64(n))
	}
}

// Tick records one health-check pass.
func (m *Metrics) Tick(ctx context.Context, seconds float64, unresponsive int) {
	if m == nil {
		return
	}
	add(ctx, m.HealthTicks, 1)
	add(ctx, m.Unresponsive, int64(unresponsive))
	if m.TickDuration != nil {
		m.TickDuration.Record(ctx, seconds)
	}
}

// Restarted counts one successful automatic restart.
func (m *Metrics) Restarted(ctx context.Context) {
	if m != nil {
		add(ctx, m.Restarts, 1)
	}
}

// SpawnFailed counts one failed launch.
func (m *Metrics) SpawnFailed(ctx context.Context) {
	if m != nil {
		add(ctx, m.SpawnFailures, 1)
	}
}
