package telemetry

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Sample is one aggregated metric value.
type Sample struct {
	Name  string
	Value float64
	Count uint64
}

// Snapshot collects the current value of every instrument. Disabled providers
// return nothing.
func (p *Provider) Snapshot(ctx context.Context) ([]Sample, error) {
	if p == nil || p.reader == nil {
		return nil, nil
	}
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	var samples []Sample
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				samples = append(samples, Sample{Name: m.Name, Value: float64(total)})
			case metricdata.Histogram[float64]:
				var (
					sum   float64
					count uint64
				)
				for _, dp := range data.DataPoints {
					sum += dp.Sum
					count += dp.Count
				}
				samples = append(samples, Sample{Name: m.Name, Value: sum, Count: count})
			}
		}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples, nil
}

// LogSnapshot writes the current metric values to logger at info level.
func (p *Provider) LogSnapshot(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		return
	}
	samples, err := p.Snapshot(ctx)
	if err != nil {
		logger.Warn("metrics snapshot failed", slog.String("error", err.Error()))
		return
	}
	if len(samples) == 0 {
		return
	}
	attrs := make([]any, 0, len(samples))
	for _, s := range samples {
		if s.Count > 0 {
			attrs = append(attrs, slog.Group(s.Name, slog.Float64("sum", s.Value), slog.Uint64("count", s.Count)))
			continue
		}
		attrs = append(attrs, slog.Float64(s.Name, s.Value))
	}
	logger.Info("metrics snapshot", attrs...)
}
