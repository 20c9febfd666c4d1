package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/AegisSpark/internal/ports"
)

// RunGaugeRecorder publishes buffer occupancy gauges every interval until ctx
// is done.
func RunGaugeRecorder(ctx context.Context, buf ports.Buffer, interval time.Duration, obs ports.Observability) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		RecordBufferGauges(ctx, buf, obs, time.Now())
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RecordBufferGauges takes one occupancy snapshot.
func RecordBufferGauges(ctx context.Context, buf ports.Buffer, obs ports.Observability, now time.Time) {
	m, err := buf.Metrics(ctx)
	if err != nil {
		if ctx.Err() == nil {
			obs.IncCounter(ports.MetricStorageErrors, 1)
			obs.LogError("buffer_metrics_failed", err)
		}
		return
	}
	obs.SetGauge(ports.MetricBufferSizeBytes, float64(m.SizeBytes))
	obs.SetGauge(ports.MetricBufferMessages, float64(m.MessageCount))
	obs.SetGauge(ports.MetricBufferDropped, float64(m.DroppedCount))
	obs.SetGauge(ports.MetricBufferOldestAge, m.OldestAge(now).Seconds())
}
