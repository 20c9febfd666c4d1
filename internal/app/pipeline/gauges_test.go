package pipeline

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

type staticBuffer struct {
	m ports.BufferMetrics
}

func (b *staticBuffer) Append(context.Context, *domain.OutboundMessage) (ports.EntryID, error) {
	return 0, nil
}
func (b *staticBuffer) DrainOrdered(context.Context) iter.Seq2[ports.Entry, error] {
	return func(func(ports.Entry, error) bool) {}
}
func (b *staticBuffer) Ack(context.Context, ports.EntryID) error { return nil }
func (b *staticBuffer) Metrics(context.Context) (ports.BufferMetrics, error) {
	return b.m, nil
}
func (b *staticBuffer) Close() error { return nil }

func TestRecordBufferGauges(t *testing.T) {
	now := time.Now()
	buf := &staticBuffer{m: ports.BufferMetrics{
		SizeBytes:       2048,
		MessageCount:    7,
		DroppedCount:    2,
		OldestTimestamp: now.Add(-90 * time.Second),
	}}
	obs := newMockObs()

	RecordBufferGauges(context.Background(), buf, obs, now)

	if obs.gauges[ports.MetricBufferSizeBytes] != 2048 || obs.gauges[ports.MetricBufferMessages] != 7 {
		t.Fatalf("unexpected gauges %v", obs.gauges)
	}
	if obs.gauges[ports.MetricBufferDropped] != 2 {
		t.Fatalf("expected dropped gauge 2, got %v", obs.gauges[ports.MetricBufferDropped])
	}
	if obs.gauges[ports.MetricBufferOldestAge] != 90 {
		t.Fatalf("expected oldest age 90s, got %v", obs.gauges[ports.MetricBufferOldestAge])
	}
}
