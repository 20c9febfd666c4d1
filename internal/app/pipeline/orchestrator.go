package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisSpark/internal/app/deadband"
	"github.com/ghalamif/AegisSpark/internal/app/sparkplug"
	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
	"github.com/ghalamif/AegisSpark/internal/retry"
)

// Submitter takes accepted messages; *session.Machine implements it.
type Submitter interface {
	Submit(ctx context.Context, msg *domain.OutboundMessage) error
}

type Deps struct {
	Reader  ports.DeviceReader
	Filter  *deadband.Filter
	Session Submitter
	Codec   ports.Codec
	Node    sparkplug.NodeID
	Tags    []domain.Tag
	Policy  ports.Policy
	Obs     ports.Observability
	QoS     byte
}

// Orchestrator drives the sampling loop. Beyond the schedule it only keeps
// the last enqueue stamp.
type Orchestrator struct {
	d   Deps
	now func() time.Time

	mu        sync.Mutex
	lastStamp time.Time
}

func NewOrchestrator(d Deps) *Orchestrator {
	return &Orchestrator{d: d, now: time.Now}
}

// Run samples every tag once per SampleInterval until ctx is done. A slow
// pass delays the next one; ticks are not queued up.
func (o *Orchestrator) Run(ctx context.Context) error {
	interval := o.d.Policy.SampleInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		o.RunPass(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunPass reads, filters and submits each tag once. A failing tag is logged
// and skipped; it never stops the pass.
func (o *Orchestrator) RunPass(ctx context.Context) {
	for _, tag := range o.d.Tags {
		if ctx.Err() != nil {
			return
		}
		reading, err := o.read(ctx, tag)
		if err != nil {
			o.d.Obs.IncCounter(ports.MetricDeviceReadErrors, 1)
			o.d.Obs.LogWarn("device_read_failed",
				ports.Field{Key: "tag", Value: tag.ID},
				ports.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		o.d.Obs.IncCounter(ports.MetricSamplesRead, 1)
		if err := o.Publish(ctx, tag.ID, reading); err != nil {
			o.logPublishError(tag.ID, err)
		}
	}
}

func (o *Orchestrator) read(ctx context.Context, tag domain.Tag) (domain.Reading, error) {
	if o.d.Policy.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.d.Policy.ReadTimeout)
		defer cancel()
	}
	r, err := o.d.Reader.Read(ctx, tag)
	if err != nil {
		var dre *domain.DeviceReadError
		if !errors.As(err, &dre) {
			if errors.Is(err, context.DeadlineExceeded) {
				err = domain.ErrReadTimeout
			}
			err = &domain.DeviceReadError{TagID: tag.ID, Err: err}
		}
		return domain.Reading{}, err
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = o.now()
	}
	return r, nil
}

// Publish runs one reading through the deadband filter and, when accepted,
// submits it as an NDATA message. Buffer I/O failures are retried with
// backoff; anything else is returned as is.
func (o *Orchestrator) Publish(ctx context.Context, tagID string, r domain.Reading) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = o.now()
	}
	ok, err := o.d.Filter.ShouldPublish(tagID, r.Value, r.Timestamp)
	if err != nil {
		return err
	}
	if !ok {
		o.d.Obs.IncCounter(ports.MetricSamplesSuppressed, 1)
		return nil
	}
	o.d.Obs.IncCounter(ports.MetricSamplesAccepted, 1)

	tag, err := o.d.Filter.Tag(tagID)
	if err != nil {
		return err
	}
	body, err := o.d.Codec.EncodeMetrics(r.Timestamp, []ports.Metric{{
		Name:      tag.ID,
		Alias:     tag.Alias,
		Type:      tag.Type,
		Value:     r.Value,
		Timestamp: r.Timestamp,
	}})
	if err != nil {
		return fmt.Errorf("encode %s: %w", tagID, err)
	}
	tmpl := domain.OutboundMessage{
		Kind:      domain.KindData,
		Topic:     o.d.Node.Topic(sparkplug.NDATA),
		Payload:   body,
		QoS:       o.d.QoS,
		CreatedAt: o.stamp(),
	}

	return retry.Do(ctx, o.d.Policy.StorageRetry, o.d.Policy.StorageRetries, func() error {
		// each attempt gets an unsequenced copy
		msg := tmpl
		err := o.d.Session.Submit(ctx, &msg)
		if err != nil && !domain.IsStorageError(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
}

// stamp returns the gateway enqueue time used to order the backlog. Device
// timestamps only travel in the payload. The stamp never goes backwards, even
// when the wall clock is stepped.
func (o *Orchestrator) stamp() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	if now.Before(o.lastStamp) {
		now = o.lastStamp
	}
	o.lastStamp = now
	return now
}

func (o *Orchestrator) logPublishError(tagID string, err error) {
	f := ports.Field{Key: "tag", Value: tagID}
	switch {
	case errors.Is(err, domain.ErrUnknownTag), errors.Is(err, domain.ErrTypeMismatch):
		o.d.Obs.LogError("sample_rejected", err, f)
	case domain.IsStorageError(err):
		o.d.Obs.LogCritical("buffer_append_failed", err, f)
	case errors.Is(err, domain.ErrBufferCapacityExceeded):
		o.d.Obs.LogWarn("sample_dropped_capacity", f, ports.Field{Key: "error", Value: err.Error()})
	default:
		o.d.Obs.LogError("publish_failed", err, f)
	}
}
