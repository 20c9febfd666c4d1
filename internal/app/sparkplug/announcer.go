package sparkplug

import (
	"fmt"
	"time"

	"github.com/ghalamif/AegisSpark/internal/app/deadband"
	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

// Node control and session metric names.
const (
	MetricBdSeq      = "bdSeq"
	MetricRebirth    = "Node Control/Rebirth"
	MetricReboot     = "Node Control/Reboot"
	MetricNextServer = "Node Control/Next Server"
)

// TagSource lists the registered tags with their last transmitted values.
type TagSource interface {
	Snapshot() []deadband.Snapshot
}

// Announcer builds NBIRTH and NDEATH messages for one edge node.
type Announcer struct {
	node  NodeID
	codec ports.Codec
	tags  TagSource
	props NodeProperties
	now   func() time.Time
}

type AnnouncerOption func(*Announcer)

// WithProperties adds the node property metrics to every birth.
func WithProperties(p NodeProperties) AnnouncerOption {
	return func(a *Announcer) { a.props = p }
}

func NewAnnouncer(node NodeID, codec ports.Codec, tags TagSource, opts ...AnnouncerOption) *Announcer {
	a := &Announcer{node: node, codec: codec, tags: tags, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Birth announces the node with every tag it publishes. Tags not yet sampled
// are listed without a value.
func (a *Announcer) Birth(bdSeq uint64) (*domain.OutboundMessage, error) {
	ts := a.now()
	metrics := []ports.Metric{
		{Name: MetricBdSeq, Type: domain.DataTypeUInt64, Value: domain.NumberValue(float64(bdSeq)), Timestamp: ts},
		{Name: MetricRebirth, Type: domain.DataTypeBoolean, Value: domain.BoolValue(false), Timestamp: ts},
		{Name: MetricReboot, Type: domain.DataTypeBoolean, Value: domain.BoolValue(false), Timestamp: ts},
		{Name: MetricNextServer, Type: domain.DataTypeBoolean, Value: domain.BoolValue(false), Timestamp: ts},
	}
	metrics = append(metrics, a.props.Metrics(ts)...)
	if a.tags != nil {
		for _, s := range a.tags.Snapshot() {
			m := ports.Metric{
				Name:        s.Tag.ID,
				Alias:       s.Tag.Alias,
				Type:        s.Tag.Type,
				Units:       s.Tag.Units,
				Description: s.Tag.Description,
				Timestamp:   ts,
			}
			if s.Seen {
				m.Value = s.Last
				m.Timestamp = s.LastAt
			}
			metrics = append(metrics, m)
		}
	}
	body, err := a.codec.EncodeMetrics(ts, metrics)
	if err != nil {
		return nil, fmt.Errorf("encode birth: %w", err)
	}
	return &domain.OutboundMessage{
		Kind:      domain.KindBirth,
		Topic:     a.node.Topic(NBIRTH),
		Payload:   body,
		CreatedAt: ts,
		BdSeq:     bdSeq,
	}, nil
}

// Death carries only bdSeq so the host can match it to the birth it ends.
func (a *Announcer) Death(bdSeq uint64) (*domain.OutboundMessage, error) {
	ts := a.now()
	body, err := a.codec.EncodeMetrics(ts, []ports.Metric{
		{Name: MetricBdSeq, Type: domain.DataTypeUInt64, Value: domain.NumberValue(float64(bdSeq)), Timestamp: ts},
	})
	if err != nil {
		return nil, fmt.Errorf("encode death: %w", err)
	}
	return &domain.OutboundMessage{
		Kind:      domain.KindDeath,
		Topic:     a.node.Topic(NDEATH),
		Payload:   body,
		QoS:       1,
		CreatedAt: ts,
		BdSeq:     bdSeq,
	}, nil
}

// IsRebirthRequest reports whether an NCMD body asks the node to rebirth.
func IsRebirthRequest(metrics []ports.Metric) bool {
	return requested(metrics, MetricRebirth)
}

// IsRebootRequest reports whether an NCMD body asks the node to restart.
func IsRebootRequest(metrics []ports.Metric) bool {
	return requested(metrics, MetricReboot)
}

// Commands maps an NCMD body to the transport events it asks for, in
// metric order. Unknown metrics and false values are ignored.
func Commands(metrics []ports.Metric) []ports.EventKind {
	var out []ports.EventKind
	for _, m := range metrics {
		if m.Value.Kind != domain.KindBool || !m.Value.Bool {
			continue
		}
		switch m.Name {
		case MetricRebirth:
			out = append(out, ports.EventRebirthRequested)
		case MetricReboot:
			out = append(out, ports.EventRebootRequested)
		case MetricNextServer:
			out = append(out, ports.EventNextServerRequested)
		}
	}
	return out
}

func requested(metrics []ports.Metric, name string) bool {
	for _, m := range metrics {
		if m.Name == name && m.Value.Kind == domain.KindBool && m.Value.Bool {
			return true
		}
	}
	return false
}

var _ ports.Announcer = (*Announcer)(nil)
