package aegisspark

import (
	"github.com/ghalamif/AegisSpark/internal/app/session"
	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

// DeviceReader samples the current value of a tag from any field device.
type DeviceReader = ports.DeviceReader

// Transport publishes sequenced messages to a broker.
type Transport = ports.Transport

// TransportEvent notifies the session of connects, losses and node control commands.
type TransportEvent = ports.TransportEvent

// Buffer is the store-and-forward queue used while the broker is unreachable.
type Buffer = ports.Buffer

// BufferMetrics is a point-in-time buffer occupancy snapshot.
type BufferMetrics = ports.BufferMetrics

// Codec encodes payload bodies and seals messages for the wire.
type Codec = ports.Codec

// Metric is one named value in a payload body.
type Metric = ports.Metric

// Observability emits logs and metrics.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// OutboundMessage is one unit of telemetry headed for the broker.
type OutboundMessage = domain.OutboundMessage

// Reading is a sampled value with its source timestamp.
type Reading = domain.Reading

// Value is a single scalar process value.
type Value = domain.Value

// SessionStats is a read-only view of the broker session.
type SessionStats = session.Stats

// Transport event kinds.
const (
	EventConnected           = ports.EventConnected
	EventDisconnected        = ports.EventDisconnected
	EventRebirthRequested    = ports.EventRebirthRequested
	EventRebootRequested     = ports.EventRebootRequested
	EventNextServerRequested = ports.EventNextServerRequested
)

// ErrRebootRequested ends Gateway.Run when the host application sends a
// Node Control/Reboot command. The death has been sent by then.
var ErrRebootRequested = domain.ErrRebootRequested

func NumberValue(f float64) Value { return domain.NumberValue(f) }
func BoolValue(b bool) Value      { return domain.BoolValue(b) }
func StringValue(s string) Value  { return domain.StringValue(s) }
