package aegisspark

import (
	"github.com/prometheus/client_golang/prometheus"

	base "github.com/ghalamif/AegisSpark/pkg/aegisspark"
)

// Re-exported errors for convenience.
var (
	ErrChannelTransportClosed = base.ErrChannelTransportClosed
	ErrRebootRequested        = base.ErrRebootRequested
)

// AdminDisabled as metrics.addr turns the admin HTTP server off.
const AdminDisabled = base.AdminDisabled

// Type aliases so consumers can import github.com/ghalamif/AegisSpark directly.
type (
	Config           = base.Config
	Policy           = base.Policy
	Backoff          = base.Backoff
	NodeID           = base.NodeID
	PropertiesConfig = base.PropertiesConfig
	Location         = base.Location
	Tag              = base.Tag
	DataType         = base.DataType
	TransportConfig  = base.TransportConfig
	MQTTConfig       = base.MQTTConfig
	TLSConfig        = base.TLSConfig
	NATSConfig       = base.NATSConfig
	BufferConfig     = base.BufferConfig
	ReaderConfig     = base.ReaderConfig
	OPCUAConfig      = base.OPCUAConfig
	FileReaderConfig = base.FileReaderConfig
	MetricsConfig    = base.MetricsConfig
	LogConfig        = base.LogConfig
	Flow             = base.Flow
	FlowOption       = base.FlowOption
	StreamInOption   = base.StreamInOption
	StreamOutOption  = base.StreamOutOption
	Gateway          = base.Gateway
	GatewayOption    = base.GatewayOption
	DeviceReader     = base.DeviceReader
	Transport        = base.Transport
	TransportEvent   = base.TransportEvent
	Buffer           = base.Buffer
	BufferMetrics    = base.BufferMetrics
	Codec            = base.Codec
	Metric           = base.Metric
	Observability    = base.Observability
	Field            = base.Field
	OutboundMessage  = base.OutboundMessage
	Reading          = base.Reading
	Value            = base.Value
	SessionStats     = base.SessionStats
	MessageHandler   = base.MessageHandler
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...GatewayOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInReader(r DeviceReader) StreamInOption {
	return base.StreamInReader(r)
}

func StreamInBuffer(b Buffer) StreamInOption {
	return base.StreamInBuffer(b)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutTransport(t Transport) StreamOutOption {
	return base.StreamOutTransport(t)
}

func StreamOutCodec(c Codec) StreamOutOption {
	return base.StreamOutCodec(c)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn MessageHandler) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

// Gateway and options.
func NewGateway(cfg *Config, opts ...GatewayOption) (*Gateway, error) {
	return base.NewGateway(cfg, opts...)
}

func WithReader(r DeviceReader) GatewayOption {
	return base.WithReader(r)
}

func WithTransport(t Transport) GatewayOption {
	return base.WithTransport(t)
}

func WithBuffer(b Buffer) GatewayOption {
	return base.WithBuffer(b)
}

func WithCodec(c Codec) GatewayOption {
	return base.WithCodec(c)
}

func WithObservability(obs Observability) GatewayOption {
	return base.WithObservability(obs)
}

func WithRegistry(reg *prometheus.Registry) GatewayOption {
	return base.WithRegistry(reg)
}

// Transport adapters.
func NewCallbackTransport(name string, fn MessageHandler) Transport {
	return base.NewCallbackTransport(name, fn)
}

func NewChannelTransport(name string, buffer int) (Transport, <-chan OutboundMessage, func()) {
	return base.NewChannelTransport(name, buffer)
}

// Values.
func NumberValue(f float64) Value { return base.NumberValue(f) }
func BoolValue(b bool) Value      { return base.BoolValue(b) }
func StringValue(s string) Value  { return base.StringValue(s) }
