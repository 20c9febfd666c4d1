package aegisspark

import (
	"github.com/ghalamif/AegisSpark/internal/adapters/filereader"
	"github.com/ghalamif/AegisSpark/internal/adapters/mqtt"
	"github.com/ghalamif/AegisSpark/internal/adapters/natstransport"
	"github.com/ghalamif/AegisSpark/internal/adapters/observability"
	"github.com/ghalamif/AegisSpark/internal/adapters/opcua"
	"github.com/ghalamif/AegisSpark/internal/app/config"
	"github.com/ghalamif/AegisSpark/internal/app/sparkplug"
	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy holds sampling, timeout, buffer and retry settings.
	Policy = ports.Policy
	// Backoff describes a capped, jittered exponential delay.
	Backoff = ports.Backoff
	// NodeID names the edge node in the Sparkplug namespace.
	NodeID = sparkplug.NodeID
	// PropertiesConfig sets node properties that cannot be detected.
	PropertiesConfig = sparkplug.PropertiesConfig
	// Location is the fixed position announced in the birth.
	Location = sparkplug.Location
	// Tag describes a monitored point and its deadband.
	Tag = domain.Tag
	// DataType is the declared scalar type of a tag.
	DataType = domain.DataType
	// TransportConfig selects mqtt or nats.
	TransportConfig = config.TransportConfig
	// MQTTConfig configures the MQTT broker connection.
	MQTTConfig = mqtt.Config
	// TLSConfig selects one of the MQTT TLS modes.
	TLSConfig = mqtt.TLSConfig
	// NATSConfig configures the NATS connection.
	NATSConfig = natstransport.Config
	// BufferConfig selects the durable buffer backend.
	BufferConfig = config.BufferConfig
	// ReaderConfig selects the device reader.
	ReaderConfig = config.ReaderConfig
	// OPCUAConfig holds OPC UA connection details.
	OPCUAConfig = opcua.Config
	// FileReaderConfig points the file reader at its directory.
	FileReaderConfig = filereader.Config
	// MetricsConfig configures the admin HTTP server.
	MetricsConfig = config.MetricsConfig
	// LogConfig configures the zap logger.
	LogConfig = observability.LogConfig
)

// Datatypes accepted in Tag.Type.
const (
	DataTypeDouble  = domain.DataTypeDouble
	DataTypeFloat   = domain.DataTypeFloat
	DataTypeInt64   = domain.DataTypeInt64
	DataTypeUInt64  = domain.DataTypeUInt64
	DataTypeBoolean = domain.DataTypeBoolean
	DataTypeString  = domain.DataTypeString
)

// LoadConfig loads YAML from disk, applies MQTT_* environment overrides and
// defaults, and validates the result.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig is LoadConfig for in-memory YAML. Environment overrides are
// not applied.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw, nil)
}
