package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisSpark/internal/adapters/filereader"
	"github.com/ghalamif/AegisSpark/internal/adapters/mqtt"
	"github.com/ghalamif/AegisSpark/internal/adapters/natstransport"
	"github.com/ghalamif/AegisSpark/internal/adapters/observability"
	"github.com/ghalamif/AegisSpark/internal/adapters/opcua"
	"github.com/ghalamif/AegisSpark/internal/app/sparkplug"
	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
	"github.com/ghalamif/AegisSpark/internal/retry"
)

type Config struct {
	Node       sparkplug.NodeID           `yaml:"node"`
	Properties sparkplug.PropertiesConfig `yaml:"properties"`
	Policy     ports.Policy               `yaml:"policy"`
	Transport  TransportConfig            `yaml:"transport"`
	MQTT       mqtt.Config                `yaml:"mqtt"`
	NATS       natstransport.Config       `yaml:"nats"`
	Buffer     BufferConfig               `yaml:"buffer"`
	Reader     ReaderConfig               `yaml:"reader"`
	Tags       []domain.Tag               `yaml:"tags"`
	Metrics    MetricsConfig              `yaml:"metrics"`
	Log        observability.LogConfig    `yaml:"log"`
}

// TransportConfig picks the broker client. DataQoS applies to NDATA messages.
type TransportConfig struct {
	Kind    string `yaml:"kind"`
	DataQoS byte   `yaml:"data_qos"`
}

// BufferConfig selects the durable buffer backend: "wal" (journal files in
// Dir), "sqlite", "postgres" (DSN) or "memory" (not durable, tests only).
type BufferConfig struct {
	Kind     string `yaml:"kind"`
	Dir      string `yaml:"dir"`
	DSN      string `yaml:"dsn"`
	Table    string `yaml:"table"`
	PageSize int    `yaml:"page_size"`
}

type ReaderConfig struct {
	Kind  string            `yaml:"kind"`
	OPCUA opcua.Config      `yaml:"opcua"`
	File  filereader.Config `yaml:"file"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw, os.LookupEnv)
}

// Parse decodes YAML, applies environment overrides from lookup and then
// defaults, and validates the result.
func Parse(raw []byte, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if lookup != nil {
		if err := cfg.applyEnv(lookup); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv maps the MQTT_* variables used by existing deployments onto the
// configuration.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"MQTT_BROKER":      &c.MQTT.Broker,
		"MQTT_PROTOCOL":    &c.MQTT.Protocol,
		"MQTT_CLIENT_ID":   &c.MQTT.ClientID,
		"MQTT_USERNAME":    &c.MQTT.Username,
		"MQTT_PASSWORD":    &c.MQTT.Password,
		"MQTT_TLS_MODE":    &c.MQTT.TLS.Mode,
		"MQTT_CA_CERT":     &c.MQTT.TLS.CAFile,
		"MQTT_CLIENT_CERT": &c.MQTT.TLS.CertFile,
		"MQTT_CLIENT_KEY":  &c.MQTT.TLS.KeyFile,
		"MQTT_GROUP_ID":    &c.Node.Group,
		"MQTT_NODE_ID":     &c.Node.Node,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("MQTT_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MQTT_PORT: %w", err)
		}
		c.MQTT.Port = port
	}
	if v, ok := lookup("MQTT_TRANSPORT"); ok && strings.EqualFold(v, "websockets") {
		if c.MQTT.TLS.Mode != "" && c.MQTT.TLS.Mode != mqtt.TLSNone {
			c.MQTT.Protocol = "wss"
		} else {
			c.MQTT.Protocol = "ws"
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	p := &c.Policy
	if p.SampleInterval <= 0 {
		p.SampleInterval = time.Second
	}
	if p.ReadTimeout <= 0 {
		p.ReadTimeout = 2 * time.Second
	}
	if p.SendTimeout <= 0 {
		p.SendTimeout = 5 * time.Second
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = 10 * time.Second
	}
	if p.GaugeInterval <= 0 {
		p.GaugeInterval = 5 * time.Second
	}
	if p.MaxBufferBytes == 0 {
		p.MaxBufferBytes = 256 << 20
	}
	if p.MaxBufferMessages == 0 {
		p.MaxBufferMessages = 1_000_000
	}
	if p.StorageRetries <= 0 {
		p.StorageRetries = 3
	}
	p.Reconnect = retry.WithDefaults(p.Reconnect)
	if p.StorageRetry.InitialDelay <= 0 {
		p.StorageRetry.InitialDelay = 50 * time.Millisecond
	}
	if p.StorageRetry.MaxDelay <= 0 {
		p.StorageRetry.MaxDelay = time.Second
	}
	p.StorageRetry = retry.WithDefaults(p.StorageRetry)

	if c.Transport.Kind == "" {
		c.Transport.Kind = "mqtt"
	}
	switch c.Transport.Kind {
	case "mqtt":
		c.MQTT.ApplyDefaults()
	case "nats":
		c.NATS.ApplyDefaults()
	}

	if c.Buffer.Kind == "" {
		c.Buffer.Kind = "wal"
	}
	if c.Buffer.Kind == "wal" && c.Buffer.Dir == "" {
		c.Buffer.Dir = "./data/buffer"
	}
	if c.Buffer.Table == "" {
		c.Buffer.Table = "outbound_buffer"
	}

	if c.Reader.Kind == "" {
		c.Reader.Kind = "opcua"
	}
	switch c.Reader.Kind {
	case "opcua":
		c.Reader.OPCUA.ApplyDefaults()
	case "file":
		c.Reader.File.ApplyDefaults()
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	c.Log.ApplyDefaults()
}

func (c *Config) validate() error {
	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}

	switch c.Transport.Kind {
	case "mqtt":
		if err := c.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt config: %w", err)
		}
	case "nats":
		if err := c.NATS.Validate(); err != nil {
			return fmt.Errorf("nats config: %w", err)
		}
	default:
		return fmt.Errorf("transport.kind %q must be mqtt or nats", c.Transport.Kind)
	}
	if c.Transport.DataQoS > 2 {
		return fmt.Errorf("transport.data_qos must be 0, 1 or 2")
	}

	switch c.Buffer.Kind {
	case "wal":
		if c.Buffer.Dir == "" {
			return fmt.Errorf("buffer.dir is required")
		}
	case "sqlite", "sqlite3", "postgres", "postgresql":
		if c.Buffer.DSN == "" {
			return fmt.Errorf("buffer.dsn is required for %s", c.Buffer.Kind)
		}
	case "memory":
	default:
		return fmt.Errorf("buffer.kind %q must be wal, sqlite, postgres or memory", c.Buffer.Kind)
	}
	if c.Policy.MaxBufferBytes < 0 || c.Policy.MaxBufferMessages < 0 {
		return fmt.Errorf("buffer limits must not be negative")
	}

	switch c.Reader.Kind {
	case "opcua":
		if err := c.Reader.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	case "file":
		if c.Reader.File.Dir == "" {
			return fmt.Errorf("reader.file.dir is required")
		}
	case "none":
	default:
		return fmt.Errorf("reader.kind %q must be opcua, file or none", c.Reader.Kind)
	}

	if len(c.Tags) == 0 {
		return fmt.Errorf("at least one tag is required")
	}
	seen := make(map[string]bool, len(c.Tags))
	for _, t := range c.Tags {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate tag id %q", t.ID)
		}
		seen[t.ID] = true
	}

	if c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required")
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
