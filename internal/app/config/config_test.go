package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
)

const minimal = `
node:
  group_id: plant1
  node_id: edge1
mqtt:
  broker: broker.local
reader:
  opcua:
    endpoint: opc.tcp://localhost:4840
tags:
  - id: flow_rate
    type: double
    deadband: 0.5
    source: "ns=2;s=Line1.FlowRate"
  - id: pump_on
    type: bool
`

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimal), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Policy.SampleInterval != time.Second {
		t.Fatalf("expected SampleInterval default 1s, got %s", cfg.Policy.SampleInterval)
	}
	if cfg.Policy.Reconnect.InitialDelay != 500*time.Millisecond || cfg.Policy.Reconnect.MaxDelay != 30*time.Second {
		t.Fatalf("unexpected reconnect backoff %+v", cfg.Policy.Reconnect)
	}
	if cfg.Policy.StorageRetries != 3 {
		t.Fatalf("expected 3 storage retries, got %d", cfg.Policy.StorageRetries)
	}
	if cfg.Transport.Kind != "mqtt" || cfg.Buffer.Kind != "wal" || cfg.Reader.Kind != "opcua" {
		t.Fatalf("unexpected kinds: %s/%s/%s", cfg.Transport.Kind, cfg.Buffer.Kind, cfg.Reader.Kind)
	}
	if cfg.Buffer.Dir != "./data/buffer" {
		t.Fatalf("expected default buffer dir, got %s", cfg.Buffer.Dir)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if cfg.MQTT.BrokerURL() != "tcp://broker.local:1883" {
		t.Fatalf("unexpected broker url %s", cfg.MQTT.BrokerURL())
	}
	if !strings.HasPrefix(cfg.MQTT.ClientID, "aegis-spark-") {
		t.Fatalf("expected generated client id, got %q", cfg.MQTT.ClientID)
	}
	if cfg.Tags[0].Type != domain.DataTypeDouble || cfg.Tags[1].Type != domain.DataTypeBoolean {
		t.Fatalf("unexpected tag types %v %v", cfg.Tags[0].Type, cfg.Tags[1].Type)
	}
	if cfg.Log.Level != "info" || cfg.Log.Encoding != "console" {
		t.Fatalf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestNodePropertiesAndFailover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := minimal + `
properties:
  hardware_make: Advantech UNO-2271G
  firmware_version: 2.4.1
  firmware_date: 2024-03-01T00:00:00Z
  location: {lat: 48.13, long: 11.58, source: manual}
`
	body = strings.Replace(body, "  broker: broker.local\n", "  broker: broker.local\n  failover: [ssl://standby.local:8883]\n", 1)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	p := cfg.Properties
	if p.HardwareMake != "Advantech UNO-2271G" || p.FirmwareVersion != "2.4.1" {
		t.Fatalf("unexpected properties %+v", p)
	}
	if !p.FirmwareDate.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected firmware date %v", p.FirmwareDate)
	}
	if p.Location == nil || p.Location.Lat != 48.13 || p.Location.Source != "manual" {
		t.Fatalf("unexpected location %+v", p.Location)
	}
	servers := cfg.MQTT.Servers()
	if len(servers) != 2 || servers[0] != "tcp://broker.local:1883" || servers[1] != "ssl://standby.local:8883" {
		t.Fatalf("unexpected servers %v", servers)
	}
}

func TestEnvOverrides(t *testing.T) {
	env := map[string]string{
		"MQTT_BROKER":    "secure.example",
		"MQTT_PORT":      "8884",
		"MQTT_TLS_MODE":  "tls_insecure",
		"MQTT_CLIENT_ID": "edge-7",
		"MQTT_GROUP_ID":  "plant9",
		"MQTT_TRANSPORT": "websockets",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := Parse([]byte(minimal), lookup)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MQTT.BrokerURL() != "wss://secure.example:8884" {
		t.Fatalf("unexpected broker url %s", cfg.MQTT.BrokerURL())
	}
	if cfg.MQTT.ClientID != "edge-7" || cfg.Node.Group != "plant9" || cfg.Node.Node != "edge1" {
		t.Fatalf("overrides not applied: %+v %+v", cfg.MQTT, cfg.Node)
	}

	env["MQTT_PORT"] = "eighty"
	if _, err := Parse([]byte(minimal), lookup); err == nil {
		t.Fatalf("expected error for bad MQTT_PORT")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"missing node": `
mqtt: {broker: b}
reader: {kind: none}
tags: [{id: a, type: double}]
`,
		"duplicate tag": `
node: {group_id: g, node_id: n}
mqtt: {broker: b}
reader: {kind: none}
tags: [{id: a, type: double}, {id: a, type: bool}]
`,
		"negative deadband": `
node: {group_id: g, node_id: n}
mqtt: {broker: b}
reader: {kind: none}
tags: [{id: a, type: double, deadband: -1}]
`,
		"unknown buffer": `
node: {group_id: g, node_id: n}
mqtt: {broker: b}
buffer: {kind: tape}
reader: {kind: none}
tags: [{id: a, type: double}]
`,
		"sqlite without dsn": `
node: {group_id: g, node_id: n}
mqtt: {broker: b}
buffer: {kind: sqlite}
reader: {kind: none}
tags: [{id: a, type: double}]
`,
		"no tags": `
node: {group_id: g, node_id: n}
mqtt: {broker: b}
reader: {kind: none}
`,
		"bad transport": `
node: {group_id: g, node_id: n}
transport: {kind: carrier_pigeon}
reader: {kind: none}
tags: [{id: a, type: double}]
`,
		"bad tag type": `
node: {group_id: g, node_id: n}
mqtt: {broker: b}
reader: {kind: none}
tags: [{id: a, type: complex128}]
`,
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw), nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestNATSTransport(t *testing.T) {
	raw := `
node: {group_id: g, node_id: n}
transport: {kind: nats}
nats: {url: "nats://127.0.0.1:4222"}
buffer: {kind: memory}
reader: {kind: none}
tags: [{id: a, type: double}]
`
	cfg, err := Parse([]byte(raw), nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.NATS.Name != "aegis-spark" || cfg.NATS.Timeout != 5*time.Second {
		t.Fatalf("nats defaults not applied: %+v", cfg.NATS)
	}
}
