// Package mqtt publishes session traffic to an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/ghalamif/AegisSpark/internal/app/sparkplug"
	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

const disconnectQuiesce = 250 // ms

// Transport implements ports.Transport on top of paho. Automatic reconnects
// are disabled: the session supervisor owns the reconnect schedule so every
// new connection gets a fresh birth.
type Transport struct {
	cfg     Config
	node    sparkplug.NodeID
	codec   ports.Codec
	obs     ports.Observability
	factory func(*paho.ClientOptions) paho.Client

	mu     sync.Mutex
	client paho.Client
	will   *domain.OutboundMessage
	server int

	events chan ports.TransportEvent
	done   chan struct{}
	once   sync.Once
}

func New(cfg Config, node sparkplug.NodeID, codec ports.Codec, obs ports.Observability) (*Transport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mqtt config: %w", err)
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}
	return &Transport{
		cfg:     cfg,
		node:    node,
		codec:   codec,
		obs:     obs,
		factory: paho.NewClient,
		events:  make(chan ports.TransportEvent, 16),
		done:    make(chan struct{}),
	}, nil
}

func (t *Transport) Name() string { return "mqtt" }

func (t *Transport) Events() <-chan ports.TransportEvent { return t.events }

// SetWill registers the death message published by the broker if this client
// vanishes without a clean disconnect. It applies to the next Connect.
func (t *Transport) SetWill(msg *domain.OutboundMessage) {
	t.mu.Lock()
	t.will = msg
	t.mu.Unlock()
}

func (t *Transport) Connect(ctx context.Context) error {
	opts, err := t.clientOptions()
	if err != nil {
		return err
	}

	// A fresh client per session: the will can only change at connect time.
	t.mu.Lock()
	stale := t.client
	client := t.factory(opts)
	t.client = client
	t.mu.Unlock()
	if stale != nil && stale.IsConnectionOpen() {
		stale.Disconnect(disconnectQuiesce)
	}

	tok := client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return fmt.Errorf("connect %s: %w", t.serverURL(), ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", t.serverURL(), err)
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, msg *domain.OutboundMessage) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil || !client.IsConnectionOpen() {
		return domain.ErrNotConnected
	}

	wire, err := t.codec.Seal(msg)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	tok := client.Publish(msg.Topic, msg.QoS, msg.Retain, wire)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.ErrSendTimeout
		}
		return ctx.Err()
	}
}

// Disconnect closes the connection without triggering the will.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()
	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(disconnectQuiesce)
	}
}

// Close disconnects and stops event delivery.
func (t *Transport) Close() error {
	t.Disconnect()
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *Transport) clientOptions() (*paho.ClientOptions, error) {
	tlsCfg, err := BuildTLS(t.cfg.TLS)
	if err != nil {
		return nil, err
	}

	opts := paho.NewClientOptions().
		AddBroker(t.serverURL()).
		SetClientID(t.cfg.ClientID).
		SetKeepAlive(t.cfg.KeepAlive).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetCleanSession(*t.cfg.CleanSession).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}

	t.mu.Lock()
	will := t.will
	t.mu.Unlock()
	if will != nil {
		payload, err := t.codec.Seal(will)
		if err != nil {
			return nil, fmt.Errorf("seal will: %w", err)
		}
		opts.SetBinaryWill(will.Topic, payload, will.QoS, will.Retain)
	}
	return opts, nil
}

func (t *Transport) onConnect(c paho.Client) {
	topic := t.node.Topic(sparkplug.NCMD)
	tok := c.Subscribe(topic, 1, t.onCommand)
	if tok.WaitTimeout(t.cfg.ConnectTimeout) && tok.Error() != nil {
		t.obs.LogWarn("command_subscribe_failed",
			ports.Field{Key: "topic", Value: topic},
			ports.Field{Key: "error", Value: tok.Error().Error()},
		)
	}
	t.obs.LogInfo("broker_connected", ports.Field{Key: "broker", Value: t.serverURL()})
	t.emit(ports.TransportEvent{Kind: ports.EventConnected})
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.emit(ports.TransportEvent{Kind: ports.EventDisconnected, Err: err})
}

func (t *Transport) onCommand(_ paho.Client, m paho.Message) {
	metrics, err := t.codec.DecodeMetrics(m.Payload())
	if err != nil {
		t.obs.LogWarn("command_decode_failed",
			ports.Field{Key: "topic", Value: m.Topic()},
			ports.Field{Key: "error", Value: err.Error()},
		)
		return
	}
	for _, kind := range sparkplug.Commands(metrics) {
		if kind == ports.EventNextServerRequested {
			t.nextServer()
		}
		t.emit(ports.TransportEvent{Kind: kind})
	}
}

// serverURL is the broker the next Connect dials.
func (t *Transport) serverURL() string {
	servers := t.cfg.Servers()
	t.mu.Lock()
	defer t.mu.Unlock()
	return servers[t.server%len(servers)]
}

func (t *Transport) nextServer() {
	t.mu.Lock()
	t.server = (t.server + 1) % len(t.cfg.Servers())
	t.mu.Unlock()
	t.obs.LogInfo("broker_next_server", ports.Field{Key: "broker", Value: t.serverURL()})
}

func (t *Transport) emit(ev ports.TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.done:
	case <-time.After(5 * time.Second):
		t.obs.LogWarn("transport_event_dropped", ports.Field{Key: "event", Value: ev.Kind.String()})
	}
}

var (
	_ ports.Transport  = (*Transport)(nil)
	_ ports.WillSetter = (*Transport)(nil)
)
