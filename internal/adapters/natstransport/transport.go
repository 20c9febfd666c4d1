// Package natstransport publishes session traffic over core NATS subjects.
// Topic separators are mapped to subject tokens, so
// "spBv1.0/plant/NDATA/edge" is published on "spBv1_0.plant.NDATA.edge".
package natstransport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ghalamif/AegisSpark/internal/app/sparkplug"
	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

type Config struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`
	Timeout       time.Duration `yaml:"timeout"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	FlushTimeout  time.Duration `yaml:"flush_timeout"`
	TLSCAFile     string        `yaml:"tls_ca_file"`
	TLSCertFile   string        `yaml:"tls_cert_file"`
	TLSKeyFile    string        `yaml:"tls_key_file"`
	SubjectPrefix string        `yaml:"subject_prefix"`
}

func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Name == "" {
		c.Name = "aegis-spark"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 5 * time.Second
	}
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return fmt.Errorf("url %q must use nats:// or tls://", c.URL)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("tls_cert_file and tls_key_file must be set together")
	}
	if c.Username != "" && c.Token != "" {
		return errors.New("username and token are mutually exclusive")
	}
	return nil
}

// Subject converts a slash separated topic into a NATS subject.
func Subject(prefix, topic string) string {
	s := strings.ReplaceAll(topic, ".", "_")
	s = strings.ReplaceAll(s, "/", ".")
	if prefix != "" {
		s = prefix + "." + s
	}
	return s
}

// Transport implements ports.Transport on core NATS. Client reconnects are
// disabled; the session supervisor reconnects and re-announces.
type Transport struct {
	cfg   Config
	node  sparkplug.NodeID
	codec ports.Codec
	obs   ports.Observability

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription

	events chan ports.TransportEvent
	done   chan struct{}
	once   sync.Once
}

func New(cfg Config, node sparkplug.NodeID, codec ports.Codec, obs ports.Observability) (*Transport, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("nats config: %w", err)
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}
	return &Transport{
		cfg:    cfg,
		node:   node,
		codec:  codec,
		obs:    obs,
		events: make(chan ports.TransportEvent, 16),
		done:   make(chan struct{}),
	}, nil
}

func (t *Transport) Name() string { return "nats" }

func (t *Transport) Events() <-chan ports.TransportEvent { return t.events }

func (t *Transport) options() []nats.Option {
	opts := []nats.Option{
		nats.Name(t.cfg.Name),
		nats.NoReconnect(),
		nats.Timeout(t.cfg.Timeout),
		nats.PingInterval(t.cfg.PingInterval),
		nats.DisconnectErrHandler(t.handleDisconnect),
		nats.ErrorHandler(t.handleError),
	}
	if t.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(t.cfg.Username, t.cfg.Password))
	}
	if t.cfg.Token != "" {
		opts = append(opts, nats.Token(t.cfg.Token))
	}
	if t.cfg.TLSCertFile != "" {
		opts = append(opts, nats.ClientCert(t.cfg.TLSCertFile, t.cfg.TLSKeyFile))
	}
	if t.cfg.TLSCAFile != "" {
		opts = append(opts, nats.RootCAs(t.cfg.TLSCAFile))
	}
	return opts
}

func (t *Transport) Connect(ctx context.Context) error {
	type result struct {
		conn *nats.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(t.cfg.URL, t.options()...)
		ch <- result{nc, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return fmt.Errorf("connect %s: %w", t.cfg.URL, ctx.Err())
	}
	if res.err != nil {
		return fmt.Errorf("connect %s: %w", t.cfg.URL, res.err)
	}

	cmd := Subject(t.cfg.SubjectPrefix, t.node.Topic(sparkplug.NCMD))
	sub, err := res.conn.Subscribe(cmd, func(m *nats.Msg) { t.handleCommand(m.Data) })
	if err != nil {
		res.conn.Close()
		return fmt.Errorf("subscribe %s: %w", cmd, err)
	}

	t.mu.Lock()
	old := t.conn
	t.conn, t.sub = res.conn, sub
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}

	t.obs.LogInfo("broker_connected", ports.Field{Key: "url", Value: t.cfg.URL})
	t.emit(ports.TransportEvent{Kind: ports.EventConnected})
	return nil
}

func (t *Transport) Send(ctx context.Context, msg *domain.OutboundMessage) error {
	t.mu.Lock()
	nc := t.conn
	t.mu.Unlock()
	if nc == nil || !nc.IsConnected() {
		return domain.ErrNotConnected
	}

	wire, err := t.codec.Seal(msg)
	if err != nil {
		return fmt.Errorf("seal: %w", err)
	}
	if err := nc.Publish(Subject(t.cfg.SubjectPrefix, msg.Topic), wire); err != nil {
		return err
	}

	// Core NATS publishes are fire and forget; a flush round trip confirms the
	// server has the message.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.FlushTimeout)
		defer cancel()
	}
	if err := nc.FlushWithContext(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return domain.ErrSendTimeout
		}
		return err
	}
	return nil
}

func (t *Transport) Disconnect() {
	t.mu.Lock()
	nc := t.conn
	t.conn, t.sub = nil, nil
	t.mu.Unlock()
	if nc != nil {
		nc.Close()
	}
}

func (t *Transport) Close() error {
	t.Disconnect()
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *Transport) handleDisconnect(nc *nats.Conn, err error) {
	t.mu.Lock()
	current := nc != nil && t.conn == nc
	if current {
		t.conn, t.sub = nil, nil
	}
	t.mu.Unlock()
	// Disconnect() already detached the connection for intentional closes.
	if !current {
		return
	}
	t.emit(ports.TransportEvent{Kind: ports.EventDisconnected, Err: err})
}

func (t *Transport) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	t.obs.LogWarn("nats_async_error", ports.Field{Key: "error", Value: err.Error()})
}

func (t *Transport) handleCommand(data []byte) {
	metrics, err := t.codec.DecodeMetrics(data)
	if err != nil {
		t.obs.LogWarn("command_decode_failed", ports.Field{Key: "error", Value: err.Error()})
		return
	}
	for _, kind := range sparkplug.Commands(metrics) {
		t.emit(ports.TransportEvent{Kind: kind})
	}
}

func (t *Transport) emit(ev ports.TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.done:
	case <-time.After(5 * time.Second):
		t.obs.LogWarn("transport_event_dropped", ports.Field{Key: "event", Value: ev.Kind.String()})
	}
}

var _ ports.Transport = (*Transport)(nil)
