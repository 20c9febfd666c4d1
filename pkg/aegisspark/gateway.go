package aegisspark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/AegisSpark/internal/adapters/buffer"
	"github.com/ghalamif/AegisSpark/internal/adapters/codec"
	"github.com/ghalamif/AegisSpark/internal/adapters/filereader"
	"github.com/ghalamif/AegisSpark/internal/adapters/hostinfo"
	"github.com/ghalamif/AegisSpark/internal/adapters/mqtt"
	"github.com/ghalamif/AegisSpark/internal/adapters/natstransport"
	"github.com/ghalamif/AegisSpark/internal/adapters/observability"
	"github.com/ghalamif/AegisSpark/internal/adapters/opcua"
	"github.com/ghalamif/AegisSpark/internal/adapters/sqlbuffer"
	"github.com/ghalamif/AegisSpark/internal/app/deadband"
	"github.com/ghalamif/AegisSpark/internal/app/pipeline"
	"github.com/ghalamif/AegisSpark/internal/app/session"
	"github.com/ghalamif/AegisSpark/internal/app/sparkplug"
	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

// AdminDisabled as metrics.addr turns the admin HTTP server off.
const AdminDisabled = "off"

const (
	shutdownTimeout    = 5 * time.Second
	defaultOpenTimeout = 10 * time.Second
)

// GatewayOption customizes the dependencies used by Gateway.
type GatewayOption func(*gatewayOverrides)

type gatewayOverrides struct {
	reader        DeviceReader
	transport     Transport
	buffer        Buffer
	codec         Codec
	observability Observability
	registry      *prometheus.Registry
}

// WithReader injects a custom device reader (Modbus, simulators, etc.).
func WithReader(r DeviceReader) GatewayOption {
	return func(o *gatewayOverrides) {
		o.reader = r
	}
}

// WithTransport injects a custom broker transport.
func WithTransport(t Transport) GatewayOption {
	return func(o *gatewayOverrides) {
		o.transport = t
	}
}

// WithBuffer lets callers bring their own durable buffer.
func WithBuffer(b Buffer) GatewayOption {
	return func(o *gatewayOverrides) {
		o.buffer = b
	}
}

// WithCodec replaces the CBOR payload codec.
func WithCodec(c Codec) GatewayOption {
	return func(o *gatewayOverrides) {
		o.codec = c
	}
}

// WithObservability plugs in a custom logging and metrics backend.
func WithObservability(obs Observability) GatewayOption {
	return func(o *gatewayOverrides) {
		o.observability = obs
	}
}

// WithRegistry registers the gateway collectors on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) GatewayOption {
	return func(o *gatewayOverrides) {
		o.registry = reg
	}
}

// Gateway wires reader → deadband filter → session → {transport | buffer}
// and exposes lifecycle hooks for embedding AegisSpark inside any Go service.
type Gateway struct {
	cfg       *Config
	obs       ports.Observability
	logger    *zap.Logger
	level     *zap.AtomicLevel
	registry  *prometheus.Registry
	reader    ports.DeviceReader
	transport ports.Transport
	buffer    ports.Buffer
	codec     ports.Codec
	filter    *deadband.Filter
	machine   *session.Machine
	orch      *pipeline.Orchestrator
}

// NewGateway bootstraps the default adapters selected by cfg (OPC UA or file
// reader, WAL or SQL buffer, MQTT or NATS transport, Prometheus and zap).
// GatewayOption values override any of them. Opening a SQL buffer is bounded
// by policy.connect_timeout.
func NewGateway(cfg *Config, opts ...GatewayOption) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o gatewayOverrides
	o.apply(opts...)
	return buildGateway(cfg, o)
}

func (o *gatewayOverrides) apply(opts ...GatewayOption) {
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
}

func buildGateway(cfg *Config, o gatewayOverrides) (*Gateway, error) {
	g := &Gateway{cfg: cfg, registry: o.registry}
	if g.registry == nil {
		g.registry = prometheus.NewRegistry()
		g.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	g.obs = o.observability
	if g.obs == nil {
		logger, level, err := observability.NewLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
		prom, err := observability.NewPromObs(logger, g.registry)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		g.obs, g.logger, g.level = prom, logger, &level
	}

	g.codec = o.codec
	if g.codec == nil {
		c, err := codec.New()
		if err != nil {
			return nil, err
		}
		g.codec = c
	}

	filter, err := deadband.NewFilter(cfg.Tags...)
	if err != nil {
		return nil, err
	}
	g.filter = filter

	g.buffer = o.buffer
	if g.buffer == nil {
		timeout := cfg.Policy.ConnectTimeout
		if timeout <= 0 {
			timeout = defaultOpenTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		g.buffer, err = openBuffer(ctx, cfg)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("open buffer: %w", err)
		}
	}

	g.reader = o.reader
	if g.reader == nil {
		if g.reader, err = openReader(cfg); err != nil {
			g.closeAdapters()
			return nil, fmt.Errorf("open reader: %w", err)
		}
	}

	g.transport = o.transport
	if g.transport == nil {
		if g.transport, err = openTransport(cfg, g.codec, g.obs); err != nil {
			g.closeAdapters()
			return nil, fmt.Errorf("open transport: %w", err)
		}
	}

	ann := sparkplug.NewAnnouncer(cfg.Node, g.codec, g.filter,
		sparkplug.WithProperties(hostinfo.Detect(cfg.Properties)))
	g.machine = session.New(g.buffer, g.transport, ann, g.obs, session.WithSendTimeout(cfg.Policy.SendTimeout))
	g.orch = pipeline.NewOrchestrator(pipeline.Deps{
		Reader:  g.reader,
		Filter:  g.filter,
		Session: g.machine,
		Codec:   g.codec,
		Node:    cfg.Node,
		Tags:    cfg.Tags,
		Policy:  cfg.Policy,
		Obs:     g.obs,
		QoS:     cfg.Transport.DataQoS,
	})
	return g, nil
}

// Run starts every loop and blocks until ctx is cancelled or one of them
// fails, then announces death and releases the adapters. A reboot command
// from the host application ends Run with ErrRebootRequested.
func (g *Gateway) Run(ctx context.Context) error {
	if g == nil {
		return fmt.Errorf("gateway is nil")
	}
	g.obs.LogInfo("gateway_starting",
		ports.Field{Key: "node", Value: g.cfg.Node.Node},
		ports.Field{Key: "group", Value: g.cfg.Node.Group},
		ports.Field{Key: "transport", Value: g.transport.Name()},
		ports.Field{Key: "tags", Value: len(g.cfg.Tags)},
	)

	grp, gctx := errgroup.WithContext(ctx)
	pol := g.cfg.Policy
	grp.Go(func() error { return g.machine.Listen(gctx, g.transport.Events()) })
	grp.Go(func() error { return g.machine.RunDrains(gctx, pol.Reconnect) })
	grp.Go(func() error { return g.machine.Supervise(gctx, pol.Reconnect, pol.ConnectTimeout) })
	grp.Go(func() error { return pipeline.RunGaugeRecorder(gctx, g.buffer, pol.GaugeInterval, g.obs) })
	if g.reader != nil {
		grp.Go(func() error { return g.orch.Run(gctx) })
	}
	if addr := g.cfg.Metrics.Addr; addr != "" && addr != AdminDisabled {
		srv := observability.NewAdminServer(addr, g.AdminHandler(), g.obs)
		grp.Go(func() error { return srv.Run(gctx) })
	}

	runErr := grp.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, g.Shutdown(shutdownCtx))
}

// Shutdown sends the death announcement while the transport is still up and
// then closes transport, reader and buffer in that order.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.machine.Close(ctx)
	err := g.closeAdapters()
	g.obs.LogInfo("gateway_stopped", ports.Field{Key: "session", Value: g.machine.Snapshot()})
	if g.logger != nil {
		_ = g.logger.Sync()
	}
	return err
}

func (g *Gateway) closeAdapters() error {
	var errs []error
	if g.transport != nil {
		g.transport.Disconnect()
		if c, ok := g.transport.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	if g.reader != nil {
		errs = append(errs, g.reader.Close())
	}
	if g.buffer != nil {
		errs = append(errs, g.buffer.Close())
	}
	return errors.Join(errs...)
}

// Publish feeds a value from a push-based producer through the same deadband
// filter and session as sampled values.
func (g *Gateway) Publish(ctx context.Context, tagID string, v Value, ts time.Time) error {
	return g.orch.Publish(ctx, tagID, domain.Reading{Value: v, Timestamp: ts})
}

// Stats returns the current session view.
func (g *Gateway) Stats() SessionStats { return g.machine.Snapshot() }

// BufferMetrics returns the buffer occupancy.
func (g *Gateway) BufferMetrics(ctx context.Context) (BufferMetrics, error) {
	return g.buffer.Metrics(ctx)
}

// Config returns the configuration the gateway was built from.
func (g *Gateway) Config() *Config { return g.cfg }

// AdminHandler serves the read-only admin endpoints.
func (g *Gateway) AdminHandler() http.Handler {
	return observability.NewAdminHandler(observability.AdminDeps{
		Gatherer: g.registry,
		Buffer:   g.buffer,
		Session:  g.machine,
		Level:    g.level,
	})
}

func openBuffer(ctx context.Context, cfg *Config) (ports.Buffer, error) {
	capacity := buffer.Capacity{MaxBytes: cfg.Policy.MaxBufferBytes, MaxMessages: cfg.Policy.MaxBufferMessages}
	switch cfg.Buffer.Kind {
	case "wal":
		w, err := buffer.OpenWAL(cfg.Buffer.Dir, capacity)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "memory":
		return buffer.NewMemory(capacity), nil
	default:
		dialect, err := sqlbuffer.ParseDialect(cfg.Buffer.Kind)
		if err != nil {
			return nil, err
		}
		b, err := sqlbuffer.Open(ctx, dialect, cfg.Buffer.DSN, sqlbuffer.Options{
			Table:    cfg.Buffer.Table,
			Capacity: capacity,
			PageSize: cfg.Buffer.PageSize,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func openReader(cfg *Config) (ports.DeviceReader, error) {
	switch cfg.Reader.Kind {
	case "opcua":
		r, err := opcua.NewReader(cfg.Reader.OPCUA)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "file":
		r, err := filereader.New(cfg.Reader.File)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown reader kind %q", cfg.Reader.Kind)
	}
}

func openTransport(cfg *Config, c ports.Codec, obs ports.Observability) (ports.Transport, error) {
	switch cfg.Transport.Kind {
	case "mqtt":
		t, err := mqtt.New(cfg.MQTT, cfg.Node, c, obs)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "nats":
		t, err := natstransport.New(cfg.NATS, cfg.Node, c, obs)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}
