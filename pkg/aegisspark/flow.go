package aegisspark

import (
	"context"
	"errors"
)

// Flow assembles a Gateway in reading order: load the node configuration,
// choose how tag values come in, then choose where session traffic goes.
//
//	flow, _ := aegisspark.Conf("config.yaml")
//	err := flow.StreamIN(aegisspark.StreamInReader(plc)).
//		Run(ctx, aegisspark.StreamOutTransport(broker))
//
// Anything not overridden is built from the configuration by NewGateway.
type Flow struct {
	cfg *Config
	o   gatewayOverrides
}

// FlowOption adjusts a Flow right after its configuration is loaded.
type FlowOption func(*Flow)

// StreamInOption overrides the device side: reader and backlog buffer.
type StreamInOption func(*Flow)

// StreamOutOption overrides the broker side: transport and payload codec.
type StreamOutOption func(*Flow)

// Conf loads the gateway configuration from path, with MQTT_* environment
// overrides applied.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return ConfFromConfig(cfg, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	f := &Flow{cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

// Config exposes the loaded configuration; edits take effect at StreamOUT.
func (f *Flow) Config() *Config {
	if f == nil {
		return nil
	}
	return f.cfg
}

// Options applies GatewayOption values directly.
func (f *Flow) Options(opts ...GatewayOption) *Flow {
	if f != nil {
		f.o.apply(opts...)
	}
	return f
}

func (f *Flow) StreamIN(opts ...StreamInOption) *Flow {
	if f == nil {
		return nil
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// StreamOUT applies the broker-side overrides and builds the Gateway.
func (f *Flow) StreamOUT(opts ...StreamOutOption) (*Gateway, error) {
	if f == nil {
		return nil, errors.New("flow is nil")
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return buildGateway(f.cfg, f.o)
}

// Run builds the Gateway and runs it until ctx is done, a loop fails or the
// host application asks for a reboot.
func (f *Flow) Run(ctx context.Context, opts ...StreamOutOption) error {
	gw, err := f.StreamOUT(opts...)
	if err != nil {
		return err
	}
	return gw.Run(ctx)
}

func WithFlowOptions(opts ...GatewayOption) FlowOption {
	return func(f *Flow) { f.o.apply(opts...) }
}

// StreamInReader samples tags from r instead of the configured reader.
func StreamInReader(r DeviceReader) StreamInOption {
	return func(f *Flow) {
		if r != nil {
			f.o.reader = r
		}
	}
}

// StreamInBuffer keeps the backlog in b instead of the configured buffer.
func StreamInBuffer(b Buffer) StreamInOption {
	return func(f *Flow) {
		if b != nil {
			f.o.buffer = b
		}
	}
}

// StreamInObservability and StreamOutObservability set the same backend;
// the last one applied wins.
func StreamInObservability(obs Observability) StreamInOption {
	return func(f *Flow) {
		if obs != nil {
			f.o.observability = obs
		}
	}
}

// StreamOutTransport publishes session traffic through t instead of the
// configured MQTT or NATS client.
func StreamOutTransport(t Transport) StreamOutOption {
	return func(f *Flow) {
		if t != nil {
			f.o.transport = t
		}
	}
}

func StreamOutCodec(c Codec) StreamOutOption {
	return func(f *Flow) {
		if c != nil {
			f.o.codec = c
		}
	}
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return func(f *Flow) {
		if obs != nil {
			f.o.observability = obs
		}
	}
}

// StreamOutCallback hands every sequenced birth, data and death message to fn.
func StreamOutCallback(name string, fn MessageHandler) StreamOutOption {
	return StreamOutTransport(NewCallbackTransport(name, fn))
}
