package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
// Tags name their node in Tag.Source, e.g. "ns=2;s=Line1.FlowRate".
type Config struct {
	Endpoint        string        `yaml:"endpoint"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SecurityMode    string        `yaml:"security_mode"`
	SecurityPolicy  string        `yaml:"security_policy"`
	ApplicationName string        `yaml:"application_name"`
	MaxAge          time.Duration `yaml:"max_age"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisSpark Edge"
	}
	if c.MaxAge < 0 {
		c.MaxAge = 0
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if !strings.HasPrefix(c.Endpoint, "opc.tcp://") {
		return fmt.Errorf("endpoint %q must use opc.tcp://", c.Endpoint)
	}
	return nil
}

// Reader polls tag values with single-node read requests. The session is
// opened on first use and re-opened after a failed read.
type Reader struct {
	cfg    Config
	mu     sync.Mutex
	client *opcua.Client
	nodes  map[string]*ua.NodeID
}

func NewReader(cfg Config) (*Reader, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reader{cfg: cfg, nodes: make(map[string]*ua.NodeID)}, nil
}

func (r *Reader) Read(ctx context.Context, tag domain.Tag) (domain.Reading, error) {
	fail := func(err error) (domain.Reading, error) {
		return domain.Reading{}, &domain.DeviceReadError{TagID: tag.ID, Err: err}
	}

	nodeID, err := r.nodeID(tag)
	if err != nil {
		return fail(err)
	}
	client, err := r.session(ctx)
	if err != nil {
		return fail(classify(ctx, err))
	}

	resp, err := client.Read(ctx, &ua.ReadRequest{
		MaxAge:             float64(r.cfg.MaxAge / time.Millisecond),
		NodesToRead:        []*ua.ReadValueID{{NodeID: nodeID, AttributeID: ua.AttributeIDValue}},
		TimestampsToReturn: ua.TimestampsToReturnBoth,
	})
	if err != nil {
		if ctx.Err() == nil {
			r.reset(client)
		}
		return fail(classify(ctx, err))
	}
	if len(resp.Results) == 0 {
		return fail(fmt.Errorf("%w: empty read result for %s", domain.ErrDeviceUnavailable, tag.Source))
	}
	res := resp.Results[0]
	if res.Status != ua.StatusOK {
		return fail(fmt.Errorf("%w: node %s status %s", domain.ErrDeviceUnavailable, tag.Source, res.Status))
	}

	v, err := variantToValue(res.Value, tag.Type)
	if err != nil {
		return fail(err)
	}
	ts := res.SourceTimestamp
	if ts.IsZero() {
		ts = res.ServerTimestamp
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return domain.Reading{Value: v, Timestamp: ts}, nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Reader) nodeID(tag domain.Tag) (*ua.NodeID, error) {
	src := tag.Source
	if src == "" {
		return nil, fmt.Errorf("tag %q has no opcua node id in source", tag.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.nodes[src]; ok {
		return id, nil
	}
	id, err := ua.ParseNodeID(src)
	if err != nil {
		return nil, fmt.Errorf("parse node id %q: %w", src, err)
	}
	r.nodes[src] = id
	return id, nil
}

func (r *Reader) session(ctx context.Context) (*opcua.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	client, err := opcua.NewClient(r.cfg.Endpoint, r.buildClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("opcua connect: %w", err)
	}
	r.client = client
	return client, nil
}

func (r *Reader) reset(client *opcua.Client) {
	r.mu.Lock()
	if r.client == client {
		r.client = nil
	}
	r.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = client.Close(ctx)
}

func (r *Reader) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(r.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(r.cfg.SecurityPolicy)),
		opcua.ApplicationName(r.cfg.ApplicationName),
		opcua.AutoReconnect(false),
	}
	if r.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(r.cfg.Username, r.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrReadTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
}

// variantToValue maps an OPC UA scalar onto the tag's declared kind.
func variantToValue(v *ua.Variant, dt domain.DataType) (domain.Value, error) {
	if v == nil {
		return domain.Value{}, errors.New("opcua: empty variant")
	}
	raw := v.Value()
	switch dt.Kind() {
	case domain.KindNumber:
		if f, ok := variantToFloat(raw); ok {
			return domain.NumberValue(f), nil
		}
	case domain.KindBool:
		if b, ok := raw.(bool); ok {
			return domain.BoolValue(b), nil
		}
	case domain.KindString:
		switch s := raw.(type) {
		case string:
			return domain.StringValue(s), nil
		case *ua.LocalizedText:
			return domain.StringValue(s.Text), nil
		}
	}
	return domain.Value{}, fmt.Errorf("opcua: %T does not convert to %s: %w", raw, dt, domain.ErrTypeMismatch)
}

func variantToFloat(raw any) (float64, bool) {
	switch val := raw.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.DeviceReader = (*Reader)(nil)
