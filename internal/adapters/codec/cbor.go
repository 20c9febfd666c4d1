// Package codec encodes payload bodies and wire envelopes with CBOR.
package codec

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

const ContentType = "application/cbor"

type wireMetric struct {
	Name        string          `cbor:"name"`
	Alias       uint64          `cbor:"alias,omitempty"`
	Timestamp   int64           `cbor:"timestamp"`
	Type        domain.DataType `cbor:"datatype"`
	IsNull      bool            `cbor:"is_null,omitempty"`
	Value       any             `cbor:"value,omitempty"`
	Units       string          `cbor:"units,omitempty"`
	Description string          `cbor:"description,omitempty"`
}

type body struct {
	Timestamp int64        `cbor:"timestamp"`
	Metrics   []wireMetric `cbor:"metrics"`
}

// Envelope is the sealed form of an outbound message as it goes on the wire.
// Seq is absent for death messages, BdSeq only present on birth and death.
type Envelope struct {
	Timestamp  int64   `cbor:"timestamp"`
	Seq        *uint8  `cbor:"seq,omitempty"`
	BdSeq      *uint64 `cbor:"bd_seq,omitempty"`
	Kind       string  `cbor:"kind"`
	Historical bool    `cbor:"historical,omitempty"`
	Body       []byte  `cbor:"body"`
}

// CBOR implements ports.Codec.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func New() (*CBOR, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor dec mode: %w", err)
	}
	return &CBOR{enc: enc, dec: dec}, nil
}

func (c *CBOR) ContentType() string { return ContentType }

func (c *CBOR) EncodeMetrics(ts time.Time, metrics []ports.Metric) ([]byte, error) {
	b := body{Timestamp: ts.UnixMilli(), Metrics: make([]wireMetric, 0, len(metrics))}
	for _, m := range metrics {
		wm := wireMetric{
			Name:        m.Name,
			Alias:       m.Alias,
			Timestamp:   m.Timestamp.UnixMilli(),
			Type:        m.Type,
			Units:       m.Units,
			Description: m.Description,
		}
		if m.Timestamp.IsZero() {
			wm.Timestamp = b.Timestamp
		}
		v, err := toWire(m.Type, m.Value)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", m.Name, err)
		}
		if v == nil {
			wm.IsNull = true
		}
		wm.Value = v
		b.Metrics = append(b.Metrics, wm)
	}
	return c.enc.Marshal(b)
}

func (c *CBOR) DecodeMetrics(raw []byte) ([]ports.Metric, error) {
	var b body
	if err := c.dec.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	out := make([]ports.Metric, 0, len(b.Metrics))
	for _, wm := range b.Metrics {
		m := ports.Metric{
			Name:        wm.Name,
			Alias:       wm.Alias,
			Type:        wm.Type,
			Timestamp:   time.UnixMilli(wm.Timestamp),
			Units:       wm.Units,
			Description: wm.Description,
		}
		if !wm.IsNull {
			v, err := fromWire(wm.Type, wm.Value)
			if err != nil {
				return nil, fmt.Errorf("metric %q: %w", wm.Name, err)
			}
			m.Value = v
		}
		out = append(out, m)
	}
	return out, nil
}

// Seal wraps the message payload with its session stamps.
func (c *CBOR) Seal(msg *domain.OutboundMessage) ([]byte, error) {
	env := Envelope{
		Timestamp:  msg.CreatedAt.UnixMilli(),
		Kind:       msg.Kind.String(),
		Historical: msg.Historical,
		Body:       msg.Payload,
	}
	if msg.Sequenced {
		seq := msg.Seq
		env.Seq = &seq
	}
	if msg.Kind != domain.KindData {
		bd := msg.BdSeq
		env.BdSeq = &bd
	}
	return c.enc.Marshal(env)
}

// Unseal parses a sealed envelope.
func (c *CBOR) Unseal(raw []byte) (Envelope, error) {
	var env Envelope
	if err := c.dec.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func toWire(dt domain.DataType, v domain.Value) (any, error) {
	switch v.Kind {
	case domain.KindInvalid:
		return nil, nil
	case domain.KindBool:
		return v.Bool, nil
	case domain.KindString:
		return v.Text, nil
	}
	switch dt {
	case domain.DataTypeInt8, domain.DataTypeInt16, domain.DataTypeInt32, domain.DataTypeInt64, domain.DataTypeDateTime:
		return int64(math.Round(v.Number)), nil
	case domain.DataTypeUInt8, domain.DataTypeUInt16, domain.DataTypeUInt32, domain.DataTypeUInt64:
		if v.Number < 0 {
			return nil, fmt.Errorf("negative value %v for %s", v.Number, dt)
		}
		return uint64(math.Round(v.Number)), nil
	}
	return v.Number, nil
}

func fromWire(dt domain.DataType, x any) (domain.Value, error) {
	switch val := x.(type) {
	case bool:
		return domain.BoolValue(val), nil
	case string:
		return domain.StringValue(val), nil
	case float64:
		return domain.NumberValue(val), nil
	case float32:
		return domain.NumberValue(float64(val)), nil
	case uint64:
		return domain.NumberValue(float64(val)), nil
	case int64:
		return domain.NumberValue(float64(val)), nil
	case nil:
		return domain.Value{}, nil
	}
	return domain.Value{}, errors.New("unsupported value type for " + dt.String())
}

var _ ports.Codec = (*CBOR)(nil)
