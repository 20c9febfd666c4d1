package codec

import (
	"testing"
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

func newCodec(t *testing.T) *CBOR {
	t.Helper()
	c, err := New()
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

func TestMetricsKeepTypeAndNull(t *testing.T) {
	c := newCodec(t)
	ts := time.UnixMilli(1700000000123)

	body, err := c.EncodeMetrics(ts, []ports.Metric{
		{Name: "flow_rate", Alias: 3, Type: domain.DataTypeDouble, Value: domain.NumberValue(10.6), Units: "m3/h"},
		{Name: "count", Type: domain.DataTypeInt32, Value: domain.NumberValue(-7)},
		{Name: "running", Type: domain.DataTypeBoolean, Value: domain.BoolValue(true)},
		{Name: "mode", Type: domain.DataTypeString},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := c.DecodeMetrics(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 metrics, got %d", len(got))
	}
	if got[0].Value.Number != 10.6 || got[0].Alias != 3 || got[0].Units != "m3/h" {
		t.Fatalf("flow_rate mismatch: %+v", got[0])
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Fatalf("missing metric timestamp must default to payload time, got %v", got[0].Timestamp)
	}
	if got[1].Value.Number != -7 || got[1].Type != domain.DataTypeInt32 {
		t.Fatalf("int32 mismatch: %+v", got[1])
	}
	if !got[2].Value.Bool {
		t.Fatalf("bool mismatch: %+v", got[2])
	}
	if got[3].Value.IsValid() {
		t.Fatalf("unsampled metric must decode as null, got %+v", got[3].Value)
	}
}

func TestEncodeRejectsNegativeUnsigned(t *testing.T) {
	c := newCodec(t)
	_, err := c.EncodeMetrics(time.Now(), []ports.Metric{
		{Name: "u", Type: domain.DataTypeUInt16, Value: domain.NumberValue(-1)},
	})
	if err == nil {
		t.Fatalf("expected error for negative unsigned value")
	}
}

func TestSealCarriesSessionStamps(t *testing.T) {
	c := newCodec(t)
	data := &domain.OutboundMessage{
		Kind:       domain.KindData,
		Payload:    []byte("opaque"),
		CreatedAt:  time.UnixMilli(42),
		Historical: true,
	}
	data.AssignSeq(255)

	raw, err := c.Seal(data)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	env, err := c.Unseal(raw)
	if err != nil {
		t.Fatalf("unseal: %v", err)
	}
	if env.Seq == nil || *env.Seq != 255 || !env.Historical || env.BdSeq != nil {
		t.Fatalf("unexpected data envelope %+v", env)
	}
	if string(env.Body) != "opaque" || env.Timestamp != 42 || env.Kind != "data" {
		t.Fatalf("unexpected data envelope %+v", env)
	}

	death := &domain.OutboundMessage{Kind: domain.KindDeath, BdSeq: 3}
	raw, err = c.Seal(death)
	if err != nil {
		t.Fatalf("seal death: %v", err)
	}
	env, _ = c.Unseal(raw)
	if env.Seq != nil {
		t.Fatalf("death must not carry a seq")
	}
	if env.BdSeq == nil || *env.BdSeq != 3 {
		t.Fatalf("death must carry bd_seq 3, got %+v", env.BdSeq)
	}
}
