package sparkplug

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisSpark/internal/adapters/codec"
	"github.com/ghalamif/AegisSpark/internal/app/deadband"
	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

func TestParseTopic(t *testing.T) {
	tp, err := ParseTopic("spBv1.0/plant1/NCMD/edge1")
	require.NoError(t, err)
	assert.Equal(t, Topic{Group: "plant1", Type: NCMD, Node: "edge1"}, tp)
	assert.Equal(t, "spBv1.0/plant1/NCMD/edge1", tp.String())

	dev, err := ParseTopic("spBv1.0/plant1/DDATA/edge1/pump7")
	require.NoError(t, err)
	assert.True(t, dev.Type.IsDevice())
	assert.Equal(t, "pump7", dev.Device)

	for _, bad := range []string{
		"spBv1.0/plant1/NCMD",
		"spAv1.0/plant1/NCMD/edge1",
		"spBv1.0/plant1/NFOO/edge1",
		"spBv1.0/plant1/DCMD/edge1",
		"spBv1.0/plant1/NCMD/edge1/pump7",
		"spBv1.0//NCMD/edge1",
		"spBv1.0/plant1/NCMD/edge1/a/b",
	} {
		_, err := ParseTopic(bad)
		assert.Error(t, err, bad)
	}
}

func TestNodeID(t *testing.T) {
	n := NodeID{Group: "plant1", Node: "edge1"}
	require.NoError(t, n.Validate())
	assert.Equal(t, "spBv1.0/plant1/NBIRTH/edge1", n.Topic(NBIRTH))

	assert.Error(t, NodeID{Group: "plant+1", Node: "edge1"}.Validate())
	assert.Error(t, NodeID{Group: "plant1"}.Validate())
}

func newAnnouncer(t *testing.T) (*Announcer, *deadband.Filter, *codec.CBOR) {
	t.Helper()
	cb, err := codec.New()
	require.NoError(t, err)
	f, err := deadband.NewFilter(
		domain.Tag{ID: "flow_rate", Type: domain.DataTypeDouble, Deadband: 0.5, Alias: 10, Units: "m3/h"},
		domain.Tag{ID: "pump_on", Type: domain.DataTypeBoolean, Alias: 11},
	)
	require.NoError(t, err)
	return NewAnnouncer(NodeID{Group: "plant1", Node: "edge1"}, cb, f), f, cb
}

func TestBirthCarriesTagsAndBdSeq(t *testing.T) {
	a, f, cb := newAnnouncer(t)
	seenAt := time.UnixMilli(1_700_000_000_000)
	ok, err := f.ShouldPublish("flow_rate", domain.NumberValue(10.6), seenAt)
	require.NoError(t, err)
	require.True(t, ok)

	msg, err := a.Birth(4)
	require.NoError(t, err)
	assert.Equal(t, domain.KindBirth, msg.Kind)
	assert.Equal(t, "spBv1.0/plant1/NBIRTH/edge1", msg.Topic)
	assert.Equal(t, uint64(4), msg.BdSeq)
	assert.False(t, msg.Sequenced)

	metrics, err := cb.DecodeMetrics(msg.Payload)
	require.NoError(t, err)
	byName := make(map[string]ports.Metric, len(metrics))
	for _, m := range metrics {
		byName[m.Name] = m
	}
	require.Contains(t, byName, MetricBdSeq)
	assert.Equal(t, 4.0, byName[MetricBdSeq].Value.Number)
	require.Contains(t, byName, MetricRebirth)
	assert.False(t, byName[MetricRebirth].Value.Bool)

	flow := byName["flow_rate"]
	assert.Equal(t, 10.6, flow.Value.Number)
	assert.Equal(t, uint64(10), flow.Alias)
	assert.Equal(t, "m3/h", flow.Units)
	assert.Equal(t, seenAt.UnixMilli(), flow.Timestamp.UnixMilli())

	pump := byName["pump_on"]
	assert.False(t, pump.Value.IsValid(), "unsampled tag is announced without a value")
}

func TestDeath(t *testing.T) {
	a, _, cb := newAnnouncer(t)
	msg, err := a.Death(4)
	require.NoError(t, err)
	assert.Equal(t, domain.KindDeath, msg.Kind)
	assert.Equal(t, "spBv1.0/plant1/NDEATH/edge1", msg.Topic)
	assert.Equal(t, byte(1), msg.QoS)

	metrics, err := cb.DecodeMetrics(msg.Payload)
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	assert.Equal(t, MetricBdSeq, metrics[0].Name)
	assert.Equal(t, 4.0, metrics[0].Value.Number)
}

func TestIsRebirthRequest(t *testing.T) {
	assert.True(t, IsRebirthRequest([]ports.Metric{{Name: MetricRebirth, Value: domain.BoolValue(true)}}))
	assert.False(t, IsRebirthRequest([]ports.Metric{{Name: MetricRebirth, Value: domain.BoolValue(false)}}))
	assert.False(t, IsRebirthRequest([]ports.Metric{{Name: MetricReboot, Value: domain.BoolValue(true)}}))
	assert.False(t, IsRebirthRequest(nil))

	assert.True(t, IsRebootRequest([]ports.Metric{{Name: MetricReboot, Value: domain.BoolValue(true)}}))
	assert.False(t, IsRebootRequest([]ports.Metric{{Name: MetricRebirth, Value: domain.BoolValue(true)}}))
}

func TestCommands(t *testing.T) {
	on := domain.BoolValue(true)
	got := Commands([]ports.Metric{
		{Name: MetricNextServer, Value: on},
		{Name: MetricRebirth, Value: domain.BoolValue(false)},
		{Name: "Node Control/Scan Rate", Value: domain.NumberValue(1000)},
		{Name: MetricReboot, Value: on},
		{Name: MetricRebirth, Value: on},
	})
	assert.Equal(t, []ports.EventKind{
		ports.EventNextServerRequested,
		ports.EventRebootRequested,
		ports.EventRebirthRequested,
	}, got)
	assert.Empty(t, Commands(nil))
}

func TestBirthCarriesNodeProperties(t *testing.T) {
	cb, err := codec.New()
	require.NoError(t, err)
	boot := time.UnixMilli(1_714_550_400_000)
	props := NodeProperties{
		HardwareMake:    "Siemens",
		OS:              "linux/arm64",
		OSVersion:       "6.1.0",
		BootTime:        boot,
		FirmwareVersion: "2.4.1",
		MACAddress:      "02:42:ac:11:00:02",
		Location:        &Location{Lat: 48.13, Long: 11.58, Source: "config"},
	}
	a := NewAnnouncer(NodeID{Group: "plant1", Node: "edge1"}, cb, nil, WithProperties(props))

	msg, err := a.Birth(1)
	require.NoError(t, err)
	metrics, err := cb.DecodeMetrics(msg.Payload)
	require.NoError(t, err)
	byName := make(map[string]ports.Metric, len(metrics))
	for _, m := range metrics {
		byName[m.Name] = m
	}

	for name, want := range map[string]string{
		MetricHardwareMake:    "Siemens",
		MetricOS:              "linux/arm64",
		MetricOSVersion:       "6.1.0",
		MetricFirmwareVersion: "2.4.1",
		MetricMACAddress:      "02:42:ac:11:00:02",
		MetricLocationSource:  "config",
	} {
		require.Containsf(t, byName, name, "metric %s", name)
		assert.Equal(t, want, byName[name].Value.Text, name)
	}
	require.Contains(t, byName, MetricBootTime)
	assert.Equal(t, domain.DataTypeDateTime, byName[MetricBootTime].Type)
	assert.Equal(t, float64(boot.UnixMilli()), byName[MetricBootTime].Value.Number)
	assert.Equal(t, 48.13, byName[MetricLocationLat].Value.Number)
	assert.Equal(t, 11.58, byName[MetricLocationLong].Value.Number)

	// unset fields are left out
	assert.NotContains(t, byName, MetricFirmwareDate)
}
