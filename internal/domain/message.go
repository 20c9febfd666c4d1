package domain

import "time"

// SeqModulus is the wrap point of the outbound sequence counter.
const SeqModulus = 256

// MessageKind separates session-state announcements from data traffic.
type MessageKind uint8

const (
	KindData MessageKind = iota
	KindBirth
	KindDeath
)

func (k MessageKind) String() string {
	switch k {
	case KindBirth:
		return "birth"
	case KindDeath:
		return "death"
	default:
		return "data"
	}
}

// OutboundMessage is one unit of telemetry headed for the broker.
//
// Seq is only meaningful when Sequenced is set; it is assigned by the session
// immediately before a send attempt and never rewritten afterwards.
type OutboundMessage struct {
	Kind       MessageKind
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	CreatedAt  time.Time
	Seq        uint8
	Sequenced  bool
	Historical bool
	BdSeq      uint64
}

// AssignSeq stamps the message with seq. It reports false if the message was
// already sequenced.
func (m *OutboundMessage) AssignSeq(seq uint8) bool {
	if m.Sequenced {
		return false
	}
	m.Seq = seq
	m.Sequenced = true
	return true
}

// Requeued returns an unsequenced copy suitable for the durable buffer. The
// original creation time is kept so the copy sorts ahead of newer traffic.
func (m *OutboundMessage) Requeued() *OutboundMessage {
	cp := *m
	cp.Seq = 0
	cp.Sequenced = false
	cp.Historical = false
	if m.Payload != nil {
		cp.Payload = append([]byte(nil), m.Payload...)
	}
	return &cp
}
