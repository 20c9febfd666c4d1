// Package sparkplug implements the Sparkplug B topic namespace and the node
// birth/death announcements.
package sparkplug

import (
	"fmt"
	"strings"
)

const Namespace = "spBv1.0"

type MessageType string

const (
	NBIRTH MessageType = "NBIRTH"
	NDEATH MessageType = "NDEATH"
	NDATA  MessageType = "NDATA"
	NCMD   MessageType = "NCMD"
	DBIRTH MessageType = "DBIRTH"
	DDEATH MessageType = "DDEATH"
	DDATA  MessageType = "DDATA"
	DCMD   MessageType = "DCMD"
)

var deviceTypes = map[MessageType]bool{DBIRTH: true, DDEATH: true, DDATA: true, DCMD: true}
var nodeTypes = map[MessageType]bool{NBIRTH: true, NDEATH: true, NDATA: true, NCMD: true}

// IsDevice reports whether the type addresses a device below the edge node.
func (t MessageType) IsDevice() bool { return deviceTypes[t] }

// Topic is a parsed spBv1.0/<group>/<type>/<node>[/<device>] topic.
type Topic struct {
	Group  string
	Type   MessageType
	Node   string
	Device string
}

func (t Topic) String() string {
	s := Namespace + "/" + t.Group + "/" + string(t.Type) + "/" + t.Node
	if t.Device != "" {
		s += "/" + t.Device
	}
	return s
}

// ParseTopic validates s against the namespace.
func ParseTopic(s string) (Topic, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 4 || len(parts) > 5 {
		return Topic{}, fmt.Errorf("sparkplug topic %q: want 4 or 5 levels, got %d", s, len(parts))
	}
	if parts[0] != Namespace {
		return Topic{}, fmt.Errorf("sparkplug topic %q: namespace %q", s, parts[0])
	}
	t := Topic{Group: parts[1], Type: MessageType(parts[2]), Node: parts[3]}
	if len(parts) == 5 {
		t.Device = parts[4]
	}
	switch {
	case !nodeTypes[t.Type] && !deviceTypes[t.Type]:
		return Topic{}, fmt.Errorf("sparkplug topic %q: unknown message type %q", s, t.Type)
	case t.Type.IsDevice() && t.Device == "":
		return Topic{}, fmt.Errorf("sparkplug topic %q: %s needs a device id", s, t.Type)
	case !t.Type.IsDevice() && t.Device != "":
		return Topic{}, fmt.Errorf("sparkplug topic %q: %s takes no device id", s, t.Type)
	}
	for _, id := range []string{t.Group, t.Node} {
		if err := validID(id); err != nil {
			return Topic{}, fmt.Errorf("sparkplug topic %q: %w", s, err)
		}
	}
	return t, nil
}

// NodeID names an edge node within a group.
type NodeID struct {
	Group string `yaml:"group_id"`
	Node  string `yaml:"node_id"`
}

func (n NodeID) Validate() error {
	if err := validID(n.Group); err != nil {
		return fmt.Errorf("group id: %w", err)
	}
	if err := validID(n.Node); err != nil {
		return fmt.Errorf("node id: %w", err)
	}
	return nil
}

// Topic returns the node-level topic for mt.
func (n NodeID) Topic(mt MessageType) string {
	return Topic{Group: n.Group, Type: mt, Node: n.Node}.String()
}

func validID(id string) error {
	if id == "" {
		return fmt.Errorf("empty id")
	}
	if strings.ContainsAny(id, "/+#") {
		return fmt.Errorf("id %q contains one of / + #", id)
	}
	return nil
}
