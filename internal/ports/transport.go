package ports

import (
	"context"

	"github.com/ghalamif/AegisSpark/internal/domain"
)

// EventKind enumerates transport notifications delivered to the session.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventRebirthRequested
	EventRebootRequested
	EventNextServerRequested
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventRebirthRequested:
		return "rebirth_requested"
	case EventRebootRequested:
		return "reboot_requested"
	case EventNextServerRequested:
		return "next_server_requested"
	default:
		return "unknown"
	}
}

type TransportEvent struct {
	Kind EventKind
	Err  error
}

// Transport publishes sequenced messages to the broker. Connect returns once the
// connection attempt completed; the resulting EventConnected arrives on Events.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *domain.OutboundMessage) error
	Disconnect()
	Events() <-chan TransportEvent
	Name() string
}
