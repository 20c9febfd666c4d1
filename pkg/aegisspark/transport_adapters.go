package aegisspark

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

// ErrChannelTransportClosed is returned when a channel transport is written to after being closed.
var ErrChannelTransportClosed = errors.New("aegisspark: channel transport closed")

// MessageHandler receives every message the session sends, already stamped
// with its sequence number.
type MessageHandler func(ctx context.Context, msg OutboundMessage) error

// NewCallbackTransport adapts a MessageHandler into a Transport so callers can
// route session traffic to arbitrary functions. Connect always succeeds.
func NewCallbackTransport(name string, fn MessageHandler) Transport {
	if name == "" {
		name = "callback"
	}
	return &callbackTransport{name: name, fn: fn, events: make(chan ports.TransportEvent, 4)}
}

// NewChannelTransport exposes sent messages on a channel; it returns the
// transport, the read-only channel, and a close function the caller should
// invoke during shutdown.
func NewChannelTransport(name string, buffer int) (Transport, <-chan OutboundMessage, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan OutboundMessage, buffer)
	t := &channelTransport{ch: ch, closed: make(chan struct{})}
	t.callbackTransport = callbackTransport{name: name, fn: t.deliver, events: make(chan ports.TransportEvent, 4)}
	return t, ch, func() { t.close() }
}

type callbackTransport struct {
	name   string
	fn     MessageHandler
	events chan ports.TransportEvent

	mu        sync.Mutex
	connected bool
}

func (t *callbackTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	already := t.connected
	t.connected = true
	t.mu.Unlock()
	if !already {
		t.events <- ports.TransportEvent{Kind: ports.EventConnected}
	}
	return nil
}

func (t *callbackTransport) Send(ctx context.Context, msg *domain.OutboundMessage) error {
	t.mu.Lock()
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return domain.ErrNotConnected
	}
	if t.fn == nil {
		return fmt.Errorf("callback transport %q: nil handler", t.name)
	}
	cp := *msg
	cp.Payload = append([]byte(nil), msg.Payload...)
	return t.fn(ctx, cp)
}

func (t *callbackTransport) Disconnect() {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
}

func (t *callbackTransport) Events() <-chan ports.TransportEvent { return t.events }

func (t *callbackTransport) Name() string { return t.name }

type channelTransport struct {
	callbackTransport
	ch     chan OutboundMessage
	closed chan struct{}
	once   sync.Once
	sendMu sync.RWMutex
}

func (t *channelTransport) deliver(ctx context.Context, msg OutboundMessage) error {
	t.sendMu.RLock()
	defer t.sendMu.RUnlock()
	select {
	case <-t.closed:
		return ErrChannelTransportClosed
	default:
	}

	select {
	case <-t.closed:
		return ErrChannelTransportClosed
	case <-ctx.Done():
		return domain.ErrSendTimeout
	case t.ch <- msg:
		return nil
	}
}

func (t *channelTransport) close() {
	t.once.Do(func() {
		close(t.closed)
		// wait out in-flight deliveries before closing the consumer channel
		t.sendMu.Lock()
		close(t.ch)
		t.sendMu.Unlock()
	})
}
