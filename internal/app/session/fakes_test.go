package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fakeTransport struct {
	mu          sync.Mutex
	sent        []domain.OutboundMessage
	failSends   int
	failAll     bool
	connectErrs int
	budgeted    bool
	budget      int
	connects    int
	disconnects int
	will        *domain.OutboundMessage
	events      chan ports.TransportEvent
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan ports.TransportEvent, 16)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	if f.connectErrs > 0 {
		f.connectErrs--
		f.mu.Unlock()
		return errors.New("connection refused")
	}
	f.mu.Unlock()
	f.events <- ports.TransportEvent{Kind: ports.EventConnected}
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, msg *domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return domain.ErrNotConnected
	}
	if f.failSends > 0 {
		f.failSends--
		return domain.ErrNotConnected
	}
	if f.budgeted {
		if f.budget == 0 {
			return domain.ErrNotConnected
		}
		f.budget--
	}
	f.sent = append(f.sent, *msg)
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

func (f *fakeTransport) Events() <-chan ports.TransportEvent { return f.events }
func (f *fakeTransport) Name() string                        { return "fake" }

func (f *fakeTransport) SetWill(msg *domain.OutboundMessage) {
	f.mu.Lock()
	f.will = msg
	f.mu.Unlock()
}

func (f *fakeTransport) setFailAll(v bool) {
	f.mu.Lock()
	f.failAll = v
	f.mu.Unlock()
}

// allowSends lets n more sends through and fails every one after.
func (f *fakeTransport) allowSends(n int) {
	f.mu.Lock()
	f.budgeted, f.budget = true, n
	f.mu.Unlock()
}

func (f *fakeTransport) setFailSends(n int) {
	f.mu.Lock()
	f.failSends = n
	f.mu.Unlock()
}

func (f *fakeTransport) sentOf(kind domain.MessageKind) []domain.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OutboundMessage
	for _, m := range f.sent {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) all() []domain.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OutboundMessage(nil), f.sent...)
}

type fakeAnnouncer struct{}

func (fakeAnnouncer) Birth(bdSeq uint64) (*domain.OutboundMessage, error) {
	return &domain.OutboundMessage{Kind: domain.KindBirth, Topic: "spBv1.0/g/NBIRTH/n", BdSeq: bdSeq}, nil
}

func (fakeAnnouncer) Death(bdSeq uint64) (*domain.OutboundMessage, error) {
	return &domain.OutboundMessage{Kind: domain.KindDeath, Topic: "spBv1.0/g/NDEATH/n", BdSeq: bdSeq, QoS: 1}, nil
}

type nopObs struct{}

func (nopObs) LogDebug(string, ...ports.Field)           {}
func (nopObs) LogInfo(string, ...ports.Field)            {}
func (nopObs) LogWarn(string, ...ports.Field)            {}
func (nopObs) LogError(string, error, ...ports.Field)    {}
func (nopObs) LogCritical(string, error, ...ports.Field) {}
func (nopObs) IncCounter(string, float64)                {}
func (nopObs) ObserveLatency(string, float64)            {}
func (nopObs) SetGauge(string, float64)                  {}
