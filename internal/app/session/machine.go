// Package session owns broker connectivity: birth/death announcements, the
// outbound sequence counter and the choice between sending live and
// buffering.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

const defaultSendTimeout = 5 * time.Second

// Stats is a read-only view of the session for operators.
type Stats struct {
	State          domain.SessionState `json:"state"`
	NextSeq        uint8               `json:"next_seq"`
	BdSeq          uint64              `json:"bd_seq"`
	LastConnected  time.Time           `json:"last_connected"`
	MessagesSent   uint64              `json:"messages_sent"`
	HistoricalSent uint64              `json:"historical_sent"`
	Reconnects     uint64              `json:"reconnects"`
}

type Option func(*Machine)

// WithSendTimeout bounds every transport send.
func WithSendTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.sendTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine is the single serialization point between the sampling loop, the
// transport event listener and the drain task. State changes, sequence
// assignment and the send attempt that uses the sequence number all happen
// under mu.
type Machine struct {
	mu    sync.Mutex
	state domain.SessionState
	seq   uint8
	bdSeq uint64
	stats Stats

	buf ports.Buffer
	tr  ports.Transport
	ann ports.Announcer
	obs ports.Observability

	sendTimeout time.Duration
	now         func() time.Time

	drainKick chan struct{}
	reconnect chan struct{}
}

func New(buf ports.Buffer, tr ports.Transport, ann ports.Announcer, obs ports.Observability, opts ...Option) *Machine {
	m := &Machine{
		state:       domain.StateDisconnected,
		buf:         buf,
		tr:          tr,
		ann:         ann,
		obs:         obs,
		sendTimeout: defaultSendTimeout,
		now:         time.Now,
		drainKick:   make(chan struct{}, 1),
		reconnect:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(m)
	}
	// the supervisor's first pass
	m.reconnect <- struct{}{}
	return m
}

func (m *Machine) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.State = m.state
	s.NextSeq = m.seq
	s.BdSeq = m.bdSeq
	return s
}

// DrainRequests fires whenever a backlog drain should start.
func (m *Machine) DrainRequests() <-chan struct{} { return m.drainKick }

// ReconnectRequests fires whenever the session dropped to DISCONNECTED.
func (m *Machine) ReconnectRequests() <-chan struct{} { return m.reconnect }

// RequestConnect moves DISCONNECTED to CONNECTING. It reports false when the
// session is in any other state.
func (m *Machine) RequestConnect() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateDisconnected {
		return false
	}
	m.setStateLocked(domain.StateConnecting)
	return true
}

// Will returns the death message the broker should publish for the session
// about to be established.
func (m *Machine) Will() (*domain.OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ann.Death(m.bdSeq + 1)
}

// ConnectFailed returns a CONNECTING session to DISCONNECTED.
func (m *Machine) ConnectFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateConnecting {
		return
	}
	m.setStateLocked(domain.StateDisconnected)
	m.obs.LogWarn("broker_connect_failed", ports.Field{Key: "error", Value: err.Error()})
}

// Connected starts a new session: bdSeq is incremented, the birth goes out
// with seq 0 and the backlog drain is requested. Data sequencing resumes at 1.
func (m *Machine) Connected(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Established() {
		m.obs.LogDebug("session_connected_ignored", ports.Field{Key: "state", Value: m.state.String()})
		return
	}
	m.bdSeq++
	if !m.stats.LastConnected.IsZero() {
		m.stats.Reconnects++
		m.obs.IncCounter(ports.MetricReconnects, 1)
	}
	m.stats.LastConnected = m.now()
	m.setStateLocked(domain.StateDrainingBacklog)
	m.birthLocked(ctx)
	m.kickDrain()
}

// Disconnected drops the session. A death is attempted when a birth had been
// announced; failure to deliver it is only logged.
func (m *Machine) Disconnected(ctx context.Context, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.StateDisconnected {
		return
	}
	fields := []ports.Field{{Key: "from", Value: m.state.String()}}
	if cause != nil {
		fields = append(fields, ports.Field{Key: "cause", Value: cause.Error()})
	}
	m.obs.LogWarn("session_lost", fields...)
	m.dropLocked(ctx)
}

// Rebirth re-announces the current session without changing bdSeq.
func (m *Machine) Rebirth(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Established() {
		return domain.ErrSessionNotEstablished
	}
	m.obs.LogInfo("rebirth_requested", ports.Field{Key: "bd_seq", Value: m.bdSeq})
	m.birthLocked(ctx)
	return nil
}

// Submit hands an accepted message to the session. While LIVE it is sequenced
// and sent at once; a failed send demotes the session and the message is
// re-queued unsequenced. In every other state it is appended to the buffer,
// behind any backlog. Only buffer errors are returned.
func (m *Machine) Submit(ctx context.Context, msg *domain.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == domain.StateLive {
		if !msg.AssignSeq(m.seq) {
			return fmt.Errorf("submit %s: message already sequenced", msg.Topic)
		}
		m.seq++
		err := m.sendLocked(ctx, msg)
		if err == nil {
			m.stats.MessagesSent++
			m.obs.IncCounter(ports.MetricMessagesSent, 1)
			return nil
		}
		m.obs.LogWarn("live_send_failed_requeued",
			ports.Field{Key: "topic", Value: msg.Topic},
			ports.Field{Key: "seq", Value: msg.Seq},
			ports.Field{Key: "error", Value: err.Error()},
		)
		m.dropLocked(ctx)
		return m.appendLocked(ctx, msg.Requeued())
	}
	return m.appendLocked(ctx, msg)
}

// Drain replays the backlog oldest first while the session is
// DRAINING_BACKLOG and switches to LIVE once the buffer is empty. It stops
// early when the session is lost or ctx is cancelled; cancellation is only
// observed between entries.
func (m *Machine) Drain(ctx context.Context) error {
	for {
		done, err := m.drainPass(ctx)
		if err != nil || done {
			return err
		}
	}
}

func (m *Machine) drainPass(ctx context.Context) (bool, error) {
	for e, err := range m.buf.DrainOrdered(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return true, ctx.Err()
			}
			m.obs.IncCounter(ports.MetricStorageErrors, 1)
			return true, fmt.Errorf("drain backlog: %w", err)
		}
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		sent, err := m.replay(ctx, e)
		if err != nil {
			return true, err
		}
		if !sent {
			return true, nil
		}
	}
	return m.finishDrain(ctx)
}

// replay sends one buffered entry. It reports false when the session is no
// longer draining, leaving the entry at the head of the backlog.
func (m *Machine) replay(ctx context.Context, e ports.Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateDrainingBacklog {
		return false, nil
	}

	msg := e.Message
	msg.Seq, msg.Sequenced = 0, false
	msg.Historical = true
	msg.AssignSeq(m.seq)
	m.seq++
	if err := m.sendLocked(ctx, &msg); err != nil {
		m.obs.LogWarn("backlog_send_failed",
			ports.Field{Key: "entry", Value: uint64(e.ID)},
			ports.Field{Key: "error", Value: err.Error()},
		)
		m.dropLocked(ctx)
		return false, nil
	}
	m.stats.MessagesSent++
	m.stats.HistoricalSent++
	m.obs.IncCounter(ports.MetricHistoricalSent, 1)

	if err := m.ackLocked(ctx, e.ID); err != nil {
		// Delivered but still buffered: it will be sent again next drain.
		return false, err
	}
	return true, nil
}

func (m *Machine) finishDrain(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.StateDrainingBacklog {
		return true, nil
	}
	met, err := m.buf.Metrics(ctx)
	if err != nil {
		m.obs.IncCounter(ports.MetricStorageErrors, 1)
		return true, fmt.Errorf("drain backlog: %w", err)
	}
	if met.MessageCount > 0 {
		return false, nil
	}
	m.setStateLocked(domain.StateLive)
	m.obs.LogInfo("session_live",
		ports.Field{Key: "bd_seq", Value: m.bdSeq},
		ports.Field{Key: "next_seq", Value: m.seq},
	)
	return true, nil
}

// Close announces death if a session is up and leaves the machine
// DISCONNECTED. The transport and buffer are closed by their owner.
func (m *Machine) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Established() {
		m.deathLocked(ctx)
	}
	m.setStateLocked(domain.StateDisconnected)
}

func (m *Machine) birthLocked(ctx context.Context) {
	defer func() { m.seq = 1 }()
	msg, err := m.ann.Birth(m.bdSeq)
	if err != nil {
		m.obs.LogError("birth_build_failed", err, ports.Field{Key: "bd_seq", Value: m.bdSeq})
		return
	}
	msg.AssignSeq(0)
	if err := m.sendLocked(ctx, msg); err != nil {
		m.obs.LogError("birth_send_failed", err, ports.Field{Key: "bd_seq", Value: m.bdSeq})
		return
	}
	m.obs.IncCounter(ports.MetricBirthsSent, 1)
}

func (m *Machine) deathLocked(ctx context.Context) {
	msg, err := m.ann.Death(m.bdSeq)
	if err != nil {
		m.obs.LogError("death_build_failed", err, ports.Field{Key: "bd_seq", Value: m.bdSeq})
		return
	}
	if err := m.sendLocked(ctx, msg); err != nil {
		m.obs.LogWarn("death_send_failed",
			ports.Field{Key: "bd_seq", Value: m.bdSeq},
			ports.Field{Key: "error", Value: err.Error()},
		)
		return
	}
	m.obs.IncCounter(ports.MetricDeathsSent, 1)
}

// dropLocked leaves any state for DISCONNECTED, tears the transport down and
// wakes the supervisor. The next Connect then starts from a closed link and
// reports EventConnected again.
func (m *Machine) dropLocked(ctx context.Context) {
	if m.state.Established() {
		m.deathLocked(ctx)
	}
	m.tr.Disconnect()
	m.setStateLocked(domain.StateDisconnected)
	select {
	case m.reconnect <- struct{}{}:
	default:
	}
}

func (m *Machine) sendLocked(ctx context.Context, msg *domain.OutboundMessage) error {
	sctx, cancel := context.WithTimeout(ctx, m.sendTimeout)
	defer cancel()

	start := m.now()
	err := m.tr.Send(sctx, msg)
	m.obs.ObserveLatency(ports.MetricSendLatency, m.now().Sub(start).Seconds())
	if err == nil {
		return nil
	}
	m.obs.IncCounter(ports.MetricSendFailures, 1)
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrSendTimeout) {
		err = fmt.Errorf("%w: %v", domain.ErrSendTimeout, err)
	}
	var tse *domain.TransportSendError
	if !errors.As(err, &tse) {
		err = &domain.TransportSendError{Topic: msg.Topic, Err: err}
	}
	return err
}

func (m *Machine) appendLocked(ctx context.Context, msg *domain.OutboundMessage) error {
	if _, err := m.buf.Append(ctx, msg); err != nil {
		if domain.IsStorageError(err) {
			m.obs.IncCounter(ports.MetricStorageErrors, 1)
		}
		return err
	}
	m.obs.IncCounter(ports.MetricMessagesBuffered, 1)
	return nil
}

// ackLocked retries once; a second failure is returned so the caller backs off.
func (m *Machine) ackLocked(ctx context.Context, id ports.EntryID) error {
	err := m.buf.Ack(ctx, id)
	if err == nil {
		return nil
	}
	if err = m.buf.Ack(ctx, id); err == nil {
		return nil
	}
	m.obs.IncCounter(ports.MetricStorageErrors, 1)
	m.obs.LogError("backlog_ack_failed", err, ports.Field{Key: "entry", Value: uint64(id)})
	return fmt.Errorf("ack entry %d: %w", id, err)
}

func (m *Machine) setStateLocked(s domain.SessionState) {
	m.state = s
	m.obs.SetGauge(ports.MetricSessionState, float64(s))
}

func (m *Machine) kickDrain() {
	select {
	case m.drainKick <- struct{}{}:
	default:
	}
}
