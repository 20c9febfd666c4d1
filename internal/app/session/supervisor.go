package session

import (
	"context"
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
	"github.com/ghalamif/AegisSpark/internal/retry"
)

// Supervise re-enters CONNECTING whenever the session drops, waiting a
// capped, jittered exponential delay between failed attempts. It returns when
// ctx is done.
func (m *Machine) Supervise(ctx context.Context, policy ports.Backoff, connectTimeout time.Duration) error {
	bo := retry.NewBackoff(policy)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.reconnect:
		}

		for m.RequestConnect() {
			if ws, ok := m.tr.(ports.WillSetter); ok {
				if will, err := m.Will(); err == nil {
					ws.SetWill(will)
				} else {
					m.obs.LogError("will_build_failed", err)
				}
			}

			cctx := ctx
			cancel := context.CancelFunc(func() {})
			if connectTimeout > 0 {
				cctx, cancel = context.WithTimeout(ctx, connectTimeout)
			}
			err := m.tr.Connect(cctx)
			cancel()
			if err == nil {
				bo.Reset()
				break
			}

			m.ConnectFailed(err)
			delay := bo.Next()
			m.obs.LogInfo("reconnect_scheduled",
				ports.Field{Key: "transport", Value: m.tr.Name()},
				ports.Field{Key: "attempt", Value: bo.Attempts()},
				ports.Field{Key: "delay", Value: delay.String()},
			)
			if retry.Sleep(ctx, delay) != nil {
				return nil
			}
		}
	}
}

// Listen applies transport events to the machine until events closes or ctx
// is done. A reboot command ends it with domain.ErrRebootRequested so the
// owner can shut down and let the process supervisor restart it.
func (m *Machine) Listen(ctx context.Context, events <-chan ports.TransportEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case ports.EventConnected:
				m.Connected(ctx)
			case ports.EventDisconnected:
				m.Disconnected(ctx, ev.Err)
			case ports.EventRebirthRequested:
				if err := m.Rebirth(ctx); err != nil {
					m.obs.LogWarn("rebirth_ignored", ports.Field{Key: "error", Value: err.Error()})
				}
			case ports.EventNextServerRequested:
				m.Disconnected(ctx, domain.ErrNextServerRequested)
			case ports.EventRebootRequested:
				m.obs.LogWarn("reboot_requested", ports.Field{Key: "bd_seq", Value: m.Snapshot().BdSeq})
				return domain.ErrRebootRequested
			}
		}
	}
}

// RunDrains drains the backlog each time a session is established. A failed
// drain is retried after a backoff delay as long as the session is still
// draining.
func (m *Machine) RunDrains(ctx context.Context, policy ports.Backoff) error {
	bo := retry.NewBackoff(policy)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.drainKick:
		}
		for {
			err := m.Drain(ctx)
			if err == nil || ctx.Err() != nil {
				bo.Reset()
				break
			}
			m.obs.LogError("backlog_drain_failed", err)
			if retry.Sleep(ctx, bo.Next()) != nil {
				return nil
			}
			if m.State() != domain.StateDrainingBacklog {
				break
			}
		}
	}
}
