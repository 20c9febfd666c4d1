package domain

import "fmt"

// SessionState is the connectivity state of the broker session.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateLive
	StateDrainingBacklog
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateDrainingBacklog:
		return "draining_backlog"
	default:
		return "unknown"
	}
}

// Established reports whether a birth has been announced for the current session.
func (s SessionState) Established() bool {
	return s == StateLive || s == StateDrainingBacklog
}

// MarshalText renders the state by name in JSON responses.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *SessionState) UnmarshalText(b []byte) error {
	for _, st := range []SessionState{StateDisconnected, StateConnecting, StateLive, StateDrainingBacklog} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}
