package ports

import "github.com/ghalamif/AegisSpark/internal/domain"

// Announcer builds the session-state messages for a birth/death sequence.
type Announcer interface {
	Birth(bdSeq uint64) (*domain.OutboundMessage, error)
	Death(bdSeq uint64) (*domain.OutboundMessage, error)
}

// WillSetter is implemented by transports that can register a death message
// with the broker before connecting.
type WillSetter interface {
	SetWill(msg *domain.OutboundMessage)
}
