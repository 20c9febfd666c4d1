package ports

import (
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
)

// Metric is one named value carried in a payload.
type Metric struct {
	Name        string
	Alias       uint64
	Type        domain.DataType
	Value       domain.Value
	Timestamp   time.Time
	Units       string
	Description string
}

// Codec turns metrics into payload bodies and seals sequenced messages for the wire.
type Codec interface {
	EncodeMetrics(ts time.Time, metrics []Metric) ([]byte, error)
	DecodeMetrics(body []byte) ([]Metric, error)
	Seal(msg *domain.OutboundMessage) ([]byte, error)
	ContentType() string
}
