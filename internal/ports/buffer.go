package ports

import (
	"context"
	"iter"
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
)

// EntryID identifies a buffered message. IDs grow with insertion order.
type EntryID uint64

// Entry is a message held by the durable buffer until acknowledged.
type Entry struct {
	ID      EntryID
	Message domain.OutboundMessage
}

// Buffer is the store-and-forward queue used while the broker is unreachable.
//
// DrainOrdered yields entries oldest first by (CreatedAt, ID). Yielding never
// removes an entry; only Ack does, so abandoning the iteration loses nothing.
type Buffer interface {
	Append(ctx context.Context, msg *domain.OutboundMessage) (EntryID, error)
	DrainOrdered(ctx context.Context) iter.Seq2[Entry, error]
	Ack(ctx context.Context, id EntryID) error
	Metrics(ctx context.Context) (BufferMetrics, error)
	Close() error
}

// BufferMetrics is a point-in-time occupancy snapshot.
type BufferMetrics struct {
	SizeBytes       int64     `json:"size_bytes"`
	MessageCount    int64     `json:"message_count"`
	DroppedCount    uint64    `json:"dropped_count"`
	OldestTimestamp time.Time `json:"oldest_timestamp"`
}

// OldestAge returns how long the oldest entry has waited, or zero when empty.
func (m BufferMetrics) OldestAge(now time.Time) time.Duration {
	if m.MessageCount == 0 || m.OldestTimestamp.IsZero() {
		return 0
	}
	return now.Sub(m.OldestTimestamp)
}
