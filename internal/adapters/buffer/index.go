// Package buffer holds the store-and-forward backends used while the broker
// is unreachable: an fsync'd journal on local disk and a volatile in-memory
// variant.
package buffer

import (
	"fmt"
	"sort"
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

// Capacity bounds the pending backlog. Zero values disable the limit.
type Capacity struct {
	MaxBytes    int64
	MaxMessages int
}

func (c Capacity) fits(count int, bytes int64) bool {
	if c.MaxMessages > 0 && count > c.MaxMessages {
		return false
	}
	if c.MaxBytes > 0 && bytes > c.MaxBytes {
		return false
	}
	return true
}

type record struct {
	id  ports.EntryID
	msg domain.OutboundMessage
}

func (r *record) size() int64 { return int64(len(r.msg.Payload)) }

func (r *record) entry() ports.Entry {
	return ports.Entry{ID: r.id, Message: r.msg}
}

func before(a, b *record) bool {
	if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
		return a.msg.CreatedAt.Before(b.msg.CreatedAt)
	}
	return a.id < b.id
}

// index keeps pending records sorted by (CreatedAt, ID).
type index struct {
	recs  []*record
	byID  map[ports.EntryID]*record
	bytes int64
}

func newIndex() *index {
	return &index{byID: make(map[ports.EntryID]*record)}
}

func (x *index) len() int { return len(x.recs) }

func (x *index) insert(r *record) {
	i := sort.Search(len(x.recs), func(i int) bool { return before(r, x.recs[i]) })
	x.recs = append(x.recs, nil)
	copy(x.recs[i+1:], x.recs[i:])
	x.recs[i] = r
	x.byID[r.id] = r
	x.bytes += r.size()
}

func (x *index) remove(id ports.EntryID) bool {
	r, ok := x.byID[id]
	if !ok {
		return false
	}
	i := sort.Search(len(x.recs), func(i int) bool { return !before(x.recs[i], r) })
	copy(x.recs[i:], x.recs[i+1:])
	x.recs[len(x.recs)-1] = nil
	x.recs = x.recs[:len(x.recs)-1]
	delete(x.byID, id)
	x.bytes -= r.size()
	return true
}

// victims lists the oldest records that have to go so that extraCount more
// records of extraBytes total fit within c.
func (x *index) victims(c Capacity, extraCount int, extraBytes int64) ([]*record, error) {
	if c.MaxBytes > 0 && extraBytes > c.MaxBytes {
		return nil, fmt.Errorf("message of %d bytes exceeds limit of %d: %w",
			extraBytes, c.MaxBytes, domain.ErrBufferCapacityExceeded)
	}
	count, bytes := len(x.recs)+extraCount, x.bytes+extraBytes
	var out []*record
	for i := 0; i < len(x.recs) && !c.fits(count, bytes); i++ {
		r := x.recs[i]
		out = append(out, r)
		count--
		bytes -= r.size()
	}
	return out, nil
}

// after returns up to limit entries strictly past cur.
func (x *index) after(cur Cursor, limit int) []ports.Entry {
	i := sort.Search(len(x.recs), func(i int) bool {
		r := x.recs[i]
		return cur.Precedes(r.msg.CreatedAt, r.id)
	})
	end := len(x.recs)
	if limit > 0 && i+limit < end {
		end = i + limit
	}
	out := make([]ports.Entry, 0, end-i)
	for _, r := range x.recs[i:end] {
		out = append(out, r.entry())
	}
	return out
}

func (x *index) metrics(dropped uint64) ports.BufferMetrics {
	m := ports.BufferMetrics{
		SizeBytes:    x.bytes,
		MessageCount: int64(len(x.recs)),
		DroppedCount: dropped,
	}
	if len(x.recs) > 0 {
		m.OldestTimestamp = x.recs[0].msg.CreatedAt
	}
	return m
}

func cloneMessage(m *domain.OutboundMessage) domain.OutboundMessage {
	cp := *m
	if m.Payload != nil {
		cp.Payload = append([]byte(nil), m.Payload...)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	return cp
}
