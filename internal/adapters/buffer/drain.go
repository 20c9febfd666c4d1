package buffer

import (
	"context"
	"iter"
	"time"

	"github.com/ghalamif/AegisSpark/internal/ports"
)

// DefaultPageSize is the number of entries fetched per drain step.
const DefaultPageSize = 64

// Cursor marks the last entry a drain has yielded. The zero value sits
// before every entry.
type Cursor struct {
	CreatedAt time.Time
	ID        ports.EntryID
	Valid     bool
}

// CursorAt positions a cursor on e.
func CursorAt(e ports.Entry) Cursor {
	return Cursor{CreatedAt: e.Message.CreatedAt, ID: e.ID, Valid: true}
}

// Precedes reports whether an entry keyed (createdAt, id) lies after c.
func (c Cursor) Precedes(createdAt time.Time, id ports.EntryID) bool {
	if !c.Valid {
		return true
	}
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.After(c.CreatedAt)
	}
	return id > c.ID
}

// PageFunc returns up to limit pending entries strictly after cur, oldest first.
type PageFunc func(ctx context.Context, cur Cursor, limit int) ([]ports.Entry, error)

// Drain walks a backend page by page with a keyset cursor, so entries acked
// or appended while the caller is iterating are neither skipped nor repeated.
// Nothing is removed by iterating.
func Drain(ctx context.Context, pageSize int, page PageFunc) iter.Seq2[ports.Entry, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(ports.Entry, error) bool) {
		var cur Cursor
		for {
			if err := ctx.Err(); err != nil {
				yield(ports.Entry{}, err)
				return
			}
			batch, err := page(ctx, cur, pageSize)
			if err != nil {
				yield(ports.Entry{}, err)
				return
			}
			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
				cur = CursorAt(e)
			}
			if len(batch) < pageSize {
				return
			}
		}
	}
}
