package buffer

import (
	"context"
	"errors"
	"iter"
	"sync"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

// Memory is a bounded buffer that keeps its backlog in process memory only.
// Its contents do not survive a restart.
type Memory struct {
	mu       sync.Mutex
	idx      *index
	cap      Capacity
	nextID   ports.EntryID
	dropped  uint64
	closed   bool
	pageSize int
}

func NewMemory(c Capacity) *Memory {
	return &Memory{
		idx:      newIndex(),
		cap:      c,
		pageSize: DefaultPageSize,
	}
}

func (m *Memory) Append(_ context.Context, msg *domain.OutboundMessage) (ports.EntryID, error) {
	if msg == nil {
		return 0, errors.New("buffer append: nil message")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, domain.ErrBufferClosed
	}

	rec := &record{msg: cloneMessage(msg)}
	victims, err := m.idx.victims(m.cap, 1, rec.size())
	if err != nil {
		m.dropped++
		return 0, err
	}
	for _, v := range victims {
		m.idx.remove(v.id)
		m.dropped++
	}
	m.nextID++
	rec.id = m.nextID
	m.idx.insert(rec)
	return rec.id, nil
}

func (m *Memory) DrainOrdered(ctx context.Context) iter.Seq2[ports.Entry, error] {
	return Drain(ctx, m.pageSize, m.page)
}

func (m *Memory) page(_ context.Context, cur Cursor, limit int) ([]ports.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrBufferClosed
	}
	return m.idx.after(cur, limit), nil
}

func (m *Memory) Ack(_ context.Context, id ports.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrBufferClosed
	}
	m.idx.remove(id)
	return nil
}

func (m *Memory) Metrics(context.Context) (ports.BufferMetrics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idx.metrics(m.dropped), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ ports.Buffer = (*Memory)(nil)
