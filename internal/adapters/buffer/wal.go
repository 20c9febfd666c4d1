package buffer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

const (
	// record layout:
	// [8 id][1 op][4 len][4 crc32(header[:13])][4 crc32(header[:13] + body)][len body]
	recordHeaderLen = 21

	opAppend byte = 1
	opAck    byte = 2

	defaultCompactAfter = 1024
)

// walRecord is the persisted form of a pending message.
type walRecord struct {
	Kind       domain.MessageKind `cbor:"1,keyasint"`
	Topic      string             `cbor:"2,keyasint"`
	Payload    []byte             `cbor:"3,keyasint"`
	QoS        byte               `cbor:"4,keyasint"`
	Retain     bool               `cbor:"5,keyasint"`
	Historical bool               `cbor:"6,keyasint"`
	CreatedAt  int64              `cbor:"7,keyasint"`
}

// WAL is a journal-backed buffer. Every append and ack is a single framed
// record followed by fsync; replay rebuilds the pending index on open.
type WAL struct {
	mu           sync.Mutex
	dir          string
	path         string
	metaPath     string
	file         *os.File
	idx          *index
	cap          Capacity
	nextID       ports.EntryID
	dropped      uint64
	records      int
	sizeBytes    int64
	compactAfter int
	pageSize     int
	closed       bool
}

// OpenWAL opens or creates the journal in dir. A torn final record is cut
// off; any other unreadable record fails with domain.ErrBufferCorrupt. The
// header checksum keeps a damaged length field from passing as a torn tail.
func OpenWAL(dir string, c Capacity) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &domain.StorageIOError{Op: "open", Err: err}
	}
	path := filepath.Join(dir, "buffer.wal")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &domain.StorageIOError{Op: "open", Err: err}
	}
	w := &WAL{
		dir:          dir,
		path:         path,
		metaPath:     filepath.Join(dir, "buffer.meta"),
		file:         f,
		idx:          newIndex(),
		cap:          c,
		compactAfter: defaultCompactAfter,
		pageSize:     DefaultPageSize,
	}
	if err := w.bootstrap(); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *WAL) bootstrap() error {
	if err := w.replay(); err != nil {
		return err
	}
	hw, err := w.loadMeta()
	if err != nil {
		return err
	}
	if hw > w.nextID {
		w.nextID = hw
	}
	// A crash between an append and its eviction acks can leave the replayed
	// backlog over its limit.
	victims, _ := w.idx.victims(w.cap, 0, 0)
	if len(victims) > 0 {
		var frame bytes.Buffer
		for _, v := range victims {
			writeFrame(&frame, v.id, opAck, nil)
		}
		if err := w.commit(frame.Bytes()); err != nil {
			return &domain.StorageIOError{Op: "open", Err: err}
		}
		for _, v := range victims {
			w.idx.remove(v.id)
			w.dropped++
		}
		w.records += len(victims)
	}
	return nil
}

func (w *WAL) replay() error {
	info, err := w.file.Stat()
	if err != nil {
		return &domain.StorageIOError{Op: "open", Err: err}
	}
	size := info.Size()
	r := bufio.NewReader(io.NewSectionReader(w.file, 0, size))

	var offset int64
	for offset < size {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return &domain.StorageIOError{Op: "replay", Err: err}
		}
		id := ports.EntryID(binary.BigEndian.Uint64(hdr[0:8]))
		op := hdr[8]
		length := int64(binary.BigEndian.Uint32(hdr[9:13]))
		if crc32.ChecksumIEEE(hdr[:13]) != binary.BigEndian.Uint32(hdr[13:17]) {
			if offset+recordHeaderLen == size {
				break
			}
			return fmt.Errorf("%w: header checksum mismatch at offset %d", domain.ErrBufferCorrupt, offset)
		}
		sum := binary.BigEndian.Uint32(hdr[17:21])

		end := offset + recordHeaderLen + length
		if end > size {
			break
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(r, body); err != nil {
			return &domain.StorageIOError{Op: "replay", Err: err}
		}
		if checksum(hdr[:13], body) != sum {
			if end == size {
				break
			}
			return fmt.Errorf("%w: checksum mismatch at offset %d", domain.ErrBufferCorrupt, offset)
		}

		switch op {
		case opAppend:
			msg, err := decodeRecord(body)
			if err != nil {
				return fmt.Errorf("%w: record %d at offset %d: %v", domain.ErrBufferCorrupt, id, offset, err)
			}
			w.idx.insert(&record{id: id, msg: msg})
		case opAck:
			w.idx.remove(id)
		default:
			return fmt.Errorf("%w: unknown op %d at offset %d", domain.ErrBufferCorrupt, op, offset)
		}
		if id > w.nextID {
			w.nextID = id
		}
		w.records++
		offset = end
	}

	if offset < size {
		if err := w.file.Truncate(offset); err != nil {
			return &domain.StorageIOError{Op: "replay", Err: err}
		}
	}
	w.sizeBytes = offset
	return nil
}

func (w *WAL) Append(_ context.Context, msg *domain.OutboundMessage) (ports.EntryID, error) {
	if msg == nil {
		return 0, errors.New("buffer append: nil message")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, domain.ErrBufferClosed
	}

	rec := &record{msg: cloneMessage(msg)}
	victims, err := w.idx.victims(w.cap, 1, rec.size())
	if err != nil {
		w.dropped++
		return 0, err
	}
	rec.id = w.nextID + 1

	body, err := encodeRecord(rec.msg)
	if err != nil {
		return 0, &domain.StorageIOError{Op: "append", Err: err}
	}
	var frame bytes.Buffer
	writeFrame(&frame, rec.id, opAppend, body)
	for _, v := range victims {
		writeFrame(&frame, v.id, opAck, nil)
	}
	if err := w.commit(frame.Bytes()); err != nil {
		return 0, &domain.StorageIOError{Op: "append", Err: err}
	}

	w.nextID = rec.id
	for _, v := range victims {
		w.idx.remove(v.id)
		w.dropped++
	}
	w.idx.insert(rec)
	w.records += 1 + len(victims)
	return rec.id, nil
}

func (w *WAL) DrainOrdered(ctx context.Context) iter.Seq2[ports.Entry, error] {
	return Drain(ctx, w.pageSize, w.page)
}

func (w *WAL) page(_ context.Context, cur Cursor, limit int) ([]ports.Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, domain.ErrBufferClosed
	}
	return w.idx.after(cur, limit), nil
}

// Ack removes id. Unknown ids are ignored without touching the journal.
func (w *WAL) Ack(_ context.Context, id ports.EntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return domain.ErrBufferClosed
	}
	if _, ok := w.idx.byID[id]; !ok {
		return nil
	}

	var frame bytes.Buffer
	writeFrame(&frame, id, opAck, nil)
	if err := w.commit(frame.Bytes()); err != nil {
		return &domain.StorageIOError{Op: "ack", Err: err}
	}
	w.idx.remove(id)
	w.records++

	if dead := w.records - w.idx.len(); dead >= w.compactAfter && dead > w.idx.len() {
		if err := w.compactLocked(); err != nil {
			return &domain.StorageIOError{Op: "compact", Err: err}
		}
	}
	return nil
}

func (w *WAL) Metrics(context.Context) (ports.BufferMetrics, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idx.metrics(w.dropped), nil
}

// Close waits for any in-flight append or ack, then releases the journal.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// commit writes one or more frames and syncs them. A failed write is cut back
// so the journal never keeps a partial frame.
func (w *WAL) commit(b []byte) error {
	if _, err := w.file.Write(b); err != nil {
		_ = w.file.Truncate(w.sizeBytes)
		return err
	}
	if err := w.file.Sync(); err != nil {
		_ = w.file.Truncate(w.sizeBytes)
		return err
	}
	w.sizeBytes += int64(len(b))
	return nil
}

// compactLocked rewrites the journal with pending records only. The new
// journal is written through the handle that replaces w.file, so once the
// rename succeeds there is nothing left to reopen.
func (w *WAL) compactLocked() error {
	tmp := w.path + ".compact"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	var written int64
	for _, r := range w.idx.recs {
		body, err := encodeRecord(r.msg)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		n, _ := writeFrame(bw, r.id, opAppend, body)
		written += int64(n)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.persistMetaLocked(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := rename(tmp, w.path); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	syncDir(w.dir)

	w.file.Close()
	w.file = f
	w.sizeBytes = written
	w.records = w.idx.len()
	return nil
}

// The meta file keeps the id high-water mark so ids stay monotonic after a
// compaction drops every acked record.
func (w *WAL) loadMeta() (ports.EntryID, error) {
	data, err := os.ReadFile(w.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, &domain.StorageIOError{Op: "open", Err: err}
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return 0, nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: meta: %v", domain.ErrBufferCorrupt, err)
	}
	return ports.EntryID(u), nil
}

func (w *WAL) persistMetaLocked() error {
	tmp := w.metaPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(fmt.Sprintf("%d\n", w.nextID)), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.metaPath)
}

func writeFrame(dst io.Writer, id ports.EntryID, op byte, body []byte) (int, error) {
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	hdr[8] = op
	binary.BigEndian.PutUint32(hdr[9:13], uint32(len(body)))
	binary.BigEndian.PutUint32(hdr[13:17], crc32.ChecksumIEEE(hdr[:13]))
	binary.BigEndian.PutUint32(hdr[17:21], checksum(hdr[:13], body))
	n, err := dst.Write(hdr[:])
	if err != nil {
		return n, err
	}
	m, err := dst.Write(body)
	return n + m, err
}

func checksum(hdr, body []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(hdr)
	h.Write(body)
	return h.Sum32()
}

func encodeRecord(m domain.OutboundMessage) ([]byte, error) {
	return cbor.Marshal(walRecord{
		Kind:       m.Kind,
		Topic:      m.Topic,
		Payload:    m.Payload,
		QoS:        m.QoS,
		Retain:     m.Retain,
		Historical: m.Historical,
		CreatedAt:  m.CreatedAt.UnixNano(),
	})
}

func decodeRecord(b []byte) (domain.OutboundMessage, error) {
	var rec walRecord
	if err := cbor.Unmarshal(b, &rec); err != nil {
		return domain.OutboundMessage{}, err
	}
	return domain.OutboundMessage{
		Kind:       rec.Kind,
		Topic:      rec.Topic,
		Payload:    rec.Payload,
		QoS:        rec.QoS,
		Retain:     rec.Retain,
		Historical: rec.Historical,
		CreatedAt:  time.Unix(0, rec.CreatedAt),
	}, nil
}

// rename is swapped in tests.
var rename = os.Rename

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}

var _ ports.Buffer = (*WAL)(nil)
