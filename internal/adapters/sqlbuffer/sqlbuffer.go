// Package sqlbuffer stores the outbound backlog in a relational database:
// SQLite for single-box gateways, PostgreSQL/TimescaleDB when the edge node
// already runs one.
package sqlbuffer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ghalamif/AegisSpark/internal/adapters/buffer"
	"github.com/ghalamif/AegisSpark/internal/domain"
	"github.com/ghalamif/AegisSpark/internal/ports"
)

// Dialect selects driver name, placeholders and DDL.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect accepts the driver names used in configuration.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "timescale", "timescaledb":
		return DialectPostgres, nil
	}
	return "", fmt.Errorf("unsupported sql dialect %q", s)
}

func (d Dialect) bind(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

const columns = "id, kind, topic, payload, qos, retain, historical, created_at"

// Options tune a SQLBuffer. Table defaults to "outbound_buffer".
type Options struct {
	Table    string
	Capacity buffer.Capacity
	PageSize int
}

type SQLBuffer struct {
	mu       sync.Mutex
	db       *sql.DB
	ownsDB   bool
	dialect  Dialect
	table    string
	cap      buffer.Capacity
	pageSize int
	dropped  atomic.Uint64
	closed   bool
}

// New wraps an existing handle. The schema is expected to exist; see Migrate.
func New(db *sql.DB, dialect Dialect, opts Options) *SQLBuffer {
	if opts.Table == "" {
		opts.Table = "outbound_buffer"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = buffer.DefaultPageSize
	}
	return &SQLBuffer{
		db:       db,
		dialect:  dialect,
		table:    opts.Table,
		cap:      opts.Capacity,
		pageSize: opts.PageSize,
	}
}

// Open connects, creates the schema and checks the store is readable. An
// unreadable store fails with domain.ErrBufferCorrupt.
func Open(ctx context.Context, dialect Dialect, dsn string, opts Options) (*SQLBuffer, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, &domain.StorageIOError{Op: "open", Err: err}
	}
	if dialect == DialectSQLite {
		// one writer keeps append-with-eviction transactions from hitting SQLITE_BUSY
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=FULL"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, &domain.StorageIOError{Op: "open", Err: err}
			}
		}
	}
	b := New(db, dialect, opts)
	b.ownsDB = true
	if err := b.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := b.check(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Migrate creates the buffer table and its drain index if missing.
func (b *SQLBuffer) Migrate(ctx context.Context) error {
	var ddl string
	switch b.dialect {
	case DialectPostgres:
		ddl = `CREATE TABLE IF NOT EXISTS ` + b.table + ` (
	id BIGSERIAL PRIMARY KEY,
	kind SMALLINT NOT NULL,
	topic TEXT NOT NULL,
	payload BYTEA NOT NULL,
	qos SMALLINT NOT NULL,
	retain BOOLEAN NOT NULL,
	historical BOOLEAN NOT NULL,
	created_at BIGINT NOT NULL)`
	default:
		ddl = `CREATE TABLE IF NOT EXISTS ` + b.table + ` (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind INTEGER NOT NULL,
	topic TEXT NOT NULL,
	payload BLOB NOT NULL,
	qos INTEGER NOT NULL,
	retain INTEGER NOT NULL,
	historical INTEGER NOT NULL,
	created_at INTEGER NOT NULL)`
	}
	idx := "CREATE INDEX IF NOT EXISTS " + b.table + "_drain_idx ON " + b.table + " (created_at, id)"
	for _, stmt := range []string{ddl, idx} {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return &domain.StorageIOError{Op: "migrate", Err: err}
		}
	}
	return nil
}

func (b *SQLBuffer) check(ctx context.Context) error {
	if b.dialect == DialectSQLite {
		var res string
		if err := b.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&res); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrBufferCorrupt, err)
		}
		if res != "ok" {
			return fmt.Errorf("%w: quick_check: %s", domain.ErrBufferCorrupt, res)
		}
	}
	if _, err := b.Metrics(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBufferCorrupt, err)
	}
	return nil
}

// Append inserts msg, evicting the oldest rows first when the insert would
// overflow the capacity. Both happen in one transaction.
func (b *SQLBuffer) Append(ctx context.Context, msg *domain.OutboundMessage) (ports.EntryID, error) {
	if msg == nil {
		return 0, errors.New("buffer append: nil message")
	}
	size := int64(len(msg.Payload))
	if b.cap.MaxBytes > 0 && size > b.cap.MaxBytes {
		b.dropped.Add(1)
		return 0, fmt.Errorf("message of %d bytes exceeds limit of %d: %w",
			size, b.cap.MaxBytes, domain.ErrBufferCapacityExceeded)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, domain.ErrBufferClosed
	}

	// Appends must complete even while the gateway is shutting down.
	ctx = context.WithoutCancel(ctx)
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &domain.StorageIOError{Op: "append", Err: err}
	}
	defer tx.Rollback()

	evicted, err := b.evictLocked(ctx, tx, size)
	if err != nil {
		return 0, &domain.StorageIOError{Op: "append", Err: err}
	}

	payload := msg.Payload
	if payload == nil {
		payload = []byte{}
	}
	d := b.dialect
	query := fmt.Sprintf("INSERT INTO %s (kind, topic, payload, qos, retain, historical, created_at) VALUES (%s,%s,%s,%s,%s,%s,%s) RETURNING id",
		b.table, d.bind(1), d.bind(2), d.bind(3), d.bind(4), d.bind(5), d.bind(6), d.bind(7))
	var id int64
	err = tx.QueryRowContext(ctx, query,
		int64(msg.Kind), msg.Topic, payload, int64(msg.QoS), msg.Retain, msg.Historical, createdAt.UnixNano(),
	).Scan(&id)
	if err != nil {
		return 0, &domain.StorageIOError{Op: "append", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &domain.StorageIOError{Op: "append", Err: err}
	}
	b.dropped.Add(uint64(evicted))
	return ports.EntryID(id), nil
}

func (b *SQLBuffer) evictLocked(ctx context.Context, tx *sql.Tx, incoming int64) (int, error) {
	if b.cap.MaxBytes <= 0 && b.cap.MaxMessages <= 0 {
		return 0, nil
	}
	var (
		count int64
		bytes int64
	)
	row := tx.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM "+b.table)
	if err := row.Scan(&count, &bytes); err != nil {
		return 0, err
	}
	count++
	bytes += incoming
	if b.fits(count, bytes) {
		return 0, nil
	}

	rows, err := tx.QueryContext(ctx, "SELECT id, LENGTH(payload) FROM "+b.table+" ORDER BY created_at, id")
	if err != nil {
		return 0, err
	}
	var victims []int64
	for rows.Next() && !b.fits(count, bytes) {
		var id, n int64
		if err := rows.Scan(&id, &n); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, id)
		count--
		bytes -= n
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	del := "DELETE FROM " + b.table + " WHERE id = " + b.dialect.bind(1)
	for _, id := range victims {
		if _, err := tx.ExecContext(ctx, del, id); err != nil {
			return 0, err
		}
	}
	return len(victims), nil
}

func (b *SQLBuffer) fits(count, bytes int64) bool {
	if b.cap.MaxMessages > 0 && count > int64(b.cap.MaxMessages) {
		return false
	}
	if b.cap.MaxBytes > 0 && bytes > b.cap.MaxBytes {
		return false
	}
	return true
}

func (b *SQLBuffer) DrainOrdered(ctx context.Context) iter.Seq2[ports.Entry, error] {
	return buffer.Drain(ctx, b.pageSize, b.page)
}

func (b *SQLBuffer) page(ctx context.Context, cur buffer.Cursor, limit int) ([]ports.Entry, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, domain.ErrBufferClosed
	}

	d := b.dialect
	var (
		query string
		args  []any
	)
	if !cur.Valid {
		query = fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at, id LIMIT %s", columns, b.table, d.bind(1))
		args = []any{limit}
	} else {
		ts := cur.CreatedAt.UnixNano()
		query = fmt.Sprintf("SELECT %s FROM %s WHERE created_at > %s OR (created_at = %s AND id > %s) ORDER BY created_at, id LIMIT %s",
			columns, b.table, d.bind(1), d.bind(2), d.bind(3), d.bind(4))
		args = []any{ts, ts, int64(cur.ID), limit}
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageIOError{Op: "drain", Err: err}
	}
	defer rows.Close()

	out := make([]ports.Entry, 0, limit)
	for rows.Next() {
		var (
			id, kind, qos, created int64
			topic                  string
			payload                []byte
			retain, historical     bool
		)
		if err := rows.Scan(&id, &kind, &topic, &payload, &qos, &retain, &historical, &created); err != nil {
			return nil, &domain.StorageIOError{Op: "drain", Err: err}
		}
		out = append(out, ports.Entry{
			ID: ports.EntryID(id),
			Message: domain.OutboundMessage{
				Kind:       domain.MessageKind(kind),
				Topic:      topic,
				Payload:    payload,
				QoS:        byte(qos),
				Retain:     retain,
				Historical: historical,
				CreatedAt:  time.Unix(0, created),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageIOError{Op: "drain", Err: err}
	}
	return out, nil
}

func (b *SQLBuffer) Ack(ctx context.Context, id ports.EntryID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return domain.ErrBufferClosed
	}
	del := "DELETE FROM " + b.table + " WHERE id = " + b.dialect.bind(1)
	if _, err := b.db.ExecContext(context.WithoutCancel(ctx), del, int64(id)); err != nil {
		return &domain.StorageIOError{Op: "ack", Err: err}
	}
	return nil
}

func (b *SQLBuffer) Metrics(ctx context.Context) (ports.BufferMetrics, error) {
	var (
		count, size int64
		oldest      sql.NullInt64
	)
	row := b.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0), MIN(created_at) FROM "+b.table)
	if err := row.Scan(&count, &size, &oldest); err != nil {
		return ports.BufferMetrics{}, &domain.StorageIOError{Op: "metrics", Err: err}
	}
	m := ports.BufferMetrics{
		SizeBytes:    size,
		MessageCount: count,
		DroppedCount: b.dropped.Load(),
	}
	if oldest.Valid {
		m.OldestTimestamp = time.Unix(0, oldest.Int64)
	}
	return m, nil
}

// Close waits for in-flight writes, then releases the handle if Open created it.
func (b *SQLBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}

var _ ports.Buffer = (*SQLBuffer)(nil)
