package sqlbuffer

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ghalamif/AegisSpark/internal/adapters/buffer"
	"github.com/ghalamif/AegisSpark/internal/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func sampleMessage(ts time.Time) *domain.OutboundMessage {
	return &domain.OutboundMessage{
		Topic:     "spBv1.0/plant/NDATA/edge-1",
		Payload:   []byte{0xa1, 0x01},
		QoS:       1,
		CreatedAt: ts,
	}
}

func TestAppendInsertsAndReturnsID(t *testing.T) {
	db, mock := newMock(t)
	b := New(db, DialectPostgres, Options{})
	ts := time.Unix(1700000000, 5)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO outbound_buffer (kind, topic, payload, qos, retain, historical, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id")).
		WithArgs(int64(0), "spBv1.0/plant/NDATA/edge-1", []byte{0xa1, 0x01}, int64(1), false, false, ts.UnixNano()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	id, err := b.Append(context.Background(), sampleMessage(ts))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != 42 {
		t.Fatalf("expected id 42, got %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendEvictsOldestWhenFull(t *testing.T) {
	db, mock := newMock(t)
	b := New(db, DialectSQLite, Options{Capacity: buffer.Capacity{MaxMessages: 2}})
	ts := time.Unix(1700000000, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM outbound_buffer")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(int64(2), int64(4)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, LENGTH(payload) FROM outbound_buffer ORDER BY created_at, id")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "len"}).AddRow(int64(3), int64(2)).AddRow(int64(4), int64(2)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbound_buffer WHERE id = ?")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO outbound_buffer")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0), MIN(created_at) FROM outbound_buffer")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum", "min"}).AddRow(int64(2), int64(4), ts.UnixNano()))

	if _, err := b.Append(context.Background(), sampleMessage(ts)); err != nil {
		t.Fatalf("append: %v", err)
	}
	m, err := b.Metrics(context.Background())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.DroppedCount != 1 || m.MessageCount != 2 || !m.OldestTimestamp.Equal(ts) {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendRejectsOversizedMessage(t *testing.T) {
	db, mock := newMock(t)
	b := New(db, DialectSQLite, Options{Capacity: buffer.Capacity{MaxBytes: 1}})

	_, err := b.Append(context.Background(), sampleMessage(time.Now()))
	if !errors.Is(err, domain.ErrBufferCapacityExceeded) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if b.dropped.Load() != 1 {
		t.Fatalf("oversized message must count as dropped")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no statements expected: %v", err)
	}
}

func TestAppendFailureIsStorageError(t *testing.T) {
	db, mock := newMock(t)
	b := New(db, DialectSQLite, Options{})

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO outbound_buffer")).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := b.Append(context.Background(), sampleMessage(time.Now()))
	if !domain.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDrainUsesKeysetPagination(t *testing.T) {
	db, mock := newMock(t)
	b := New(db, DialectPostgres, Options{PageSize: 2})
	t0 := time.Unix(1700000000, 0)
	cols := []string{"id", "kind", "topic", "payload", "qos", "retain", "historical", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+columns+" FROM outbound_buffer ORDER BY created_at, id LIMIT $1")).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), int64(0), "t", []byte("a"), int64(1), false, false, t0.UnixNano()).
			AddRow(int64(2), int64(0), "t", []byte("b"), int64(1), false, true, t0.UnixNano()))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE created_at > $1 OR (created_at = $2 AND id > $3) ORDER BY created_at, id LIMIT $4")).
		WithArgs(t0.UnixNano(), t0.UnixNano(), int64(2), 2).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(7), int64(0), "t", []byte("c"), int64(0), true, false, t0.Add(time.Second).UnixNano()))

	var got []string
	for e, err := range b.DrainOrdered(context.Background()) {
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
		got = append(got, string(e.Message.Payload))
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected drain %v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAckDeletesByID(t *testing.T) {
	db, mock := newMock(t)
	b := New(db, DialectPostgres, Options{})

	for i := 0; i < 2; i++ {
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbound_buffer WHERE id = $1")).
			WithArgs(int64(9)).
			WillReturnResult(sqlmock.NewResult(0, int64(1-i)))
	}
	for i := 0; i < 2; i++ {
		if err := b.Ack(context.Background(), 9); err != nil {
			t.Fatalf("ack #%d: %v", i+1, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMetricsOnEmptyTable(t *testing.T) {
	db, mock := newMock(t)
	b := New(db, DialectSQLite, Options{Table: "backlog"})

	mock.ExpectQuery(regexp.QuoteMeta("FROM backlog")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum", "min"}).AddRow(int64(0), int64(0), nil))

	m, err := b.Metrics(context.Background())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if m.MessageCount != 0 || m.SizeBytes != 0 || !m.OldestTimestamp.IsZero() {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestMigrateCreatesTableAndIndex(t *testing.T) {
	db, mock := newMock(t)
	b := New(db, DialectPostgres, Options{})

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS outbound_buffer")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS outbound_buffer_drain_idx ON outbound_buffer (created_at, id)")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := b.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClosedBufferRejectsWrites(t *testing.T) {
	db, _ := newMock(t)
	b := New(db, DialectSQLite, Options{})
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := b.Append(context.Background(), sampleMessage(time.Now())); !errors.Is(err, domain.ErrBufferClosed) {
		t.Fatalf("expected ErrBufferClosed, got %v", err)
	}
	if err := b.Ack(context.Background(), 1); !errors.Is(err, domain.ErrBufferClosed) {
		t.Fatalf("expected ErrBufferClosed, got %v", err)
	}
}

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{"sqlite": DialectSQLite, "SQLite3": DialectSQLite, "timescaledb": DialectPostgres, "postgres": DialectPostgres}
	for in, want := range cases {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Fatalf("ParseDialect(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatalf("expected error for mysql")
	}
}
