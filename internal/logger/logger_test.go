package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/nulpointcorp/anthropic-go/pkg/client"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]CallLog
}

func (s *memorySink) Write(_ context.Context, batch []CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]CallLog(nil), batch...))
	return nil
}

func (s *memorySink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestLogger_FlushesOnClose(t *testing.T) {
	sink := &memorySink{}
	l, err := New(context.Background(), sink, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 250; i++ {
		l.Log(CallLog{ID: uuid.New(), Model: "m"})
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := sink.total(); got != 250 {
		t.Fatalf("flushed %d entries, want 250", got)
	}
	for _, b := range sink.batches {
		if len(b) > batchSize {
			t.Fatalf("batch of %d exceeds %d", len(b), batchSize)
		}
	}
	if l.DroppedLogs() != 0 {
		t.Fatalf("dropped = %d", l.DroppedLogs())
	}
}

func TestLogger_DropsWhenFull(t *testing.T) {
	drops := 0
	l := &Logger{ch: make(chan CallLog, 1), onDrop: func() { drops++ }}

	l.Log(CallLog{})
	l.Log(CallLog{})
	l.Log(CallLog{})

	if l.DroppedLogs() != 2 || drops != 2 {
		t.Fatalf("dropped = %d, hook = %d, want 2", l.DroppedLogs(), drops)
	}
}

func TestLogger_NilContext(t *testing.T) {
	var ctx context.Context
	if _, err := New(ctx, nil, nil); err == nil {
		t.Fatal("expected error for nil context")
	}
}

func TestFromRecord(t *testing.T) {
	id := uuid.New()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	got := FromRecord(client.CallRecord{
		ID:           id.String(),
		RequestID:    "req_1",
		Mode:         client.ModeStream,
		Model:        "claude-sonnet-4-5",
		Status:       client.StatusOK,
		StopReason:   messages.StopMaxTokens,
		InputTokens:  10,
		OutputTokens: -1,
		StartedAt:    start,
		Latency:      1500 * time.Millisecond,
		Cached:       true,
	})

	want := CallLog{
		ID:           id,
		RequestID:    "req_1",
		Mode:         "stream",
		Model:        "claude-sonnet-4-5",
		Status:       "ok",
		StopReason:   "max_tokens",
		InputTokens:  10,
		OutputTokens: 0,
		LatencyMs:    1500,
		Cached:       true,
		CreatedAt:    start,
	}
	if got != want {
		t.Fatalf("FromRecord = %+v\nwant %+v", got, want)
	}

	if FromRecord(client.CallRecord{ID: "not-a-uuid"}).ID == uuid.Nil {
		t.Fatal("invalid id must be replaced")
	}
}

func TestSlogSink_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewSlogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := sink.Write(context.Background(), []CallLog{{ID: uuid.New(), Model: "m", Status: "overloaded", LatencyMs: 7}})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("not JSON: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "call" || rec["status"] != "overloaded" || rec["latency_ms"] != float64(7) {
		t.Fatalf("record = %v", rec)
	}
}

// ── ClickHouse ───────────────────────────────────────────────────────────────

// fakeBatch implements the driver.Batch methods the sink uses; the rest
// panic through the nil embedded interface.
type fakeBatch struct {
	driver.Batch
	rows    [][]any
	sent    bool
	aborted bool
	failOn  int
}

func (b *fakeBatch) Append(v ...any) error {
	if b.failOn > 0 && len(b.rows)+1 == b.failOn {
		return errors.New("bad row")
	}
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Send() error {
	b.sent = true
	return nil
}

func (b *fakeBatch) Abort() error {
	b.aborted = true
	return nil
}

type fakeConn struct {
	query string
	batch *fakeBatch
}

func (c *fakeConn) PrepareBatch(_ context.Context, query string, _ ...driver.PrepareBatchOption) (driver.Batch, error) {
	c.query = query
	return c.batch, nil
}

func TestClickHouseSink_Write(t *testing.T) {
	conn := &fakeConn{batch: &fakeBatch{}}
	sink := &ClickHouseSink{conn: conn, table: DefaultTable}

	entries := []CallLog{
		{ID: uuid.New(), Mode: "call", Model: "m", InputTokens: 3},
		{ID: uuid.New(), Mode: "stream", Model: "m", OutputTokens: 9},
	}
	if err := sink.Write(context.Background(), entries); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !strings.HasPrefix(conn.query, "INSERT INTO anthropic_calls") {
		t.Fatalf("query = %q", conn.query)
	}
	if len(conn.batch.rows) != 2 || !conn.batch.sent {
		t.Fatalf("rows = %d, sent = %v", len(conn.batch.rows), conn.batch.sent)
	}
	if row := conn.batch.rows[1]; len(row) != 11 || row[2] != "stream" || row[7] != uint32(9) {
		t.Fatalf("row = %v", row)
	}
}

func TestClickHouseSink_AbortsOnAppendError(t *testing.T) {
	conn := &fakeConn{batch: &fakeBatch{failOn: 2}}
	sink := &ClickHouseSink{conn: conn, table: DefaultTable}

	err := sink.Write(context.Background(), []CallLog{{}, {}, {}})
	if err == nil {
		t.Fatal("expected append error")
	}
	if !conn.batch.aborted || conn.batch.sent {
		t.Fatalf("aborted = %v, sent = %v", conn.batch.aborted, conn.batch.sent)
	}
}
