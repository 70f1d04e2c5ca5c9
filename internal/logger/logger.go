// Package logger implements a non-blocking, batched call log.
//
// Every finished Call or stream produces one CallLog. Entries are written to
// an internal buffered channel and flushed in batches to a Sink by a
// background goroutine, so logging never blocks the caller. If the channel
// fills up (> 10 000 entries), new entries are dropped and counted in
// DroppedLogs.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/anthropic-go/pkg/client"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// CallLog is one row of the call log.
type CallLog struct {
	ID           uuid.UUID
	RequestID    string
	Mode         string
	Model        string
	Status       string
	StopReason   string
	InputTokens  uint32
	OutputTokens uint32
	LatencyMs    uint32
	Cached       bool
	CreatedAt    time.Time
}

// FromRecord converts a client.CallRecord.
func FromRecord(r client.CallRecord) CallLog {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		id = uuid.New()
	}
	return CallLog{
		ID:           id,
		RequestID:    r.RequestID,
		Mode:         r.Mode,
		Model:        r.Model,
		Status:       r.Status,
		StopReason:   string(r.StopReason),
		InputTokens:  clampUint32(int64(r.InputTokens)),
		OutputTokens: clampUint32(int64(r.OutputTokens)),
		LatencyMs:    clampUint32(r.Latency.Milliseconds()),
		Cached:       r.Cached,
		CreatedAt:    r.StartedAt,
	}
}

// Sink persists batches of call logs.
type Sink interface {
	Write(ctx context.Context, batch []CallLog) error
}

// Option configures a Logger.
type Option func(*Logger)

// WithDropHook registers fn to be called for every dropped entry, e.g. a
// metrics counter.
func WithDropHook(fn func()) Option {
	return func(l *Logger) { l.onDrop = fn }
}

type Logger struct {
	ch        chan CallLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs atomic.Int64
	onDrop      func()

	sink    Sink
	baseCtx context.Context
	log     *slog.Logger
}

// New starts the flush goroutine. A nil sink writes entries through slogger.
func New(ctx context.Context, sink Sink, slogger *slog.Logger, opts ...Option) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.Default()
	}
	if sink == nil {
		sink = NewSlogSink(slogger)
	}

	l := &Logger{
		ch:      make(chan CallLog, channelBuffer),
		done:    make(chan struct{}),
		sink:    sink,
		baseCtx: ctx,
		log:     slogger,
	}
	for _, o := range opts {
		o(l)
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Log enqueues entry without blocking.
func (l *Logger) Log(entry CallLog) {
	select {
	case l.ch <- entry:
	default:
		l.droppedLogs.Add(1)
		if l.onDrop != nil {
			l.onDrop()
		}
	}
}

// Hook returns a function suitable for client.WithCallHook.
func (l *Logger) Hook() func(client.CallRecord) {
	return func(r client.CallRecord) { l.Log(FromRecord(r)) }
}

func (l *Logger) DroppedLogs() int64 {
	return l.droppedLogs.Load()
}

// Close flushes pending entries and stops the goroutine. Entries logged
// after Close are dropped.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]CallLog, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := l.sink.Write(l.baseCtx, batch); err != nil {
			l.log.Error("call_log_flush_failed",
				slog.Int("entries", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func clampUint32(v int64) uint32 {
	switch {
	case v < 0:
		return 0
	case v > int64(^uint32(0)):
		return ^uint32(0)
	}
	return uint32(v)
}
