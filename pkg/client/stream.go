package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

// ErrStreamClosed is returned by Next after Close.
var ErrStreamClosed = apierr.New(apierr.KindTransport, "stream closed")

// ErrIncomplete is returned when a MessageStream is asked for its Message
// before message_stop was processed, for example after Close or a failure.
var ErrIncomplete = errors.New("client: stream incomplete")

// Stream sends req with streaming enabled and returns the event sequence.
// Nothing is decoded until Next is called. The caller must call Close, which
// is safe at any point and releases the connection.
//
// Retries happen only while opening the stream; once events flow, every
// failure is terminal.
func (c *Client) Stream(ctx context.Context, req messages.Request) (*EventStream, error) {
	rec := newRecord(ModeStream, req)
	s, err := c.openStream(ctx, req, rec)
	if err != nil {
		c.finish(ctx, rec, err)
		return nil, err
	}
	return s, nil
}

// StreamMessage is Stream plus an Accumulator: Next yields the same events,
// and once the stream has stopped Message and Response return the
// assembled result.
func (c *Client) StreamMessage(ctx context.Context, req messages.Request) (*MessageStream, error) {
	s, err := c.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &MessageStream{events: s, acc: messages.NewAccumulator(c.accOpts...)}, nil
}

func (c *Client) openStream(ctx context.Context, req messages.Request, rec *CallRecord) (*EventStream, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req.WithStream(true))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidRequest, err, "encode request")
	}
	if err := c.admit(ctx); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancelCause(ctx)

	// The timeout covers opening the stream only; a long generation must not
	// be cut off once events are flowing.
	var timer *time.Timer
	if d := c.cfg.timeout(); d > 0 {
		timer = time.AfterFunc(d, func() {
			cancel(fmt.Errorf("no response within %s: %w", d, context.DeadlineExceeded))
		})
	}

	httpResp, err := c.sender.Send(sctx, body, true)
	if timer != nil {
		timer.Stop()
	}
	if err != nil {
		if cause := context.Cause(sctx); cause != nil && ctx.Err() == nil {
			err = apierr.Wrap(apierr.KindTransport, cause, "open stream")
		}
		cancel(nil)
		return nil, err
	}

	dec := ssestream.NewDecoder(httpResp)
	if dec == nil {
		cancel(nil)
		return nil, apierr.New(apierr.KindTransport, "open stream: response has no body")
	}
	rec.RequestID = httpResp.Header.Get("request-id")

	c.log.DebugContext(ctx, "stream_opened",
		"call_id", rec.ID,
		"model", rec.Model,
		"request_id", rec.RequestID,
	)

	return &EventStream{
		ctx:    ctx,
		client: c,
		rec:    rec,
		dec:    dec,
		cancel: cancel,
	}, nil
}

// ── EventStream ──────────────────────────────────────────────────────────────

// EventStream is a lazy, single-pass sequence of stream events. Next must be
// called from one goroutine; Close may be called from any goroutine.
type EventStream struct {
	ctx    context.Context
	client *Client
	rec    *CallRecord
	dec    ssestream.Decoder
	cancel context.CancelCauseFunc

	pending error // error to surface after an error event

	stopped     atomic.Bool // message_stop seen
	closed      atomic.Bool
	releaseOnce sync.Once

	mu  sync.Mutex // guards err and rec
	err error      // terminal result; io.EOF on success
}

// Next returns the next event. It returns io.EOF after message_stop. Any
// other error is terminal and carries an apierr.Kind: a malformed frame is
// KindStreamDecode with the raw payload, an in-stream error event is
// returned as an ErrorEvent followed by its error, and a body that ends
// before message_stop is KindTransport wrapping io.ErrUnexpectedEOF.
func (s *EventStream) Next() (messages.StreamEvent, error) {
	if err := s.terminal(); err != nil {
		return nil, err
	}
	switch {
	case s.stopped.Load():
		return nil, s.end(io.EOF)
	case s.closed.Load():
		return nil, s.end(ErrStreamClosed)
	case s.pending != nil:
		return nil, s.end(s.pending)
	}

	for {
		if !s.dec.Next() {
			return nil, s.end(s.readError())
		}

		frame := s.dec.Event()
		data := bytes.TrimSuffix(frame.Data, []byte("\n"))
		name := frame.Type
		if name == "" {
			if len(data) == 0 {
				// Comment-only or empty frame.
				continue
			}
			name = gjson.GetBytes(data, "type").String()
		}

		ev, err := messages.ParseEvent(name, data)
		if err != nil {
			return nil, s.end(err)
		}
		s.observe(ev)
		return ev, nil
	}
}

func (s *EventStream) readError() error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if err := s.dec.Err(); err != nil {
		if cause := context.Cause(s.ctx); cause != nil {
			return apierr.Wrap(apierr.KindTransport, cause, "read stream")
		}
		return apierr.Wrap(apierr.KindTransport, err, "read stream")
	}
	if s.stopped.Load() {
		return io.EOF
	}
	return apierr.Wrap(apierr.KindTransport, io.ErrUnexpectedEOF, "stream ended before message_stop")
}

func (s *EventStream) observe(ev messages.StreamEvent) {
	s.client.obs.RecordStreamEvent(ev.EventName())

	switch e := ev.(type) {
	case messages.MessageStartEvent:
		s.mu.Lock()
		s.rec.usage(e.Message)
		s.mu.Unlock()
	case messages.MessageDeltaEvent:
		s.mu.Lock()
		if e.StopReason != "" {
			s.rec.StopReason = e.StopReason
		}
		if e.Usage.OutputTokens > 0 {
			s.rec.OutputTokens = e.Usage.OutputTokens
		}
		if e.Usage.InputTokens > 0 {
			s.rec.InputTokens = e.Usage.InputTokens
		}
		s.mu.Unlock()
	case messages.MessageStopEvent:
		s.stopped.Store(true)
	case messages.ErrorEvent:
		s.pending = e.Err()
	}
}

func (s *EventStream) terminal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// end records the terminal result, releases the connection and reports the
// call. Only the first result counts; end returns it.
func (s *EventStream) end(err error) error {
	s.mu.Lock()
	if s.err != nil {
		err = s.err
		s.mu.Unlock()
		return err
	}
	s.err = err
	// Next may still be updating s.rec while Close runs; report a copy.
	rec := *s.rec
	s.mu.Unlock()

	s.release()

	result := err
	if errors.Is(result, io.EOF) {
		result = nil
	}
	s.client.finish(s.ctx, &rec, result)
	return err
}

func (s *EventStream) release() {
	s.releaseOnce.Do(func() {
		s.cancel(ErrStreamClosed)
		_ = s.dec.Close()
	})
}

// Close releases the underlying connection. It is idempotent and safe to
// call at any point; afterwards Next returns ErrStreamClosed, or io.EOF if
// message_stop had already been received.
func (s *EventStream) Close() error {
	s.closed.Store(true)
	if s.stopped.Load() {
		s.end(io.EOF)
	} else {
		s.end(ErrStreamClosed)
	}
	return nil
}

// Err returns the terminal error: nil while the stream is live or after a
// clean finish.
func (s *EventStream) Err() error {
	if err := s.terminal(); !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ── MessageStream ────────────────────────────────────────────────────────────

// MessageStream yields the events of a stream while folding them into a
// Message. Like EventStream, Next must be called from one goroutine and
// Close from any.
type MessageStream struct {
	events *EventStream
	acc    *messages.Accumulator
}

// Next returns the next event after applying it to the accumulator. A
// sequencing violation or finalize failure ends the stream with that error.
func (m *MessageStream) Next() (messages.StreamEvent, error) {
	ev, err := m.events.Next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			m.acc.Fail(err)
		}
		return nil, err
	}
	if err := m.acc.Apply(ev); err != nil {
		return nil, m.events.end(err)
	}
	return ev, nil
}

// Accumulate drains the stream and returns the assembled response. The
// stream is closed on return.
func (m *MessageStream) Accumulate() (messages.Response, error) {
	defer m.Close()
	for {
		if _, err := m.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return m.Response()
			}
			return messages.Response{}, err
		}
	}
}

// Response returns the assembled response once message_stop was processed.
// Otherwise the error wraps ErrIncomplete and, when known, the failure that
// ended the stream.
func (m *MessageStream) Response() (messages.Response, error) {
	if r, ok := m.acc.Response(); ok {
		return r, nil
	}
	cause := m.acc.Err()
	if cause == nil {
		cause = m.events.Err()
	}
	if cause != nil {
		return messages.Response{}, fmt.Errorf("%w: %w", ErrIncomplete, cause)
	}
	return messages.Response{}, ErrIncomplete
}

// Message returns the assembled message once message_stop was processed.
func (m *MessageStream) Message() (messages.Message, error) {
	r, err := m.Response()
	if err != nil {
		return messages.Message{}, err
	}
	return r.Message(), nil
}

// Snapshot returns the blocks finalized so far.
func (m *MessageStream) Snapshot() messages.Response { return m.acc.Snapshot() }

// State returns the accumulator state.
func (m *MessageStream) State() messages.AccumulatorState { return m.acc.State() }

// FinalizeErrors returns finalize errors tolerated in recoverable mode.
func (m *MessageStream) FinalizeErrors() []error { return m.acc.FinalizeErrors() }

// Close releases the connection. A stream closed before message_stop was
// applied never yields a Message.
func (m *MessageStream) Close() error { return m.events.Close() }
