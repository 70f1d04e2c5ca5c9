package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

// Call modes used in CallRecord.Mode and metric labels.
const (
	ModeCall   = "call"
	ModeStream = "stream"
)

// StatusOK and StatusCanceled are the non-error values of CallRecord.Status.
// Failed calls carry the apierr.Kind label instead.
const (
	StatusOK       = "ok"
	StatusCanceled = "canceled"
)

// CallRecord summarises one finished Call or stream.
type CallRecord struct {
	ID           string
	RequestID    string // upstream request-id header, when present
	Mode         string
	Model        string
	Status       string
	StopReason   messages.StopReason
	InputTokens  int
	OutputTokens int
	Cached       bool
	StartedAt    time.Time
	Latency      time.Duration
	Err          error
}

func newRecord(mode string, req messages.Request) *CallRecord {
	return &CallRecord{
		ID:        uuid.NewString(),
		Mode:      mode,
		Model:     req.Model(),
		StartedAt: time.Now(),
	}
}

// usage copies response metadata into the record.
func (r *CallRecord) usage(resp messages.Response) {
	if resp.Model != "" {
		r.Model = resp.Model
	}
	r.StopReason = resp.StopReason
	r.InputTokens = resp.Usage.InputTokens
	r.OutputTokens = resp.Usage.OutputTokens
}

// finish stamps the outcome, emits metrics and logs, and hands the record to
// the call hook.
func (c *Client) finish(ctx context.Context, rec *CallRecord, err error) {
	rec.Latency = time.Since(rec.StartedAt)
	switch {
	case err == nil:
		rec.Status = StatusOK
	case errors.Is(err, ErrStreamClosed), errors.Is(err, context.Canceled):
		rec.Status = StatusCanceled
		rec.Err = err
	default:
		rec.Status = apierr.KindOf(err).String()
		rec.Err = err
	}

	c.obs.ObserveCall(rec.Mode, rec.Status, rec.Latency)
	c.obs.AddTokens(rec.Mode, rec.InputTokens, rec.OutputTokens, rec.Cached)

	attrs := []any{
		slog.String("call_id", rec.ID),
		slog.String("mode", rec.Mode),
		slog.String("model", rec.Model),
		slog.String("status", rec.Status),
		slog.Int64("latency_ms", rec.Latency.Milliseconds()),
		slog.Int("input_tokens", rec.InputTokens),
		slog.Int("output_tokens", rec.OutputTokens),
		slog.Bool("cached", rec.Cached),
	}
	if rec.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", rec.RequestID))
	}
	if rec.Err != nil && rec.Status != StatusCanceled {
		c.log.WarnContext(ctx, "call_failed", append(attrs, slog.String("error", rec.Err.Error()))...)
	} else {
		c.log.DebugContext(ctx, "call_completed", attrs...)
	}

	if c.hook != nil {
		c.hook(*rec)
	}
}
