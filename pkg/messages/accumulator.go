package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

// AccumulatorState is the state of an Accumulator.
//
//	StateEmpty      nothing received yet
//	StateStarted    message_start seen, no block open
//	StateBlockOpen  at least one content block open
//	StateStopped    message_stop seen; the message is complete
//	StateFailed     absorbing error state
type AccumulatorState int

const (
	StateEmpty AccumulatorState = iota
	StateStarted
	StateBlockOpen
	StateStopped
	StateFailed
)

func (s AccumulatorState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateStarted:
		return "started"
	case StateBlockOpen:
		return "block_open"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("AccumulatorState(%d)", int(s))
}

// FinalizePolicy decides what happens when a block cannot be finalized, for
// example when concatenated tool input is not valid JSON.
type FinalizePolicy int

const (
	// AbortOnFinalizeError fails the stream. This is the default.
	AbortOnFinalizeError FinalizePolicy = iota

	// RecoverOnFinalizeError keeps the block with its raw input encoded as a
	// JSON string, records the error and continues.
	RecoverOnFinalizeError
)

// AccumulatorOption configures an Accumulator.
type AccumulatorOption func(*Accumulator)

// WithFinalizePolicy sets the finalize failure policy.
func WithFinalizePolicy(p FinalizePolicy) AccumulatorOption {
	return func(a *Accumulator) { a.policy = p }
}

// WithRecoverableFinalize is shorthand for
// WithFinalizePolicy(RecoverOnFinalizeError).
func WithRecoverableFinalize() AccumulatorOption {
	return WithFinalizePolicy(RecoverOnFinalizeError)
}

// partialBlock is a content block still receiving deltas.
type partialBlock struct {
	initial   ContentBlock
	text      strings.Builder
	input     strings.Builder
	signature strings.Builder
}

type indexedBlock struct {
	index int
	block ContentBlock
}

// Accumulator folds the events of one streaming response into the Response
// a non-streaming call would have returned. It is not safe for concurrent
// use; feed it events in arrival order from a single goroutine.
type Accumulator struct {
	state  AccumulatorState
	policy FinalizePolicy

	resp      Response
	open      map[int]*partialBlock
	done      []indexedBlock
	lastIndex int

	err         error
	finalizeErr []error
}

// NewAccumulator returns an Accumulator in StateEmpty.
func NewAccumulator(opts ...AccumulatorOption) *Accumulator {
	a := &Accumulator{
		open:      make(map[int]*partialBlock),
		lastIndex: -1,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Accumulator) State() AccumulatorState { return a.state }

// Err returns the error that moved the accumulator to StateFailed.
func (a *Accumulator) Err() error { return a.err }

// FinalizeErrors returns the errors tolerated under RecoverOnFinalizeError.
func (a *Accumulator) FinalizeErrors() []error {
	return append([]error(nil), a.finalizeErr...)
}

// Response returns the assembled response once the stream has stopped.
func (a *Accumulator) Response() (Response, bool) {
	if a.state != StateStopped {
		return Response{}, false
	}
	return a.snapshot(), true
}

// Message returns the assembled message once the stream has stopped.
func (a *Accumulator) Message() (Message, bool) {
	r, ok := a.Response()
	if !ok {
		return Message{}, false
	}
	return r.Message(), true
}

// Snapshot returns the response assembled so far, holding only finalized
// blocks. It is valid in every state.
func (a *Accumulator) Snapshot() Response { return a.snapshot() }

func (a *Accumulator) snapshot() Response {
	r := a.resp
	r.Content = make([]ContentBlock, len(a.done))
	for i, ib := range a.done {
		r.Content[i] = ib.block
	}
	return r
}

// Fail moves the accumulator to StateFailed with err, leaving content
// untouched. Used when the stream breaks outside the accumulator, for
// example on a decode error.
func (a *Accumulator) Fail(err error) {
	if a.state == StateFailed {
		return
	}
	a.state = StateFailed
	a.err = err
	a.open = nil
}

// Apply performs one transition. Once failed, every call returns the
// original error.
func (a *Accumulator) Apply(ev StreamEvent) error {
	if a.state == StateFailed {
		return a.err
	}
	if a.state == StateStopped {
		return a.violation("%s received after message_stop", ev.EventName())
	}

	switch e := ev.(type) {
	case MessageStartEvent:
		if a.state != StateEmpty {
			return a.violation("duplicate message_start")
		}
		a.resp = e.Message
		a.resp.Content = nil
		if a.resp.Type == "" {
			a.resp.Type = "message"
		}
		a.state = StateStarted
		return nil

	case PingEvent:
		return nil

	case UnhandledEvent:
		return nil

	case ErrorEvent:
		a.Fail(e.Err())
		return a.err
	}

	if a.state == StateEmpty {
		return a.violation("%s received before message_start", ev.EventName())
	}

	switch e := ev.(type) {
	case ContentBlockStartEvent:
		return a.startBlock(e)
	case ContentBlockDeltaEvent:
		return a.applyDelta(e)
	case ContentBlockStopEvent:
		return a.stopBlock(e)
	case MessageDeltaEvent:
		a.mergeDelta(e)
		return nil
	case MessageStopEvent:
		if len(a.open) > 0 {
			return a.violation("message_stop received with %d open content block(s)", len(a.open))
		}
		a.state = StateStopped
		return nil
	}

	return a.violation("unsupported event %T", ev)
}

func (a *Accumulator) startBlock(e ContentBlockStartEvent) error {
	if e.Block == nil {
		return a.violation("content_block_start %d has no block", e.Index)
	}
	if e.Index <= a.lastIndex {
		return a.violation("content_block_start index %d out of order (last %d)", e.Index, a.lastIndex)
	}
	if a.lastIndex == -1 && e.Index != 0 {
		return a.violation("first content block index must be 0, got %d", e.Index)
	}

	pb := &partialBlock{initial: e.Block}
	switch b := e.Block.(type) {
	case TextBlock:
		pb.text.WriteString(b.Text)
	case ThinkingBlock:
		pb.text.WriteString(b.Thinking)
		pb.signature.WriteString(b.Signature)
	}

	a.open[e.Index] = pb
	a.lastIndex = e.Index
	a.state = StateBlockOpen
	return nil
}

func (a *Accumulator) applyDelta(e ContentBlockDeltaEvent) error {
	pb, ok := a.open[e.Index]
	if !ok {
		return a.violation("content_block_delta for unopened index %d", e.Index)
	}
	if _, ok := pb.initial.(UnknownBlock); ok {
		// Kept as received in content_block_start.
		return nil
	}

	switch d := e.Delta.(type) {
	case TextDelta:
		if _, ok := pb.initial.(TextBlock); !ok {
			return a.violation("text_delta for %s block at index %d", pb.initial.BlockType(), e.Index)
		}
		pb.text.WriteString(d.Text)
	case InputJSONDelta:
		if _, ok := pb.initial.(ToolUseBlock); !ok {
			return a.violation("input_json_delta for %s block at index %d", pb.initial.BlockType(), e.Index)
		}
		pb.input.WriteString(d.PartialJSON)
	case ThinkingDelta:
		if _, ok := pb.initial.(ThinkingBlock); !ok {
			return a.violation("thinking_delta for %s block at index %d", pb.initial.BlockType(), e.Index)
		}
		pb.text.WriteString(d.Thinking)
	case SignatureDelta:
		if _, ok := pb.initial.(ThinkingBlock); !ok {
			return a.violation("signature_delta for %s block at index %d", pb.initial.BlockType(), e.Index)
		}
		pb.signature.WriteString(d.Signature)
	case UnknownDelta:
		// Newer delta kinds (e.g. citations) carry nothing we assemble.
	default:
		return a.violation("content_block_delta %d has no delta", e.Index)
	}
	return nil
}

func (a *Accumulator) stopBlock(e ContentBlockStopEvent) error {
	pb, ok := a.open[e.Index]
	if !ok {
		return a.violation("content_block_stop for unopened index %d", e.Index)
	}
	delete(a.open, e.Index)
	if len(a.open) == 0 {
		a.state = StateStarted
	}

	block, err := pb.finalize()
	if err != nil {
		if a.policy != RecoverOnFinalizeError {
			a.Fail(apierr.Decode([]byte(pb.input.String()), err, "finalize content block %d", e.Index))
			return a.err
		}
		a.finalizeErr = append(a.finalizeErr, fmt.Errorf("content block %d: %w", e.Index, err))
	}

	a.insert(indexedBlock{index: e.Index, block: block})
	return nil
}

// insert keeps done sorted by index. Blocks normally close in order, so this
// is an append in the common case.
func (a *Accumulator) insert(ib indexedBlock) {
	i := sort.Search(len(a.done), func(i int) bool { return a.done[i].index > ib.index })
	a.done = append(a.done, indexedBlock{})
	copy(a.done[i+1:], a.done[i:])
	a.done[i] = ib
}

func (a *Accumulator) mergeDelta(e MessageDeltaEvent) {
	if e.StopReason != "" {
		a.resp.StopReason = e.StopReason
	}
	if e.StopSequence != "" {
		a.resp.StopSequence = e.StopSequence
	}
	u := e.Usage
	if u.OutputTokens > 0 {
		a.resp.Usage.OutputTokens = u.OutputTokens
	}
	if u.InputTokens > 0 {
		a.resp.Usage.InputTokens = u.InputTokens
	}
	if u.CacheCreationInputTokens > 0 {
		a.resp.Usage.CacheCreationInputTokens = u.CacheCreationInputTokens
	}
	if u.CacheReadInputTokens > 0 {
		a.resp.Usage.CacheReadInputTokens = u.CacheReadInputTokens
	}
}

func (a *Accumulator) violation(format string, args ...any) error {
	a.Fail(apierr.New(apierr.KindSequencingViolation, format, args...))
	return a.err
}

// finalize turns the accumulated fragments into the completed block. On a
// tool input parse failure the returned block holds the raw input as a JSON
// string alongside the error.
func (pb *partialBlock) finalize() (ContentBlock, error) {
	switch b := pb.initial.(type) {
	case TextBlock:
		return TextBlock{Text: pb.text.String()}, nil

	case ThinkingBlock:
		return ThinkingBlock{Thinking: pb.text.String(), Signature: pb.signature.String()}, nil

	case ToolUseBlock:
		raw := strings.TrimSpace(pb.input.String())
		if raw == "" {
			return ToolUseBlock{ID: b.ID, Name: b.Name, Input: normalizeInput(b.Input)}, nil
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, []byte(raw)); err != nil || !isJSONObject(buf.Bytes()) {
			if err == nil {
				err = fmt.Errorf("tool input is not a JSON object")
			}
			quoted, _ := json.Marshal(raw)
			return ToolUseBlock{ID: b.ID, Name: b.Name, Input: quoted}, err
		}
		return ToolUseBlock{ID: b.ID, Name: b.Name, Input: json.RawMessage(buf.Bytes())}, nil
	}

	// Blocks such as redacted_thinking arrive complete in content_block_start.
	return pb.initial, nil
}
