package messages

import (
	"encoding/json"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

// Stream event names as sent in the SSE "event:" field.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// StreamEvent is one decoded frame of a streaming response. The set of
// implementations is closed.
type StreamEvent interface {
	// EventName returns the SSE event name the value was decoded from.
	EventName() string

	isStreamEvent()
}

// MessageStartEvent opens the message. Message carries the metadata (id,
// model, role, initial usage); its content is normally empty.
type MessageStartEvent struct {
	Message Response
}

// ContentBlockStartEvent opens the block at Index. Block is the initial,
// usually empty, content.
type ContentBlockStartEvent struct {
	Index int
	Block ContentBlock
}

// ContentBlockDeltaEvent appends Delta to the block at Index.
type ContentBlockDeltaEvent struct {
	Index int
	Delta Delta
}

// ContentBlockStopEvent closes the block at Index.
type ContentBlockStopEvent struct {
	Index int
}

// MessageDeltaEvent updates top-level message fields.
type MessageDeltaEvent struct {
	StopReason   StopReason
	StopSequence string
	Usage        DeltaUsage
}

// DeltaUsage holds the counters reported by message_delta. Zero means
// "not reported".
type DeltaUsage struct {
	InputTokens              int `json:"input_tokens,omitempty"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

type MessageStopEvent struct{}

type PingEvent struct{}

// ErrorEvent is an error reported inside the stream, as opposed to a
// transport failure.
type ErrorEvent struct {
	Kind    apierr.Kind
	Type    string
	Message string
}

// Err converts the event into an *apierr.Error.
func (e ErrorEvent) Err() *apierr.Error {
	return &apierr.Error{Kind: e.Kind, Type: e.Type, Message: e.Message}
}

// UnhandledEvent is a frame whose event name is not part of the protocol
// known to this package. Data is the raw payload.
type UnhandledEvent struct {
	Name string
	Data []byte
}

func (MessageStartEvent) EventName() string      { return EventMessageStart }
func (ContentBlockStartEvent) EventName() string { return EventContentBlockStart }
func (ContentBlockDeltaEvent) EventName() string { return EventContentBlockDelta }
func (ContentBlockStopEvent) EventName() string  { return EventContentBlockStop }
func (MessageDeltaEvent) EventName() string      { return EventMessageDelta }
func (MessageStopEvent) EventName() string       { return EventMessageStop }
func (PingEvent) EventName() string              { return EventPing }
func (ErrorEvent) EventName() string             { return EventError }
func (e UnhandledEvent) EventName() string       { return e.Name }

func (MessageStartEvent) isStreamEvent()      {}
func (ContentBlockStartEvent) isStreamEvent() {}
func (ContentBlockDeltaEvent) isStreamEvent() {}
func (ContentBlockStopEvent) isStreamEvent()  {}
func (MessageDeltaEvent) isStreamEvent()      {}
func (MessageStopEvent) isStreamEvent()       {}
func (PingEvent) isStreamEvent()              {}
func (ErrorEvent) isStreamEvent()             {}
func (UnhandledEvent) isStreamEvent()         {}

// Delta type strings.
const (
	DeltaText      = "text_delta"
	DeltaInputJSON = "input_json_delta"
	DeltaThinking  = "thinking_delta"
	DeltaSignature = "signature_delta"
)

// Delta is the partial content of a content_block_delta event.
type Delta interface {
	DeltaType() string

	isDelta()
}

// TextDelta extends a text block.
type TextDelta struct {
	Text string
}

// InputJSONDelta is a fragment of a tool_use input document. Fragments are
// only meaningful once concatenated.
type InputJSONDelta struct {
	PartialJSON string
}

// ThinkingDelta extends a thinking block.
type ThinkingDelta struct {
	Thinking string
}

// SignatureDelta carries the signature of a thinking block.
type SignatureDelta struct {
	Signature string
}

// UnknownDelta is a delta type this package does not model. The accumulator
// ignores it.
type UnknownDelta struct {
	Type string
	Raw  json.RawMessage
}

func (TextDelta) DeltaType() string      { return DeltaText }
func (InputJSONDelta) DeltaType() string { return DeltaInputJSON }
func (ThinkingDelta) DeltaType() string  { return DeltaThinking }
func (SignatureDelta) DeltaType() string { return DeltaSignature }
func (d UnknownDelta) DeltaType() string { return d.Type }

func (TextDelta) isDelta()      {}
func (InputJSONDelta) isDelta() {}
func (ThinkingDelta) isDelta()  {}
func (SignatureDelta) isDelta() {}
func (UnknownDelta) isDelta()   {}

// ── Wire encoding ────────────────────────────────────────────────────────────
//
// Encoding is the inverse of ParseEvent and is used to produce streams (for
// example by test servers).

func (d TextDelta) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{DeltaText, d.Text})
}

func (d InputJSONDelta) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type        string `json:"type"`
		PartialJSON string `json:"partial_json"`
	}{DeltaInputJSON, d.PartialJSON})
}

func (d ThinkingDelta) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Thinking string `json:"thinking"`
	}{DeltaThinking, d.Thinking})
}

func (d SignatureDelta) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		Signature string `json:"signature"`
	}{DeltaSignature, d.Signature})
}

func (d UnknownDelta) MarshalJSON() ([]byte, error) {
	if len(d.Raw) > 0 {
		return d.Raw, nil
	}
	return json.Marshal(struct {
		Type string `json:"type"`
	}{d.Type})
}

func (e MessageStartEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type    string   `json:"type"`
		Message Response `json:"message"`
	}{EventMessageStart, e.Message})
}

func (e ContentBlockStartEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string       `json:"type"`
		Index        int          `json:"index"`
		ContentBlock ContentBlock `json:"content_block"`
	}{EventContentBlockStart, e.Index, e.Block})
}

func (e ContentBlockDeltaEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Index int    `json:"index"`
		Delta Delta  `json:"delta"`
	}{EventContentBlockDelta, e.Index, e.Delta})
}

func (e ContentBlockStopEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Index int    `json:"index"`
	}{EventContentBlockStop, e.Index})
}

func (e MessageDeltaEvent) MarshalJSON() ([]byte, error) {
	type delta struct {
		StopReason   *string `json:"stop_reason"`
		StopSequence *string `json:"stop_sequence"`
	}
	var d delta
	if e.StopReason != "" {
		s := string(e.StopReason)
		d.StopReason = &s
	}
	if e.StopSequence != "" {
		s := e.StopSequence
		d.StopSequence = &s
	}
	return json.Marshal(struct {
		Type  string     `json:"type"`
		Delta delta      `json:"delta"`
		Usage DeltaUsage `json:"usage"`
	}{EventMessageDelta, d, e.Usage})
}

func (MessageStopEvent) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"message_stop"}`), nil
}

func (PingEvent) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"ping"}`), nil
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	typ := e.Type
	if typ == "" {
		typ = apierr.TypeForKind(e.Kind)
	}
	return json.Marshal(struct {
		Type  string         `json:"type"`
		Error apierr.Payload `json:"error"`
	}{EventError, apierr.Payload{Type: typ, Message: e.Message}})
}

func (e UnhandledEvent) MarshalJSON() ([]byte, error) {
	if len(e.Data) == 0 {
		return []byte("{}"), nil
	}
	return e.Data, nil
}

// EncodeEvent returns the SSE event name and JSON payload for ev.
func EncodeEvent(ev StreamEvent) (string, []byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, err
	}
	return ev.EventName(), data, nil
}
