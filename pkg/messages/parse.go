package messages

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

// ParseEvent decodes one SSE frame into a StreamEvent.
//
// Unknown event names produce an UnhandledEvent rather than an error. A
// payload that is not valid JSON, or that lacks a field required by its event
// name, fails with a KindStreamDecode *apierr.Error carrying the raw payload.
// Unknown extra fields are ignored. ParseEvent keeps no state between calls.
func ParseEvent(name string, data []byte) (StreamEvent, error) {
	switch name {
	case EventMessageStart:
		if err := require(name, data, "message"); err != nil {
			return nil, err
		}
		var p struct {
			Message Response `json:"message"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, apierr.Decode(data, err, "%s: malformed payload", name)
		}
		return MessageStartEvent{Message: p.Message}, nil

	case EventContentBlockStart:
		if err := require(name, data, "index", "content_block"); err != nil {
			return nil, err
		}
		idx, err := index(name, data)
		if err != nil {
			return nil, err
		}
		block, err := UnmarshalContentBlock([]byte(gjson.GetBytes(data, "content_block").Raw))
		if err != nil {
			return nil, apierr.Decode(data, err, "%s: malformed content_block", name)
		}
		return ContentBlockStartEvent{Index: idx, Block: block}, nil

	case EventContentBlockDelta:
		if err := require(name, data, "index", "delta", "delta.type"); err != nil {
			return nil, err
		}
		idx, err := index(name, data)
		if err != nil {
			return nil, err
		}
		delta, err := parseDelta(name, data)
		if err != nil {
			return nil, err
		}
		return ContentBlockDeltaEvent{Index: idx, Delta: delta}, nil

	case EventContentBlockStop:
		if err := require(name, data, "index"); err != nil {
			return nil, err
		}
		idx, err := index(name, data)
		if err != nil {
			return nil, err
		}
		return ContentBlockStopEvent{Index: idx}, nil

	case EventMessageDelta:
		if err := require(name, data, "delta"); err != nil {
			return nil, err
		}
		var p struct {
			Delta struct {
				StopReason   *string `json:"stop_reason"`
				StopSequence *string `json:"stop_sequence"`
			} `json:"delta"`
			Usage DeltaUsage `json:"usage"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, apierr.Decode(data, err, "%s: malformed payload", name)
		}
		ev := MessageDeltaEvent{Usage: p.Usage}
		if p.Delta.StopReason != nil {
			ev.StopReason = StopReason(*p.Delta.StopReason)
		}
		if p.Delta.StopSequence != nil {
			ev.StopSequence = *p.Delta.StopSequence
		}
		return ev, nil

	case EventMessageStop:
		if err := optionalJSON(name, data); err != nil {
			return nil, err
		}
		return MessageStopEvent{}, nil

	case EventPing:
		if err := optionalJSON(name, data); err != nil {
			return nil, err
		}
		return PingEvent{}, nil

	case EventError:
		if err := require(name, data, "error"); err != nil {
			return nil, err
		}
		var p struct {
			Error apierr.Payload `json:"error"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, apierr.Decode(data, err, "%s: malformed payload", name)
		}
		e := apierr.FromPayload(p.Error)
		return ErrorEvent{Kind: e.Kind, Type: e.Type, Message: e.Message}, nil
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	return UnhandledEvent{Name: name, Data: cp}, nil
}

// require checks that data is a JSON object holding every path.
func require(name string, data []byte, paths ...string) error {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return apierr.Decode(data, nil, "%s: payload is not a JSON object", name)
	}
	for _, p := range paths {
		r := gjson.GetBytes(data, p)
		if !r.Exists() || r.Type == gjson.Null {
			return apierr.Decode(data, nil, "%s: missing required field %q", name, p)
		}
	}
	return nil
}

func index(name string, data []byte) (int, error) {
	r := gjson.GetBytes(data, "index")
	if r.Type != gjson.Number || r.Num < 0 || r.Num != float64(int(r.Num)) {
		return 0, apierr.Decode(data, nil, "%s: index must be a non-negative integer, got %s", name, r.Raw)
	}
	return int(r.Num), nil
}

// optionalJSON accepts an empty payload or any JSON object.
func optionalJSON(name string, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return apierr.Decode(data, nil, "%s: payload is not a JSON object", name)
	}
	return nil
}

func parseDelta(name string, data []byte) (Delta, error) {
	d := gjson.GetBytes(data, "delta")
	field := func(key string) (string, error) {
		v := d.Get(key)
		if v.Type != gjson.String {
			return "", apierr.Decode(data, nil, "%s: %s missing string field %q", name, d.Get("type").String(), key)
		}
		return v.String(), nil
	}

	switch typ := d.Get("type").String(); typ {
	case DeltaText:
		s, err := field("text")
		if err != nil {
			return nil, err
		}
		return TextDelta{Text: s}, nil
	case DeltaInputJSON:
		s, err := field("partial_json")
		if err != nil {
			return nil, err
		}
		return InputJSONDelta{PartialJSON: s}, nil
	case DeltaThinking:
		s, err := field("thinking")
		if err != nil {
			return nil, err
		}
		return ThinkingDelta{Thinking: s}, nil
	case DeltaSignature:
		s, err := field("signature")
		if err != nil {
			return nil, err
		}
		return SignatureDelta{Signature: s}, nil
	default:
		return UnknownDelta{Type: typ, Raw: json.RawMessage(d.Raw)}, nil
	}
}
