package messages

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

func TestParseEvent_KnownEvents(t *testing.T) {
	cases := []struct {
		name string
		data string
		want StreamEvent
	}{
		{
			name: EventMessageStart,
			data: `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`,
			want: MessageStartEvent{Message: Response{
				ID: "msg_1", Type: "message", Role: RoleAssistant, Model: "claude",
				Content: []ContentBlock{}, Usage: Usage{InputTokens: 12, OutputTokens: 1},
			}},
		},
		{
			name: EventContentBlockStart,
			data: `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			want: ContentBlockStartEvent{Index: 0, Block: TextBlock{}},
		},
		{
			name: EventContentBlockStart,
			data: `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"calc","input":{}}}`,
			want: ContentBlockStartEvent{Index: 1, Block: ToolUseBlock{ID: "toolu_1", Name: "calc", Input: []byte("{}")}},
		},
		{
			name: EventContentBlockDelta,
			data: `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			want: ContentBlockDeltaEvent{Index: 0, Delta: TextDelta{Text: "Hel"}},
		},
		{
			name: EventContentBlockDelta,
			data: `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"a\":"}}`,
			want: ContentBlockDeltaEvent{Index: 1, Delta: InputJSONDelta{PartialJSON: `{"a":`}},
		},
		{
			name: EventContentBlockDelta,
			data: `{"type":"content_block_delta","index":2,"delta":{"type":"thinking_delta","thinking":"so"}}`,
			want: ContentBlockDeltaEvent{Index: 2, Delta: ThinkingDelta{Thinking: "so"}},
		},
		{
			name: EventContentBlockStop,
			data: `{"type":"content_block_stop","index":3}`,
			want: ContentBlockStopEvent{Index: 3},
		},
		{
			name: EventMessageDelta,
			data: `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":15}}`,
			want: MessageDeltaEvent{StopReason: StopEndTurn, Usage: DeltaUsage{OutputTokens: 15}},
		},
		{
			name: EventMessageStop,
			data: `{"type":"message_stop"}`,
			want: MessageStopEvent{},
		},
		{
			name: EventPing,
			data: `{"type": "ping"}`,
			want: PingEvent{},
		},
		{
			name: EventError,
			data: `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
			want: ErrorEvent{Kind: apierr.KindOverloaded, Type: "overloaded_error", Message: "Overloaded"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseEvent(tc.name, []byte(tc.data))
			if err != nil {
				t.Fatalf("ParseEvent: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got  %#v\nwant %#v", got, tc.want)
			}
			if got.EventName() != tc.name {
				t.Fatalf("EventName() = %q, want %q", got.EventName(), tc.name)
			}
		})
	}
}

func TestParseEvent_UnknownNameIsSurfaced(t *testing.T) {
	data := []byte(`{"type":"future_event","x":1}`)
	ev, err := ParseEvent("future_event", data)
	if err != nil {
		t.Fatalf("unknown event must not fail: %v", err)
	}
	u, ok := ev.(UnhandledEvent)
	if !ok {
		t.Fatalf("expected UnhandledEvent, got %T", ev)
	}
	if u.Name != "future_event" || !bytes.Equal(u.Data, data) {
		t.Fatalf("unhandled event = %#v", u)
	}
}

func TestParseEvent_ToleratesUnknownFields(t *testing.T) {
	data := `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"x","extra":true},"new_field":{}}`
	ev, err := ParseEvent(EventContentBlockDelta, []byte(data))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if d := ev.(ContentBlockDeltaEvent).Delta.(TextDelta); d.Text != "x" {
		t.Fatalf("delta = %#v", d)
	}
}

func TestParseEvent_UnknownDeltaType(t *testing.T) {
	data := `{"type":"content_block_delta","index":0,"delta":{"type":"citations_delta","citation":{}}}`
	ev, err := ParseEvent(EventContentBlockDelta, []byte(data))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if d, ok := ev.(ContentBlockDeltaEvent).Delta.(UnknownDelta); !ok || d.Type != "citations_delta" {
		t.Fatalf("delta = %#v", ev.(ContentBlockDeltaEvent).Delta)
	}
}

func TestParseEvent_UnknownBlockType(t *testing.T) {
	data := `{"type":"content_block_start","index":1,"content_block":{"type":"server_tool_use", "id":"srvtoolu_1","name":"web_search","input":{}}}`
	ev, err := ParseEvent(EventContentBlockStart, []byte(data))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	start := ev.(ContentBlockStartEvent)
	want := UnknownBlock{
		Type: "server_tool_use",
		Raw:  []byte(`{"type":"server_tool_use","id":"srvtoolu_1","name":"web_search","input":{}}`),
	}
	if start.Index != 1 || !reflect.DeepEqual(start.Block, want) {
		t.Fatalf("start = %#v", start)
	}
}

func TestParseEvent_MalformedPayloads(t *testing.T) {
	cases := []struct {
		desc string
		name string
		data string
	}{
		{"not json", EventContentBlockDelta, `{"index":0,"delta":`},
		{"not an object", EventMessageStart, `[1,2]`},
		{"missing message", EventMessageStart, `{"type":"message_start"}`},
		{"missing index", EventContentBlockStart, `{"content_block":{"type":"text","text":""}}`},
		{"missing content_block", EventContentBlockStart, `{"index":0}`},
		{"null content_block", EventContentBlockStart, `{"index":0,"content_block":null}`},
		{"negative index", EventContentBlockStop, `{"index":-1}`},
		{"fractional index", EventContentBlockStop, `{"index":1.5}`},
		{"string index", EventContentBlockStop, `{"index":"0"}`},
		{"missing delta", EventContentBlockDelta, `{"index":0}`},
		{"text delta without text", EventContentBlockDelta, `{"index":0,"delta":{"type":"text_delta"}}`},
		{"message_delta without delta", EventMessageDelta, `{"usage":{"output_tokens":1}}`},
		{"error without error", EventError, `{"type":"error"}`},
		{"garbage ping", EventPing, `ping!`},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			ev, err := ParseEvent(tc.name, []byte(tc.data))
			if err == nil {
				t.Fatalf("expected decode error, got event %#v", ev)
			}
			e, ok := apierr.As(err)
			if !ok || e.Kind != apierr.KindStreamDecode {
				t.Fatalf("expected stream decode error, got %v", err)
			}
			if string(e.Raw) != tc.data {
				t.Fatalf("raw payload = %q, want %q", e.Raw, tc.data)
			}
		})
	}
}

func TestParseEvent_EmptyPingPayload(t *testing.T) {
	ev, err := ParseEvent(EventPing, nil)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if _, ok := ev.(PingEvent); !ok {
		t.Fatalf("expected PingEvent, got %T", ev)
	}
}

func TestEncodeEvent_InverseOfParse(t *testing.T) {
	events := []StreamEvent{
		MessageStartEvent{Message: Response{ID: "msg_1", Type: "message", Role: RoleAssistant, Model: "m", Content: []ContentBlock{}}},
		ContentBlockStartEvent{Index: 0, Block: ToolUseBlock{ID: "t", Name: "n", Input: []byte("{}")}},
		ContentBlockDeltaEvent{Index: 0, Delta: InputJSONDelta{PartialJSON: `{"q":`}},
		ContentBlockDeltaEvent{Index: 1, Delta: SignatureDelta{Signature: "abc"}},
		ContentBlockStopEvent{Index: 0},
		MessageDeltaEvent{StopReason: StopToolUse, StopSequence: "###", Usage: DeltaUsage{OutputTokens: 9}},
		MessageStopEvent{},
		PingEvent{},
		ErrorEvent{Kind: apierr.KindRateLimited, Type: "rate_limit_error", Message: "slow down"},
	}

	for _, ev := range events {
		name, data, err := EncodeEvent(ev)
		if err != nil {
			t.Fatalf("EncodeEvent(%T): %v", ev, err)
		}
		got, err := ParseEvent(name, data)
		if err != nil {
			t.Fatalf("ParseEvent(%s, %s): %v", name, data, err)
		}
		if !reflect.DeepEqual(got, ev) {
			t.Fatalf("round trip %s\n got: %#v\nwant: %#v", name, got, ev)
		}
	}
}
