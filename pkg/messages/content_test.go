package messages

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func mixedMessage() Message {
	return AssistantMessage(
		Text("Let me check."),
		ToolUse("toolu_01", "get_weather", json.RawMessage(`{"city": "Paris"}`)),
		Thinking("hmm", "sig"),
		RedactedThinkingBlock{Data: "opaque"},
		Text("Done."),
	)
}

func TestMessage_RoundTripPreservesBlockOrder(t *testing.T) {
	msgs := []Message{
		mixedMessage(),
		UserMessage(
			ToolResult("toolu_01", "18C and sunny", false),
			ToolResultBlocks("toolu_02", []ContentBlock{Text("a"), Text("b")}, true),
			Image("image/png", "iVBORw0KGgo="),
			Text("thanks"),
		),
	}

	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var got Message
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if !reflect.DeepEqual(got, m) {
			t.Fatalf("round trip mismatch\n got: %#v\nwant: %#v", got, m)
		}
	}
}

func TestMessage_WireShape(t *testing.T) {
	data, err := json.Marshal(UserMessage(Text("hi"), ToolResult("t1", "ok", true)))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"role":"user","content":[{"type":"text","text":"hi"},{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":true}]}`
	if string(data) != want {
		t.Fatalf("wire shape\n got: %s\nwant: %s", data, want)
	}
}

func TestMessage_StringContentShorthand(t *testing.T) {
	var m Message
	if err := json.Unmarshal([]byte(`{"role":"user","content":"hello"}`), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(m, UserText("hello")) {
		t.Fatalf("got %#v", m)
	}
}

func TestMessage_RejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown role":        `{"role":"system","content":[]}`,
		"missing type":        `{"role":"user","content":[{"text":"x"}]}`,
		"text without text":   `{"role":"user","content":[{"type":"text"}]}`,
		"tool_use without id": `{"role":"assistant","content":[{"type":"tool_use","name":"x","input":{}}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var m Message
			if err := json.Unmarshal([]byte(raw), &m); err == nil {
				t.Fatalf("expected error for %s", raw)
			}
		})
	}
}

func TestMessage_UnknownBlockPassesThrough(t *testing.T) {
	raw := `{"role":"assistant","content":[{"type":"server_tool_use","id":"srvtoolu_1","name":"web_search","input":{"query":"go"}},{"type":"text","text":"done"}]}`

	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	u, ok := m.Content[0].(UnknownBlock)
	if !ok || u.BlockType() != "server_tool_use" {
		t.Fatalf("content[0] = %#v", m.Content[0])
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != raw {
		t.Fatalf("wire shape\n got: %s\nwant: %s", data, raw)
	}
}

func TestToolUse_InputIsCompacted(t *testing.T) {
	b := ToolUse("id", "n", json.RawMessage("{ \"a\" : 1 }")).(ToolUseBlock)
	if string(b.Input) != `{"a":1}` {
		t.Fatalf("input = %s", b.Input)
	}
	empty := ToolUse("id", "n", nil).(ToolUseBlock)
	if string(empty.Input) != `{}` {
		t.Fatalf("empty input = %s", empty.Input)
	}
}

func TestRequest_RoundTrip(t *testing.T) {
	req, err := NewBuilder("m", []Message{mixedMessage(), UserText("next")}, 512).
		Temperature(0).
		SystemBlocks(Text("sys-1"), Text("sys-2")).
		Tools(Tool{Name: "get_weather", InputSchema: json.RawMessage(`{"type":"object"}`)}).
		ToolChoice(ToolChoiceAuto()).
		Thinking(ThinkingDisabled()).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"temperature":0`) {
		t.Fatalf("explicit zero temperature must be sent: %s", data)
	}

	var got Request
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, req) {
		t.Fatalf("round trip mismatch\n got: %#v\nwant: %#v", got, req)
	}
}

func TestRequest_UnmarshalValidates(t *testing.T) {
	var r Request
	err := json.Unmarshal([]byte(`{"model":"m","messages":[],"max_tokens":10}`), &r)
	requireInvalid(t, err, "messages")
}

func TestResponse_DecodeNullStopFields(t *testing.T) {
	raw := `{"id":"msg_1","type":"message","role":"assistant","model":"m",
		"content":[{"type":"text","text":"hi"}],"stop_reason":null,"stop_sequence":null,
		"usage":{"input_tokens":3,"output_tokens":1,"future_counter":9}}`

	var r Response
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if r.StopReason != "" || r.StopSequence != "" {
		t.Fatalf("stop fields = %q/%q", r.StopReason, r.StopSequence)
	}
	if r.Text() != "hi" || r.Usage.InputTokens != 3 {
		t.Fatalf("decoded %#v", r)
	}
}
