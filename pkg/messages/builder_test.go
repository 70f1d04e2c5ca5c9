package messages

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

func hiMessages() []Message {
	return []Message{UserText("hi")}
}

func requireInvalid(t *testing.T, err error, contains string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected InvalidRequest error, got nil")
	}
	e, ok := apierr.As(err)
	if !ok {
		t.Fatalf("expected *apierr.Error, got %T: %v", err, err)
	}
	if e.Kind != apierr.KindInvalidRequest {
		t.Fatalf("expected kind invalid_request, got %s", e.Kind)
	}
	if contains != "" && !strings.Contains(e.Message, contains) {
		t.Fatalf("expected message to contain %q, got %q", contains, e.Message)
	}
}

func TestBuild_RequiredFieldsOnly(t *testing.T) {
	msgs := hiMessages()
	req, err := NewBuilder("m", msgs, 10).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if !req.Valid() {
		t.Fatal("built request must be valid")
	}
	if req.Model() != "m" {
		t.Fatalf("model = %q, want %q", req.Model(), "m")
	}
	if req.MaxTokens() != 10 {
		t.Fatalf("max_tokens = %d, want 10", req.MaxTokens())
	}
	if !reflect.DeepEqual(req.Messages(), msgs) {
		t.Fatalf("messages = %#v, want %#v", req.Messages(), msgs)
	}
	if _, ok := req.Temperature(); ok {
		t.Fatal("temperature should be unset")
	}
	if req.Stream() {
		t.Fatal("stream should default to false")
	}
}

func TestBuild_AllOptionalFields(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)
	tools := []Tool{{Name: "get_weather", Description: "Weather lookup", InputSchema: schema}}

	req, err := NewBuilder("claude-sonnet-4-5", hiMessages(), 1024).
		Temperature(0.7).
		TopP(0.9).
		TopK(40).
		System("be brief").
		Metadata(Metadata{UserID: "u-1"}).
		StopSequences("END").
		Tools(tools...).
		ToolChoice(ToolChoiceTool("get_weather")).
		Stream(true).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if v, ok := req.Temperature(); !ok || v != 0.7 {
		t.Fatalf("temperature = %v/%v, want 0.7", v, ok)
	}
	if v, ok := req.TopP(); !ok || v != 0.9 {
		t.Fatalf("top_p = %v/%v, want 0.9", v, ok)
	}
	if v, ok := req.TopK(); !ok || v != 40 {
		t.Fatalf("top_k = %v/%v, want 40", v, ok)
	}
	if req.System().Text != "be brief" {
		t.Fatalf("system = %#v", req.System())
	}
	if req.Metadata().UserID != "u-1" {
		t.Fatalf("metadata = %#v", req.Metadata())
	}
	if !reflect.DeepEqual(req.StopSequences(), []string{"END"}) {
		t.Fatalf("stop_sequences = %v", req.StopSequences())
	}
	if !reflect.DeepEqual(req.Tools(), tools) {
		t.Fatalf("tools = %#v", req.Tools())
	}
	if tc, ok := req.ToolChoice(); !ok || tc.Name != "get_weather" {
		t.Fatalf("tool_choice = %#v/%v", tc, ok)
	}
	if !req.Stream() {
		t.Fatal("stream should be true")
	}
}

func TestBuild_TemperatureBounds(t *testing.T) {
	for _, v := range []float64{0, 0.5, 1} {
		if _, err := NewBuilder("m", hiMessages(), 10).Temperature(v).Build(); err != nil {
			t.Fatalf("temperature %v: unexpected error %v", v, err)
		}
	}
}

func TestBuild_SingleInvariantViolations(t *testing.T) {
	cases := []struct {
		name     string
		builder  func() *Builder
		contains string
	}{
		{"empty messages", func() *Builder { return NewBuilder("m", nil, 10) }, "messages"},
		{"zero max_tokens", func() *Builder { return NewBuilder("m", hiMessages(), 0) }, "max_tokens"},
		{"negative max_tokens", func() *Builder { return NewBuilder("m", hiMessages(), -5) }, "max_tokens"},
		{"temperature above range", func() *Builder { return NewBuilder("m", hiMessages(), 10).Temperature(1.01) }, "temperature"},
		{"temperature below range", func() *Builder { return NewBuilder("m", hiMessages(), 10).Temperature(-0.1) }, "temperature"},
		{"temperature NaN", func() *Builder { return NewBuilder("m", hiMessages(), 10).Temperature(math.NaN()) }, "temperature"},
		{"empty model", func() *Builder { return NewBuilder("", hiMessages(), 10) }, "model"},
		{"whitespace model", func() *Builder { return NewBuilder("  \t", hiMessages(), 10) }, "model"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := tc.builder().Build()
			requireInvalid(t, err, tc.contains)
			if req.Valid() {
				t.Fatal("failed Build must return an invalid request")
			}
		})
	}
}

func TestBuild_ReportsEveryFailure(t *testing.T) {
	_, err := NewBuilder(" ", nil, 0).Temperature(3).Build()
	requireInvalid(t, err, "")

	e, _ := apierr.As(err)
	for _, want := range []string{"temperature", "model", "messages", "max_tokens"} {
		if !strings.Contains(e.Message, want) {
			t.Errorf("expected %q in %q", want, e.Message)
		}
	}
}

func TestBuild_OptionalFieldValidation(t *testing.T) {
	schema := json.RawMessage(`{"type":"object"}`)
	cases := []struct {
		name     string
		builder  func() *Builder
		contains string
	}{
		{"top_p", func() *Builder { return NewBuilder("m", hiMessages(), 10).TopP(2) }, "top_p"},
		{"top_k", func() *Builder { return NewBuilder("m", hiMessages(), 10).TopK(0) }, "top_k"},
		{"tool without name", func() *Builder {
			return NewBuilder("m", hiMessages(), 10).Tools(Tool{InputSchema: schema})
		}, "name is required"},
		{"tool schema not object", func() *Builder {
			return NewBuilder("m", hiMessages(), 10).Tools(Tool{Name: "x", InputSchema: json.RawMessage(`[]`)})
		}, "input_schema"},
		{"duplicate tool", func() *Builder {
			return NewBuilder("m", hiMessages(), 10).Tools(Tool{Name: "x", InputSchema: schema}, Tool{Name: "x", InputSchema: schema})
		}, "duplicate"},
		{"tool choice unknown tool", func() *Builder {
			return NewBuilder("m", hiMessages(), 10).ToolChoice(ToolChoiceTool("missing"))
		}, "not defined"},
		{"thinking budget too small", func() *Builder {
			return NewBuilder("m", hiMessages(), 4096).Thinking(ThinkingEnabled(10))
		}, "budget_tokens"},
		{"thinking budget above max_tokens", func() *Builder {
			return NewBuilder("m", hiMessages(), 2000).Thinking(ThinkingEnabled(2048))
		}, "less than max_tokens"},
		{"empty stop sequence", func() *Builder { return NewBuilder("m", hiMessages(), 10).StopSequences("") }, "stop_sequences"},
		{"invalid role", func() *Builder {
			return NewBuilder("m", []Message{{Role: "system", Content: []ContentBlock{Text("x")}}}, 10)
		}, "invalid role"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.builder().Build()
			requireInvalid(t, err, tc.contains)
		})
	}
}

func TestBuild_ConsumesBuilder(t *testing.T) {
	b := NewBuilder("m", hiMessages(), 10)
	if _, err := b.Build(); err != nil {
		t.Fatalf("first Build: %v", err)
	}

	_, err := b.Temperature(0.5).Build()
	requireInvalid(t, err, "consumed")
}

func TestBuild_RequestDoesNotAliasInputs(t *testing.T) {
	msgs := []Message{UserText("original")}
	req, err := NewBuilder("m", msgs, 10).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	msgs[0].Content[0] = Text("mutated")
	if got := req.Messages()[0].Text(); got != "original" {
		t.Fatalf("request changed through caller slice: %q", got)
	}

	out := req.Messages()
	out[0].Content[0] = Text("mutated again")
	if got := req.Messages()[0].Text(); got != "original" {
		t.Fatalf("request changed through accessor slice: %q", got)
	}
}

func TestRequest_WithStreamLeavesOriginal(t *testing.T) {
	req, err := NewBuilder("m", hiMessages(), 10).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	streamed := req.WithStream(true)
	if req.Stream() {
		t.Fatal("original request must not change")
	}
	if !streamed.Stream() || !streamed.Valid() {
		t.Fatal("copy should be a valid streaming request")
	}
}
