package messages

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

// Tool describes a tool the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolChoice constrains how the model uses tools.
type ToolChoice struct {
	// Type is one of "auto", "any", "tool" or "none".
	Type string `json:"type"`
	// Name is required when Type is "tool".
	Name string `json:"name,omitempty"`
	// DisableParallelToolUse limits the model to at most one tool call.
	DisableParallelToolUse bool `json:"disable_parallel_tool_use,omitempty"`
}

func ToolChoiceAuto() ToolChoice            { return ToolChoice{Type: "auto"} }
func ToolChoiceAny() ToolChoice             { return ToolChoice{Type: "any"} }
func ToolChoiceNone() ToolChoice            { return ToolChoice{Type: "none"} }
func ToolChoiceTool(name string) ToolChoice { return ToolChoice{Type: "tool", Name: name} }

// ThinkingConfig enables or disables extended thinking.
type ThinkingConfig struct {
	// Type is "enabled" or "disabled".
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// MinThinkingBudget is the smallest budget the API accepts.
const MinThinkingBudget = 1024

func ThinkingEnabled(budgetTokens int) ThinkingConfig {
	return ThinkingConfig{Type: "enabled", BudgetTokens: budgetTokens}
}

func ThinkingDisabled() ThinkingConfig { return ThinkingConfig{Type: "disabled"} }

// Metadata is attached to a request for abuse detection.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// SystemPrompt is either plain text or a list of text blocks.
type SystemPrompt struct {
	Text   string
	Blocks []ContentBlock
}

// IsZero reports whether no system prompt is set.
func (s SystemPrompt) IsZero() bool { return s.Text == "" && len(s.Blocks) == 0 }

func (s SystemPrompt) MarshalJSON() ([]byte, error) {
	if len(s.Blocks) > 0 {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

func (s *SystemPrompt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		blocks, err := UnmarshalContentBlocks(data)
		if err != nil {
			return fmt.Errorf("system: %w", err)
		}
		*s = SystemPrompt{Blocks: blocks}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("system: %w", err)
	}
	*s = SystemPrompt{Text: text}
	return nil
}

// Request is a validated Messages API request. The zero value is not a valid
// request; obtain one from Builder.Build. A Request never changes after it
// is built and may be shared between goroutines.
type Request struct {
	model         string
	messages      []Message
	maxTokens     int
	system        SystemPrompt
	metadata      Metadata
	stopSequences []string
	temperature   *float64
	topP          *float64
	topK          *int
	stream        bool
	tools         []Tool
	toolChoice    *ToolChoice
	thinking      *ThinkingConfig

	built bool
}

func (r Request) Model() string { return r.model }

// Messages returns a copy of the conversation.
func (r Request) Messages() []Message {
	out := make([]Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.clone()
	}
	return out
}

func (r Request) MaxTokens() int          { return r.maxTokens }
func (r Request) System() SystemPrompt    { return r.system }
func (r Request) Metadata() Metadata      { return r.metadata }
func (r Request) Stream() bool            { return r.stream }
func (r Request) StopSequences() []string { return append([]string(nil), r.stopSequences...) }
func (r Request) Tools() []Tool           { return append([]Tool(nil), r.tools...) }

// Valid reports whether r was produced by a successful Build.
func (r Request) Valid() bool { return r.built }

func (r Request) Temperature() (float64, bool) {
	if r.temperature == nil {
		return 0, false
	}
	return *r.temperature, true
}

func (r Request) TopP() (float64, bool) {
	if r.topP == nil {
		return 0, false
	}
	return *r.topP, true
}

func (r Request) TopK() (int, bool) {
	if r.topK == nil {
		return 0, false
	}
	return *r.topK, true
}

func (r Request) ToolChoice() (ToolChoice, bool) {
	if r.toolChoice == nil {
		return ToolChoice{}, false
	}
	return *r.toolChoice, true
}

func (r Request) Thinking() (ThinkingConfig, bool) {
	if r.thinking == nil {
		return ThinkingConfig{}, false
	}
	return *r.thinking, true
}

// WithStream returns a copy of r with the stream flag set to on.
func (r Request) WithStream(on bool) Request {
	r.stream = on
	return r
}

type wireRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	System        *SystemPrompt   `json:"system,omitempty"`
	Metadata      *Metadata       `json:"metadata,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	w := wireRequest{
		Model:         r.model,
		Messages:      r.messages,
		MaxTokens:     r.maxTokens,
		StopSequences: r.stopSequences,
		Temperature:   r.temperature,
		TopP:          r.topP,
		TopK:          r.topK,
		Stream:        r.stream,
		Tools:         r.tools,
		ToolChoice:    r.toolChoice,
		Thinking:      r.thinking,
	}
	if w.Messages == nil {
		w.Messages = []Message{}
	}
	if !r.system.IsZero() {
		sys := r.system
		w.System = &sys
	}
	if r.metadata != (Metadata{}) {
		md := r.metadata
		w.Metadata = &md
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a request and validates it exactly as Build does, so
// a decoded Request is always valid.
func (r *Request) UnmarshalJSON(data []byte) error {
	var w wireRequest
	if err := json.Unmarshal(data, &w); err != nil {
		return apierr.Wrap(apierr.KindInvalidRequest, err, "decode request")
	}

	b := NewBuilder(w.Model, w.Messages, w.MaxTokens).
		StopSequences(w.StopSequences...).
		Tools(w.Tools...).
		Stream(w.Stream)
	if w.System != nil {
		b.system = *w.System
	}
	if w.Metadata != nil {
		b.Metadata(*w.Metadata)
	}
	if w.Temperature != nil {
		b.Temperature(*w.Temperature)
	}
	if w.TopP != nil {
		b.TopP(*w.TopP)
	}
	if w.TopK != nil {
		b.TopK(*w.TopK)
	}
	if w.ToolChoice != nil {
		b.ToolChoice(*w.ToolChoice)
	}
	if w.Thinking != nil {
		b.Thinking(*w.Thinking)
	}

	req, err := b.Build()
	if err != nil {
		return err
	}
	*r = req
	return nil
}
