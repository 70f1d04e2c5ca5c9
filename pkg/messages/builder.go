package messages

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/nulpointcorp/anthropic-go/pkg/apierr"
)

// Builder accumulates request fields and validation failures. Setters never
// fail; every problem is reported together by Build. A Builder is consumed by
// Build and must not be reused.
type Builder struct {
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

	errs     []string
	consumed bool
}

// NewBuilder seeds a Builder with the required fields.
func NewBuilder(model string, msgs []Message, maxTokens int) *Builder {
	b := &Builder{
		model:     model,
		maxTokens: maxTokens,
		messages:  make([]Message, len(msgs)),
	}
	for i, m := range msgs {
		b.messages[i] = m.clone()
	}
	return b
}

func (b *Builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Sprintf(format, args...))
}

// Temperature sets the sampling temperature; it must be within [0, 1].
func (b *Builder) Temperature(t float64) *Builder {
	if b.consumed {
		return b
	}
	if math.IsNaN(t) || t < 0 || t > 1 {
		b.fail("temperature must be within [0, 1], got %v", t)
	}
	b.temperature = &t
	return b
}

// TopP sets nucleus sampling; it must be within [0, 1].
func (b *Builder) TopP(p float64) *Builder {
	if b.consumed {
		return b
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		b.fail("top_p must be within [0, 1], got %v", p)
	}
	b.topP = &p
	return b
}

// TopK limits sampling to the k most likely tokens; k must be positive.
func (b *Builder) TopK(k int) *Builder {
	if b.consumed {
		return b
	}
	if k <= 0 {
		b.fail("top_k must be positive, got %d", k)
	}
	b.topK = &k
	return b
}

// System sets a plain-text system prompt.
func (b *Builder) System(text string) *Builder {
	if b.consumed {
		return b
	}
	b.system = SystemPrompt{Text: text}
	return b
}

// SystemBlocks sets a system prompt made of text blocks.
func (b *Builder) SystemBlocks(blocks ...ContentBlock) *Builder {
	if b.consumed {
		return b
	}
	for i, blk := range blocks {
		if _, ok := blk.(TextBlock); !ok {
			b.fail("system[%d]: only text blocks are allowed, got %s", i, blk.BlockType())
		}
	}
	b.system = SystemPrompt{Blocks: append([]ContentBlock(nil), blocks...)}
	return b
}

func (b *Builder) Metadata(md Metadata) *Builder {
	if b.consumed {
		return b
	}
	b.metadata = md
	return b
}

func (b *Builder) StopSequences(seqs ...string) *Builder {
	if b.consumed {
		return b
	}
	for i, s := range seqs {
		if s == "" {
			b.fail("stop_sequences[%d] is empty", i)
		}
	}
	b.stopSequences = append([]string(nil), seqs...)
	return b
}

// Tools replaces the tool set. Tool names must be non-empty and unique, and
// each schema must be a JSON object.
func (b *Builder) Tools(tools ...Tool) *Builder {
	if b.consumed {
		return b
	}
	seen := make(map[string]bool, len(tools))
	for i, t := range tools {
		if strings.TrimSpace(t.Name) == "" {
			b.fail("tools[%d]: name is required", i)
			continue
		}
		if seen[t.Name] {
			b.fail("tools[%d]: duplicate tool name %q", i, t.Name)
		}
		seen[t.Name] = true
		if !isJSONObject(t.InputSchema) {
			b.fail("tools[%d]: input_schema must be a JSON object", i)
		}
	}
	if len(tools) == 0 {
		b.tools = nil
	} else {
		b.tools = append([]Tool(nil), tools...)
	}
	return b
}

func (b *Builder) ToolChoice(tc ToolChoice) *Builder {
	if b.consumed {
		return b
	}
	switch tc.Type {
	case "auto", "any", "none":
	case "tool":
		if tc.Name == "" {
			b.fail("tool_choice: name is required when type is \"tool\"")
		}
	default:
		b.fail("tool_choice: unknown type %q", tc.Type)
	}
	b.toolChoice = &tc
	return b
}

func (b *Builder) Thinking(tc ThinkingConfig) *Builder {
	if b.consumed {
		return b
	}
	switch tc.Type {
	case "enabled":
		if tc.BudgetTokens < MinThinkingBudget {
			b.fail("thinking: budget_tokens must be at least %d, got %d", MinThinkingBudget, tc.BudgetTokens)
		}
	case "disabled":
	default:
		b.fail("thinking: unknown type %q", tc.Type)
	}
	b.thinking = &tc
	return b
}

func (b *Builder) Stream(on bool) *Builder {
	if b.consumed {
		return b
	}
	b.stream = on
	return b
}

// Build validates every field and returns the immutable Request. All
// failures are reported in a single InvalidRequest error. The builder cannot
// be used again afterwards.
func (b *Builder) Build() (Request, error) {
	if b.consumed {
		return Request{}, apierr.New(apierr.KindInvalidRequest, "builder already consumed")
	}
	b.consumed = true

	errs := append([]string(nil), b.errs...)

	if strings.TrimSpace(b.model) == "" {
		errs = append(errs, "model is required")
	}
	if len(b.messages) == 0 {
		errs = append(errs, "messages must not be empty")
	}
	for i, m := range b.messages {
		switch m.Role {
		case RoleUser, RoleAssistant:
		default:
			errs = append(errs, fmt.Sprintf("messages[%d]: invalid role %q", i, m.Role))
		}
	}
	if b.maxTokens <= 0 {
		errs = append(errs, fmt.Sprintf("max_tokens must be positive, got %d", b.maxTokens))
	}
	if b.thinking != nil && b.thinking.Type == "enabled" && b.maxTokens > 0 && b.thinking.BudgetTokens >= b.maxTokens {
		errs = append(errs, "thinking: budget_tokens must be less than max_tokens")
	}
	if b.toolChoice != nil && b.toolChoice.Type == "tool" && b.toolChoice.Name != "" && !b.hasTool(b.toolChoice.Name) {
		errs = append(errs, fmt.Sprintf("tool_choice: tool %q is not defined", b.toolChoice.Name))
	}

	if len(errs) > 0 {
		return Request{}, apierr.New(apierr.KindInvalidRequest, "%s", strings.Join(errs, "; "))
	}

	req := Request{
		model:         b.model,
		messages:      b.messages,
		maxTokens:     b.maxTokens,
		system:        b.system,
		metadata:      b.metadata,
		stopSequences: b.stopSequences,
		temperature:   b.temperature,
		topP:          b.topP,
		topK:          b.topK,
		stream:        b.stream,
		tools:         b.tools,
		toolChoice:    b.toolChoice,
		thinking:      b.thinking,
		built:         true,
	}

	// Drop the builder's references so later misuse cannot alias the request.
	*b = Builder{consumed: true}
	return req, nil
}

func (b *Builder) hasTool(name string) bool {
	for _, t := range b.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func isJSONObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal(raw, &m) == nil && m != nil
}
