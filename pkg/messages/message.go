package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is one conversational turn. Content order is the reading order and
// is preserved through encoding and decoding.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// NewMessage returns a Message owning a copy of blocks.
func NewMessage(role Role, blocks ...ContentBlock) Message {
	cp := make([]ContentBlock, len(blocks))
	copy(cp, blocks)
	return Message{Role: role, Content: cp}
}

// UserMessage is shorthand for NewMessage(RoleUser, blocks...).
func UserMessage(blocks ...ContentBlock) Message { return NewMessage(RoleUser, blocks...) }

// AssistantMessage is shorthand for NewMessage(RoleAssistant, blocks...).
func AssistantMessage(blocks ...ContentBlock) Message { return NewMessage(RoleAssistant, blocks...) }

// UserText returns a user message holding a single text block.
func UserText(s string) Message { return UserMessage(Text(s)) }

// Text concatenates the text of every TextBlock in the message.
func (m Message) Text() string {
	var b bytes.Buffer
	for _, c := range m.Content {
		if t, ok := c.(TextBlock); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolUses returns the tool invocations in content order.
func (m Message) ToolUses() []ToolUseBlock {
	var out []ToolUseBlock
	for _, c := range m.Content {
		if t, ok := c.(ToolUseBlock); ok {
			out = append(out, t)
		}
	}
	return out
}

func (m Message) clone() Message {
	return NewMessage(m.Role, m.Content...)
}

func (m Message) MarshalJSON() ([]byte, error) {
	content := m.Content
	if content == nil {
		content = []ContentBlock{}
	}
	return json.Marshal(struct {
		Role    Role           `json:"role"`
		Content []ContentBlock `json:"content"`
	}{m.Role, content})
}

// UnmarshalJSON accepts content either as a block array or as a bare string,
// which is shorthand for a single text block.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w struct {
		Role    Role            `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("message: %w", err)
	}
	switch w.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("message: invalid role %q", w.Role)
	}

	raw := bytes.TrimSpace(w.Content)
	var content []ContentBlock
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		content = []ContentBlock{}
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("message: %w", err)
		}
		content = []ContentBlock{TextBlock{Text: s}}
	default:
		blocks, err := UnmarshalContentBlocks(raw)
		if err != nil {
			return fmt.Errorf("message: %w", err)
		}
		content = blocks
	}

	*m = Message{Role: w.Role, Content: content}
	return nil
}
