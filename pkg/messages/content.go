package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Content block type strings as they appear on the wire.
const (
	BlockText             = "text"
	BlockImage            = "image"
	BlockToolUse          = "tool_use"
	BlockToolResult       = "tool_result"
	BlockThinking         = "thinking"
	BlockRedactedThinking = "redacted_thinking"
)

// ContentBlock is one unit of message content. The set of implementations is
// closed: TextBlock, ImageBlock, ToolUseBlock, ToolResultBlock, ThinkingBlock,
// RedactedThinkingBlock and UnknownBlock.
type ContentBlock interface {
	// BlockType returns the wire "type" discriminator.
	BlockType() string

	isContentBlock()
}

// TextBlock is plain text content.
type TextBlock struct {
	Text string
}

// ImageBlock is inline image content.
type ImageBlock struct {
	Source ImageSource
}

// ImageSource describes where image bytes come from. Only base64 sources
// are supported.
type ImageSource struct {
	MediaType string
	Data      string
}

// ToolUseBlock is a tool invocation requested by the model. Input is the
// JSON object of arguments, kept in compact form.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultBlock carries the output of a tool back to the model.
type ToolResultBlock struct {
	ToolUseID string
	Content   ToolResultContent
	IsError   bool
}

// ToolResultContent is either plain text or a list of blocks. When Blocks is
// non-nil it takes precedence over Text.
type ToolResultContent struct {
	Text   string
	Blocks []ContentBlock
}

// ThinkingBlock is extended-thinking output.
type ThinkingBlock struct {
	Thinking  string
	Signature string
}

// RedactedThinkingBlock is encrypted thinking output.
type RedactedThinkingBlock struct {
	Data string
}

// UnknownBlock is a block type this package does not model, such as
// server_tool_use. Raw is the block as received and is sent back unchanged.
type UnknownBlock struct {
	Type string
	Raw  json.RawMessage
}

func (TextBlock) BlockType() string             { return BlockText }
func (ImageBlock) BlockType() string            { return BlockImage }
func (ToolUseBlock) BlockType() string          { return BlockToolUse }
func (ToolResultBlock) BlockType() string       { return BlockToolResult }
func (ThinkingBlock) BlockType() string         { return BlockThinking }
func (RedactedThinkingBlock) BlockType() string { return BlockRedactedThinking }
func (b UnknownBlock) BlockType() string        { return b.Type }

func (TextBlock) isContentBlock()             {}
func (ImageBlock) isContentBlock()            {}
func (ToolUseBlock) isContentBlock()          {}
func (ToolResultBlock) isContentBlock()       {}
func (ThinkingBlock) isContentBlock()         {}
func (RedactedThinkingBlock) isContentBlock() {}
func (UnknownBlock) isContentBlock()          {}

// ── Constructors ─────────────────────────────────────────────────────────────

// Text returns a text block.
func Text(s string) ContentBlock { return TextBlock{Text: s} }

// Image returns a base64 image block.
func Image(mediaType, data string) ContentBlock {
	return ImageBlock{Source: ImageSource{MediaType: mediaType, Data: data}}
}

// ToolUse returns a tool invocation block. A nil or empty input is stored as
// the empty object.
func ToolUse(id, name string, input json.RawMessage) ContentBlock {
	return ToolUseBlock{ID: id, Name: name, Input: normalizeInput(input)}
}

// ToolResult returns a tool result with text content.
func ToolResult(toolUseID, content string, isError bool) ContentBlock {
	return ToolResultBlock{ToolUseID: toolUseID, Content: ToolResultContent{Text: content}, IsError: isError}
}

// ToolResultBlocks returns a tool result whose content is a list of blocks.
func ToolResultBlocks(toolUseID string, blocks []ContentBlock, isError bool) ContentBlock {
	cp := make([]ContentBlock, len(blocks))
	copy(cp, blocks)
	return ToolResultBlock{ToolUseID: toolUseID, Content: ToolResultContent{Blocks: cp}, IsError: isError}
}

// Thinking returns a thinking block.
func Thinking(thinking, signature string) ContentBlock {
	return ThinkingBlock{Thinking: thinking, Signature: signature}
}

// normalizeInput compacts a tool input document. Invalid JSON is returned
// unchanged so the server can reject it.
func normalizeInput(in json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(in)) == 0 {
		return json.RawMessage("{}")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, in); err != nil {
		return in
	}
	return json.RawMessage(buf.Bytes())
}

// ── Wire encoding ────────────────────────────────────────────────────────────

type wireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

func (b TextBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{BlockText, b.Text})
}

func (b ImageBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   string          `json:"type"`
		Source wireImageSource `json:"source"`
	}{BlockImage, wireImageSource{Type: "base64", MediaType: b.Source.MediaType, Data: b.Source.Data}})
}

func (b ToolUseBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string          `json:"type"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}{BlockToolUse, b.ID, b.Name, normalizeInput(b.Input)})
}

func (b ToolResultBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string            `json:"type"`
		ToolUseID string            `json:"tool_use_id"`
		Content   ToolResultContent `json:"content"`
		IsError   bool              `json:"is_error,omitempty"`
	}{BlockToolResult, b.ToolUseID, b.Content, b.IsError})
}

func (b ThinkingBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		Thinking  string `json:"thinking"`
		Signature string `json:"signature,omitempty"`
	}{BlockThinking, b.Thinking, b.Signature})
}

func (b RedactedThinkingBlock) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Data string `json:"data"`
	}{BlockRedactedThinking, b.Data})
}

func (b UnknownBlock) MarshalJSON() ([]byte, error) {
	if len(b.Raw) == 0 {
		return json.Marshal(struct {
			Type string `json:"type"`
		}{b.Type})
	}
	return b.Raw, nil
}

func (c ToolResultContent) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

func (c *ToolResultContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		blocks, err := UnmarshalContentBlocks(data)
		if err != nil {
			return err
		}
		*c = ToolResultContent{Blocks: blocks}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tool_result content: %w", err)
	}
	*c = ToolResultContent{Text: s}
	return nil
}

// wireBlock is the union of every content block field. Fields irrelevant to
// a given type are ignored.
type wireBlock struct {
	Type      string             `json:"type"`
	Text      *string            `json:"text"`
	Source    *wireImageSource   `json:"source"`
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Input     json.RawMessage    `json:"input"`
	ToolUseID string             `json:"tool_use_id"`
	Content   *ToolResultContent `json:"content"`
	IsError   bool               `json:"is_error"`
	Thinking  *string            `json:"thinking"`
	Signature string             `json:"signature"`
	Data      *string            `json:"data"`
}

// UnmarshalContentBlock decodes one content block, dispatching on its "type".
// Unknown types become an UnknownBlock; a missing type or missing required
// fields are errors.
func UnmarshalContentBlock(data []byte) (ContentBlock, error) {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("content block: %w", err)
	}

	switch w.Type {
	case BlockText:
		if w.Text == nil {
			return nil, fmt.Errorf("content block: text block missing \"text\"")
		}
		return TextBlock{Text: *w.Text}, nil

	case BlockImage:
		if w.Source == nil {
			return nil, fmt.Errorf("content block: image block missing \"source\"")
		}
		if w.Source.Type != "" && w.Source.Type != "base64" {
			return nil, fmt.Errorf("content block: unsupported image source %q", w.Source.Type)
		}
		return ImageBlock{Source: ImageSource{MediaType: w.Source.MediaType, Data: w.Source.Data}}, nil

	case BlockToolUse:
		if w.ID == "" || w.Name == "" {
			return nil, fmt.Errorf("content block: tool_use block missing \"id\" or \"name\"")
		}
		return ToolUseBlock{ID: w.ID, Name: w.Name, Input: normalizeInput(w.Input)}, nil

	case BlockToolResult:
		if w.ToolUseID == "" {
			return nil, fmt.Errorf("content block: tool_result block missing \"tool_use_id\"")
		}
		b := ToolResultBlock{ToolUseID: w.ToolUseID, IsError: w.IsError}
		if w.Content != nil {
			b.Content = *w.Content
		}
		return b, nil

	case BlockThinking:
		if w.Thinking == nil {
			return nil, fmt.Errorf("content block: thinking block missing \"thinking\"")
		}
		return ThinkingBlock{Thinking: *w.Thinking, Signature: w.Signature}, nil

	case BlockRedactedThinking:
		if w.Data == nil {
			return nil, fmt.Errorf("content block: redacted_thinking block missing \"data\"")
		}
		return RedactedThinkingBlock{Data: *w.Data}, nil

	case "":
		return nil, fmt.Errorf("content block: missing \"type\"")
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("content block: %w", err)
	}
	return UnknownBlock{Type: w.Type, Raw: json.RawMessage(buf.Bytes())}, nil
}

// UnmarshalContentBlocks decodes a JSON array of content blocks, preserving
// order.
func UnmarshalContentBlocks(data []byte) ([]ContentBlock, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("content blocks: %w", err)
	}
	out := make([]ContentBlock, 0, len(raws))
	for i, raw := range raws {
		b, err := UnmarshalContentBlock(raw)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}
