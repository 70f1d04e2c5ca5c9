package messages

import (
	"encoding/json"
	"fmt"
)

// StopReason explains why the model stopped generating. Values the server
// adds in the future are kept verbatim.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopSequence  StopReason = "stop_sequence"
	StopToolUse   StopReason = "tool_use"
	StopPauseTurn StopReason = "pause_turn"
	StopRefusal   StopReason = "refusal"
)

// CacheCreation breaks cache-write tokens down by TTL.
type CacheCreation struct {
	Ephemeral1hInputTokens int `json:"ephemeral_1h_input_tokens"`
	Ephemeral5mInputTokens int `json:"ephemeral_5m_input_tokens"`
}

// Usage holds token counters for one response.
type Usage struct {
	InputTokens              int           `json:"input_tokens"`
	OutputTokens             int           `json:"output_tokens"`
	CacheCreationInputTokens int           `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int           `json:"cache_read_input_tokens"`
	CacheCreation            CacheCreation `json:"cache_creation"`
	ServiceTier              string        `json:"service_tier,omitempty"`
}

// Response is the complete result of a non-streaming call, and the shape the
// Accumulator assembles from a stream.
type Response struct {
	ID           string
	Type         string
	Role         Role
	Content      []ContentBlock
	Model        string
	StopReason   StopReason
	StopSequence string
	Usage        Usage
}

// Message returns the role and content as a Message.
func (r Response) Message() Message {
	return NewMessage(r.Role, r.Content...)
}

// Text concatenates every text block in the response.
func (r Response) Text() string { return r.Message().Text() }

type wireResponse struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	Role         Role              `json:"role"`
	Content      []json.RawMessage `json:"content"`
	Model        string            `json:"model"`
	StopReason   *string           `json:"stop_reason"`
	StopSequence *string           `json:"stop_sequence"`
	Usage        Usage             `json:"usage"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	content := r.Content
	if content == nil {
		content = []ContentBlock{}
	}
	var stopReason, stopSeq *string
	if r.StopReason != "" {
		s := string(r.StopReason)
		stopReason = &s
	}
	if r.StopSequence != "" {
		s := r.StopSequence
		stopSeq = &s
	}
	typ := r.Type
	if typ == "" {
		typ = "message"
	}
	return json.Marshal(struct {
		ID           string         `json:"id"`
		Type         string         `json:"type"`
		Role         Role           `json:"role"`
		Content      []ContentBlock `json:"content"`
		Model        string         `json:"model"`
		StopReason   *string        `json:"stop_reason"`
		StopSequence *string        `json:"stop_sequence"`
		Usage        Usage          `json:"usage"`
	}{r.ID, typ, r.Role, content, r.Model, stopReason, stopSeq, r.Usage})
}

func (r *Response) UnmarshalJSON(data []byte) error {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("response: %w", err)
	}
	content := make([]ContentBlock, 0, len(w.Content))
	for i, raw := range w.Content {
		b, err := UnmarshalContentBlock(raw)
		if err != nil {
			return fmt.Errorf("response: content[%d]: %w", i, err)
		}
		content = append(content, b)
	}
	out := Response{
		ID:      w.ID,
		Type:    w.Type,
		Role:    w.Role,
		Content: content,
		Model:   w.Model,
		Usage:   w.Usage,
	}
	if w.StopReason != nil {
		out.StopReason = StopReason(*w.StopReason)
	}
	if w.StopSequence != nil {
		out.StopSequence = *w.StopSequence
	}
	*r = out
	return nil
}
