package mockapi

import (
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

// EventsFor returns the canonical event sequence a server would stream for
// resp: message_start, then start/delta.../stop per block, message_delta and
// message_stop. Text, thinking and tool input are split into fragments of
// at most fragment runes; fragment <= 0 sends each payload in one delta.
//
// Folding the result with a messages.Accumulator reproduces resp.
func EventsFor(resp messages.Response, fragment int) []messages.StreamEvent {
	start := resp
	start.Content = []messages.ContentBlock{}
	start.StopReason = ""
	start.StopSequence = ""
	start.Usage.OutputTokens = 0

	events := []messages.StreamEvent{messages.MessageStartEvent{Message: start}}

	for i, b := range resp.Content {
		switch v := b.(type) {
		case messages.TextBlock:
			events = append(events, messages.ContentBlockStartEvent{Index: i, Block: messages.TextBlock{}})
			for _, part := range splitRunes(v.Text, fragment) {
				events = append(events, messages.ContentBlockDeltaEvent{Index: i, Delta: messages.TextDelta{Text: part}})
			}

		case messages.ThinkingBlock:
			events = append(events, messages.ContentBlockStartEvent{Index: i, Block: messages.ThinkingBlock{}})
			for _, part := range splitRunes(v.Thinking, fragment) {
				events = append(events, messages.ContentBlockDeltaEvent{Index: i, Delta: messages.ThinkingDelta{Thinking: part}})
			}
			if v.Signature != "" {
				events = append(events, messages.ContentBlockDeltaEvent{Index: i, Delta: messages.SignatureDelta{Signature: v.Signature}})
			}

		case messages.ToolUseBlock:
			events = append(events, messages.ContentBlockStartEvent{
				Index: i,
				Block: messages.ToolUseBlock{ID: v.ID, Name: v.Name, Input: []byte("{}")},
			})
			for _, part := range splitRunes(string(v.Input), fragment) {
				events = append(events, messages.ContentBlockDeltaEvent{Index: i, Delta: messages.InputJSONDelta{PartialJSON: part}})
			}

		default:
			// Blocks without a delta form are sent whole.
			events = append(events, messages.ContentBlockStartEvent{Index: i, Block: b})
		}
		events = append(events, messages.ContentBlockStopEvent{Index: i})
	}

	events = append(events,
		messages.MessageDeltaEvent{
			StopReason:   resp.StopReason,
			StopSequence: resp.StopSequence,
			Usage:        messages.DeltaUsage{OutputTokens: resp.Usage.OutputTokens},
		},
		messages.MessageStopEvent{},
	)
	return events
}

func splitRunes(s string, n int) []string {
	if s == "" {
		return nil
	}
	r := []rune(s)
	if n <= 0 || n >= len(r) {
		return []string{s}
	}
	out := make([]string, 0, (len(r)+n-1)/n)
	for len(r) > 0 {
		k := min(n, len(r))
		out = append(out, string(r[:k]))
		r = r[k:]
	}
	return out
}
