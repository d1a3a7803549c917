package streamconv

import (
	"claude-bridge/internal/proto/anthropic"
)

// Replay renders a complete message as a synthetic event stream, for
// upstreams that cannot stream while the client asked for SSE. The
// sequence matches live translation: message_start, ping, one
// start/delta/stop triple per block, message_delta, message_stop,
// [DONE]. Unlike live streams, message_start carries real input
// tokens because usage is already known.
func Replay(sink Sink, resp *anthropic.MessageResponse) error {
	start := anthropic.MessageStartEvent{
		Type: "message_start",
		Message: anthropic.MessageResponse{
			ID:      resp.ID,
			Type:    "message",
			Role:    "assistant",
			Model:   resp.Model,
			Content: []anthropic.ResponseBlock{},
			Usage:   anthropic.Usage{InputTokens: resp.Usage.InputTokens},
		},
	}
	if err := sink.Event("message_start", start); err != nil {
		return err
	}
	if err := sink.Event("ping", anthropic.PingEvent{Type: "ping"}); err != nil {
		return err
	}
	for i, block := range resp.Content {
		if err := replayBlock(sink, i, block); err != nil {
			return err
		}
	}
	stop := "end_turn"
	if resp.StopReason != nil {
		stop = *resp.StopReason
	}
	ev := anthropic.MessageDeltaEvent{
		Type:  "message_delta",
		Delta: anthropic.MessageDelta{StopReason: stop},
		Usage: anthropic.DeltaUsage{OutputTokens: resp.Usage.OutputTokens},
	}
	if err := sink.Event("message_delta", ev); err != nil {
		return err
	}
	if err := sink.Event("message_stop", anthropic.MessageStopEvent{Type: "message_stop"}); err != nil {
		return err
	}
	return sink.Raw("[DONE]")
}

func replayBlock(sink Sink, idx int, block anthropic.ResponseBlock) error {
	var open anthropic.ResponseBlock
	var delta anthropic.BlockDelta
	switch block.Type {
	case "text":
		open = anthropic.TextBlock("")
		text := ""
		if block.Text != nil {
			text = *block.Text
		}
		delta = anthropic.BlockDelta{Type: "text_delta", Text: text}
	case "thinking":
		open = anthropic.ThinkingBlock("")
		thinking := ""
		if block.Thinking != nil {
			thinking = *block.Thinking
		}
		delta = anthropic.BlockDelta{Type: "thinking_delta", Thinking: thinking}
	case "tool_use":
		open = anthropic.ToolUseBlock(block.ID, block.Name, nil)
		delta = anthropic.BlockDelta{Type: "input_json_delta", PartialJSON: string(block.Input)}
	default:
		return nil
	}
	startEv := anthropic.ContentBlockStartEvent{
		Type:         "content_block_start",
		Index:        idx,
		ContentBlock: open,
	}
	if err := sink.Event("content_block_start", startEv); err != nil {
		return err
	}
	deltaEv := anthropic.ContentBlockDeltaEvent{
		Type:  "content_block_delta",
		Index: idx,
		Delta: delta,
	}
	if err := sink.Event("content_block_delta", deltaEv); err != nil {
		return err
	}
	return sink.Event("content_block_stop", anthropic.ContentBlockStopEvent{
		Type:  "content_block_stop",
		Index: idx,
	})
}
