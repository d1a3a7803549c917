package streamconv

import (
	"encoding/json"
	"log/slog"
	"strings"

	"claude-bridge/internal/proto/anthropic"
	"claude-bridge/internal/proto/openai"
)

// Collector is the Sink behind non-streaming requests: the upstream is
// still consumed as a stream through the Translator, and the collected
// events fold into one MessageResponse.
type Collector struct {
	log *slog.Logger

	msgID      string
	model      string
	order      []int
	blocks     map[int]*collectedBlock
	stopReason string
	errType    string
	errMsg     string
}

type collectedBlock struct {
	kind string
	text strings.Builder
	id   string
	name string
	args strings.Builder
}

func NewCollector(log *slog.Logger) *Collector {
	return &Collector{log: log, blocks: make(map[int]*collectedBlock)}
}

func (c *Collector) Event(name string, payload any) error {
	switch ev := payload.(type) {
	case anthropic.MessageStartEvent:
		c.msgID = ev.Message.ID
		c.model = ev.Message.Model
	case anthropic.ContentBlockStartEvent:
		cb := &collectedBlock{kind: ev.ContentBlock.Type}
		switch ev.ContentBlock.Type {
		case "text":
			if ev.ContentBlock.Text != nil {
				cb.text.WriteString(*ev.ContentBlock.Text)
			}
		case "thinking":
			if ev.ContentBlock.Thinking != nil {
				cb.text.WriteString(*ev.ContentBlock.Thinking)
			}
		case "tool_use":
			cb.id = ev.ContentBlock.ID
			cb.name = ev.ContentBlock.Name
		}
		c.blocks[ev.Index] = cb
		c.order = append(c.order, ev.Index)
	case anthropic.ContentBlockDeltaEvent:
		cb := c.blocks[ev.Index]
		if cb == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			cb.text.WriteString(ev.Delta.Text)
		case "thinking_delta":
			cb.text.WriteString(ev.Delta.Thinking)
		case "input_json_delta":
			cb.args.WriteString(ev.Delta.PartialJSON)
		}
	case anthropic.MessageDeltaEvent:
		c.stopReason = ev.Delta.StopReason
	case anthropic.ErrorEvent:
		c.errType = ev.Error.Type
		c.errMsg = ev.Error.Message
	}
	return nil
}

// Raw ignores the [DONE] marker; it has no JSON body to collect.
func (c *Collector) Raw(string) error { return nil }

// Failed reports a collected error event, if any.
func (c *Collector) Failed() (errType, msg string, ok bool) {
	return c.errType, c.errMsg, c.errType != ""
}

// Response folds the collected events into a single message. Tool
// arguments that do not parse as JSON collapse to {}.
func (c *Collector) Response(usage openai.Usage) *anthropic.MessageResponse {
	content := make([]anthropic.ResponseBlock, 0, len(c.order))
	for _, idx := range c.order {
		cb := c.blocks[idx]
		switch cb.kind {
		case "text":
			content = append(content, anthropic.TextBlock(cb.text.String()))
		case "thinking":
			content = append(content, anthropic.ThinkingBlock(cb.text.String()))
		case "tool_use":
			args := cb.args.String()
			if args == "" {
				args = "{}"
			}
			if !json.Valid([]byte(args)) {
				c.log.Warn("replacing malformed tool arguments with empty object",
					"tool", cb.name, "id", cb.id)
				args = "{}"
			}
			content = append(content, anthropic.ToolUseBlock(cb.id, cb.name, json.RawMessage(args)))
		}
	}
	stop := c.stopReason
	if stop == "" {
		stop = "end_turn"
	}
	return &anthropic.MessageResponse{
		ID:         c.msgID,
		Type:       "message",
		Role:       "assistant",
		Model:      c.model,
		Content:    content,
		StopReason: &stop,
		Usage: anthropic.Usage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		},
	}
}
