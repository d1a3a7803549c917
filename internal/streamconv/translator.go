// Package streamconv translates OpenAI chat-completion output into the
// Anthropic Messages event stream. The Translator consumes chunks one
// at a time and emits events to a Sink; the Collector reuses the same
// path to assemble a non-streaming response.
package streamconv

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"claude-bridge/internal/adapters"
	"claude-bridge/internal/convert"
	"claude-bridge/internal/proto/anthropic"
	"claude-bridge/internal/proto/openai"
)

type state int

const (
	stateNew state = iota
	stateStreaming
	stateEnded
	stateErrored
)

// Translator is the per-request chunk-to-event state machine. It is
// not safe for concurrent use; the dispatcher drives it from a single
// goroutine while the keepalive ping goes through the Sink's own lock.
type Translator struct {
	sink    Sink
	adapter adapters.Adapter
	model   string
	log     *slog.Logger

	msgID      string
	state      state
	blocks     BlockTable
	accum      strings.Builder
	usage      openai.Usage
	stopReason string
	toolSeq    int
	sawTool    bool
}

func New(sink Sink, adapter adapters.Adapter, model string, log *slog.Logger) *Translator {
	return &Translator{
		sink:    sink,
		adapter: adapter,
		model:   model,
		log:     log,
		msgID:   NewMessageID(),
		blocks:  newBlockTable(),
	}
}

// NewMessageID builds a response message id. The non-streaming
// assembler uses the same scheme.
func NewMessageID() string {
	return fmt.Sprintf("msg_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

// Start emits message_start with placeholder usage, then the initial
// ping. It must be called before any chunk is fed.
func (t *Translator) Start() error {
	if t.state != stateNew {
		return nil
	}
	ev := anthropic.MessageStartEvent{
		Type: "message_start",
		Message: anthropic.MessageResponse{
			ID:      t.msgID,
			Type:    "message",
			Role:    "assistant",
			Model:   t.model,
			Content: []anthropic.ResponseBlock{},
		},
	}
	if err := t.sink.Event("message_start", ev); err != nil {
		return err
	}
	if err := t.sink.Event("ping", anthropic.PingEvent{Type: "ping"}); err != nil {
		return err
	}
	t.state = stateStreaming
	return nil
}

// OnData translates one upstream data payload. A payload that does not
// parse as a chunk is logged and skipped; the stream continues.
func (t *Translator) OnData(data []byte) error {
	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		t.log.Warn("skipping malformed upstream chunk", "error", err)
		return nil
	}
	return t.OnChunk(&chunk)
}

// OnChunk applies one parsed chunk to the block state machine.
func (t *Translator) OnChunk(chunk *openai.ChatCompletionChunk) error {
	if t.state != stateStreaming {
		return nil
	}
	if chunk.Usage != nil {
		t.usage = *chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	if rt := reasoningDelta(choice.Delta); rt != "" {
		if err := t.emitReasoning(rt); err != nil {
			return err
		}
	}
	if choice.Delta.Content != "" {
		segs, _ := t.adapter.ProcessTextContent(choice.Delta.Content, t.accum.String())
		t.accum.WriteString(choice.Delta.Content)
		if err := t.emitSegments(segs); err != nil {
			return err
		}
	}
	for i := range choice.Delta.ToolCalls {
		if err := t.onToolDelta(&choice.Delta.ToolCalls[i]); err != nil {
			return err
		}
	}
	if choice.FinishReason != "" {
		t.stopReason = convert.MapFinishReason(choice.FinishReason)
		if err := t.closeAllBlocks(); err != nil {
			return err
		}
	}
	return nil
}

// Finish ends a healthy stream: leftover adapter text is emitted, open
// blocks close in the order they opened, and the trailer goes out as
// message_delta, message_stop, and the [DONE] marker.
func (t *Translator) Finish() error {
	if t.state != stateStreaming {
		return nil
	}
	if rest := t.adapter.Flush(); rest != "" {
		if err := t.emitText(rest); err != nil {
			return err
		}
	}
	if n := t.blocks.unstartedTools(); n > 0 {
		t.log.Warn("dropping tool calls that never received a name", "count", n)
	}
	if err := t.closeAllBlocks(); err != nil {
		return err
	}
	if t.stopReason == "" {
		t.stopReason = "end_turn"
		if t.anyToolStarted() {
			t.stopReason = "tool_use"
		}
	}
	ev := anthropic.MessageDeltaEvent{
		Type:  "message_delta",
		Delta: anthropic.MessageDelta{StopReason: t.stopReason},
		Usage: anthropic.DeltaUsage{OutputTokens: t.usage.CompletionTokens},
	}
	if err := t.sink.Event("message_delta", ev); err != nil {
		return err
	}
	if err := t.sink.Event("message_stop", anthropic.MessageStopEvent{Type: "message_stop"}); err != nil {
		return err
	}
	if err := t.sink.Raw("[DONE]"); err != nil {
		return err
	}
	t.state = stateEnded
	return nil
}

// Expire ends the stream after the request deadline fired with data
// already flowing: the message closes normally but reports max_tokens.
func (t *Translator) Expire() error {
	if t.state != stateStreaming {
		return nil
	}
	t.stopReason = "max_tokens"
	return t.Finish()
}

// Abort surfaces a mid-stream failure. Open blocks are closed on a
// best-effort basis, then a terminal error event goes out in place of
// the normal trailer.
func (t *Translator) Abort(errType, msg string) error {
	if t.state != stateStreaming {
		return nil
	}
	t.state = stateErrored
	if err := t.closeAllBlocks(); err != nil {
		return err
	}
	return t.sink.Event("error", anthropic.ErrorEvent{
		Type:  "error",
		Error: anthropic.ErrorObj{Type: errType, Message: msg},
	})
}

// Usage reports the most recent usage totals seen from upstream.
func (t *Translator) Usage() openai.Usage { return t.usage }

func (t *Translator) emitSegments(segs []adapters.Segment) error {
	for _, seg := range segs {
		if seg.Call != nil {
			if err := t.emitExtractedCall(seg.Call); err != nil {
				return err
			}
			continue
		}
		if err := t.emitText(seg.Text); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) emitText(text string) error {
	if text == "" {
		return nil
	}
	if err := t.closeReasoning(); err != nil {
		return err
	}
	if !t.blocks.textOpen {
		idx := t.blocks.allocIndex()
		t.blocks.textIdx = idx
		t.blocks.textOpen = true
		ev := anthropic.ContentBlockStartEvent{
			Type:         "content_block_start",
			Index:        idx,
			ContentBlock: anthropic.TextBlock(""),
		}
		if err := t.sink.Event("content_block_start", ev); err != nil {
			return err
		}
	}
	return t.sink.Event("content_block_delta", anthropic.ContentBlockDeltaEvent{
		Type:  "content_block_delta",
		Index: t.blocks.textIdx,
		Delta: anthropic.BlockDelta{Type: "text_delta", Text: text},
	})
}

func (t *Translator) emitReasoning(text string) error {
	if !t.blocks.reasoningOpen {
		idx := t.blocks.allocIndex()
		t.blocks.reasoningIdx = idx
		t.blocks.reasoningOpen = true
		ev := anthropic.ContentBlockStartEvent{
			Type:         "content_block_start",
			Index:        idx,
			ContentBlock: anthropic.ThinkingBlock(""),
		}
		if err := t.sink.Event("content_block_start", ev); err != nil {
			return err
		}
	}
	return t.sink.Event("content_block_delta", anthropic.ContentBlockDeltaEvent{
		Type:  "content_block_delta",
		Index: t.blocks.reasoningIdx,
		Delta: anthropic.BlockDelta{Type: "thinking_delta", Thinking: text},
	})
}

// emitExtractedCall emits a complete tool call recovered from model
// text: start, one delta carrying the full arguments, stop.
func (t *Translator) emitExtractedCall(call *adapters.ToolCall) error {
	if err := t.closeText(); err != nil {
		return err
	}
	if err := t.closeReasoning(); err != nil {
		return err
	}
	id := call.ID
	if id == "" {
		id = t.nextToolID()
	}
	args := call.Args
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		t.log.Warn("extracted tool call carries malformed arguments", "tool", call.Name)
	}
	idx := t.blocks.allocIndex()
	start := anthropic.ContentBlockStartEvent{
		Type:         "content_block_start",
		Index:        idx,
		ContentBlock: anthropic.ToolUseBlock(id, call.Name, nil),
	}
	if err := t.sink.Event("content_block_start", start); err != nil {
		return err
	}
	delta := anthropic.ContentBlockDeltaEvent{
		Type:  "content_block_delta",
		Index: idx,
		Delta: anthropic.BlockDelta{Type: "input_json_delta", PartialJSON: args},
	}
	if err := t.sink.Event("content_block_delta", delta); err != nil {
		return err
	}
	t.sawTool = true
	return t.stopBlock(idx)
}

func (t *Translator) onToolDelta(tc *openai.ToolCallDelta) error {
	upstreamIdx := 0
	if tc.Index != nil {
		upstreamIdx = *tc.Index
	}
	tb := t.blocks.tool(upstreamIdx)
	if tb.Closed {
		t.log.Warn("dropping tool delta for a closed block", "index", upstreamIdx)
		return nil
	}
	if tc.ID != "" && tb.ID == "" {
		tb.ID = tc.ID
	}
	var name, args string
	if tc.Function != nil {
		name = tc.Function.Name
		args = tc.Function.Arguments
	}
	if name != "" && tb.Name == "" {
		tb.Name = name
	}
	if !tb.Started {
		// Arguments may arrive before the name; buffer them until the
		// block can start. A call that never gets a name is dropped at
		// stream end.
		if tb.Name == "" {
			if args != "" {
				tb.Pending = append(tb.Pending, args...)
			}
			return nil
		}
		if err := t.startTool(tb); err != nil {
			return err
		}
	}
	if args != "" {
		tb.Args = append(tb.Args, args...)
		return t.sink.Event("content_block_delta", anthropic.ContentBlockDeltaEvent{
			Type:  "content_block_delta",
			Index: tb.Index,
			Delta: anthropic.BlockDelta{Type: "input_json_delta", PartialJSON: args},
		})
	}
	return nil
}

func (t *Translator) startTool(tb *ToolBlock) error {
	if err := t.closeText(); err != nil {
		return err
	}
	if err := t.closeReasoning(); err != nil {
		return err
	}
	if tb.ID == "" {
		tb.ID = t.nextToolID()
	}
	tb.Index = t.blocks.allocIndex()
	tb.Started = true
	t.sawTool = true
	ev := anthropic.ContentBlockStartEvent{
		Type:         "content_block_start",
		Index:        tb.Index,
		ContentBlock: anthropic.ToolUseBlock(tb.ID, tb.Name, nil),
	}
	if err := t.sink.Event("content_block_start", ev); err != nil {
		return err
	}
	if len(tb.Pending) > 0 {
		pending := string(tb.Pending)
		tb.Args = append(tb.Args, tb.Pending...)
		tb.Pending = nil
		return t.sink.Event("content_block_delta", anthropic.ContentBlockDeltaEvent{
			Type:  "content_block_delta",
			Index: tb.Index,
			Delta: anthropic.BlockDelta{Type: "input_json_delta", PartialJSON: pending},
		})
	}
	return nil
}

func (t *Translator) closeText() error {
	if !t.blocks.textOpen {
		return nil
	}
	t.blocks.textOpen = false
	return t.stopBlock(t.blocks.textIdx)
}

func (t *Translator) closeReasoning() error {
	if !t.blocks.reasoningOpen {
		return nil
	}
	t.blocks.reasoningOpen = false
	return t.stopBlock(t.blocks.reasoningIdx)
}

func (t *Translator) closeTool(tb *ToolBlock) error {
	if !tb.Started || tb.Closed {
		return nil
	}
	if len(tb.Args) > 0 && !json.Valid(tb.Args) {
		t.log.Warn("tool call arguments are not valid JSON", "tool", tb.Name, "id", tb.ID)
	}
	tb.Closed = true
	return t.stopBlock(tb.Index)
}

// closeAllBlocks closes every open block in the order the blocks were
// opened, which is index order because indices are handed out at open.
func (t *Translator) closeAllBlocks() error {
	type closer struct {
		idx int
		fn  func() error
	}
	var closers []closer
	if t.blocks.textOpen {
		closers = append(closers, closer{t.blocks.textIdx, t.closeText})
	}
	if t.blocks.reasoningOpen {
		closers = append(closers, closer{t.blocks.reasoningIdx, t.closeReasoning})
	}
	for _, tb := range t.blocks.openTools() {
		tb := tb
		closers = append(closers, closer{tb.Index, func() error { return t.closeTool(tb) }})
	}
	sort.Slice(closers, func(i, j int) bool { return closers[i].idx < closers[j].idx })
	for _, c := range closers {
		if err := c.fn(); err != nil {
			return err
		}
	}
	return nil
}

func (t *Translator) stopBlock(idx int) error {
	return t.sink.Event("content_block_stop", anthropic.ContentBlockStopEvent{
		Type:  "content_block_stop",
		Index: idx,
	})
}

func (t *Translator) anyToolStarted() bool { return t.sawTool }

func (t *Translator) nextToolID() string {
	id := fmt.Sprintf("tool_%d_%d", time.Now().UnixMilli(), t.toolSeq)
	t.toolSeq++
	return id
}

func reasoningDelta(d openai.ChunkDelta) string {
	if d.ReasoningContent != "" {
		return d.ReasoningContent
	}
	return d.Thinking
}
