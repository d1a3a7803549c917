package streamconv

import (
	"testing"

	"claude-bridge/internal/adapters"
	"claude-bridge/internal/proto/anthropic"
	"claude-bridge/internal/proto/openai"
)

func TestCollectorFoldsTranslatedStream(t *testing.T) {
	c := NewCollector(testLogger())
	tr := New(c, adapters.Default{}, "claude-sonnet-4-5", testLogger())
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	feed(t, tr,
		`{"id":"c1","choices":[{"index":0,"delta":{"content":"Checking"}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{"content":" now."}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":"{\"location\":"}}]}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"SF\"}"}}]}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":20,"completion_tokens":11}}`,
	)
	if err := tr.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	resp := c.Response(tr.Usage())
	if resp.ID == "" || resp.Model != "claude-sonnet-4-5" || resp.Role != "assistant" {
		t.Fatalf("unexpected envelope: %#v", resp)
	}
	if len(resp.Content) != 2 {
		t.Fatalf("expected 2 content blocks, got %#v", resp.Content)
	}
	if resp.Content[0].Type != "text" || *resp.Content[0].Text != "Checking now." {
		t.Fatalf("unexpected text block: %#v", resp.Content[0])
	}
	tool := resp.Content[1]
	if tool.Type != "tool_use" || tool.ID != "call_1" || tool.Name != "get_weather" {
		t.Fatalf("unexpected tool block: %#v", tool)
	}
	if string(tool.Input) != `{"location":"SF"}` {
		t.Fatalf("split arguments should reassemble, got %s", tool.Input)
	}
	if resp.StopReason == nil || *resp.StopReason != "tool_use" {
		t.Fatalf("unexpected stop_reason: %#v", resp.StopReason)
	}
	if resp.Usage.InputTokens != 20 || resp.Usage.OutputTokens != 11 {
		t.Fatalf("unexpected usage: %#v", resp.Usage)
	}
}

func TestCollectorReplacesMalformedToolArguments(t *testing.T) {
	c := NewCollector(testLogger())
	_ = c.Event("content_block_start", anthropic.ContentBlockStartEvent{
		Type:         "content_block_start",
		Index:        0,
		ContentBlock: anthropic.ToolUseBlock("call_1", "search", nil),
	})
	_ = c.Event("content_block_delta", anthropic.ContentBlockDeltaEvent{
		Type:  "content_block_delta",
		Index: 0,
		Delta: anthropic.BlockDelta{Type: "input_json_delta", PartialJSON: `{"broken":`},
	})

	resp := c.Response(openai.Usage{})
	if len(resp.Content) != 1 || string(resp.Content[0].Input) != "{}" {
		t.Fatalf("malformed arguments should collapse to {}: %#v", resp.Content)
	}
}

func TestCollectorDefaultsStopReason(t *testing.T) {
	c := NewCollector(testLogger())
	resp := c.Response(openai.Usage{})
	if resp.StopReason == nil || *resp.StopReason != "end_turn" {
		t.Fatalf("missing default stop_reason: %#v", resp.StopReason)
	}
	if resp.Content == nil || len(resp.Content) != 0 {
		t.Fatalf("content should be an empty array, got %#v", resp.Content)
	}
}

func TestCollectorReportsAbort(t *testing.T) {
	c := NewCollector(testLogger())
	tr := New(c, adapters.Default{}, "m", testLogger())
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := tr.Abort("upstream_error", "boom"); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	typ, msg, ok := c.Failed()
	if !ok || typ != "upstream_error" || msg != "boom" {
		t.Fatalf("Failed: %q %q %v", typ, msg, ok)
	}
}
