package adapters

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"

	"claude-bridge/internal/canonical"
)

func TestGrokShouldHandle(t *testing.T) {
	g := NewGrok()
	for _, model := range []string{"grok-4", "x-ai/grok-code-fast-1", "Grok-2"} {
		if !g.ShouldHandle(model) {
			t.Fatalf("should handle %q", model)
		}
	}
	if g.ShouldHandle("gpt-4o") {
		t.Fatal("should not handle gpt-4o")
	}
}

func TestGrokInjectsSystemNote(t *testing.T) {
	g := NewGrok()
	body := []byte(`{"model":"grok-4","messages":[{"role":"user","content":"hi"}],"tools":[{"type":"function"}]}`)
	creq := &canonical.Request{Tools: []canonical.Tool{{Name: "f"}}}

	out := g.PrepareRequest(body, creq)
	msgs := gjson.GetBytes(out, "messages").Array()
	if len(msgs) != 2 {
		t.Fatalf("expected injected note plus original message, got %s", out)
	}
	if msgs[0].Get("role").String() != "system" {
		t.Fatalf("note should lead the conversation: %s", out)
	}
	if !strings.Contains(msgs[0].Get("content").String(), "tool_calls") {
		t.Fatalf("note should steer toward tool_calls: %s", out)
	}
	if msgs[1].Get("content").String() != "hi" {
		t.Fatalf("original message should be untouched: %s", out)
	}
}

func TestGrokLeavesToollessRequestsAlone(t *testing.T) {
	g := NewGrok()
	body := []byte(`{"model":"grok-4","messages":[{"role":"user","content":"hi"}]}`)
	out := g.PrepareRequest(body, &canonical.Request{})
	if string(out) != string(body) {
		t.Fatalf("request without tools should pass through: %s", out)
	}
}

func TestWithXMLTools(t *testing.T) {
	wrapped := WithXMLTools(Default{})
	segs, transformed := wrapped.ProcessTextContent(
		"<function_calls><invoke name=\"f\"></invoke></function_calls>", "")
	if !transformed || len(segs) != 1 || segs[0].Call == nil || segs[0].Call.Name != "f" {
		t.Fatalf("wrapped adapter should extract XML calls: %#v", segs)
	}

	g := NewGrok()
	if WithXMLTools(g) != g {
		t.Fatal("an adapter that already extracts should not be double-wrapped")
	}
	if WithXMLTools(wrapped) != wrapped {
		t.Fatal("wrapping twice should be a no-op")
	}
}

func TestRegistrySelect(t *testing.T) {
	r := NewRegistry()
	if got := r.Select("MiniMax-M2").Name(); got != "minimax" {
		t.Fatalf("minimax model routed to %q", got)
	}
	if got := r.Select("x-ai/grok-4").Name(); got != "grok" {
		t.Fatalf("grok model routed to %q", got)
	}
	if got := r.Select("gpt-4o-mini").Name(); got != "default" {
		t.Fatalf("unknown model routed to %q", got)
	}
}
