// Package adapters holds the per-model-family hooks: request shaping
// before dispatch and text post-processing during translation.
package adapters

import (
	"claude-bridge/internal/canonical"
)

// ToolCall is a tool invocation recovered from model text. ID may be
// empty; the stream translator assigns a synthetic one.
type ToolCall struct {
	ID   string
	Name string
	Args string // JSON-serialized argument object
}

// Segment is one ordered piece of processed output: plain text or an
// extracted tool call. Exactly one field is set.
type Segment struct {
	Text string
	Call *ToolCall
}

// Adapter customizes requests and responses for one model family. A
// fresh instance serves each request; implementations may keep
// per-stream state between ProcessTextContent calls.
type Adapter interface {
	Name() string
	// ShouldHandle reports whether this adapter serves the model id.
	ShouldHandle(model string) bool
	// PrepareRequest rewrites the marshaled upstream payload in place.
	PrepareRequest(body []byte, creq *canonical.Request) []byte
	// ProcessTextContent consumes one text delta and returns the
	// segments that are safe to emit now, in order. A streaming-aware
	// implementation may hold text back until a construct completes.
	// The second result reports whether anything was transformed.
	ProcessTextContent(delta, accumulated string) ([]Segment, bool)
	// Flush returns text the adapter was still holding when the stream
	// ended.
	Flush() string
	// Reset clears per-stream state.
	Reset()
}

// Registry selects the adapter for a model id: a first-match scan over
// family constructors, with the identity adapter last.
type Registry struct {
	builders []func() Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		builders: []func() Adapter{
			func() Adapter { return &MiniMax{} },
			func() Adapter { return NewGrok() },
			func() Adapter { return Default{} },
		},
	}
}

// Select returns a fresh adapter for the model id.
func (r *Registry) Select(model string) Adapter {
	for _, build := range r.builders {
		a := build()
		if a.ShouldHandle(model) {
			return a
		}
	}
	return Default{}
}

// Default passes requests and text through untouched.
type Default struct{}

func (Default) Name() string             { return "default" }
func (Default) ShouldHandle(string) bool { return true }
func (Default) Flush() string            { return "" }
func (Default) Reset()                   {}

func (Default) PrepareRequest(body []byte, _ *canonical.Request) []byte { return body }

func (Default) ProcessTextContent(delta, _ string) ([]Segment, bool) {
	return textOnly(delta), false
}

func textOnly(delta string) []Segment {
	if delta == "" {
		return nil
	}
	return []Segment{{Text: delta}}
}
