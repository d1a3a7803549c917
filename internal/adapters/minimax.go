package adapters

import (
	"strings"

	"github.com/tidwall/sjson"

	"claude-bridge/internal/canonical"
)

// MiniMax rewrites thinking requests onto the family's reasoning_split
// switch; the upstream rejects the thinking object itself.
type MiniMax struct{}

func (*MiniMax) Name() string { return "minimax" }

func (*MiniMax) ShouldHandle(model string) bool {
	return strings.Contains(strings.ToLower(model), "minimax")
}

func (*MiniMax) PrepareRequest(body []byte, creq *canonical.Request) []byte {
	if creq.Thinking == nil {
		return body
	}
	out, err := sjson.SetBytes(body, "reasoning_split", true)
	if err != nil {
		return body
	}
	if out, err = sjson.DeleteBytes(out, "thinking"); err != nil {
		return body
	}
	return out
}

func (*MiniMax) ProcessTextContent(delta, _ string) ([]Segment, bool) {
	return textOnly(delta), false
}

func (*MiniMax) Flush() string { return "" }
func (*MiniMax) Reset()        {}
