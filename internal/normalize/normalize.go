// Package normalize turns a decoded Anthropic create-message request
// into the canonical form the upstream builders consume, reporting any
// parameters that were dropped along the way.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"claude-bridge/internal/apierr"
	"claude-bridge/internal/canonical"
	"claude-bridge/internal/proto/anthropic"
)

// Capabilities describes what the resolved upstream can accept.
type Capabilities struct {
	Tools     bool
	Streaming bool
	Images    bool
}

// FromWire validates and converts a wire request. The returned dropped
// list names parameters and content kinds the target cannot carry; the
// dispatcher advertises it via the X-Dropped-Params header.
func FromWire(req *anthropic.MessageCreateRequest, caps Capabilities) (*canonical.Request, []string, error) {
	creq := &canonical.Request{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSeqs,
		Stream:        req.Stream,
	}
	var dropped []string

	system, err := systemSegments(req.System)
	if err != nil {
		return nil, nil, err
	}
	creq.System = system

	if req.Thinking != nil {
		creq.Thinking = &canonical.Thinking{BudgetTokens: req.Thinking.BudgetTokens}
	}
	if req.TopK != nil {
		dropped = addDropped(dropped, "top_k")
	}
	if len(req.Metadata) > 0 {
		dropped = addDropped(dropped, "metadata")
	}

	if len(req.Messages) == 0 {
		return nil, nil, apierr.New(apierr.KindInvalidRequest, "messages: must not be empty")
	}

	// Conversation-wide tool_use ids, for validating tool_result links.
	seenToolUse := make(map[string]bool)
	for i, m := range req.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			return nil, nil, apierr.New(apierr.KindInvalidRequest, "messages[%d].role: unknown role %q", i, m.Role)
		}
		blocks, err := contentBlocks(i, m, seenToolUse, caps, &dropped)
		if err != nil {
			return nil, nil, err
		}
		creq.Messages = append(creq.Messages, canonical.Message{Role: m.Role, Blocks: blocks})
	}

	if len(req.Tools) > 0 {
		if !caps.Tools {
			dropped = addDropped(dropped, "tools")
		} else {
			for i, t := range req.Tools {
				if strings.TrimSpace(t.Name) == "" {
					return nil, nil, apierr.New(apierr.KindInvalidRequest, "tools[%d].name: must not be empty", i)
				}
				creq.Tools = append(creq.Tools, canonical.Tool{
					Name:        t.Name,
					Description: t.Description,
					InputSchema: t.InputSchema,
				})
			}
			tc, err := toolChoice(req.ToolChoice)
			if err != nil {
				return nil, nil, err
			}
			creq.ToolChoice = tc
		}
	}

	return creq, dropped, nil
}

// systemSegments flattens the string-or-array system field.
func systemSegments(v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	case []any:
		out := make([]string, 0, len(s))
		for i, item := range s {
			seg, ok := item.(map[string]any)
			if !ok {
				return nil, apierr.New(apierr.KindInvalidRequest, "system[%d]: expected text segment object", i)
			}
			text, ok := seg["text"].(string)
			if !ok {
				return nil, apierr.New(apierr.KindInvalidRequest, "system[%d].text: missing or not a string", i)
			}
			out = append(out, text)
		}
		return out, nil
	default:
		return nil, apierr.New(apierr.KindInvalidRequest, "system: expected string or array of text segments")
	}
}

func contentBlocks(msgIdx int, m anthropic.Message, seenToolUse map[string]bool, caps Capabilities, dropped *[]string) ([]canonical.Block, error) {
	// String content coerces to a single text block.
	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		return []canonical.Block{canonical.Text(asString)}, nil
	}

	var wire []anthropic.ContentBlock
	if err := json.Unmarshal(m.Content, &wire); err != nil {
		return nil, apierr.New(apierr.KindInvalidRequest, "messages[%d].content: expected string or array of blocks", msgIdx)
	}

	var (
		blocks       []canonical.Block
		turnToolUses = make(map[string]bool)
		turnResults  = make(map[string]bool)
	)
	for j, b := range wire {
		path := fmt.Sprintf("messages[%d].content[%d]", msgIdx, j)
		switch b.Type {
		case "text":
			blocks = append(blocks, canonical.Text(b.Text))
		case "thinking":
			if m.Role != "assistant" {
				return nil, apierr.New(apierr.KindInvalidRequest, "%s: thinking blocks belong to assistant turns", path)
			}
			if b.Thinking != "" {
				blocks = append(blocks, canonical.ThinkingText(b.Thinking))
			}
		case "image":
			if m.Role != "user" {
				return nil, apierr.New(apierr.KindInvalidRequest, "%s: image blocks belong to user turns", path)
			}
			if !caps.Images {
				*dropped = addDropped(*dropped, "images")
				continue
			}
			if b.Source == nil || b.Source.Type != "base64" {
				return nil, apierr.New(apierr.KindInvalidRequest, "%s.source: only base64 images are supported", path)
			}
			if b.Source.MediaType == "" || b.Source.Data == "" {
				return nil, apierr.New(apierr.KindInvalidRequest, "%s.source: media_type and data are required", path)
			}
			blocks = append(blocks, canonical.Image(b.Source.MediaType, b.Source.Data))
		case "tool_use":
			if m.Role != "assistant" {
				return nil, apierr.New(apierr.KindInvalidRequest, "%s: tool_use blocks belong to assistant turns", path)
			}
			if strings.TrimSpace(b.ID) == "" || strings.TrimSpace(b.Name) == "" {
				return nil, apierr.New(apierr.KindInvalidRequest, "%s: tool_use requires id and name", path)
			}
			if turnToolUses[b.ID] {
				continue // duplicate id within the turn, first wins
			}
			turnToolUses[b.ID] = true
			seenToolUse[b.ID] = true
			blocks = append(blocks, canonical.ToolUse(b.ID, b.Name, b.Input))
		case "tool_result":
			if m.Role != "user" {
				return nil, apierr.New(apierr.KindInvalidRequest, "%s: tool_result blocks belong to user turns", path)
			}
			if strings.TrimSpace(b.ToolUseID) == "" {
				return nil, apierr.New(apierr.KindInvalidRequest, "%s.tool_use_id: must not be empty", path)
			}
			if !seenToolUse[b.ToolUseID] {
				return nil, apierr.New(apierr.KindInvalidRequest, "%s.tool_use_id: %q does not match any earlier tool_use", path, b.ToolUseID)
			}
			if turnResults[b.ToolUseID] {
				continue // duplicate result within the turn, first wins
			}
			turnResults[b.ToolUseID] = true
			blocks = append(blocks, canonical.ToolResult(b.ToolUseID, resultText(b.Content), b.IsError))
		default:
			return nil, apierr.New(apierr.KindInvalidRequest, "%s.type: unknown block type %q", path, b.Type)
		}
	}
	return blocks, nil
}

// resultText serializes a tool_result payload: plain strings pass
// through, text-block arrays are joined, anything else stays JSON.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []anthropic.ContentBlock
	if err := json.Unmarshal(raw, &parts); err == nil {
		var b strings.Builder
		textOnly := true
		for _, p := range parts {
			if p.Type != "text" {
				textOnly = false
				break
			}
			b.WriteString(p.Text)
		}
		if textOnly {
			return b.String()
		}
	}
	return string(raw)
}

func toolChoice(raw json.RawMessage) (*canonical.ToolChoice, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tc struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil, apierr.New(apierr.KindInvalidRequest, "tool_choice: %v", err)
	}
	switch tc.Type {
	case "auto", "none", "any":
		return &canonical.ToolChoice{Mode: tc.Type}, nil
	case "tool":
		if strings.TrimSpace(tc.Name) == "" {
			return nil, apierr.New(apierr.KindInvalidRequest, "tool_choice.name: required when type is \"tool\"")
		}
		return &canonical.ToolChoice{Mode: "tool", Name: tc.Name}, nil
	default:
		return nil, apierr.New(apierr.KindInvalidRequest, "tool_choice.type: unknown value %q", tc.Type)
	}
}

func addDropped(dropped []string, name string) []string {
	for _, d := range dropped {
		if d == name {
			return dropped
		}
	}
	return append(dropped, name)
}
