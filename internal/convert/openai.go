// Package convert builds OpenAI chat-completions payloads from the
// canonical request model and converts complete OpenAI responses back
// into Anthropic message responses.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"claude-bridge/internal/apierr"
	"claude-bridge/internal/canonical"
	"claude-bridge/internal/proto/openai"
)

// BuildChatRequest produces the upstream payload for a canonical
// request. The stream flag is set by the dispatcher, not taken from the
// client: non-streaming client requests still stream upstream.
func BuildChatRequest(creq *canonical.Request, stream bool) (*openai.ChatCompletionsRequest, error) {
	out := &openai.ChatCompletionsRequest{
		Model:       creq.Model,
		Temperature: creq.Temperature,
		TopP:        creq.TopP,
		Stop:        creq.StopSequences,
		Stream:      stream,
	}
	if creq.MaxTokens > 0 {
		mt := creq.MaxTokens
		out.MaxTokens = &mt
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if creq.Thinking != nil {
		thinking, _ := json.Marshal(map[string]any{
			"type":          "enabled",
			"budget_tokens": creq.Thinking.BudgetTokens,
		})
		out.Thinking = thinking
	}

	if system := strings.Join(creq.System, "\n\n"); system != "" {
		if IsClaudeClientPrompt(system) {
			system = ApplyIdentityFilter(system)
		}
		out.Messages = append(out.Messages, openai.ChatMessage{Role: "system", Content: system})
	}

	for i, m := range creq.Messages {
		msgs, err := convertMessage(m)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		out.Messages = append(out.Messages, msgs...)
	}

	for _, t := range creq.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  stripURIFormat(t.InputSchema),
			},
		})
	}
	if tc := convertToolChoice(creq.ToolChoice); tc != nil {
		out.ToolChoice = tc
	}

	return out, nil
}

// convertMessage expands one canonical turn into one or more OpenAI
// messages. Tool results become role:"tool" messages ahead of the
// remaining user content so they sit directly after the assistant turn
// that issued the calls.
func convertMessage(m canonical.Message) ([]openai.ChatMessage, error) {
	var (
		textParts      []string
		reasoningParts []string
		contentParts   []openai.ContentPart
		hasImage       bool
		toolCalls      []openai.ToolCall
		toolMessages   []openai.ChatMessage
	)

	for _, b := range m.Blocks {
		switch b.Type {
		case canonical.BlockText:
			if b.Text != "" {
				textParts = append(textParts, b.Text)
				contentParts = append(contentParts, openai.ContentPart{Type: "text", Text: b.Text})
			}
		case canonical.BlockThinking:
			reasoningParts = append(reasoningParts, b.Text)
		case canonical.BlockImage:
			hasImage = true
			contentParts = append(contentParts, openai.ContentPart{
				Type:     "image_url",
				ImageURL: &openai.ImageURL{URL: "data:" + b.MediaType + ";base64," + b.Data},
			})
		case canonical.BlockToolUse:
			args := b.Input
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:   b.ToolID,
				Type: "function",
				Function: openai.FunctionCall{
					Name:      b.ToolName,
					Arguments: string(args),
				},
			})
		case canonical.BlockToolResult:
			toolMessages = append(toolMessages, openai.ChatMessage{
				Role:       "tool",
				ToolCallID: b.ToolUseID,
				Content:    b.Result,
			})
		default:
			return nil, apierr.New(apierr.KindInvalidRequest, "unsupported block type %d", b.Type)
		}
	}

	var content any
	switch {
	case hasImage:
		content = contentParts
	case len(textParts) > 0:
		content = strings.Join(textParts, "")
	default:
		content = nil
	}

	var out []openai.ChatMessage
	switch m.Role {
	case "user":
		out = append(out, toolMessages...)
		if content != nil {
			out = append(out, openai.ChatMessage{Role: "user", Content: content})
		}
	case "assistant":
		out = append(out, openai.ChatMessage{
			Role:             "assistant",
			Content:          content,
			ReasoningContent: strings.Join(reasoningParts, ""),
			ToolCalls:        toolCalls,
		})
	default:
		return nil, apierr.New(apierr.KindInvalidRequest, "unsupported role %q", m.Role)
	}
	return out, nil
}

func convertToolChoice(tc *canonical.ToolChoice) json.RawMessage {
	if tc == nil {
		return nil
	}
	switch tc.Mode {
	case "auto":
		return json.RawMessage(`"auto"`)
	case "none":
		return json.RawMessage(`"none"`)
	case "any":
		return json.RawMessage(`"required"`)
	case "tool":
		raw, _ := json.Marshal(map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Name},
		})
		return raw
	default:
		return nil
	}
}

// stripURIFormat removes every "format":"uri" annotation from a JSON
// schema tree; several upstreams reject the annotation outright.
func stripURIFormat(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return schema
	}
	var tree any
	if err := json.Unmarshal(schema, &tree); err != nil {
		return schema
	}
	stripped := stripURIFormatValue(tree)
	out, err := json.Marshal(stripped)
	if err != nil {
		return schema
	}
	return out
}

func stripURIFormatValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if k == "format" {
				if s, ok := val.(string); ok && s == "uri" {
					delete(t, k)
					continue
				}
			}
			t[k] = stripURIFormatValue(val)
		}
		return t
	case []any:
		for i := range t {
			t[i] = stripURIFormatValue(t[i])
		}
		return t
	default:
		return v
	}
}
