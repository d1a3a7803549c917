package convert

import (
	"encoding/json"

	"claude-bridge/internal/proto/anthropic"
	"claude-bridge/internal/proto/openai"
)

// ResponseToAnthropic converts a complete (non-streamed) chat
// completion into an Anthropic message response. Used for upstreams
// that cannot stream.
func ResponseToAnthropic(resp *openai.ChatCompletionsResponse, msgID, model string) *anthropic.MessageResponse {
	out := &anthropic.MessageResponse{
		ID:      msgID,
		Type:    "message",
		Role:    "assistant",
		Model:   model,
		Content: []anthropic.ResponseBlock{},
	}

	stopReason := "end_turn"
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.ReasoningContent != "" {
			out.Content = append(out.Content, anthropic.ThinkingBlock(choice.Message.ReasoningContent))
		}
		if choice.Message.Content != "" {
			out.Content = append(out.Content, anthropic.TextBlock(choice.Message.Content))
		}
		for _, tc := range choice.Message.ToolCalls {
			input := json.RawMessage(tc.Function.Arguments)
			if !json.Valid(input) || len(input) == 0 {
				input = json.RawMessage("{}")
			}
			out.Content = append(out.Content, anthropic.ToolUseBlock(tc.ID, tc.Function.Name, input))
		}
		if choice.FinishReason != "" {
			stopReason = MapFinishReason(choice.FinishReason)
		} else if len(choice.Message.ToolCalls) > 0 {
			stopReason = "tool_use"
		}
	}
	out.StopReason = &stopReason

	if resp.Usage != nil {
		out.Usage = anthropic.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return out
}

// MapFinishReason maps an OpenAI finish_reason onto an Anthropic stop
// reason.
func MapFinishReason(reason string) string {
	switch reason {
	case "stop", "end_turn":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}
