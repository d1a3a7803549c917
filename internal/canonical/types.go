// Package canonical is the internal request model every inbound request
// is normalized into before an upstream payload is built from it.
package canonical

import "encoding/json"

type Request struct {
	Model         string
	System        []string
	Messages      []Message
	Tools         []Tool
	ToolChoice    *ToolChoice
	MaxTokens     int
	Temperature   *float64
	TopP          *float64
	StopSequences []string
	Stream        bool
	Thinking      *Thinking
}

type Thinking struct {
	BudgetTokens int
}

type Message struct {
	Role   string // "user" | "assistant"
	Blocks []Block
}

// BlockType tags the closed set of canonical content blocks.
type BlockType int

const (
	BlockText BlockType = iota
	BlockThinking
	BlockImage
	BlockToolUse
	BlockToolResult
)

// Block is a tagged variant; only the fields of its Type are set.
type Block struct {
	Type BlockType

	// BlockText and BlockThinking
	Text string

	// BlockImage
	MediaType string
	Data      string

	// BlockToolUse
	ToolID   string
	ToolName string
	Input    json.RawMessage

	// BlockToolResult
	ToolUseID string
	Result    string
	IsError   bool
}

func Text(s string) Block {
	return Block{Type: BlockText, Text: s}
}

// ThinkingText is a replayed assistant reasoning block; the builder
// forwards it as reasoning_content.
func ThinkingText(s string) Block {
	return Block{Type: BlockThinking, Text: s}
}

func Image(mediaType, data string) Block {
	return Block{Type: BlockImage, MediaType: mediaType, Data: data}
}

func ToolUse(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ToolID: id, ToolName: name, Input: input}
}

func ToolResult(toolUseID, result string, isError bool) Block {
	return Block{Type: BlockToolResult, ToolUseID: toolUseID, Result: result, IsError: isError}
}

type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolChoice mirrors Anthropic's auto/none/tool selector.
type ToolChoice struct {
	Mode string // "auto" | "none" | "tool"
	Name string // set when Mode == "tool"
}
