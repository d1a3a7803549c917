package adapters

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"claude-bridge/internal/canonical"
)

// Grok models tend to write tool invocations as XML text instead of
// tool_calls. The adapter pushes back on both ends: a system note
// steering the model toward tool_calls on the way out, and XML
// extraction on the way back for when the note is ignored.
type Grok struct {
	xml *XMLToolParser
}

const grokToolNote = "When you need to call a tool, respond with the native tool_calls mechanism. " +
	"Never write tool invocations as XML tags or plain text inside your reply."

func NewGrok() *Grok {
	return &Grok{xml: NewXMLToolParser()}
}

func (*Grok) Name() string { return "grok" }

func (*Grok) ShouldHandle(model string) bool {
	lower := strings.ToLower(model)
	return strings.Contains(lower, "grok") || strings.Contains(lower, "x-ai")
}

func (g *Grok) PrepareRequest(body []byte, creq *canonical.Request) []byte {
	if len(creq.Tools) == 0 {
		return body
	}
	note, err := json.Marshal(map[string]string{"role": "system", "content": grokToolNote})
	if err != nil {
		return body
	}
	messages := gjson.GetBytes(body, "messages")
	var rebuilt string
	if messages.Exists() && messages.IsArray() && len(messages.Array()) > 0 {
		rebuilt = "[" + string(note) + "," + messages.Raw[1:]
	} else {
		rebuilt = "[" + string(note) + "]"
	}
	out, err := sjson.SetRawBytes(body, "messages", []byte(rebuilt))
	if err != nil {
		return body
	}
	return out
}

func (g *Grok) ProcessTextContent(delta, _ string) ([]Segment, bool) {
	return g.xml.Process(delta)
}

func (g *Grok) Flush() string { return g.xml.Flush() }
func (g *Grok) Reset()        { g.xml.Reset() }

// WithXMLTools wraps any adapter with XML tool-call extraction, for
// model table entries flagged tool_style "xml". Adapters that already
// extract are returned unchanged.
func WithXMLTools(inner Adapter) Adapter {
	if _, ok := inner.(*Grok); ok {
		return inner
	}
	if _, ok := inner.(*xmlWrapped); ok {
		return inner
	}
	return &xmlWrapped{Adapter: inner, xml: NewXMLToolParser()}
}

type xmlWrapped struct {
	Adapter
	xml *XMLToolParser
}

func (w *xmlWrapped) ProcessTextContent(delta, _ string) ([]Segment, bool) {
	return w.xml.Process(delta)
}

func (w *xmlWrapped) Flush() string { return w.xml.Flush() }

func (w *xmlWrapped) Reset() {
	w.xml.Reset()
	w.Adapter.Reset()
}
