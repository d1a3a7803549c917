package adapters

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Some families ignore tool_calls formatting instructions and write
// their invocations as XML inside regular text:
//
//	<function_calls>
//	<invoke name="bash">
//	<parameter name="command">ls</parameter>
//	</invoke>
//	</function_calls>
//
// XMLToolParser recovers those as structured tool calls while the text
// is still streaming. Text ahead of a block is released immediately;
// once a (possibly partial) opening tag appears, everything from the
// tag onward is held until the block completes or the stream ends.
type XMLToolParser struct {
	pending string
}

const (
	xmlOpenTag  = "<function_calls>"
	xmlCloseTag = "</function_calls>"
)

var (
	invokePattern    = regexp.MustCompile(`(?s)<invoke\s+name="([^"]+)"\s*>(.*?)</invoke>`)
	parameterPattern = regexp.MustCompile(`(?s)<parameter\s+name="([^"]+)"\s*>(.*?)</parameter>`)
)

func NewXMLToolParser() *XMLToolParser {
	return &XMLToolParser{}
}

// Process consumes one text delta and returns the segments that are
// safe to emit now.
func (p *XMLToolParser) Process(delta string) ([]Segment, bool) {
	p.pending += delta

	var (
		segments    []Segment
		transformed bool
	)
	for {
		open := strings.Index(p.pending, xmlOpenTag)
		if open < 0 {
			// No opening tag; release everything except a suffix that
			// could still grow into one.
			keep := partialTagLen(p.pending, xmlOpenTag)
			if release := p.pending[:len(p.pending)-keep]; release != "" {
				segments = append(segments, Segment{Text: release})
			}
			p.pending = p.pending[len(p.pending)-keep:]
			return segments, transformed
		}

		rel := strings.Index(p.pending[open:], xmlCloseTag)
		if rel < 0 {
			// Block still open: release pre-text, hold the rest.
			if open > 0 {
				segments = append(segments, Segment{Text: p.pending[:open]})
				p.pending = p.pending[open:]
			}
			return segments, transformed
		}
		end := open + rel + len(xmlCloseTag)

		if pre := p.pending[:open]; pre != "" {
			segments = append(segments, Segment{Text: pre})
		}
		block := p.pending[open:end]
		p.pending = p.pending[end:]

		calls := parseInvocations(block)
		if len(calls) == 0 {
			// Complete but unparseable: surface verbatim, never repair.
			segments = append(segments, Segment{Text: block})
			continue
		}
		transformed = true
		for i := range calls {
			segments = append(segments, Segment{Call: &calls[i]})
		}
	}
}

// Flush returns held-back text once the stream has ended; an
// unterminated block surfaces as plain text.
func (p *XMLToolParser) Flush() string {
	out := p.pending
	p.pending = ""
	return out
}

func (p *XMLToolParser) Reset() {
	p.pending = ""
}

// parseInvocations extracts the <invoke> elements of one complete
// block. Nothing is returned when no invocation carries a name.
func parseInvocations(block string) []ToolCall {
	var calls []ToolCall
	for _, m := range invokePattern.FindAllStringSubmatch(block, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" {
			continue
		}
		args := make(map[string]any)
		for _, pm := range parameterPattern.FindAllStringSubmatch(m[2], -1) {
			args[pm[1]] = parameterValue(pm[2])
		}
		encoded, err := json.Marshal(args)
		if err != nil {
			continue
		}
		calls = append(calls, ToolCall{Name: name, Args: string(encoded)})
	}
	return calls
}

// parameterValue keeps values as strings except when the model already
// wrote structured JSON (arrays and objects passed as text).
func parameterValue(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var structured any
		if err := json.Unmarshal([]byte(trimmed), &structured); err == nil {
			return structured
		}
	}
	return raw
}

// partialTagLen reports the length of the longest suffix of s that is
// a proper prefix of tag, so split tags survive chunk boundaries.
func partialTagLen(s, tag string) int {
	max := len(tag) - 1
	if len(s) < max {
		max = len(s)
	}
	for i := max; i >= 1; i-- {
		if strings.HasSuffix(s, tag[:i]) {
			return i
		}
	}
	return 0
}
