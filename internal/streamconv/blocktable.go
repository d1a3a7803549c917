package streamconv

import "sort"

// ToolBlock tracks one upstream tool call through its Anthropic block
// lifecycle. Argument bytes that arrive before the call has a name are
// buffered in Pending and flushed once the block can start.
type ToolBlock struct {
	Index   int
	ID      string
	Name    string
	Started bool
	Closed  bool
	Args    []byte
	Pending []byte
}

// BlockTable owns the translator's content-block state: a monotonic
// index counter, at most one open text and one open reasoning block,
// and an arena of tool blocks keyed by upstream tool-call index. It is
// request-local and needs no locking.
type BlockTable struct {
	nextIndex int

	textIdx  int
	textOpen bool

	reasoningIdx  int
	reasoningOpen bool

	tools map[int]*ToolBlock
}

func newBlockTable() BlockTable {
	return BlockTable{tools: make(map[int]*ToolBlock)}
}

// allocIndex hands out the next block index; indices are never reused.
func (bt *BlockTable) allocIndex() int {
	i := bt.nextIndex
	bt.nextIndex++
	return i
}

// tool returns the arena entry for an upstream index, creating an
// unstarted one on first sight.
func (bt *BlockTable) tool(upstreamIdx int) *ToolBlock {
	if tb, ok := bt.tools[upstreamIdx]; ok {
		return tb
	}
	tb := &ToolBlock{Index: -1}
	bt.tools[upstreamIdx] = tb
	return tb
}

// openTools returns started, unclosed tool blocks in the order their
// Anthropic indices were assigned.
func (bt *BlockTable) openTools() []*ToolBlock {
	var open []*ToolBlock
	for _, tb := range bt.tools {
		if tb.Started && !tb.Closed {
			open = append(open, tb)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].Index < open[j].Index })
	return open
}

// unstartedTools reports arena entries that buffered arguments but
// never learned a name.
func (bt *BlockTable) unstartedTools() int {
	n := 0
	for _, tb := range bt.tools {
		if !tb.Started && len(tb.Pending) > 0 {
			n++
		}
	}
	return n
}
