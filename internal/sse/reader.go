// Package sse decodes server-sent event streams incrementally: bytes
// in, framed events out, with no assumption about where chunk
// boundaries fall.
package sse

import (
	"bytes"
)

// Event is one decoded frame. Done marks the "[DONE]" sentinel.
type Event struct {
	Name string
	Data []byte
	Done bool
}

// maxPending caps the line buffer at 64 KiB. A stream that never
// produces a newline cannot grow memory without bound: on overflow the
// oldest half is discarded.
const maxPending = 64 << 10

// Decoder accumulates raw bytes and yields complete events. The zero
// value is ready to use.
type Decoder struct {
	buf         []byte
	eventName   string
	truncations int
}

var (
	dataPrefix  = []byte("data:")
	eventPrefix = []byte("event:")
	doneMarker  = []byte("[DONE]")
)

// Feed appends a chunk and returns every event completed by it.
func (d *Decoder) Feed(p []byte) []Event {
	d.buf = append(d.buf, p...)
	if len(d.buf) > maxPending {
		d.buf = append([]byte(nil), d.buf[len(d.buf)/2:]...)
		d.truncations++
	}

	var events []Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return events
		}
		line := bytes.TrimSuffix(d.buf[:i], []byte("\r"))
		d.buf = d.buf[i+1:]

		switch {
		case len(line) == 0:
			// Blank line terminates the frame.
			d.eventName = ""
		case bytes.HasPrefix(line, dataPrefix):
			payload := bytes.TrimSpace(line[len(dataPrefix):])
			if bytes.Equal(payload, doneMarker) {
				events = append(events, Event{Done: true})
				continue
			}
			events = append(events, Event{
				Name: d.eventName,
				Data: append([]byte(nil), payload...),
			})
		case bytes.HasPrefix(line, eventPrefix):
			d.eventName = string(bytes.TrimSpace(line[len(eventPrefix):]))
		default:
			// id:, retry:, and ":" comments carry nothing we need.
		}
	}
}

// Truncations reports how many times the pending buffer overflowed.
func (d *Decoder) Truncations() int {
	return d.truncations
}
