package streamconv

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"claude-bridge/internal/proto/anthropic"
)

// Sink consumes translated Anthropic events. The streaming Writer
// renders them as SSE frames; the Collector assembles them into a
// single response for non-streaming requests.
type Sink interface {
	// Event emits one named event with a JSON payload.
	Event(name string, payload any) error
	// Raw emits a bare data line, used for the terminal [DONE] marker.
	Raw(line string) error
}

// Writer renders events as server-sent events on an HTTP response.
// A mutex guards each frame so the keepalive ping can fire from a
// separate goroutine without ever splitting a frame.
type Writer struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	last    time.Time
}

// NewWriter wraps an HTTP response for SSE output. The caller must
// have set the SSE headers and status before the first write.
func NewWriter(w http.ResponseWriter) *Writer {
	sw := &Writer{w: w, last: time.Now()}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

func (sw *Writer) Event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	sw.flush()
	return nil
}

func (sw *Writer) Raw(line string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", line); err != nil {
		return err
	}
	sw.flush()
	return nil
}

// Ping emits a keepalive ping event. Callers should skip it when
// IdleFor reports recent traffic.
func (sw *Writer) Ping() error {
	return sw.Event("ping", anthropic.PingEvent{Type: "ping"})
}

// IdleFor reports how long ago the last frame was written.
func (sw *Writer) IdleFor() time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return time.Since(sw.last)
}

func (sw *Writer) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	sw.last = time.Now()
}
