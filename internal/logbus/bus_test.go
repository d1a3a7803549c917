package logbus

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRingKeepsMostRecent(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Publish(Event{RequestID: fmt.Sprintf("req-%d", i)})
	}
	got := b.Recent()
	if len(got) != 3 {
		t.Fatalf("ring size: %d", len(got))
	}
	for i, want := range []string{"req-2", "req-3", "req-4"} {
		if got[i].RequestID != want {
			t.Fatalf("ring[%d] = %q, want %q", i, got[i].RequestID, want)
		}
	}
}

func TestRecentReturnsCopy(t *testing.T) {
	b := New(3)
	b.Publish(Event{RequestID: "req-0"})
	recent := b.Recent()
	recent[0].RequestID = "mutated"
	if b.Recent()[0].RequestID != "req-0" {
		t.Fatal("Recent should not expose the live ring")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New(2)
	// A subscriber that never drains must not stall publishers.
	ch := make(chan Event)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{RequestID: "req"})
		}
		close(done)
	}()
	<-done
}

func TestServeSSEReplaysRing(t *testing.T) {
	b := New(4)
	b.Publish(Event{RequestID: "req-a", RequestModel: "claude-sonnet-4-5", Status: 200})
	b.Publish(Event{RequestID: "req-b", Status: 502, Error: "upstream returned 502"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("GET", "/debug/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	b.ServeSSE(rec, req)

	body := rec.Body.String()
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type: %q", ct)
	}
	if !strings.Contains(body, `"request_id":"req-a"`) || !strings.Contains(body, `"request_id":"req-b"`) {
		t.Fatalf("snapshot missing events: %q", body)
	}
	if strings.Index(body, "req-a") > strings.Index(body, "req-b") {
		t.Fatal("snapshot should replay oldest first")
	}
	if !strings.Contains(body, "data: {") || !strings.Contains(body, "}\n\n") {
		t.Fatalf("not SSE framed: %q", body)
	}
	// Zero-valued optional fields stay out of the payload.
	if strings.Contains(body, "ttft_ms") {
		t.Fatalf("omitempty fields leaked: %q", body)
	}

	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	if n != 0 {
		t.Fatalf("subscriber not removed on disconnect: %d", n)
	}
}
