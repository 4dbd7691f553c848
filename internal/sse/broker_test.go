package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/ordo/internal/engine"
	"github.com/starford/ordo/internal/models"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "run.summary", Data: map[string]string{"path": "a.md"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: run.summary") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.md"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestObserve_ProgressThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	action := &models.Action{Kind: models.ActionMove, Source: "/r/a.txt", Destination: "/r/T/a.txt"}
	// First event should trigger progress.
	b.Observe(engine.Event{Type: engine.EventActionTaken, SessionID: "s1", Path: "/r/a.txt", Action: action})
	// Following events immediately should NOT trigger another progress.
	b.Observe(engine.Event{Type: engine.EventCandidateProcessed, Path: "/r/b.md", State: "unmatched"})
	b.Observe(engine.Event{Type: engine.EventCandidateProcessed, Path: "/r/c.txt", State: "failed", Reason: "io"})

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	counts := map[string]int{}
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			kind := strings.TrimPrefix(strings.SplitN(s, "\n", 2)[0], "event: ")
			counts[kind]++
			if kind == "progress" && !strings.Contains(s, `"processed":1`) {
				t.Errorf("unexpected progress payload %q", s)
			}
		default:
			break loop
		}
	}

	want := map[string]int{"action.taken": 1, "progress": 1, "candidate.failed": 1}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("%s events = %d, want %d", k, counts[k], n)
		}
	}
}

func TestObserve_SummaryResetsProgress(t *testing.T) {
	b := NewBroker(time.Nanosecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Observe(engine.Event{Type: engine.EventCandidateProcessed, Path: "/r/a", State: "skipped"})
	b.Observe(engine.Event{Type: engine.EventSummary, SessionID: "s1", Summary: &engine.Totals{Scanned: 1}})
	time.Sleep(5 * time.Millisecond)
	b.Observe(engine.Event{Type: engine.EventCandidateProcessed, Path: "/r/b", State: "skipped"})

	var got []string
	for len(got) < 3 {
		select {
		case msg := <-ch:
			got = append(got, string(msg))
		case <-time.After(time.Second):
			t.Fatalf("timeout, got %d messages", len(got))
		}
	}
	if !strings.HasPrefix(got[1], "event: run.summary") || !strings.Contains(got[1], `"scanned":1`) {
		t.Errorf("second message = %q, want run.summary", got[1])
	}
	if !strings.Contains(got[2], `"processed":1`) {
		t.Errorf("progress after summary not reset: %q", got[2])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "action.taken", Data: map[string]string{"path": "x.md"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: action.taken") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "action.taken", Data: map[string]string{"path": "x.md"}})
	b.Observe(engine.Event{Type: engine.EventSummary})
}
