package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/stormfeed/stormfeed/internal/event"
	"github.com/stormfeed/stormfeed/internal/store"
)

// nextDataLine reads SSE lines until a data payload arrives, skipping
// blanks and comment heartbeats.
func nextDataLine(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			return []byte(payload)
		}
		t.Fatalf("unexpected stream line: %q", line)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionHistoryThenLive(t *testing.T) {
	st := store.New(100)
	for i := 0; i < 50; i++ {
		st.Record(event.Event{ID: fmt.Sprintf("h%d", i), Lat: 1, Lon: 2, TimeMs: int64(i)})
	}

	bc := NewBroadcaster("lightning", zap.NewNop())
	h := NewSSEHandler("lightning", st, bc, 50, zap.NewNop())
	h.heartbeat = 50 * time.Millisecond

	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("got content type %q, want text/event-stream", got)
	}

	reader := bufio.NewReader(resp.Body)

	var conn connectedMessage
	if err := json.Unmarshal(nextDataLine(t, reader), &conn); err != nil {
		t.Fatalf("decoding connected message: %v", err)
	}
	if conn.Type != "connected" || conn.ClientID == "" {
		t.Fatalf("unexpected connected message: %+v", conn)
	}

	var hist historyMessage
	if err := json.Unmarshal(nextDataLine(t, reader), &hist); err != nil {
		t.Fatalf("decoding history message: %v", err)
	}
	if hist.Type != "history" {
		t.Fatalf("expected history message, got %+v", hist)
	}
	if len(hist.Events) != 50 {
		t.Fatalf("expected 50 history events, got %d", len(hist.Events))
	}
	historyIDs := make(map[string]bool, len(hist.Events))
	for i, e := range hist.Events {
		if want := fmt.Sprintf("h%d", i); e.ID != want {
			t.Errorf("history position %d: got %s, want %s", i, e.ID, want)
		}
		historyIDs[e.ID] = true
	}

	waitFor(t, "subscriber attach", func() bool { return bc.Count() == 1 })

	bc.Publish(event.Event{ID: "live1", Lat: 3, Lon: 4, TimeMs: 100})

	var live event.Event
	if err := json.Unmarshal(nextDataLine(t, reader), &live); err != nil {
		t.Fatalf("decoding live event: %v", err)
	}
	if live.ID != "live1" {
		t.Errorf("got live event %s, want live1", live.ID)
	}
	if historyIDs[live.ID] {
		t.Error("live stream repeated a history event")
	}

	// Disconnect releases the registry entry.
	cancel()
	waitFor(t, "subscriber detach", func() bool { return bc.Count() == 0 })
}

func TestSessionHeartbeat(t *testing.T) {
	st := store.New(10)
	bc := NewBroadcaster("vessel", zap.NewNop())
	h := NewSSEHandler("vessel", st, bc, 10, zap.NewNop())
	h.heartbeat = 20 * time.Millisecond

	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)

	sawComment := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if strings.HasPrefix(line, ":") {
			sawComment = true
			break
		}
	}
	if !sawComment {
		t.Fatal("never saw a heartbeat comment line")
	}
}

func TestSessionEmptyHistory(t *testing.T) {
	st := store.New(10)
	bc := NewBroadcaster("lightning", zap.NewNop())
	h := NewSSEHandler("lightning", st, bc, 10, zap.NewNop())

	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	nextDataLine(t, reader) // connected

	var hist historyMessage
	if err := json.Unmarshal(nextDataLine(t, reader), &hist); err != nil {
		t.Fatalf("decoding history message: %v", err)
	}
	if hist.Events == nil || len(hist.Events) != 0 {
		t.Errorf("expected empty (non-null) history, got %+v", hist.Events)
	}
}
