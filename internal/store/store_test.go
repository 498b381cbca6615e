package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stormfeed/stormfeed/internal/event"
)

func mkEvent(id string, timeMs int64) event.Event {
	return event.Event{ID: id, Lat: 10, Lon: 20, TimeMs: timeMs}
}

func TestRecordEvictsOldest(t *testing.T) {
	s := New(3)

	s.Record(mkEvent("A", 0))
	s.Record(mkEvent("B", 1))
	s.Record(mkEvent("C", 2))
	s.Record(mkEvent("D", 3))

	got := s.RecentN(3)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, want := range []string{"B", "C", "D"} {
		if got[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want)
		}
	}

	if s.LifetimeCount() != 4 {
		t.Errorf("expected lifetime count 4, got %d", s.LifetimeCount())
	}
}

func TestRecentNBeyondCapacity(t *testing.T) {
	s := New(5)
	for i := 0; i < 8; i++ {
		s.Record(mkEvent(string(rune('A'+i)), int64(i)))
	}

	got := s.RecentN(5)
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	for i, want := range []string{"D", "E", "F", "G", "H"} {
		if got[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want)
		}
	}
	if s.LifetimeCount() != 8 {
		t.Errorf("expected lifetime count 8, got %d", s.LifetimeCount())
	}
}

func TestRecentNOvershoot(t *testing.T) {
	s := New(10)
	s.Record(mkEvent("A", 0))
	s.Record(mkEvent("B", 1))

	got := s.RecentN(100)
	if len(got) != 2 {
		t.Fatalf("expected all 2 events, got %d", len(got))
	}
	if got[0].ID != "A" || got[1].ID != "B" {
		t.Errorf("unexpected order: %s, %s", got[0].ID, got[1].ID)
	}

	if got := s.RecentN(0); got != nil {
		t.Errorf("expected nil for n=0, got %d events", len(got))
	}
}

func TestCountSince(t *testing.T) {
	s := New(10)
	now := time.Now().UnixMilli()

	s.Record(mkEvent("old", now-5*60*1000))
	s.Record(mkEvent("recent1", now-10*1000))
	s.Record(mkEvent("recent2", now-1000))

	if got := s.CountSince(time.Minute); got != 2 {
		t.Errorf("expected 2 events in the last minute, got %d", got)
	}
	if got := s.CountSince(10 * time.Minute); got != 3 {
		t.Errorf("expected 3 events in the last 10 minutes, got %d", got)
	}
}

func TestSnapshot(t *testing.T) {
	s := New(10)
	now := time.Now().UnixMilli()
	s.Record(mkEvent("old", now-5*60*1000))
	s.Record(mkEvent("fresh", now))

	snap := s.Snapshot(1)
	if len(snap.Events) != 1 || snap.Events[0].ID != "fresh" {
		t.Fatalf("unexpected snapshot events: %+v", snap.Events)
	}
	if snap.Lifetime != 2 {
		t.Errorf("expected lifetime 2, got %d", snap.Lifetime)
	}
	if snap.LastMinute != 1 {
		t.Errorf("expected lastMinute 1, got %d", snap.LastMinute)
	}
}

func TestConcurrentRecordAndRead(t *testing.T) {
	s := New(100)
	now := time.Now().UnixMilli()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.Record(mkEvent("w", now))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				got := s.RecentN(50)
				if len(got) > 50 {
					t.Errorf("RecentN returned %d events, want <= 50", len(got))
					return
				}
				s.CountSince(time.Minute)
				s.LifetimeCount()
			}
		}()
	}

	wg.Wait()

	if s.LifetimeCount() != 1000 {
		t.Errorf("expected lifetime 1000, got %d", s.LifetimeCount())
	}
	if len(s.RecentN(1000)) != 100 {
		t.Errorf("expected buffer capped at 100, got %d", len(s.RecentN(1000)))
	}
}
