package events

import (
	"testing"
	"time"

	"github.com/psgate/psgate/internal/classify"
)

func collect(sub *Subscription, n int, timeout time.Duration) []Event {
	var out []Event
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPublishDelivery(t *testing.T) {
	s := NewStream()
	sub := s.Subscribe()
	defer sub.Close()

	s.Publish(Event{Kind: KindExecution, Level: classify.LevelSafe, Preview: "Get-Date"})

	got := collect(sub, 1, time.Second)
	if len(got) != 1 {
		t.Fatalf("received %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.ID == "" {
		t.Error("event id not assigned")
	}
	if ev.Timestamp.IsZero() {
		t.Error("event timestamp not assigned")
	}
	if ev.Preview != "Get-Date" {
		t.Errorf("preview = %q", ev.Preview)
	}
}

func TestGlobalPublishOrder(t *testing.T) {
	s := NewStream()
	a := s.Subscribe()
	b := s.Subscribe()
	defer a.Close()
	defer b.Close()

	for i := 0; i < 10; i++ {
		s.Publish(Event{Kind: KindExecution, DurationMs: int64(i)})
	}

	for name, sub := range map[string]*Subscription{"a": a, "b": b} {
		got := collect(sub, 10, time.Second)
		if len(got) != 10 {
			t.Fatalf("subscriber %s received %d events", name, len(got))
		}
		for i, ev := range got {
			if ev.DurationMs != int64(i) {
				t.Errorf("subscriber %s event %d out of order: %d", name, i, ev.DurationMs)
			}
		}
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	s := NewStream()
	slow := s.Subscribe() // never drained
	fast := s.Subscribe()
	defer slow.Close()
	defer fast.Close()

	total := defaultBuffer + 20
	var fastGot []Event
	done := make(chan struct{})
	go func() {
		for i := 0; i < total; i++ {
			s.Publish(Event{Kind: KindExecution, DurationMs: int64(i)})
			// The fast subscriber keeps up: it drains each event as it arrives.
			fastGot = append(fastGot, collect(fast, 1, time.Second)...)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}

	if len(fastGot) != total {
		t.Errorf("fast subscriber received %d of %d", len(fastGot), total)
	}
	if s.Dropped() == 0 {
		t.Error("drops not counted")
	}
}

func TestCloseStopsDelivery(t *testing.T) {
	s := NewStream()
	sub := s.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	if n := s.SubscriberCount(); n != 0 {
		t.Errorf("subscriber count = %d after close", n)
	}
	// Publishing after close must not panic.
	s.Publish(Event{Kind: KindExecution})
}

func TestAttemptToggle(t *testing.T) {
	s := NewStream()
	s.SetPublishAttempts(false)
	sub := s.Subscribe()
	defer sub.Close()

	s.Publish(Event{Kind: KindAttempt, Blocked: true})
	s.Publish(Event{Kind: KindExecution, DurationMs: 5})

	got := collect(sub, 1, time.Second)
	if len(got) != 1 || got[0].Kind != KindExecution {
		t.Fatalf("got %+v, want only the execution event", got)
	}

	s.SetPublishAttempts(true)
	s.Publish(Event{Kind: KindAttempt, Blocked: true})
	got = collect(sub, 1, time.Second)
	if len(got) != 1 || got[0].Kind != KindAttempt {
		t.Errorf("attempt not delivered after re-enable: %+v", got)
	}
}

func TestPreview(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := Preview(string(long)); len(got) != PreviewLength {
		t.Errorf("preview length = %d, want %d", len(got), PreviewLength)
	}
	if got := Preview("short"); got != "short" {
		t.Errorf("short preview = %q", got)
	}
}
