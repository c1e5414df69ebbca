package eventbus

import (
	"testing"
	"time"
)

func TestPublishToDeliversUserEvent(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	PublishTo(b, 42, TaskCreated, map[string]int64{"task_id": 7})

	select {
	case ev := <-ch:
		if ev.Type != TaskCreated {
			t.Fatalf("Type = %q, want %q", ev.Type, TaskCreated)
		}
		if ev.UserID != 42 {
			t.Fatalf("UserID = %d, want 42", ev.UserID)
		}
		if ev.Time.IsZero() {
			t.Fatalf("Time not stamped")
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: "tick"})
	}
	if got := len(ch); got != 1 {
		t.Fatalf("buffered = %d, want 1", got)
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: "tick"})
	PublishTo(nil, 1, TaskDeleted, nil)
}
