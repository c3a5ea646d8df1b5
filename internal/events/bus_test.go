package events

import (
	"testing"
	"time"
)

func TestBus_DeliversInOrder(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(Event{Type: TurnStarted, SessionID: "s1"})
	b.Publish(Event{Type: Listening, SessionID: "s1"})
	b.Publish(Event{Type: Recognized, SessionID: "s1", Text: "hi"})

	want := []Type{TurnStarted, Listening, Recognized}
	for i, w := range want {
		select {
		case ev := <-ch:
			if ev.Type != w {
				t.Fatalf("event %d: got %s, want %s", i, ev.Type, w)
			}
			if ev.Timestamp.IsZero() {
				t.Fatal("timestamp not stamped")
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsub := b.Subscribe()
	defer unsub()

	// Nobody reads ch; publishing well past the buffer must not stall.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(Event{Type: CompletionDelta, SessionID: "s1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	if len(ch) == 0 {
		t.Fatal("expected buffered events to remain")
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ch, unsub := b.Subscribe()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: Busy, SessionID: "s1"})
}

func TestBus_CloseClosesAllSubscribers(t *testing.T) {
	b := NewBus()
	ch1, _ := b.Subscribe()
	ch2, _ := b.Subscribe()
	b.Close()
	if _, ok := <-ch1; ok {
		t.Fatal("ch1 still open after close")
	}
	if _, ok := <-ch2; ok {
		t.Fatal("ch2 still open after close")
	}
	// Subscribing after close yields a closed channel.
	ch3, _ := b.Subscribe()
	if _, ok := <-ch3; ok {
		t.Fatal("ch3 open after bus close")
	}
}
