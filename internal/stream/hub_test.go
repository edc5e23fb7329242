package stream

import (
	"testing"

	"github.com/ashureev/persona-lab/internal/session"
)

func TestHubDeliversToSessionSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("s1")
	b := hub.Subscribe("s2")
	defer a.Cancel()
	defer b.Cancel()

	hub.OnEvent(session.Event{Type: session.EventState, SessionID: "s1", State: session.StateEvaluating})

	select {
	case ev := <-a.C:
		if ev.State != session.StateEvaluating {
			t.Errorf("state = %s", ev.State)
		}
	default:
		t.Fatal("s1 subscriber got nothing")
	}
	select {
	case ev := <-b.C:
		t.Fatalf("s2 subscriber got %+v", ev)
	default:
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("s1")
	for i := 0; i < subscriberBuffer+1; i++ {
		hub.OnEvent(session.Event{Type: session.EventState, SessionID: "s1"})
	}
	if hub.Count("s1") != 0 {
		t.Fatalf("slow subscriber still registered")
	}
	n := 0
	for range sub.C {
		n++
	}
	if n != subscriberBuffer {
		t.Errorf("drained %d events, want %d", n, subscriberBuffer)
	}
	sub.Cancel()
}

func TestHubClosesSubscribersOnReset(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("s1")
	hub.OnEvent(session.Event{Type: session.EventReset, SessionID: "s1", State: session.StateDiscarded})

	ev, ok := <-sub.C
	if !ok || ev.Type != session.EventReset {
		t.Fatalf("expected reset event, got %+v, %v", ev, ok)
	}
	if _, ok := <-sub.C; ok {
		t.Error("channel should be closed after reset")
	}
	if hub.Count("s1") != 0 {
		t.Error("reset session still has subscribers")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("s1")
	sub.Cancel()
	sub.Cancel()
	if hub.Count("s1") != 0 {
		t.Error("cancelled subscriber still registered")
	}
}
