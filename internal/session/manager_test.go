package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerOwnership(t *testing.T) {
	m := NewManager(&fakeGenerator{}, Timing{}, nil)
	t.Cleanup(m.Close)

	s, err := m.Create("alice", jamie, acme)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got, err := m.Get("alice", s.ID()); err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if _, err := m.Get("bob", s.ID()); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign Get: got %v", err)
	}
	if _, err := m.Get("alice", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing Get: got %v", err)
	}
	if err := m.Reset("bob", s.ID()); !errors.Is(err, ErrForbidden) {
		t.Errorf("foreign Reset: got %v", err)
	}
}

func TestManagerListAndReset(t *testing.T) {
	m := NewManager(&fakeGenerator{}, Timing{}, nil)
	t.Cleanup(m.Close)

	first, _ := m.Create("alice", jamie, acme)
	time.Sleep(time.Millisecond)
	second, _ := m.Create("alice", jamie, acme)
	if _, err := m.Create("bob", jamie, acme); err != nil {
		t.Fatal(err)
	}

	list := m.List("alice")
	if len(list) != 2 || list[0].ID != first.ID() || list[1].ID != second.ID() {
		t.Fatalf("List = %+v", list)
	}

	if err := m.Reset("alice", first.ID()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if first.State() != StateDiscarded {
		t.Errorf("reset session state = %s", first.State())
	}
	if _, err := m.Get("alice", first.ID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after reset: got %v", err)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestManagerResetIdle(t *testing.T) {
	m := NewManager(&fakeGenerator{}, Timing{}, nil)
	t.Cleanup(m.Close)

	stale, _ := m.Create("alice", jamie, acme)
	if err := stale.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	fresh, _ := m.Create("alice", jamie, acme)

	if n := m.ResetIdle(20 * time.Millisecond); n != 1 {
		t.Fatalf("ResetIdle = %d, want 1", n)
	}
	if stale.State() != StateDiscarded {
		t.Errorf("stale session state = %s", stale.State())
	}
	if _, err := m.Get("alice", fresh.ID()); err != nil {
		t.Errorf("fresh session dropped: %v", err)
	}
}

func TestManagerSharesObservers(t *testing.T) {
	var started int
	obs := ObserverFunc(func(ev Event) {
		if ev.Type == EventStarted {
			started++
			if ev.Persona == nil || ev.Persona.Name != "Jamie" || ev.Company == nil {
				t.Errorf("started event missing persona/company: %+v", ev)
			}
		}
	})
	m := NewManager(&fakeGenerator{}, Timing{}, nil, obs)
	t.Cleanup(m.Close)

	for i := 0; i < 2; i++ {
		s, err := m.Create("alice", jamie, acme)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if started != 2 {
		t.Errorf("started events = %d, want 2", started)
	}
}
