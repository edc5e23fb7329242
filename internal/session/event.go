package session

import (
	"time"

	"github.com/ashureev/persona-lab/internal/domain"
)

// EventType names what changed in a session.
type EventType string

const (
	EventStarted EventType = "started"
	EventMessage EventType = "message"
	EventState   EventType = "state"
	EventReset   EventType = "reset"
)

// Event is delivered to observers after each session mutation.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id"`
	OwnerID   string          `json:"owner_id"`
	State     State           `json:"state"`
	Active    bool            `json:"active"`
	Error     string          `json:"error,omitempty"`
	Message   *domain.Message `json:"message,omitempty"`
	Persona   *domain.Persona `json:"persona,omitempty"`
	Company   *domain.Company `json:"company,omitempty"`
	At        time.Time       `json:"at"`
}

// Observer receives session events synchronously and in order. OnEvent must
// not call back into the session's mutating methods.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// event builds an event for the current state. Callers hold s.mu.
func (s *Session) event(t EventType) Event {
	ev := Event{
		Type:      t,
		SessionID: s.id,
		OwnerID:   s.ownerID,
		State:     s.state,
		Active:    s.active,
		At:        time.Now().UTC(),
	}
	if s.lastErr != nil {
		ev.Error = s.lastErr.Error()
	}
	return ev
}
